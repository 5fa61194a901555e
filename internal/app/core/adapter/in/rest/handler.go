package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// IdempotencyKeyHeader 異動餘額的請求必須帶的 header
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader 回應為重播時設為 true
const ReplayedHeader = "Idempotent-Replayed"

// Ledger Handler 需要的交易引擎操作
type Ledger interface {
	CreateAccount(ctx context.Context, userID string, accountType domain.AccountType) (*domain.Account, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	GetBalance(ctx context.Context, id uuid.UUID) (*domain.Balance, error)
	SetAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error)
	Reconcile(ctx context.Context, id uuid.UUID) (*domain.Reconciliation, error)
	Credit(ctx context.Context, req usecase.CreditRequest) (*domain.PostingResult, error)
	Debit(ctx context.Context, req usecase.DebitRequest) (*domain.PostingResult, error)
	Transfer(ctx context.Context, req usecase.TransferRequest) (*domain.PostingResult, error)
	Refund(ctx context.Context, req usecase.RefundRequest) (*domain.PostingResult, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.TransactionDetail, error)
}

// Handler 錢包 REST API
type Handler struct {
	ledger Ledger
	logger *zap.Logger
}

// NewHandler 建立 Handler
func NewHandler(ledger Ledger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: ledger, logger: logger}
}

func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var in createWalletRequest
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.ledger.CreateAccount(r.Context(), in.UserID, in.AccountType)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletResponse(account))
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.ledger.GetAccount(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletResponse(account))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	balance, err := h.ledger.GetBalance(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// SetStatus 凍結/解凍/關閉錢包
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in statusRequest
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := h.ledger.SetAccountStatus(r.Context(), id, in.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletResponse(account))
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.ledger.Reconcile(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Credit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in amountRequest
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(in.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.ledger.Credit(r.Context(), usecase.CreditRequest{
		AccountID:      id,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(r),
		Metadata:       in.Metadata,
	})
	h.writePosting(w, r, result, err)
}

func (h *Handler) Debit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in amountRequest
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := domain.ParseAmount(in.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.ledger.Debit(r.Context(), usecase.DebitRequest{
		AccountID:      id,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(r),
		Metadata:       in.Metadata,
	})
	h.writePosting(w, r, result, err)
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var in transferRequest
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	source, err := uuid.Parse(in.SourceAccountID)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: source_account_id", errInvalidID))
		return
	}
	destination, err := uuid.Parse(in.DestinationAccountID)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("%w: destination_account_id", errInvalidID))
		return
	}
	amount, err := domain.ParseAmount(in.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.ledger.Transfer(r.Context(), usecase.TransferRequest{
		SourceAccountID:      source,
		DestinationAccountID: destination,
		Amount:               amount,
		IdempotencyKey:       idempotencyKey(r),
		Metadata:             in.Metadata,
	})
	h.writePosting(w, r, result, err)
}

func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.ledger.Refund(r.Context(), usecase.RefundRequest{
		TransactionID:  id,
		IdempotencyKey: idempotencyKey(r),
	})
	h.writePosting(w, r, result, err)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	detail, err := h.ledger.GetTransaction(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionResponse(detail))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writePosting 新交易回 201，重播回 200 並原封不動回傳當初的 body
func (h *Handler) writePosting(w http.ResponseWriter, r *http.Request, result *domain.PostingResult, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
		w.Header().Set(ReplayedHeader, "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(result.Body)
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", errInvalidID, name)
	}
	return id, nil
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
