package rest

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

// retryAfterSeconds 503 時建議的重試間隔
const retryAfterSeconds = "1"

var errInvalidID = errors.New("invalid id")
var errInvalidBody = errors.New("invalid request body")

// errorStatus 將錯誤對應到 HTTP 狀態碼與錯誤代碼
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrWalletNotFound):
		return http.StatusNotFound, "wallet_not_found"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction_not_found"
	case errors.Is(err, domain.ErrWalletFrozen):
		return http.StatusForbidden, "wallet_frozen"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, domain.ErrBalanceOverflow):
		return http.StatusUnprocessableEntity, "balance_overflow"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "idempotency_conflict"
	case errors.Is(err, domain.ErrAlreadyRefunded):
		return http.StatusConflict, "already_refunded"
	case errors.Is(err, domain.ErrAccountAlreadyExists):
		return http.StatusConflict, "already_exists"
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable, "retry_later"
	case domain.IsBusinessError(err), errors.Is(err, errInvalidID), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, "invalid_request"
	}
	var engineErr *domain.EngineError
	if errors.As(err, &engineErr) {
		return http.StatusBadRequest, "engine_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
