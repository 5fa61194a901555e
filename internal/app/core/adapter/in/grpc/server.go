package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// Ledger GrpcServer 需要的交易引擎操作
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

// GrpcServer 將 gRPC 請求轉給交易引擎
type GrpcServer struct {
	ledger Ledger
}

func NewGrpcServer(ledger Ledger) *GrpcServer {
	return &GrpcServer{
		ledger: ledger,
	}
}

func (s *GrpcServer) CreateWallet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	account, err := s.ledger.CreateAccount(ctx, stringField(in, "user_id"), domain.AccountType(stringField(in, "account_type")))
	if err != nil {
		return nil, toStatus(err)
	}
	return accountStruct(account)
}

func (s *GrpcServer) GetWallet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(in, "account_id")
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.GetAccount(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountStruct(account)
}

func (s *GrpcServer) GetBalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(in, "account_id")
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.GetBalance(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"account_id": balance.AccountID.String(),
		"balance":    balance.Balance,
	})
}

func (s *GrpcServer) SetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(in, "account_id")
	if err != nil {
		return nil, err
	}
	account, err := s.ledger.SetAccountStatus(ctx, id, domain.AccountStatus(stringField(in, "status")))
	if err != nil {
		return nil, toStatus(err)
	}
	return accountStruct(account)
}

func (s *GrpcServer) Reconcile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(in, "account_id")
	if err != nil {
		return nil, err
	}
	result, err := s.ledger.Reconcile(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"account_id":      result.AccountID.String(),
		"cached_balance":  result.CachedBalance,
		"ledger_balance":  result.LedgerBalance,
		"entries":         result.Entries,
		"broken_sequence": result.BrokenSequence,
		"consistent":      result.Consistent,
	})
}

func (s *GrpcServer) Credit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(in, "account_id")
	if err != nil {
		return nil, err
	}
	amount, err := amountField(in)
	if err != nil {
		return nil, err
	}
	result, err := s.ledger.Credit(ctx, usecase.CreditRequest{
		AccountID:      id,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(ctx),
		Metadata:       metadataField(in),
	})
	return postingStruct(result, err)
}

func (s *GrpcServer) Debit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(in, "account_id")
	if err != nil {
		return nil, err
	}
	amount, err := amountField(in)
	if err != nil {
		return nil, err
	}
	result, err := s.ledger.Debit(ctx, usecase.DebitRequest{
		AccountID:      id,
		Amount:         amount,
		IdempotencyKey: idempotencyKey(ctx),
		Metadata:       metadataField(in),
	})
	return postingStruct(result, err)
}

func (s *GrpcServer) Transfer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	source, err := uuidField(in, "source_account_id")
	if err != nil {
		return nil, err
	}
	destination, err := uuidField(in, "destination_account_id")
	if err != nil {
		return nil, err
	}
	amount, err := amountField(in)
	if err != nil {
		return nil, err
	}
	result, err := s.ledger.Transfer(ctx, usecase.TransferRequest{
		SourceAccountID:      source,
		DestinationAccountID: destination,
		Amount:               amount,
		IdempotencyKey:       idempotencyKey(ctx),
		Metadata:             metadataField(in),
	})
	return postingStruct(result, err)
}

func (s *GrpcServer) Refund(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(in, "transaction_id")
	if err != nil {
		return nil, err
	}
	result, err := s.ledger.Refund(ctx, usecase.RefundRequest{
		TransactionID:  id,
		IdempotencyKey: idempotencyKey(ctx),
	})
	return postingStruct(result, err)
}

func (s *GrpcServer) GetTransaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuidField(in, "transaction_id")
	if err != nil {
		return nil, err
	}
	detail, err := s.ledger.GetTransaction(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	t := detail.Transaction
	entries := make([]any, 0, len(detail.Entries))
	for _, e := range detail.Entries {
		entries = append(entries, map[string]any{
			"id":              e.ID.String(),
			"sequence":        e.Sequence,
			"account_id":      e.AccountID.String(),
			"entry_type":      string(e.EntryType),
			"amount":          e.Amount,
			"running_balance": e.RunningBalance,
		})
	}
	fields := map[string]any{
		"id":                     t.ID.String(),
		"transaction_type":       string(t.Type),
		"status":                 string(t.Status),
		"source_account_id":      t.SourceAccountID.String(),
		"destination_account_id": t.DestinationAccountID.String(),
		"amount":                 t.Amount,
		"created_at":             t.CreatedAt.Format(time.RFC3339Nano),
		"entries":                entries,
	}
	if t.ReversalOf != nil {
		fields["reversal_of"] = t.ReversalOf.String()
	}
	return structpb.NewStruct(fields)
}

// postingStruct 回傳當初保存的結果，重播時 replayed 為 true
func postingStruct(result *domain.PostingResult, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, toStatus(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(result.Body, &fields); err != nil {
		return nil, status.Error(codes.Internal, "failed to decode result")
	}
	fields["replayed"] = result.Replayed
	return structpb.NewStruct(fields)
}

func accountStruct(a *domain.Account) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":             a.ID.String(),
		"user_id":        a.UserID,
		"account_type":   string(a.Type),
		"status":         string(a.Status),
		"cached_balance": a.CachedBalance,
		"version":        a.Version,
		"created_at":     a.CreatedAt.Format(time.RFC3339Nano),
	})
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(IdempotencyKeyMetadata)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

func uuidField(in *structpb.Struct, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(stringField(in, name))
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid %s", name)
	}
	return id, nil
}

// amountField 接受數字或字串 (大於 2^53 的金額須以字串傳遞)
func amountField(in *structpb.Struct) (int64, error) {
	v := in.GetFields()["amount"]
	var (
		d   decimal.Decimal
		err error
	)
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		d = decimal.NewFromFloat(kind.NumberValue)
	case *structpb.Value_StringValue:
		d, err = decimal.NewFromString(kind.StringValue)
	default:
		err = errors.New("missing amount")
	}
	if err != nil {
		return 0, status.Error(codes.InvalidArgument, domain.ErrAmountMustBePositive.Error())
	}
	amount, err := domain.ParseAmount(d)
	if err != nil {
		return 0, toStatus(err)
	}
	return amount, nil
}

func metadataField(in *structpb.Struct) map[string]string {
	m := in.GetFields()["metadata"].GetStructValue()
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m.GetFields()))
	for k, v := range m.GetFields() {
		if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
			out[k] = s.StringValue
			continue
		}
		raw, err := v.MarshalJSON()
		if err == nil {
			out[k] = string(raw)
		}
	}
	return out
}

// toStatus 將 domain 錯誤對應到 gRPC status code
func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrWalletNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrWalletFrozen):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrNotRefundable), errors.Is(err, domain.ErrBalanceOverflow):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrAccountAlreadyExists), errors.Is(err, domain.ErrAlreadyRefunded):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return status.Error(codes.Aborted, err.Error())
	case domain.IsRetryable(err):
		return status.Error(codes.Unavailable, err.Error())
	case domain.IsBusinessError(err):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// UnaryLoggingInterceptor 以 zap 記錄每個 RPC
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		)
		return resp, err
	}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
