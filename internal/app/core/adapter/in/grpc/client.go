package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client LedgerService 的客戶端
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient 以既有連線建立客戶端 (通常來自 pkg/grpc.Pool)
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call 呼叫指定方法，fields 會轉成 google.protobuf.Struct
//
// 參數:
//
//	method: 方法名稱 (e.g. "Credit")
//	idempotencyKey: 異動餘額的呼叫必填，其他可為空字串
//	fields: 請求內容
func (c *Client) Call(ctx context.Context, method, idempotencyKey string, fields map[string]any) (map[string]any, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	if idempotencyKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, IdempotencyKeyMetadata, idempotencyKey)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

func (c *Client) CreateWallet(ctx context.Context, userID, accountType string) (map[string]any, error) {
	return c.Call(ctx, "CreateWallet", "", map[string]any{
		"user_id":      userID,
		"account_type": accountType,
	})
}

func (c *Client) GetBalance(ctx context.Context, accountID string) (map[string]any, error) {
	return c.Call(ctx, "GetBalance", "", map[string]any{"account_id": accountID})
}

func (c *Client) Credit(ctx context.Context, idempotencyKey, accountID string, amount int64) (map[string]any, error) {
	return c.Call(ctx, "Credit", idempotencyKey, map[string]any{
		"account_id": accountID,
		"amount":     amount,
	})
}

func (c *Client) Debit(ctx context.Context, idempotencyKey, accountID string, amount int64) (map[string]any, error) {
	return c.Call(ctx, "Debit", idempotencyKey, map[string]any{
		"account_id": accountID,
		"amount":     amount,
	})
}

func (c *Client) Transfer(ctx context.Context, idempotencyKey, sourceID, destinationID string, amount int64) (map[string]any, error) {
	return c.Call(ctx, "Transfer", idempotencyKey, map[string]any{
		"source_account_id":      sourceID,
		"destination_account_id": destinationID,
		"amount":                 amount,
	})
}
