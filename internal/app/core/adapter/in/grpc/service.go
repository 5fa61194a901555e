package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName gRPC 服務名稱
const ServiceName = "ledger.v1.WalletLedger"

// IdempotencyKeyMetadata 異動餘額的呼叫必須在 metadata 帶 idempotency key
const IdempotencyKeyMetadata = "idempotency-key"

// LedgerServiceServer 錢包帳本的 gRPC 服務
// 所有訊息皆為 google.protobuf.Struct，欄位名稱與 REST API 的 JSON 相同
type LedgerServiceServer interface {
	CreateWallet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetWallet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetBalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	SetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Reconcile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Credit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Debit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Transfer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Refund(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(srv LedgerServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(LedgerServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc 手動宣告的 service descriptor，等同 protoc 產生的 _grpc.pb.go
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateWallet", LedgerServiceServer.CreateWallet),
		unary("GetWallet", LedgerServiceServer.GetWallet),
		unary("GetBalance", LedgerServiceServer.GetBalance),
		unary("SetStatus", LedgerServiceServer.SetStatus),
		unary("Reconcile", LedgerServiceServer.Reconcile),
		unary("Credit", LedgerServiceServer.Credit),
		unary("Debit", LedgerServiceServer.Debit),
		unary("Transfer", LedgerServiceServer.Transfer),
		unary("Refund", LedgerServiceServer.Refund),
		unary("GetTransaction", LedgerServiceServer.GetTransaction),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer 註冊服務
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
