package grpc

import (
	"context"
	"path"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kekeling/kekeling/services/distribution/internal/logging"
	"github.com/kekeling/kekeling/services/distribution/internal/metrics"
)

// ServiceName is the fully qualified name of the admin service
const ServiceName = "distribution.v1.DistributionAdmin"

// DistributionAdminServer is the server API of the admin service
type DistributionAdminServer interface {
	GetConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SaveConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReviewApplication(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SettleOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SettleDue(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reconcile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckPromotion(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BindAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RegisterAgent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GrantInviteBonus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApplyPromotion(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(DistributionAdminServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) gogrpc.MethodDesc {
	return gogrpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor gogrpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DistributionAdminServer), ctx, in)
			}
			info := &gogrpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(DistributionAdminServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the admin service for registration without
// generated stubs
var ServiceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DistributionAdminServer)(nil),
	Methods: []gogrpc.MethodDesc{
		handler("GetConfig", DistributionAdminServer.GetConfig),
		handler("SaveConfig", DistributionAdminServer.SaveConfig),
		handler("ReviewApplication", DistributionAdminServer.ReviewApplication),
		handler("RecordOrder", DistributionAdminServer.RecordOrder),
		handler("SettleOrder", DistributionAdminServer.SettleOrder),
		handler("CancelOrder", DistributionAdminServer.CancelOrder),
		handler("SettleDue", DistributionAdminServer.SettleDue),
		handler("Reconcile", DistributionAdminServer.Reconcile),
		handler("CheckPromotion", DistributionAdminServer.CheckPromotion),
		handler("BindAgent", DistributionAdminServer.BindAgent),
		handler("RegisterAgent", DistributionAdminServer.RegisterAgent),
		handler("GrantInviteBonus", DistributionAdminServer.GrantInviteBonus),
		handler("ApplyPromotion", DistributionAdminServer.ApplyPromotion),
	},
	Streams: []gogrpc.StreamDesc{},
}

// RegisterDistributionAdminServer registers srv with the gRPC server
func RegisterDistributionAdminServer(s gogrpc.ServiceRegistrar, srv DistributionAdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// UnaryServerInterceptor times every call and logs failures
func UnaryServerInterceptor(log *logging.Logger, m *metrics.Metrics) gogrpc.UnaryServerInterceptor {
	log = log.Named("rpc")
	return func(ctx context.Context, req any, info *gogrpc.UnaryServerInfo, next gogrpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)
		method := path.Base(info.FullMethod)
		m.ObserveRPC(method, code.String(), time.Since(start))
		if err != nil {
			log.Warn("admin call failed",
				logging.String("method", method),
				logging.String("code", code.String()),
				logging.Error(err))
		}
		return resp, err
	}
}
