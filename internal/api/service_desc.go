package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sentinel.v1.DecisionEngine"

const (
	methodAnalyze        = "/" + ServiceName + "/Analyze"
	methodReplayIncident = "/" + ServiceName + "/ReplayIncident"
	methodLastDecision   = "/" + ServiceName + "/LastDecision"
)

// DecisionEngineServer is the server API for the DecisionEngine service.
// Messages are google.protobuf.Struct so callers need no generated stubs.
type DecisionEngineServer interface {
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReplayIncident(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LastDecision(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterDecisionEngineServer registers srv on s.
func RegisterDecisionEngineServer(s grpc.ServiceRegistrar, srv DecisionEngineServer) {
	s.RegisterService(&decisionEngineServiceDesc, srv)
}

var decisionEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DecisionEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Analyze", Handler: unaryHandler(methodAnalyze, DecisionEngineServer.Analyze)},
		{MethodName: "ReplayIncident", Handler: unaryHandler(methodReplayIncident, DecisionEngineServer.ReplayIncident)},
		{MethodName: "LastDecision", Handler: unaryHandler(methodLastDecision, DecisionEngineServer.LastDecision)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sentinel/v1/decision_engine.proto",
}

type unaryMethod func(DecisionEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, method unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return method(srv.(DecisionEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return method(srv.(DecisionEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// DecisionEngineClient is the client API for the DecisionEngine service.
type DecisionEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewDecisionEngineClient wraps a client connection.
func NewDecisionEngineClient(cc grpc.ClientConnInterface) *DecisionEngineClient {
	return &DecisionEngineClient{cc: cc}
}

func (c *DecisionEngineClient) Analyze(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodAnalyze, in, opts...)
}

func (c *DecisionEngineClient) ReplayIncident(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodReplayIncident, in, opts...)
}

func (c *DecisionEngineClient) LastDecision(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, methodLastDecision, in, opts...)
}

func (c *DecisionEngineClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
