package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alfredjeanlab/relaymux/internal/model"
)

// ServiceName is the fully-qualified gRPC service name. Messages are
// google.protobuf.Struct values carrying the same JSON shapes as the HTTP API.
const ServiceName = "relaymux.v1.RelayMux"

// Full method names.
const (
	MethodHealth    = "/" + ServiceName + "/Health"
	MethodQuery     = "/" + ServiceName + "/Query"
	MethodPublish   = "/" + ServiceName + "/Publish"
	MethodSubscribe = "/" + ServiceName + "/Subscribe"
)

// RelayMuxService is the server API of ServiceDesc.
type RelayMuxService interface {
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Query(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Publish(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Subscribe(*structpb.Struct, grpc.ServerStream) error
}

var _ RelayMuxService = (*RelayServer)(nil)

// SubscribeStreamDesc describes the server-streaming Subscribe RPC for clients.
var SubscribeStreamDesc = grpc.StreamDesc{
	StreamName:    "Subscribe",
	Handler:       subscribeHandler,
	ServerStreams: true,
}

// ServiceDesc is the grpc.ServiceDesc for RelayMuxService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayMuxService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Health", Handler: unaryHandler(MethodHealth, RelayMuxService.Health)},
		{MethodName: "Query", Handler: unaryHandler(MethodQuery, RelayMuxService.Query)},
		{MethodName: "Publish", Handler: unaryHandler(MethodPublish, RelayMuxService.Publish)},
	},
	Streams: []grpc.StreamDesc{SubscribeStreamDesc},
}

type unaryMethod func(RelayMuxService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(RelayMuxService)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req.(*structpb.Struct))
		})
	}
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RelayMuxService).Subscribe(in, stream)
}

// NewGRPCServer creates a gRPC server with standard interceptors and
// registers the RelayMux service. There is no reflection: the service has no
// .proto file to advertise.
func NewGRPCServer(relayServer *RelayServer, authToken string) *grpc.Server {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor,
			LoggingInterceptor,
			AuthInterceptor(authToken),
		),
		grpc.ChainStreamInterceptor(
			StreamRecoveryInterceptor,
			StreamLoggingInterceptor,
			StreamAuthInterceptor(authToken),
		),
	)

	srv.RegisterService(&ServiceDesc, relayServer)

	return srv
}

// Health returns the service health status.
func (s *RelayServer) Health(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"status":        "ok",
		"subscriptions": s.coord.Stats().Subscriptions,
	})
}

// Query returns stored events matching the request's "filter".
func (s *RelayServer) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	filter, err := filterField(req, "filter")
	if err != nil {
		return nil, rpcError(err)
	}
	evs, err := s.query(ctx, filter)
	if err != nil {
		return nil, rpcError(err)
	}
	return toStruct(map[string]any{"events": evs})
}

// Publish ingests the request's "event", broadcasting it to relays when
// "broadcast" is true.
func (s *RelayServer) Publish(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ev, err := eventField(req, "event")
	if err != nil {
		return nil, rpcError(err)
	}
	n, err := s.publish(ctx, ev, boolField(req, "broadcast"))
	if err != nil {
		return nil, rpcError(err)
	}
	return toStruct(map[string]any{"id": ev.ID, "relays": n})
}

// Subscribe streams events matching the request's "filter" until the client
// goes away. "since_last_opened" defaults to true.
func (s *RelayServer) Subscribe(req *structpb.Struct, ss grpc.ServerStream) error {
	filter, err := filterField(req, "filter")
	if err != nil {
		return rpcError(err)
	}
	st, err := s.subscribe(filter, boolFieldOr(req, "since_last_opened", true))
	if err != nil {
		return rpcError(err)
	}
	defer st.Close()

	send := func(ev *model.Event) error {
		msg, err := toStruct(ev)
		if err != nil {
			s.logger.Warn("grpc: dropping unencodable event", "id", ev.ID, "err", err)
			return nil
		}
		return ss.SendMsg(msg)
	}

	ctx := ss.Context()
	for _, ev := range st.Snapshot {
		if ctx.Err() != nil {
			return nil
		}
		if err := send(ev); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-st.C:
			if err := send(ev); err != nil {
				return err
			}
		}
	}
}
