// Package grpcsrv serves a callback.Router over the sidecar's gRPC app
// callback protocol.
package grpcsrv

import (
	"context"
	"errors"
	"log/slog"
	"net"

	commonv1pb "github.com/dapr/dapr/pkg/proto/common/v1"
	runtimev1pb "github.com/dapr/dapr/pkg/proto/runtime/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/bjaus/callback"
)

// Server implements the AppCallback, AppCallbackHealthCheck and
// AppCallbackAlpha services on top of a Router.
type Server struct {
	runtimev1pb.UnimplementedAppCallbackServer
	runtimev1pb.UnimplementedAppCallbackHealthCheckServer
	runtimev1pb.UnimplementedAppCallbackAlphaServer

	router *callback.Router
	logger *slog.Logger
	grpc   *grpc.Server

	serverOpts []grpc.ServerOption
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for call logging and recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithServerOptions appends options to the underlying grpc.Server.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *Server) {
		s.serverOpts = append(s.serverOpts, opts...)
	}
}

// New creates a Server dispatching to r and registers every callback
// service on a fresh grpc.Server.
func New(r *callback.Router, opts ...Option) *Server {
	s := &Server{
		router: r,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.grpc = NewGRPCServer(s.logger, s.serverOpts...)
	s.Register(s.grpc)
	return s
}

// Register adds the callback services to g.
func (s *Server) Register(g grpc.ServiceRegistrar) {
	runtimev1pb.RegisterAppCallbackServer(g, s)
	runtimev1pb.RegisterAppCallbackHealthCheckServer(g, s)
	runtimev1pb.RegisterAppCallbackAlphaServer(g, s)
}

// GRPCServer returns the underlying server so callers can register more
// services before serving.
func (s *Server) GRPCServer() *grpc.Server { return s.grpc }

// Serve accepts connections on lis until ctx is done, then stops
// gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(lis) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.grpc.GracefulStop()
		<-errCh
		return nil
	}
}

// Stop drains in-flight calls, forcing the stop if ctx expires first.
func (s *Server) Stop(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}

// OnInvoke handles a service invocation.
func (s *Server) OnInvoke(ctx context.Context, in *commonv1pb.InvokeRequest) (*commonv1pb.InvokeResponse, error) {
	ev := &callback.InvocationEvent{
		Method:      in.GetMethod(),
		Data:        in.GetData().GetValue(),
		ContentType: in.GetContentType(),
	}
	if ext := in.GetHttpExtension(); ext != nil {
		ev.Verb = ext.GetVerb().String()
		ev.QueryString = ext.GetQuerystring()
	}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ev.Metadata = map[string][]string(md)
	}

	resp, err := s.router.Invoke(ctx, ev)
	if err != nil {
		return nil, toStatus(err)
	}

	if len(resp.Headers) > 0 {
		md := metadata.MD{}
		for k, vs := range resp.Headers {
			md.Append(k, vs...)
		}
		_ = grpc.SetHeader(ctx, md)
	}
	out := &commonv1pb.InvokeResponse{ContentType: resp.ContentType}
	if resp.Data != nil {
		out.Data = &anypb.Any{Value: resp.Data}
	}
	return out, nil
}

// ListTopicSubscriptions reports every registered topic subscription.
func (s *Server) ListTopicSubscriptions(context.Context, *emptypb.Empty) (*runtimev1pb.ListTopicSubscriptionsResponse, error) {
	subs := s.router.Subscriptions()
	out := &runtimev1pb.ListTopicSubscriptionsResponse{
		Subscriptions: make([]*runtimev1pb.TopicSubscription, 0, len(subs)),
	}
	for _, sub := range subs {
		out.Subscriptions = append(out.Subscriptions, toTopicSubscription(sub))
	}
	return out, nil
}

// OnTopicEvent handles a single pub/sub delivery. Handler failures are
// reported through the response status, never as an RPC error, so the
// sidecar applies its own redelivery policy. A topic nobody subscribed to is
// answered with codes.Unimplemented.
func (s *Server) OnTopicEvent(ctx context.Context, in *runtimev1pb.TopicEventRequest) (*runtimev1pb.TopicEventResponse, error) {
	ev, err := topicEvent(in)
	if err != nil {
		s.logger.WarnContext(ctx, "undecodable topic event, dropping",
			"pubsub", in.GetPubsubName(), "topic", in.GetTopic(), "id", in.GetId(), "err", err)
		return &runtimev1pb.TopicEventResponse{Status: runtimev1pb.TopicEventResponse_DROP}, nil
	}

	st, err := s.router.OnTopicEvent(ctx, ev)
	if err != nil {
		return nil, toStatus(err)
	}
	return &runtimev1pb.TopicEventResponse{Status: toTopicStatus(st)}, nil
}

// OnBulkTopicEventAlpha1 handles a batch of pub/sub deliveries and reports
// one status per entry, in input order.
func (s *Server) OnBulkTopicEventAlpha1(ctx context.Context, in *runtimev1pb.TopicEventBulkRequest) (*runtimev1pb.TopicEventBulkResponse, error) {
	resp, err := s.router.OnBulkTopicEvent(ctx, bulkRequest(in))
	if err != nil {
		return nil, toStatus(err)
	}
	out := &runtimev1pb.TopicEventBulkResponse{
		Statuses: make([]*runtimev1pb.TopicEventBulkResponseEntry, 0, len(resp.Statuses)),
	}
	for _, st := range resp.Statuses {
		out.Statuses = append(out.Statuses, &runtimev1pb.TopicEventBulkResponseEntry{
			EntryId: st.EntryID,
			Status:  toTopicStatus(st.Status),
		})
	}
	return out, nil
}

// ListInputBindings reports the registered input bindings.
func (s *Server) ListInputBindings(context.Context, *emptypb.Empty) (*runtimev1pb.ListInputBindingsResponse, error) {
	return &runtimev1pb.ListInputBindingsResponse{Bindings: s.router.Bindings()}, nil
}

// OnBindingEvent handles an input binding trigger.
func (s *Server) OnBindingEvent(ctx context.Context, in *runtimev1pb.BindingEventRequest) (*runtimev1pb.BindingEventResponse, error) {
	out, err := s.router.OnBindingEvent(ctx, &callback.BindingEvent{
		Name:     in.GetName(),
		Data:     in.GetData(),
		Metadata: in.GetMetadata(),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &runtimev1pb.BindingEventResponse{Data: out}, nil
}

// OnJobEventAlpha1 handles a scheduled job trigger.
func (s *Server) OnJobEventAlpha1(ctx context.Context, in *runtimev1pb.JobEventRequest) (*runtimev1pb.JobEventResponse, error) {
	err := s.router.OnJobEvent(ctx, &callback.JobEvent{
		Name:        in.GetName(),
		Data:        in.GetData().GetValue(),
		ContentType: in.GetContentType(),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &runtimev1pb.JobEventResponse{}, nil
}

// HealthCheck reports application health. Without a registered check the
// call is unimplemented; a failing check is unavailable.
func (s *Server) HealthCheck(ctx context.Context, _ *emptypb.Empty) (*runtimev1pb.HealthCheckResponse, error) {
	health, err := s.router.CheckHealth(ctx)
	switch {
	case errors.Is(err, callback.ErrNotFound):
		return nil, status.Error(codes.Unimplemented, "no health check registered")
	case health != callback.Healthy:
		return nil, status.Errorf(codes.Unavailable, "unhealthy: %v", err)
	}
	return &runtimev1pb.HealthCheckResponse{}, nil
}

// toStatus maps dispatch errors onto gRPC codes.
func toStatus(err error) error {
	var (
		perr *callback.ParseError
		herr *callback.HandlerError
	)
	switch {
	case errors.Is(err, callback.ErrNotFound):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.As(err, &perr):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &herr):
		return status.Error(codes.Internal, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Unknown, err.Error())
	}
}
