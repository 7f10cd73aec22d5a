package grpcsrv

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"

	commonv1pb "github.com/dapr/dapr/pkg/proto/common/v1"
	runtimev1pb "github.com/dapr/dapr/pkg/proto/runtime/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/bjaus/callback"
)

var discard = slog.New(slog.DiscardHandler)

type ServerSuite struct {
	suite.Suite
	router *callback.Router
	srv    *Server
	ctx    context.Context
}

func (s *ServerSuite) SetupTest() {
	s.router = callback.New(callback.WithLogger(discard))
	s.srv = New(s.router, WithLogger(discard))
	s.ctx = context.Background()
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) requireCode(err error, want codes.Code) {
	s.T().Helper()
	st, ok := status.FromError(err)
	s.Require().True(ok, "not a status error: %v", err)
	s.Assert().Equal(want, st.Code())
}

func (s *ServerSuite) TestOnInvoke() {
	var got *callback.InvocationEvent
	s.Require().NoError(s.router.AddMethodHandler("echo", callback.MethodHandlerFunc(
		func(_ context.Context, in *callback.InvocationEvent) (callback.Result, error) {
			got = in
			return callback.Bytes(in.Data), nil
		})))
	ctx := metadata.NewIncomingContext(s.ctx, metadata.Pairs("x-request-id", "r-1"))

	resp, err := s.srv.OnInvoke(ctx, &commonv1pb.InvokeRequest{
		Method:        "echo",
		Data:          &anypb.Any{Value: []byte(`{"a":1}`)},
		ContentType:   "application/json",
		HttpExtension: &commonv1pb.HTTPExtension{Verb: commonv1pb.HTTPExtension_POST, Querystring: "x=1"},
	})

	s.Require().NoError(err)
	s.Assert().Equal(`{"a":1}`, string(resp.GetData().GetValue()))
	s.Assert().Equal("application/json", resp.GetContentType())
	s.Assert().Equal("POST", got.Verb)
	s.Assert().Equal("x=1", got.QueryString)
	s.Assert().Equal([]string{"r-1"}, got.Metadata["x-request-id"])
}

func (s *ServerSuite) TestOnInvokeErrors() {
	s.Require().NoError(s.router.AddMethodHandler("fail", callback.MethodHandlerFunc(
		func(context.Context, *callback.InvocationEvent) (callback.Result, error) {
			return nil, errors.New("boom")
		})))
	s.Require().NoError(callback.RegisterMethod(s.router, "typed",
		func(context.Context, struct{ N int }) (int, error) { return 0, nil }))

	_, err := s.srv.OnInvoke(s.ctx, &commonv1pb.InvokeRequest{Method: "missing"})
	s.requireCode(err, codes.Unimplemented)

	_, err = s.srv.OnInvoke(s.ctx, &commonv1pb.InvokeRequest{Method: "fail"})
	s.requireCode(err, codes.Internal)

	_, err = s.srv.OnInvoke(s.ctx, &commonv1pb.InvokeRequest{Method: "typed", Data: &anypb.Any{Value: []byte("{")}})
	s.requireCode(err, codes.InvalidArgument)
}

func (s *ServerSuite) TestListTopicSubscriptions() {
	noop := callback.TopicHandlerFunc(func(context.Context, *callback.TopicEvent) (callback.TopicStatus, error) {
		return callback.StatusSuccess, nil
	})
	s.Require().NoError(s.router.AddTopicHandler("pubsub", "orders", noop,
		callback.WithRule(`event.type == "order.created"`, 1), callback.WithRoute("/orders/created")))
	s.Require().NoError(s.router.AddTopicHandler("pubsub", "orders", noop,
		callback.WithDeadLetterTopic("orders-dead"), callback.WithBulkSubscribe(50, 500)))
	s.Require().NoError(s.router.AddTopicHandler("pubsub", "audit", noop, callback.WithMetadata(map[string]string{"rawPayload": "true"})))

	resp, err := s.srv.ListTopicSubscriptions(s.ctx, &emptypb.Empty{})

	s.Require().NoError(err)
	subs := resp.GetSubscriptions()
	s.Require().Len(subs, 2)

	orders := subs[0]
	s.Assert().Equal("orders", orders.GetTopic())
	s.Assert().Equal("orders-dead", orders.GetDeadLetterTopic())
	s.Assert().Equal("/events/pubsub/orders", orders.GetRoutes().GetDefault())
	s.Require().Len(orders.GetRoutes().GetRules(), 1)
	s.Assert().Equal("/orders/created", orders.GetRoutes().GetRules()[0].GetPath())
	s.Assert().True(orders.GetBulkSubscribe().GetEnabled())
	s.Assert().Equal(int32(50), orders.GetBulkSubscribe().GetMaxMessagesCount())

	audit := subs[1]
	s.Assert().Nil(audit.GetRoutes())
	s.Assert().Equal("true", audit.GetMetadata()["rawPayload"])
}

func (s *ServerSuite) TestOnTopicEventStatuses() {
	s.Require().NoError(s.router.AddTopicHandler("pubsub", "orders", callback.TopicHandlerFunc(
		func(_ context.Context, e *callback.TopicEvent) (callback.TopicStatus, error) {
			switch e.Data.(map[string]any)["action"] {
			case "fail":
				return callback.StatusSuccess, errors.New("boom")
			case "skip":
				return callback.StatusDrop, nil
			}
			return callback.StatusSuccess, nil
		})))

	tests := map[string]struct {
		topic string
		data  string
		want  runtimev1pb.TopicEventResponse_TopicEventResponseStatus
	}{
		"success":       {topic: "orders", data: `{"action":"ok"}`, want: runtimev1pb.TopicEventResponse_SUCCESS},
		"handler error": {topic: "orders", data: `{"action":"fail"}`, want: runtimev1pb.TopicEventResponse_RETRY},
		"explicit drop": {topic: "orders", data: `{"action":"skip"}`, want: runtimev1pb.TopicEventResponse_DROP},
		"bad json":      {topic: "orders", data: `{`, want: runtimev1pb.TopicEventResponse_DROP},
	}

	for name, tt := range tests {
		s.Run(name, func() {
			resp, err := s.srv.OnTopicEvent(s.ctx, &runtimev1pb.TopicEventRequest{
				Id:              "1",
				Source:          "shop",
				Type:            "order.created",
				SpecVersion:     "1.0",
				DataContentType: "application/json",
				Data:            []byte(tt.data),
				Topic:           tt.topic,
				PubsubName:      "pubsub",
			})
			s.Require().NoError(err)
			s.Assert().Equal(tt.want, resp.GetStatus())
		})
	}
}

func (s *ServerSuite) TestOnTopicEventUnknownTopicIsUnimplemented() {
	resp, err := s.srv.OnTopicEvent(s.ctx, &runtimev1pb.TopicEventRequest{
		Id:              "1",
		Source:          "shop",
		Type:            "order.created",
		SpecVersion:     "1.0",
		DataContentType: "application/json",
		Data:            []byte(`{}`),
		Topic:           "missing",
		PubsubName:      "pubsub",
	})

	s.Assert().Nil(resp)
	s.requireCode(err, codes.Unimplemented)
}

func (s *ServerSuite) TestOnTopicEventCarriesExtensionsAndPath() {
	var got *callback.TopicEvent
	s.Require().NoError(s.router.AddTopicHandler("pubsub", "orders", callback.TopicHandlerFunc(
		func(_ context.Context, e *callback.TopicEvent) (callback.TopicStatus, error) {
			got = e
			return callback.StatusSuccess, nil
		})))
	ext, err := structpb.NewStruct(map[string]any{"tenant": "acme", "subject": "order/1"})
	s.Require().NoError(err)

	_, err = s.srv.OnTopicEvent(s.ctx, &runtimev1pb.TopicEventRequest{
		Id:              "1",
		Type:            "order.created",
		DataContentType: "text/plain",
		Data:            []byte("hello"),
		Topic:           "orders",
		PubsubName:      "pubsub",
		Path:            "/events/pubsub/orders",
		Extensions:      ext,
	})

	s.Require().NoError(err)
	s.Assert().Equal("hello", got.Data)
	s.Assert().Equal("acme", got.Extensions["tenant"])
	s.Assert().Equal("order/1", got.Subject)
	s.Assert().Equal("/events/pubsub/orders", got.Route)
}

func (s *ServerSuite) TestOnBulkTopicEventKeepsOrder() {
	s.Require().NoError(s.router.AddTopicHandler("pubsub", "orders", callback.TopicHandlerFunc(
		func(_ context.Context, e *callback.TopicEvent) (callback.TopicStatus, error) {
			if e.ID == "evt-2" {
				return callback.StatusSuccess, errors.New("boom")
			}
			return callback.StatusSuccess, nil
		})))

	resp, err := s.srv.OnBulkTopicEventAlpha1(s.ctx, &runtimev1pb.TopicEventBulkRequest{
		Id:         "batch",
		PubsubName: "pubsub",
		Topic:      "orders",
		Entries: []*runtimev1pb.TopicEventBulkRequestEntry{
			{EntryId: "1", Event: &runtimev1pb.TopicEventBulkRequestEntry_CloudEvent{CloudEvent: &runtimev1pb.TopicEventCERequest{
				Id: "evt-1", DataContentType: "application/json", Data: []byte(`{}`),
			}}},
			{EntryId: "2", Event: &runtimev1pb.TopicEventBulkRequestEntry_CloudEvent{CloudEvent: &runtimev1pb.TopicEventCERequest{
				Id: "evt-2", DataContentType: "application/json", Data: []byte(`{}`),
			}}},
			{EntryId: "3", ContentType: "application/json", Event: &runtimev1pb.TopicEventBulkRequestEntry_Bytes{Bytes: []byte(`{broken`)}},
			{EntryId: "4", ContentType: "application/json", Event: &runtimev1pb.TopicEventBulkRequestEntry_Bytes{Bytes: []byte(`{"n":4}`)}},
		},
	})

	s.Require().NoError(err)
	statuses := resp.GetStatuses()
	s.Require().Len(statuses, 4)
	want := []runtimev1pb.TopicEventResponse_TopicEventResponseStatus{
		runtimev1pb.TopicEventResponse_SUCCESS,
		runtimev1pb.TopicEventResponse_RETRY,
		runtimev1pb.TopicEventResponse_DROP,
		runtimev1pb.TopicEventResponse_SUCCESS,
	}
	for i, st := range statuses {
		s.Assert().Equal(want[i], st.GetStatus(), "entry %d", i)
		s.Assert().Equal([]string{"1", "2", "3", "4"}[i], st.GetEntryId())
	}
}

func (s *ServerSuite) TestBindings() {
	s.Require().NoError(s.router.AddBindingHandler("cron", callback.BindingHandlerFunc(
		func(_ context.Context, in *callback.BindingEvent) ([]byte, error) {
			return append([]byte("ack:"), in.Data...), nil
		})))
	s.Require().NoError(s.router.AddBindingHandler("queue", callback.BindingHandlerFunc(
		func(context.Context, *callback.BindingEvent) ([]byte, error) {
			return nil, errors.New("boom")
		})))

	list, err := s.srv.ListInputBindings(s.ctx, &emptypb.Empty{})
	s.Require().NoError(err)
	s.Assert().Equal([]string{"cron", "queue"}, list.GetBindings())

	resp, err := s.srv.OnBindingEvent(s.ctx, &runtimev1pb.BindingEventRequest{Name: "cron", Data: []byte("tick")})
	s.Require().NoError(err)
	s.Assert().Equal("ack:tick", string(resp.GetData()))

	_, err = s.srv.OnBindingEvent(s.ctx, &runtimev1pb.BindingEventRequest{Name: "queue"})
	s.requireCode(err, codes.Internal)

	_, err = s.srv.OnBindingEvent(s.ctx, &runtimev1pb.BindingEventRequest{Name: "missing"})
	s.requireCode(err, codes.Unimplemented)
}

func (s *ServerSuite) TestOnJobEvent() {
	var got *callback.JobEvent
	s.Require().NoError(s.router.AddJobHandler("nightly", callback.JobHandlerFunc(
		func(_ context.Context, in *callback.JobEvent) error {
			got = in
			return nil
		})))

	_, err := s.srv.OnJobEventAlpha1(s.ctx, &runtimev1pb.JobEventRequest{
		Name:        "nightly",
		Data:        &anypb.Any{Value: []byte(`{"batch":1}`)},
		ContentType: "application/json",
	})

	s.Require().NoError(err)
	s.Assert().Equal(`{"batch":1}`, string(got.Data))

	_, err = s.srv.OnJobEventAlpha1(s.ctx, &runtimev1pb.JobEventRequest{Name: "missing"})
	s.requireCode(err, codes.Unimplemented)
}

func (s *ServerSuite) TestHealthCheck() {
	_, err := s.srv.HealthCheck(s.ctx, &emptypb.Empty{})
	s.requireCode(err, codes.Unimplemented)

	healthy := true
	s.Require().NoError(s.router.SetHealthCheck(callback.HealthCheckerFunc(func(context.Context) error {
		if !healthy {
			return errors.New("db down")
		}
		return nil
	})))

	_, err = s.srv.HealthCheck(s.ctx, &emptypb.Empty{})
	s.Require().NoError(err)

	healthy = false
	_, err = s.srv.HealthCheck(s.ctx, &emptypb.Empty{})
	s.requireCode(err, codes.Unavailable)
}

func TestServer_OverTheWire(t *testing.T) {
	r := callback.New(callback.WithLogger(discard))
	require.NoError(t, r.AddMethodHandler("greet", callback.MethodHandlerFunc(
		func(context.Context, *callback.InvocationEvent) (callback.Result, error) {
			return callback.Text(`"hi"`), nil
		})))

	lis := bufconn.Listen(1 << 20)
	srv := New(r, WithLogger(discard))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	client := runtimev1pb.NewAppCallbackClient(conn)
	resp, err := client.OnInvoke(context.Background(), &commonv1pb.InvokeRequest{Method: "greet"})
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(resp.GetData().GetValue()))

	health := runtimev1pb.NewAppCallbackHealthCheckClient(conn)
	_, err = health.HealthCheck(context.Background(), &emptypb.Empty{})
	assert.Equal(t, codes.Unimplemented, status.Code(err))

	require.NoError(t, conn.Close())
	cancel()
	assert.NoError(t, <-done)
}
