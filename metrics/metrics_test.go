package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/bjaus/callback"
)

type CollectorSuite struct {
	suite.Suite
	reg    *prometheus.Registry
	c      *Collector
	router *callback.Router
	ctx    context.Context
}

func (s *CollectorSuite) SetupTest() {
	s.reg = prometheus.NewRegistry()
	s.c = NewCollector(s.reg)
	opts := append([]callback.Option{callback.WithLogger(slog.New(slog.DiscardHandler))}, s.c.Options()...)
	s.router = callback.New(opts...)
	s.ctx = context.Background()
}

func TestCollectorSuite(t *testing.T) {
	suite.Run(t, new(CollectorSuite))
}

func (s *CollectorSuite) TestCountsOutcomesPerKind() {
	s.Require().NoError(s.router.AddMethodHandler("ok", callback.MethodHandlerFunc(
		func(context.Context, *callback.InvocationEvent) (callback.Result, error) { return nil, nil })))
	s.Require().NoError(s.router.AddMethodHandler("fail", callback.MethodHandlerFunc(
		func(context.Context, *callback.InvocationEvent) (callback.Result, error) {
			return nil, errors.New("boom")
		})))

	_, _ = s.router.Invoke(s.ctx, &callback.InvocationEvent{Method: "ok"})
	_, _ = s.router.Invoke(s.ctx, &callback.InvocationEvent{Method: "ok"})
	_, _ = s.router.Invoke(s.ctx, &callback.InvocationEvent{Method: "fail"})
	_, _ = s.router.Invoke(s.ctx, &callback.InvocationEvent{Method: "missing"})

	s.Assert().Equal(2.0, testutil.ToFloat64(s.c.dispatches.WithLabelValues("method", OutcomeSuccess)))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.c.dispatches.WithLabelValues("method", OutcomeFailure)))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.c.dispatches.WithLabelValues("method", OutcomeNoHandler)))
	s.Assert().Equal(3, testutil.CollectAndCount(s.c.dispatches))
}

func (s *CollectorSuite) TestCountsTopicStatuses() {
	s.Require().NoError(s.router.AddTopicHandler("pubsub", "orders", callback.TopicHandlerFunc(
		func(_ context.Context, e *callback.TopicEvent) (callback.TopicStatus, error) {
			if e.ID == "bad" {
				return callback.StatusSuccess, errors.New("boom")
			}
			return callback.StatusSuccess, nil
		})))

	_, _ = s.router.OnTopicEvent(s.ctx, &callback.TopicEvent{ID: "good", PubsubName: "pubsub", Topic: "orders"})
	_, _ = s.router.OnTopicEvent(s.ctx, &callback.TopicEvent{ID: "bad", PubsubName: "pubsub", Topic: "orders"})
	_, _ = s.router.OnTopicEvent(s.ctx, &callback.TopicEvent{ID: "x", PubsubName: "pubsub", Topic: "other"})

	s.Assert().Equal(1.0, testutil.ToFloat64(s.c.topicStatus.WithLabelValues("pubsub:orders", "SUCCESS")))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.c.topicStatus.WithLabelValues("pubsub:orders", "RETRY")))
	s.Assert().Equal(1.0, testutil.ToFloat64(s.c.topicStatus.WithLabelValues("pubsub:other", "DROP")))
}

func (s *CollectorSuite) TestCountsParseErrors() {
	s.Require().NoError(callback.RegisterMethod(s.router, "typed",
		func(context.Context, struct{ N int }) (int, error) { return 0, nil }))

	_, _ = s.router.Invoke(s.ctx, &callback.InvocationEvent{Method: "typed", Data: []byte("{")})

	s.Assert().Equal(1.0, testutil.ToFloat64(s.c.dispatches.WithLabelValues("method", OutcomeParseError)))
}

func (s *CollectorSuite) TestMiddlewareAndHandler() {
	h := s.c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/x", nil))

	s.Assert().Equal(1.0, testutil.ToFloat64(s.c.httpRequests.WithLabelValues("418", "POST")))

	rec := httptest.NewRecorder()
	s.c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	s.Require().NoError(err)
	s.Assert().True(strings.Contains(string(body), "callback_http_requests_total"))
}
