// Package sample registers the demonstration handlers callbackd serves out
// of the box.
package sample

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bjaus/callback"
)

const (
	PubsubName  = "pubsub"
	OrdersTopic = "orders"
	AuditTopic  = "audit"
	CronBinding = "cron"
	CleanupJob  = "cleanup"
)

// Order is the data of an orders topic event.
type Order struct {
	ID       string  `json:"id"`
	Customer string  `json:"customer"`
	Total    float64 `json:"total"`
}

// Validate rejects orders nobody could process.
func (o Order) Validate() error {
	if o.ID == "" {
		return errors.New("order id is required")
	}
	if o.Total < 0 {
		return errors.New("order total must not be negative")
	}
	return nil
}

// GreetRequest is the input of the greet method.
type GreetRequest struct {
	Name string `json:"name"`
}

// GreetResponse is the output of the greet method.
type GreetResponse struct {
	Message string `json:"message"`
}

// App holds the sample handlers and the counters they keep.
type App struct {
	logger *slog.Logger

	largeOrders   atomic.Int64
	createdOrders atomic.Int64
	otherOrders   atomic.Int64
	ticks         atomic.Int64
	cleanups      atomic.Int64
	ready         atomic.Bool
}

// New creates the sample application. It reports healthy once SetReady is
// called.
func New(logger *slog.Logger) *App {
	return &App{logger: logger}
}

// SetReady flips the health check.
func (a *App) SetReady(ok bool) { a.ready.Store(ok) }

// Register adds every sample handler to r.
func (a *App) Register(r *callback.Router) error {
	return errors.Join(
		r.AddMethodHandler("echo", callback.MethodHandlerFunc(a.echo)),
		callback.RegisterMethod(r, "greet", a.greet),
		callback.RegisterTopic(r, PubsubName, OrdersTopic, a.largeOrder,
			callback.WithRule(`event.type == "order.created" && event.data.total >= 1000.0`, 1)),
		callback.RegisterTopic(r, PubsubName, OrdersTopic, a.createdOrder,
			callback.WithRule(`event.type == "order.created"`, 2)),
		r.AddTopicHandler(PubsubName, OrdersTopic, callback.TopicHandlerFunc(a.otherOrder),
			callback.WithDeadLetterTopic(OrdersTopic+"-dead")),
		r.AddTopicHandler(PubsubName, AuditTopic, callback.TopicHandlerFunc(a.audit),
			callback.WithBulkSubscribe(100, 1000)),
		r.AddBindingHandler(CronBinding, callback.BindingHandlerFunc(a.tick)),
		r.AddJobHandler(CleanupJob, callback.JobHandlerFunc(a.cleanup)),
		r.SetHealthCheck(callback.HealthCheckerFunc(a.health)),
	)
}

func (a *App) echo(_ context.Context, in *callback.InvocationEvent) (callback.Result, error) {
	return &callback.InvokeResponse{Data: in.Data, ContentType: in.ContentType}, nil
}

func (a *App) greet(_ context.Context, in GreetRequest) (GreetResponse, error) {
	name := in.Name
	if name == "" {
		name = "stranger"
	}
	return GreetResponse{Message: fmt.Sprintf("hello, %s", name)}, nil
}

func (a *App) largeOrder(ctx context.Context, o Order) error {
	a.largeOrders.Add(1)
	a.logger.InfoContext(ctx, "large order received", "order_id", o.ID, "total", o.Total)
	return nil
}

func (a *App) createdOrder(ctx context.Context, o Order) error {
	a.createdOrders.Add(1)
	a.logger.DebugContext(ctx, "order received", "order_id", o.ID)
	return nil
}

func (a *App) otherOrder(ctx context.Context, e *callback.TopicEvent) (callback.TopicStatus, error) {
	a.otherOrders.Add(1)
	a.logger.DebugContext(ctx, "order event ignored", "event_id", e.ID, "event_type", e.Type)
	return callback.StatusSuccess, nil
}

func (a *App) audit(ctx context.Context, e *callback.TopicEvent) (callback.TopicStatus, error) {
	if e.Data == nil {
		return callback.StatusDrop, nil
	}
	a.logger.DebugContext(ctx, "audit entry", "event_id", e.ID)
	return callback.StatusSuccess, nil
}

func (a *App) tick(_ context.Context, in *callback.BindingEvent) ([]byte, error) {
	n := a.ticks.Add(1)
	return fmt.Appendf(nil, `{"tick":%d}`, n), nil
}

func (a *App) cleanup(ctx context.Context, in *callback.JobEvent) error {
	a.cleanups.Add(1)
	a.logger.InfoContext(ctx, "cleanup job ran", "job", in.Name)
	return nil
}

func (a *App) health(context.Context) error {
	if !a.ready.Load() {
		return errors.New("not ready")
	}
	return nil
}

// Stats is a snapshot of the sample counters.
type Stats struct {
	LargeOrders   int64
	CreatedOrders int64
	OtherOrders   int64
	Ticks         int64
	Cleanups      int64
}

// Stats returns the current counters.
func (a *App) Stats() Stats {
	return Stats{
		LargeOrders:   a.largeOrders.Load(),
		CreatedOrders: a.createdOrders.Load(),
		OtherOrders:   a.otherOrders.Load(),
		Ticks:         a.ticks.Load(),
		Cleanups:      a.cleanups.Load(),
	}
}
