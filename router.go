package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency bounds the calls dispatched at once.
const DefaultMaxConcurrency = 10

// Router routes inbound sidecar calls to registered handlers.
//
// Usage:
//  1. Create a router with New
//  2. Register handlers with AddMethodHandler, AddTopicHandler,
//     AddBindingHandler, AddJobHandler and SetHealthCheck
//  3. Hand the router to a transport (grpcsrv, httpsrv, wmbridge)
//
// Registration is safe at any time, but ambiguous registrations fail with
// ErrDuplicateRegistration and should stop the process before it serves.
type Router struct {
	mu  sync.RWMutex
	reg registry

	hooks  hooks
	logger *slog.Logger

	limiter         *semaphore.Weighted
	bulkConcurrency int
}

// Option configures a Router.
type Option func(*Router)

// New creates a Router with the given options.
//
// Example:
//
//	r := callback.New(
//	    callback.WithLogger(logger),
//	    callback.WithMaxConcurrency(20),
//	    callback.WithOnFailure(func(ctx context.Context, kind callback.Kind, key string, err error, d time.Duration) {
//	        logger.Error("handler failed", "kind", kind, "key", key, "err", err)
//	    }),
//	)
func New(opts ...Option) *Router {
	r := &Router{
		reg:             newRegistry(),
		logger:          slog.Default(),
		limiter:         semaphore.NewWeighted(DefaultMaxConcurrency),
		bulkConcurrency: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithLogger sets the logger used for dispatch diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMaxConcurrency bounds the number of calls dispatched at once across
// every transport. n <= 0 removes the bound.
func WithMaxConcurrency(n int) Option {
	return func(r *Router) {
		if n <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = semaphore.NewWeighted(int64(n))
	}
}

// WithBulkConcurrency sets how many entries of one bulk delivery are
// dispatched at once. The default of 1 processes entries in order.
func WithBulkConcurrency(n int) Option {
	return func(r *Router) {
		if n < 1 {
			n = 1
		}
		r.bulkConcurrency = n
	}
}

// acquire takes a worker slot. It gives up when the caller goes away.
func (r *Router) acquire(ctx context.Context) (func(), error) {
	if r.limiter == nil {
		return func() {}, nil
	}
	if err := r.limiter.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { r.limiter.Release(1) }, nil
}

// guard runs fn and turns a panic into an error.
func (r *Router) guard(ctx context.Context, kind Kind, key string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.ErrorContext(ctx, "handler panicked",
				"kind", kind.String(),
				"key", key,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err = &panicError{value: p}
		}
	}()
	return fn()
}

// Invoke dispatches a service invocation.
//
// A handler error yields a 500 response together with a *HandlerError; a
// *ParseError from a typed handler yields a 400 response. ErrNotFound is
// returned with a nil response when the method is unknown.
func (r *Router) Invoke(ctx context.Context, in *InvocationEvent) (*InvokeResponse, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	h, err := r.lookupMethod(in.Method)
	if err != nil {
		r.callOnNoHandler(ctx, KindMethod, in.Method)
		return nil, err
	}

	ctx = r.callOnDispatch(ctx, KindMethod, in.Method)
	start := time.Now()
	var res Result
	err = r.guard(ctx, KindMethod, in.Method, func() error {
		var herr error
		res, herr = h.Invoke(ctx, in)
		return herr
	})
	d := time.Since(start)

	var perr *ParseError
	if errors.As(err, &perr) {
		r.callOnParseError(ctx, KindMethod, in.Method, perr)
		return errorResponse(400, perr), perr
	}
	if err != nil {
		herr := &HandlerError{Kind: KindMethod, Key: in.Method, Err: err}
		r.callOnFailure(ctx, KindMethod, in.Method, herr, d)
		r.logger.ErrorContext(ctx, "method handler failed", "method", in.Method, "err", err)
		return errorResponse(500, herr), herr
	}

	r.callOnSuccess(ctx, KindMethod, in.Method, d)
	return toInvokeResponse(res), nil
}

func toInvokeResponse(res Result) *InvokeResponse {
	switch v := res.(type) {
	case nil:
		return &InvokeResponse{}
	case Text:
		return &InvokeResponse{Data: []byte(v), ContentType: DefaultContentType}
	case Bytes:
		return &InvokeResponse{Data: []byte(v), ContentType: DefaultContentType}
	case *InvokeResponse:
		if v == nil {
			return &InvokeResponse{}
		}
		return v
	default:
		panic(fmt.Sprintf("callback: unknown result type %T", res))
	}
}

func errorResponse(code int, err error) *InvokeResponse {
	return &InvokeResponse{
		Data:        []byte(err.Error()),
		ContentType: "text/plain",
		StatusCode:  code,
	}
}

// OnTopicEvent dispatches a single topic event and returns the status for
// the sidecar.
//
// Handler failures are not returned as errors: they become StatusRetry so
// the sidecar redelivers. An event no rule accepts is dropped. The only error
// returned is ErrNotFound (with StatusDrop) for an unknown subscription.
func (r *Router) OnTopicEvent(ctx context.Context, e *TopicEvent) (TopicStatus, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return StatusRetry, err
	}
	defer release()
	return r.dispatchTopic(ctx, e)
}

func (r *Router) dispatchTopic(ctx context.Context, e *TopicEvent) (TopicStatus, error) {
	key := TopicKey{PubsubName: e.PubsubName, Topic: e.Topic}
	candidates, err := r.lookupTopic(key)
	if err != nil {
		r.callOnNoHandler(ctx, KindTopic, key.String())
		r.callOnTopicStatus(ctx, key.String(), StatusDrop)
		return StatusDrop, err
	}

	entry := r.selectEntry(ctx, candidates, e)
	if entry == nil {
		r.logger.WarnContext(ctx, "no rule matched topic event, dropping",
			"topic", key.String(), "event_id", e.ID, "event_type", e.Type)
		r.callOnTopicStatus(ctx, key.String(), StatusDrop)
		return StatusDrop, nil
	}

	id := entry.id()
	ctx = r.callOnDispatch(ctx, KindTopic, id)
	start := time.Now()
	var status TopicStatus
	err = r.guard(ctx, KindTopic, id, func() error {
		var herr error
		status, herr = entry.handler.HandleTopic(ctx, e)
		return herr
	})
	d := time.Since(start)

	var perr *ParseError
	switch {
	case errors.As(err, &perr):
		r.callOnParseError(ctx, KindTopic, id, perr)
		status = StatusDrop
	case err != nil:
		herr := &HandlerError{Kind: KindTopic, Key: id, Err: err}
		r.callOnFailure(ctx, KindTopic, id, herr, d)
		r.logger.ErrorContext(ctx, "topic handler failed, requesting redelivery",
			"route", id, "event_id", e.ID, "err", err)
		status = StatusRetry
	default:
		r.callOnSuccess(ctx, KindTopic, id, d)
	}

	r.callOnTopicStatus(ctx, key.String(), status)
	return status, nil
}

// selectEntry picks the handler for an event. An event addressed to a known
// route goes straight to that entry. Otherwise rules are evaluated in
// priority order and the first match wins; the unruled entry, if any, is
// the fallback.
func (r *Router) selectEntry(ctx context.Context, candidates []*topicEntry, e *TopicEvent) *topicEntry {
	if e.Route != "" {
		for _, c := range candidates {
			if c.route == e.Route {
				return c
			}
		}
	}
	for _, c := range candidates {
		if c.rule == nil {
			return c
		}
		ok, err := c.rule.Eval(e)
		if err != nil {
			r.logger.DebugContext(ctx, "rule evaluation failed", "rule", c.rule.Match, "err", err)
			continue
		}
		if ok {
			return c
		}
	}
	return nil
}

// OnBindingEvent dispatches an input binding trigger. Handler failures are
// returned as *HandlerError; unknown bindings as ErrNotFound.
func (r *Router) OnBindingEvent(ctx context.Context, in *BindingEvent) ([]byte, error) {
	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	h, err := r.lookupBinding(in.Name)
	if err != nil {
		r.callOnNoHandler(ctx, KindBinding, in.Name)
		return nil, err
	}

	ctx = r.callOnDispatch(ctx, KindBinding, in.Name)
	start := time.Now()
	var out []byte
	err = r.guard(ctx, KindBinding, in.Name, func() error {
		var herr error
		out, herr = h.HandleBinding(ctx, in)
		return herr
	})
	d := time.Since(start)
	if err != nil {
		return nil, r.fail(ctx, KindBinding, in.Name, err, d)
	}
	r.callOnSuccess(ctx, KindBinding, in.Name, d)
	return out, nil
}

// OnJobEvent dispatches a job trigger. Handler failures are returned as
// *HandlerError; unknown jobs as ErrNotFound.
func (r *Router) OnJobEvent(ctx context.Context, in *JobEvent) error {
	release, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	h, err := r.lookupJob(in.Name)
	if err != nil {
		r.callOnNoHandler(ctx, KindJob, in.Name)
		return err
	}

	ctx = r.callOnDispatch(ctx, KindJob, in.Name)
	start := time.Now()
	err = r.guard(ctx, KindJob, in.Name, func() error {
		return h.HandleJob(ctx, in)
	})
	d := time.Since(start)
	if err != nil {
		return r.fail(ctx, KindJob, in.Name, err, d)
	}
	r.callOnSuccess(ctx, KindJob, in.Name, d)
	return nil
}

// fail classifies a handler error for kinds that report errors directly.
func (r *Router) fail(ctx context.Context, kind Kind, key string, err error, d time.Duration) error {
	var perr *ParseError
	if errors.As(err, &perr) {
		r.callOnParseError(ctx, kind, key, perr)
		return perr
	}
	herr := &HandlerError{Kind: kind, Key: key, Err: err}
	r.callOnFailure(ctx, kind, key, herr, d)
	r.logger.ErrorContext(ctx, "handler failed", "kind", kind.String(), "key", key, "err", err)
	return herr
}
