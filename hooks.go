package callback

import (
	"context"
	"time"
)

// OnDispatchFunc is called just before a handler executes. The returned
// context is passed to the handler, so use it to attach trace spans or
// logging fields.
type OnDispatchFunc func(ctx context.Context, kind Kind, key string) context.Context

// OnSuccessFunc is called after a handler returns without error.
type OnSuccessFunc func(ctx context.Context, kind Kind, key string, duration time.Duration)

// OnFailureFunc is called after a handler fails or panics.
type OnFailureFunc func(ctx context.Context, kind Kind, key string, err error, duration time.Duration)

// OnNoHandlerFunc is called when a call arrives for a kind and key nothing is
// registered for.
type OnNoHandlerFunc func(ctx context.Context, kind Kind, key string)

// OnParseErrorFunc is called when an inbound payload cannot be decoded.
type OnParseErrorFunc func(ctx context.Context, kind Kind, key string, err error)

// OnTopicStatusFunc is called with the final status of every topic event,
// including bulk entries. key is the subscription's pubsub:topic pair.
type OnTopicStatusFunc func(ctx context.Context, key string, status TopicStatus)

// hooks holds all configured hook functions.
type hooks struct {
	onDispatch    []OnDispatchFunc
	onSuccess     []OnSuccessFunc
	onFailure     []OnFailureFunc
	onNoHandler   []OnNoHandlerFunc
	onParseError  []OnParseErrorFunc
	onTopicStatus []OnTopicStatusFunc
}

// WithOnDispatch adds a hook called just before a handler executes.
// Multiple hooks are called in order, with context chaining through each.
//
// Example:
//
//	callback.WithOnDispatch(func(ctx context.Context, kind callback.Kind, key string) context.Context {
//	    ctx, _ = tracer.Start(ctx, kind.String()+" "+key)
//	    return ctx
//	})
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(r *Router) {
		r.hooks.onDispatch = append(r.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a handler completes successfully.
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(r *Router) {
		r.hooks.onSuccess = append(r.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after a handler fails.
//
// Example:
//
//	callback.WithOnFailure(func(ctx context.Context, kind callback.Kind, key string, err error, d time.Duration) {
//	    alerts.Notify(ctx, kind.String(), key, err)
//	})
func WithOnFailure(fn OnFailureFunc) Option {
	return func(r *Router) {
		r.hooks.onFailure = append(r.hooks.onFailure, fn)
	}
}

// WithOnNoHandler adds a hook called when no handler is registered for a call.
func WithOnNoHandler(fn OnNoHandlerFunc) Option {
	return func(r *Router) {
		r.hooks.onNoHandler = append(r.hooks.onNoHandler, fn)
	}
}

// WithOnParseError adds a hook called when an inbound payload is malformed.
func WithOnParseError(fn OnParseErrorFunc) Option {
	return func(r *Router) {
		r.hooks.onParseError = append(r.hooks.onParseError, fn)
	}
}

// WithOnTopicStatus adds a hook called with the status returned for every
// topic event.
func WithOnTopicStatus(fn OnTopicStatusFunc) Option {
	return func(r *Router) {
		r.hooks.onTopicStatus = append(r.hooks.onTopicStatus, fn)
	}
}

func (r *Router) callOnDispatch(ctx context.Context, kind Kind, key string) context.Context {
	for _, fn := range r.hooks.onDispatch {
		ctx = fn(ctx, kind, key)
	}
	return ctx
}

func (r *Router) callOnSuccess(ctx context.Context, kind Kind, key string, d time.Duration) {
	for _, fn := range r.hooks.onSuccess {
		fn(ctx, kind, key, d)
	}
}

func (r *Router) callOnFailure(ctx context.Context, kind Kind, key string, err error, d time.Duration) {
	for _, fn := range r.hooks.onFailure {
		fn(ctx, kind, key, err, d)
	}
}

func (r *Router) callOnNoHandler(ctx context.Context, kind Kind, key string) {
	r.logger.WarnContext(ctx, "no handler registered", "kind", kind.String(), "key", key)
	for _, fn := range r.hooks.onNoHandler {
		fn(ctx, kind, key)
	}
}

func (r *Router) callOnParseError(ctx context.Context, kind Kind, key string, err error) {
	r.logger.WarnContext(ctx, "malformed payload", "kind", kind.String(), "key", key, "err", err)
	for _, fn := range r.hooks.onParseError {
		fn(ctx, kind, key, err)
	}
}

func (r *Router) callOnTopicStatus(ctx context.Context, key string, status TopicStatus) {
	for _, fn := range r.hooks.onTopicStatus {
		fn(ctx, key, status)
	}
}
