package callback

import "context"

// MethodHandler serves a service invocation.
//
// Example:
//
//	type EchoHandler struct{}
//
//	func (h *EchoHandler) Invoke(ctx context.Context, in *callback.InvocationEvent) (callback.Result, error) {
//	    return callback.Bytes(in.Data), nil
//	}
type MethodHandler interface {
	Invoke(ctx context.Context, in *InvocationEvent) (Result, error)
}

// MethodHandlerFunc is a function adapter for MethodHandler:
//
//	r.AddMethodHandler("ping", callback.MethodHandlerFunc(func(ctx context.Context, in *callback.InvocationEvent) (callback.Result, error) {
//	    return callback.Text(`"pong"`), nil
//	}))
type MethodHandlerFunc func(ctx context.Context, in *InvocationEvent) (Result, error)

// Invoke implements the MethodHandler interface.
func (f MethodHandlerFunc) Invoke(ctx context.Context, in *InvocationEvent) (Result, error) {
	return f(ctx, in)
}

// TopicHandler processes a topic event. The returned status is passed to the
// sidecar as-is; returning an error always results in StatusRetry.
type TopicHandler interface {
	HandleTopic(ctx context.Context, e *TopicEvent) (TopicStatus, error)
}

// TopicHandlerFunc is a function adapter for TopicHandler.
type TopicHandlerFunc func(ctx context.Context, e *TopicEvent) (TopicStatus, error)

// HandleTopic implements the TopicHandler interface.
func (f TopicHandlerFunc) HandleTopic(ctx context.Context, e *TopicEvent) (TopicStatus, error) {
	return f(ctx, e)
}

// BindingHandler processes an input binding trigger. Returned data, if any,
// is sent back to the sidecar.
type BindingHandler interface {
	HandleBinding(ctx context.Context, in *BindingEvent) ([]byte, error)
}

// BindingHandlerFunc is a function adapter for BindingHandler.
type BindingHandlerFunc func(ctx context.Context, in *BindingEvent) ([]byte, error)

// HandleBinding implements the BindingHandler interface.
func (f BindingHandlerFunc) HandleBinding(ctx context.Context, in *BindingEvent) ([]byte, error) {
	return f(ctx, in)
}

// JobHandler processes a scheduled job trigger.
type JobHandler interface {
	HandleJob(ctx context.Context, in *JobEvent) error
}

// JobHandlerFunc is a function adapter for JobHandler.
type JobHandlerFunc func(ctx context.Context, in *JobEvent) error

// HandleJob implements the JobHandler interface.
func (f JobHandlerFunc) HandleJob(ctx context.Context, in *JobEvent) error {
	return f(ctx, in)
}

// HealthChecker reports application health. A nil error means healthy.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// HealthCheckerFunc is a function adapter for HealthChecker.
type HealthCheckerFunc func(ctx context.Context) error

// CheckHealth implements the HealthChecker interface.
func (f HealthCheckerFunc) CheckHealth(ctx context.Context) error {
	return f(ctx)
}

// Result is what a MethodHandler hands back. It is a closed set:
//   - Text: a string body
//   - Bytes: a binary body
//   - *InvokeResponse: a fully specified response, passed through unchanged
//
// A nil Result is an empty successful response.
type Result interface {
	isResult()
}

// Text is a string method result. It is sent with DefaultContentType.
type Text string

// Bytes is a binary method result. It is sent with DefaultContentType.
type Bytes []byte

func (Text) isResult()            {}
func (Bytes) isResult()           {}
func (*InvokeResponse) isResult() {}
