package callback

import (
	"context"
	"time"
)

// CheckHealth runs the registered health callback.
//
// Without a callback it returns HealthUnknown and ErrNotFound, which
// transports report as unimplemented. A failing or panicking callback
// yields Unhealthy and a *HandlerError carrying the cause. The callback is
// not retried.
func (r *Router) CheckHealth(ctx context.Context) (HealthStatus, error) {
	r.mu.RLock()
	h := r.reg.health
	r.mu.RUnlock()

	if h == nil {
		return HealthUnknown, ErrNotFound
	}

	start := time.Now()
	err := r.guard(ctx, KindHealth, "health", func() error {
		return h.CheckHealth(ctx)
	})
	if err != nil {
		herr := &HandlerError{Kind: KindHealth, Key: "health", Err: err}
		r.callOnFailure(ctx, KindHealth, "health", herr, time.Since(start))
		r.logger.WarnContext(ctx, "health check failed", "err", err)
		return Unhealthy, herr
	}
	return Healthy, nil
}
