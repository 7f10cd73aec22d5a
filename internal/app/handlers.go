package app

import (
	"go.uber.org/fx"

	"github.com/bjaus/callback"
	"github.com/bjaus/callback/internal/sample"
)

// Registered marks that every handler is on the router. Transports depend
// on it because they snapshot registrations when built.
type Registered struct{}

// HandlersModule registers the application handlers.
var HandlersModule = fx.Module("handlers",
	fx.Provide(
		sample.New,
		RegisterHandlers,
	),
)

// RegisterHandlers adds the sample handlers and reports ready once the app
// has started.
func RegisterHandlers(lc fx.Lifecycle, r *callback.Router, a *sample.App) (Registered, error) {
	if err := a.Register(r); err != nil {
		return Registered{}, err
	}
	lc.Append(fx.StartStopHook(
		func() { a.SetReady(true) },
		func() { a.SetReady(false) },
	))
	return Registered{}, nil
}
