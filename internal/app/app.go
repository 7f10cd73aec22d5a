// Package app wires callbackd together with fx.
package app

import (
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/bjaus/callback"
	"github.com/bjaus/callback/internal/config"
	"github.com/bjaus/callback/internal/logging"
	"github.com/bjaus/callback/metrics"
)

// ServiceName labels logs and traces.
const ServiceName = "callbackd"

// New assembles the daemon for cfg.
func New(cfg *config.Config, extra ...fx.Option) *fx.App {
	return fx.New(append([]fx.Option{Options(cfg)}, extra...)...)
}

// Options is the complete daemon graph.
func Options(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(ProvideLogger),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l}
		}),
		TracingModule,
		MetricsModule,
		RouterModule,
		HandlersModule,
		ServerModule,
		BrokerModule,
	)
}

// ProvideLogger builds the process logger and closes its file on stop.
func ProvideLogger(lc fx.Lifecycle, cfg *config.Config) (*slog.Logger, error) {
	logger, closer, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}
	logger = logger.With("service", ServiceName)
	slog.SetDefault(logger)
	lc.Append(fx.StopHook(closer.Close))
	return logger, nil
}

// RouterParams collects the router options contributed by other modules.
type RouterParams struct {
	fx.In

	Config  *config.Config
	Logger  *slog.Logger
	Options []callback.Option `group:"router_options"`
}

// RouterModule provides the callback.Router.
var RouterModule = fx.Module("router",
	fx.Provide(ProvideRouter),
)

// ProvideRouter builds the router with dispatch limits from the config and
// every contributed hook.
func ProvideRouter(p RouterParams) *callback.Router {
	opts := []callback.Option{
		callback.WithLogger(p.Logger),
		callback.WithMaxConcurrency(p.Config.Dispatch.MaxConcurrency),
		callback.WithBulkConcurrency(p.Config.Dispatch.BulkConcurrency),
	}
	return callback.New(append(opts, p.Options...)...)
}

// RouterOptions contributes hooks to the router.
func RouterOptions(f any) fx.Option {
	return fx.Provide(fx.Annotate(f, fx.ResultTags(`group:"router_options,flatten"`)))
}

// MetricsModule exposes dispatch metrics on their own listener.
var MetricsModule = fx.Module("metrics",
	fx.Provide(ProvideCollector),
	RouterOptions(func(c *metrics.Collector) []callback.Option {
		if c == nil {
			return nil
		}
		return c.Options()
	}),
	fx.Invoke(StartMetricsServer),
)

// ProvideCollector returns nil when metrics are disabled.
func ProvideCollector(cfg *config.Config) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return metrics.NewCollector(nil)
}
