package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"

	"github.com/bjaus/callback"
	"github.com/bjaus/callback/internal/config"
	"github.com/bjaus/callback/wmbridge"
)

// BrokerModule consumes topic events from an in-process watermill pub/sub
// when broker.enabled is set.
var BrokerModule = fx.Module("broker",
	fx.Provide(ProvideBroker),
	fx.Invoke(StartBroker),
)

// ProvideBroker returns nil when the broker is disabled.
func ProvideBroker(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) *gochannel.GoChannel {
	if !cfg.Broker.Enabled {
		return nil
	}
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: cfg.Broker.BufferSize,
	}, watermill.NewSlogLogger(logger))
	lc.Append(fx.StopHook(ps.Close))
	return ps
}

// BrokerParams are the dependencies of the broker consumer.
type BrokerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *slog.Logger
	Router    *callback.Router
	PubSub    *gochannel.GoChannel `optional:"true"`
	Ready     Registered
}

// StartBroker runs a watermill router feeding the broker's topics through
// the callback router.
func StartBroker(p BrokerParams) error {
	if p.PubSub == nil {
		return nil
	}
	mr, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, watermill.NewSlogLogger(p.Logger))
	if err != nil {
		return err
	}
	mr.AddMiddleware(middleware.Recoverer)

	if wmbridge.New(p.Router, p.Config.Broker.PubsubName, p.Logger).Register(mr, p.PubSub) == 0 {
		p.Logger.Warn("broker enabled but no topic subscribes to it", "pubsub", p.Config.Broker.PubsubName)
		return nil
	}

	var cancel context.CancelFunc
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			go func() {
				if err := mr.Run(runCtx); err != nil {
					p.Logger.Error("broker router stopped", "err", err)
				}
			}()
			select {
			case <-mr.Running():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		OnStop: func(context.Context) error {
			cancel()
			return mr.Close()
		},
	})
	return nil
}
