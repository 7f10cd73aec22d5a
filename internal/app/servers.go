package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/bjaus/callback"
	"github.com/bjaus/callback/grpcsrv"
	"github.com/bjaus/callback/httpsrv"
	"github.com/bjaus/callback/internal/config"
	"github.com/bjaus/callback/metrics"
)

// ServerModule starts the configured app protocol listeners.
var ServerModule = fx.Module("server",
	fx.Invoke(
		StartGRPCServer,
		StartHTTPServer,
	),
)

// ServerParams are the dependencies shared by the transports.
type ServerParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Logger    *slog.Logger
	Router    *callback.Router
	Collector *metrics.Collector `optional:"true"`
	Ready     Registered
}

// StartGRPCServer serves the gRPC app protocol when enabled.
func StartGRPCServer(p ServerParams) {
	if !p.Config.Server.ServesGRPC() {
		return
	}
	srv := grpcsrv.New(p.Router, grpcsrv.WithLogger(p.Logger))
	addr := p.Config.Server.GRPCAddress

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(context.Background(), lis); err != nil {
					p.Logger.Error("grpc server stopped", "err", err)
				}
			}()
			p.Logger.Info("grpc app protocol listening", "addr", lis.Addr().String())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			return nil
		},
	})
}

// StartHTTPServer serves the HTTP app protocol when enabled.
func StartHTTPServer(p ServerParams) error {
	if !p.Config.Server.ServesHTTP() {
		return nil
	}
	opts := []httpsrv.Option{httpsrv.WithLogger(p.Logger)}
	if p.Collector != nil {
		opts = append(opts, httpsrv.WithMiddleware(p.Collector.Middleware))
	}
	srv, err := httpsrv.New(p.Router, opts...)
	if err != nil {
		return err
	}
	addr := p.Config.Server.HTTPAddress

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(context.Background(), lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Logger.Error("http server stopped", "err", err)
				}
			}()
			p.Logger.Info("http app protocol listening", "addr", lis.Addr().String())
			return nil
		},
		OnStop: srv.Stop,
	})
	return nil
}

// StartMetricsServer exposes /metrics when metrics are enabled.
func StartMetricsServer(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, c *metrics.Collector) {
	if c == nil {
		return
	}
	mux := chi.NewRouter()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			lis, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server stopped", "err", err)
				}
			}()
			logger.Info("metrics listening", "addr", lis.Addr().String())
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
