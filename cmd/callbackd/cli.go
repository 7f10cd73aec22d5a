package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/bjaus/callback"
	"github.com/bjaus/callback/internal/app"
	"github.com/bjaus/callback/internal/config"
	"github.com/bjaus/callback/internal/sample"
)

var version = "0.0.0"

func newApp() *cli.App {
	return &cli.App{
		Name:    app.ServiceName,
		Usage:   "Serve application callbacks for a sidecar runtime",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			subscriptionsCmd(),
		},
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config_file",
		Usage:   "Path to the configuration file",
		EnvVars: []string{config.EnvPrefix + "_CONFIG_FILE"},
	}
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the callback server",
		Flags:   []cli.Flag{configFlag()},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config_file"))
			if err != nil {
				return err
			}
			fxApp := app.New(cfg)
			if err := fxApp.Err(); err != nil {
				return err
			}

			if err := fxApp.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), fxApp.StopTimeout())
			defer cancel()
			return fxApp.Stop(ctx)
		},
	}
}

// subscriptionsCmd prints what the server would report to the sidecar at
// startup, without serving.
func subscriptionsCmd() *cli.Command {
	return &cli.Command{
		Name:  "subscriptions",
		Usage: "Print registered subscriptions, methods, bindings and jobs",
		Action: func(c *cli.Context) error {
			r := callback.New(callback.WithLogger(slog.New(slog.DiscardHandler)))
			if err := sample.New(slog.New(slog.DiscardHandler)).Register(r); err != nil {
				return err
			}
			enc := json.NewEncoder(c.App.Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Subscriptions []callback.Subscription `json:"subscriptions"`
				Methods       []string                `json:"methods"`
				Bindings      []string                `json:"bindings"`
				Jobs          []string                `json:"jobs"`
			}{r.Subscriptions(), r.Methods(), r.Bindings(), r.Jobs()})
		},
	}
}
