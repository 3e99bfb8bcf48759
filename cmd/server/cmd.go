package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"
	"github.com/webitel/sync-engine/internal/config"
	"github.com/webitel/sync-engine/cmd/tui"
	"go.uber.org/fx"
)

const (
	ServiceName      = "sync-engine"
	ServiceNamespace = "webitel"
)

var (
	version    = "0.0.0"
	commit     = "hash"
	commitDate = time.Now().String()
)

// Run is the process entry point.
func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Collaborative-state synchronization engine",
		Version: version,
		Commands: []*cli.Command{
			serverCmd(),
			dashboardCmd(),
		},
	}
	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the sync server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-file", Usage: "Path to the configuration file"},
			&cli.StringFlag{Name: "listen-addr", Usage: "Websocket listen address"},
		},
		Action: func(c *cli.Context) error {
			flags := pflag.NewFlagSet("server", pflag.ContinueOnError)
			flags.String("listen_addr", c.String("listen-addr"), "")

			cfg, err := config.Load(c.String("config-file"), flags)
			if err != nil {
				return err
			}

			app := NewApp(cfg)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("SERVER_SHUTTING_DOWN")
			return app.Stop(context.Background())
		},
	}
}

func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Run the operator TUI dashboard against a running node's admin surface",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "admin-addr", Value: "http://localhost:8080", Usage: "Admin HTTP base URL"},
			&cli.DurationFlag{Name: "interval", Value: 2 * time.Second, Usage: "Poll interval"},
		},
		Action: func(c *cli.Context) error {
			return tui.Run(c.String("admin-addr"), c.Duration("interval"))
		},
	}
}

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(func() *config.Config { return cfg }),
		Module,
	)
}
