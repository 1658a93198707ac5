package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/appstronomer/umon/internal/config"
)

const (
	ServiceName      = "umon"
	ServiceNamespace = "appstronomer"
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Real-time telemetry relay",
		Commands: []*cli.Command{
			serveCmd(),
		},
	}

	return app.Run(os.Args)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "Run the server",
		ArgsUsage: "<addr> <config-path>",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 2 {
				return errors.New("usage: umon serve <addr> <config-path>")
			}
			addr := c.Args().Get(0)
			configPath := c.Args().Get(1)

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			app, shutdown, err := NewApp(addr, cfg)
			if err != nil {
				return err
			}
			defer shutdown(context.Background())

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down...")
			return app.Stop(context.Background())
		},
	}
}
