package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/oxplot/pdmux/config"
	"github.com/oxplot/pdmux/internal/board"
	"github.com/oxplot/pdmux/mstime"
	"github.com/oxplot/pdmux/status"
)

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return config.Config{}, err
		}
	}
	// The flag wins over the file.
	if !cmd.Flags().Changed("log-level") {
		logrus.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}

func closeLogged(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		logrus.WithError(err).Warnf("close %s", what)
	}
}

// NewRunCommand returns the command running the sink.
func NewRunCommand() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sink in the foreground",
		Long: `Run the sink in the foreground.

The sources configured as [[supply]] are simulated. With [hardware]
enabled the load switches, output stage and status light are driven
through the host GPIO and I2C buses, otherwise virtual pins are used.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.StatusListen = listen
			}
			logrus.Debugf("config loaded: %+v", cfg)

			var hw *board.Hardware
			if cfg.Hardware.Enabled {
				if hw, err = board.OpenHardware(cfg.Hardware, logrus.StandardLogger()); err != nil {
					return errors.Wrap(err, "open hardware")
				}
			}
			b, err := board.New(cfg, hw, mstime.NewSystem(), logrus.StandardLogger())
			if err != nil {
				if hw != nil {
					closeLogged(hw, "hardware")
				}
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return b.Run(ctx)
			})
			if cfg.StatusListen != "" {
				router := status.NewRouter(b.Mux, logrus.WithField("component", "http"))
				g.Go(func() error {
					return status.Serve(ctx, cfg.StatusListen, router, logrus.StandardLogger())
				})
			}
			err = g.Wait()
			logrus.Info("shut down")
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "status API listen address, overrides the config")
	return cmd
}
