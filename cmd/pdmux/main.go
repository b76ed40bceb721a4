// Command pdmux runs a dual-port USB PD sink and inspects PD messages.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/oxplot/pdmux/status"
)

var (
	logLevel   = "info"
	configPath = ""
	statusAddr = "127.0.0.1:8093"
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if isatty.IsTerminal(os.Stderr.Fd()) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	}
	return nil
}

func handleCmdError(err error) {
	if errors.Is(err, status.ErrNotRunning) {
		fmt.Fprintln(os.Stderr, "\nError: pdmux is not running")
		fmt.Fprintln(os.Stderr, "  - Start it with 'pdmux run'")
		fmt.Fprintf(os.Stderr, "  - Or point --addr at its status listener (default %s)\n", statusAddr)
	}
}

// NewCommand returns the root command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdmux",
		Short: "pdmux combines two USB PD sources into one output rail",
		Long: `pdmux negotiates power contracts with up to two USB Power Delivery
sources and enables a shared output once the contracts cover the
required power.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")

	cmd.AddCommand(
		NewRunCommand(),
		NewStatusCommand(),
		NewDecodeCommand(),
		NewRequestCommand(),
	)

	return cmd
}

func main() {
	start := time.Now()
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		logrus.WithField("after", time.Since(start).Round(time.Millisecond)).Debug("exit with error")
		os.Exit(1)
	}
}
