package main

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/oxplot/pdmux/status"
)

// NewStatusCommand returns the command printing the status of a running
// sink.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of a running sink",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			st, err := status.Fetch(ctx, nil, statusAddr)
			if err != nil {
				return err
			}

			cmd.Println(bold("Output:"))
			cmd.Println("  Enabled: " + bool2Text(st.OutputEnabled))
			cmd.Printf("  Strategy: %s\n", bold("%s", st.Strategy))
			cmd.Printf("  Required power: %s\n", bold("%.1f W", float64(st.RequiredPowerMW)/1000))
			avail := color.New(color.Bold, color.FgRed)
			if st.AvailablePowerMW >= st.RequiredPowerMW {
				avail = color.New(color.Bold, color.FgGreen)
			}
			cmd.Printf("  Available power: %s\n", avail.Sprintf("%.1f W", float64(st.AvailablePowerMW)/1000))
			if st.Incompatible {
				cmd.Println("  " + color.New(color.Bold, color.FgYellow).Sprint("Sources offer different voltages"))
			}

			for _, p := range st.Ports {
				cmd.Println()
				cmd.Println(bold("Port %s:", p.Port))
				if !p.Active {
					cmd.Println("  No source")
					continue
				}
				for _, c := range p.Capabilities {
					mark := "  "
					if c == p.Selected {
						mark = color.GreenString("→ ")
					}
					cmd.Printf("  %s%s\n", mark, c)
				}
				if p.Selected != "" {
					cmd.Printf("  Requested: %s at %s\n", bold("%.1f W", float64(p.RequestedMW)/1000), bold("%.2f V", float64(p.VoltageMV)/1000))
				}
				cmd.Println("  Accepted: " + bool2Text(p.Accepted))
				cmd.Println("  Ready: " + bool2Text(p.Ready))
				if p.InFlight {
					cmd.Println("  " + color.YellowString("request in flight"))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&statusAddr, "addr", statusAddr, "status API address of the running sink")
	return cmd
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
