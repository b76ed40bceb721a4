package main

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/oxplot/pdmux/config"
	"github.com/oxplot/pdmux/pdcap"
	"github.com/oxplot/pdmux/pdmsg"
)

// NewRequestCommand returns the command building the request a sink would
// send for a capability.
func NewRequestCommand() *cobra.Command {
	var (
		power    uint32
		position uint8
		id       uint8
	)
	cmd := &cobra.Command{
		Use:   "request <pdo>",
		Short: "Build the request for a source capability",
		Long: `Build the request for a source capability written as
fixed:<mV>:<mA>, battery:<min mV>:<max mV>:<mW> or
variable:<min mV>:<max mV>:<mA>, and print the resulting frame.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pdo, err := config.ParsePDO(args[0])
			if err != nil {
				return err
			}
			if position < 1 || position > pdmsg.MaxDataObjects {
				return errors.Errorf("position must be 1 to %d", pdmsg.MaxDataObjects)
			}
			c := pdcap.FromPDO(pdo, position-1)
			if power == 0 {
				power = c.MaxPower()
			}
			if power > c.MaxPower() {
				return errors.Errorf("%dmW exceeds the %dmW the capability offers", power, c.MaxPower())
			}
			req := pdcap.NewRequest(c, power)
			frame := pdmsg.EncodeRequest(req.GeneratePDO(), id%8)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", bold("capability"), c)
			fmt.Fprintf(out, "%s %s\n", bold("request"), req)
			printRequest(out, req.GeneratePDO())
			fmt.Fprintf(out, "%s %s\n", bold("frame"), hex.EncodeToString(frame))
			return nil
		},
	}
	cmd.Flags().Uint32Var(&power, "power", 0, "requested power in mW, 0 for the full capability")
	cmd.Flags().Uint8Var(&position, "position", 1, "1 based position of the capability in the advertisement")
	cmd.Flags().Uint8Var(&id, "id", 0, "message id")
	return cmd
}
