package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/oxplot/pdmux/pdcap"
	"github.com/oxplot/pdmux/pdmsg"
)

// NewDecodeCommand returns the command printing a PD frame in human readable
// form.
func NewDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a PD message",
		Long: `Decode a PD message given as hex bytes in wire order, header
first. Spaces and colons between bytes are ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := parseHex(args[0])
			if err != nil {
				return err
			}
			m, err := pdmsg.Parse(b)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), m)
			return nil
		},
	}
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "parse hex")
	}
	return b, nil
}

func printMessage(w io.Writer, m pdmsg.Message) {
	h := m.Header
	kind := "control"
	if h.IsData() {
		kind = "data"
	}
	fmt.Fprintf(w, "%s %s\n", color.New(color.Bold, color.FgCyan).Sprint(h.Name()), color.HiBlackString("(%s)", kind))
	fmt.Fprintf(w, "  id=%d rev=%d power-role=%d data-role=%d objects=%d\n",
		h.ID(), h.Revision(), h.PowerRole(), h.DataRole(), h.DataObjectCount())

	if !h.IsData() {
		return
	}
	switch h.Type() {
	case pdmsg.TypeSourceCap:
		for _, c := range pdcap.FromPDOs(m.PDOs()).Caps() {
			fmt.Fprintf(w, "  %s\n", c)
		}
	case pdmsg.TypeRequest:
		printRequest(w, pdmsg.RequestDO(m.Data[0]))
	default:
		for i, d := range m.Data[:h.DataObjectCount()] {
			fmt.Fprintf(w, "  [%d] %#08x\n", i, d)
		}
	}
}

func printRequest(w io.Writer, rdo pdmsg.RequestDO) {
	fmt.Fprintf(w, "  rdo %s object=%d\n", bold("%#08x", uint32(rdo)), rdo.SelectedObjectPosition())
	fmt.Fprintf(w, "  fixed/variable: operating=%dmA max=%dmA\n", rdo.FixedOperatingCurrent(), rdo.FixedMaxOperatingCurrent())
	fmt.Fprintf(w, "  battery: operating=%dmW max=%dmW\n", rdo.BatteryOperatingPower(), rdo.BatteryMaxOperatingPower())
	if rdo.CapabilityMismatch() {
		fmt.Fprintln(w, "  "+color.YellowString("capability mismatch"))
	}
}
