package main

import (
	"github.com/spf13/cobra"
	"github.com/synkhq/synk/internal/pairing"
)

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agent binaries detected on $PATH",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("agents.list", map[string]interface{}{})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
}

// renderQRLines renders a pairing code as a terminal QR code, reusing
// the Pairing layer's QR rendering directly rather than re-implementing
// it in the CLI.
func renderQRLines(code string) []string {
	return pairing.RenderQR(pairing.Code{UserCode: code}, 60, 30)
}
