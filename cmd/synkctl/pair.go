package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Issue a pairing code, render it as a QR code, and store the resulting credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemonUnauthenticated()
			if err != nil {
				return err
			}
			defer c.close()

			issueResp, err := c.call("pairing.issue", map[string]interface{}{})
			if err != nil {
				return err
			}
			result, ok := issueResp.Result.(map[string]interface{})
			if !ok {
				return fmt.Errorf("unexpected pairing.issue result shape")
			}
			code, _ := result["code"].(string)
			url, _ := result["url"].(string)

			fmt.Println(url)
			fmt.Println()
			// A QR code is only useful on an interactive terminal; a
			// piped or redirected stdout gets the code and URL only.
			if term.IsTerminal(int(os.Stdout.Fd())) {
				for _, line := range renderQRLines(code) {
					fmt.Println(line)
				}
				fmt.Println()
			}
			fmt.Printf("pairing code: %s\n", code)

			verifyResp, err := c.call("pairing.verify", map[string]string{"code": code})
			if err != nil {
				return err
			}
			cred, _ := verifyResp.Result.(map[string]interface{})["credential"].(string)
			if cred == "" {
				return fmt.Errorf("daemon did not return a credential")
			}

			if err := saveCredential(cred); err != nil {
				return fmt.Errorf("saving credential: %w", err)
			}
			fmt.Println("paired; credential saved")
			return nil
		},
	}
}

// dialDaemonUnauthenticated connects without attempting to present a
// stored credential, since pairing is how a credential is first
// obtained.
func dialDaemonUnauthenticated() (*client, error) {
	return dialDaemonRaw()
}
