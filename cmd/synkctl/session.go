package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, list, write to, resize, or destroy sessions",
	}
	cmd.AddCommand(
		newSessionCreateCmd(),
		newSessionListCmd(),
		newSessionDestroyCmd(),
		newSessionWriteCmd(),
		newSessionResizeCmd(),
	)
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var agentKind, projectPath, branch, workingDir, model string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("session.create", map[string]interface{}{
				"agentKind":   agentKind,
				"projectPath": projectPath,
				"branch":      branch,
				"workingDir":  workingDir,
				"model":       model,
			})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
	cmd.Flags().StringVar(&agentKind, "agent", "terminal", "agent kind: claude_code|gemini_cli|codex|openrouter|terminal")
	cmd.Flags().StringVar(&projectPath, "project", "", "project path (required)")
	cmd.Flags().StringVar(&branch, "branch", "", "branch label")
	cmd.Flags().StringVar(&workingDir, "working-dir", "", "working directory (defaults to project path)")
	cmd.Flags().StringVar(&model, "model", "", "model override for the resolved agent")
	cmd.MarkFlagRequired("project")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("session.list", map[string]interface{}{})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
}

func newSessionDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <sessionId>",
		Short: "Destroy a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("session.destroy", map[string]interface{}{"sessionId": jsonNumber(args[0])})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
}

func newSessionWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <sessionId> <text>",
		Short: "Write text to a session's stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("session.write", map[string]interface{}{
				"sessionId": jsonNumber(args[0]),
				"dataB64":   base64.StdEncoding.EncodeToString([]byte(args[1])),
			})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
}

func newSessionResizeCmd() *cobra.Command {
	var cols, rows int

	cmd := &cobra.Command{
		Use:   "resize <sessionId>",
		Short: "Resize a session's PTY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("session.resize", map[string]interface{}{
				"sessionId": jsonNumber(args[0]),
				"cols":      cols,
				"rows":      rows,
			})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
	cmd.Flags().IntVar(&cols, "cols", 80, "terminal columns")
	cmd.Flags().IntVar(&rows, "rows", 24, "terminal rows")
	return cmd
}

// jsonNumber parses a decimal session id argument into a JSON-friendly
// numeric value; invalid input is passed through as a string so the
// daemon's own param decoding reports the error.
func jsonNumber(s string) interface{} {
	var n json.Number
	if err := json.Unmarshal([]byte(s), &n); err == nil {
		if f, err := n.Float64(); err == nil {
			return f
		}
	}
	return s
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
