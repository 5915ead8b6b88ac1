package main

import (
	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save, autosave, load, or apply session-topology snapshots",
	}
	cmd.AddCommand(
		newSnapshotSaveCmd(),
		newSnapshotAutosaveCmd(),
		newSnapshotLoadCmd(),
		newSnapshotApplyCmd(),
	)
	return cmd
}

func newSnapshotSaveCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current topology under a name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("snapshot.save_named", map[string]interface{}{"name": args[0], "mode": mode})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "manual", "orchestration mode label recorded with the snapshot")
	return cmd
}

func newSnapshotAutosaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "autosave",
		Short: "Force an immediate autosave of the current project",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("snapshot.save_autosave", map[string]interface{}{})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
}

func newSnapshotLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <id>",
		Short: "Load a snapshot by id, without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			resp, err := c.call("snapshot.load", map[string]interface{}{"id": args[0]})
			if err != nil {
				return err
			}
			return printJSON(resp.Result)
		},
	}
}

func newSnapshotApplyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <id>",
		Short: "Load a snapshot and recreate its topology",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dialDaemon()
			if err != nil {
				return err
			}
			defer c.close()

			loadResp, err := c.call("snapshot.load", map[string]interface{}{"id": args[0]})
			if err != nil {
				return err
			}

			applyResp, err := c.call("snapshot.apply", map[string]interface{}{"snapshot": loadResp.Result})
			if err != nil {
				return err
			}
			return printJSON(applyResp.Result)
		},
	}
}
