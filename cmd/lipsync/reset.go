package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lipsync-studio/internal/workspace"
)

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the workspace directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := workspace.New(c.settings.WorkspaceDir)
			if err := ws.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "workspace reset: %s\n", ws.Root())
			return nil
		},
	}
}
