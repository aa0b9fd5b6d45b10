package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const modlinkVersion = "0.1.0"

func getVersionCmd(gs *globalState) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Long:  `Show the application version and exit.`,
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(gs.stdout, "modlink v%s\n", modlinkVersion)
			return err
		},
	}
}
