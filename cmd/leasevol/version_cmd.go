package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/leasevol/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the leasevol version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "leasevol %s\n", version.Current())
			return err
		},
	}
}
