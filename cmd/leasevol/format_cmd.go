package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/leasevol"
	"pkt.systems/pslog"
)

func newFormatCommand(baseLogger pslog.Logger) *cobra.Command {
	var lockspace string
	var maxRecords int
	var force bool
	cmd := &cobra.Command{
		Use:          "format",
		Short:        "Initialize the lease index, destroying all existing records",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(lockspace) == "" {
				return fmt.Errorf("lockspace required (use --lockspace)")
			}
			opts, err := bindVolumeOptions()
			if err != nil {
				return err
			}
			if !force && !confirmWipe(cmd, opts.Path) {
				return fmt.Errorf("aborted")
			}
			backend, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer backend.Close()

			ctx := opContext(cmd.Context(), baseLogger, "format")
			err = leasevol.FormatIndex(ctx, lockspace, backend, opts.Config,
				leasevol.FormatOptions{MaxRecords: maxRecords})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "formatted volume=%s lockspace=%s\n", opts.Path, lockspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&lockspace, "lockspace", "", "lockspace name to record in the index metadata")
	cmd.Flags().IntVar(&maxRecords, "max-records", 0, "cap on initialized record slots (0 means all)")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return cmd
}

func confirmWipe(cmd *cobra.Command, path string) bool {
	fi, err := os.Stdin.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice == 0 {
		// Not a terminal; require --force.
		return false
	}
	fmt.Fprintf(cmd.OutOrStdout(), "format destroys all lease records on %s. Continue? [y/N] ", path)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
