package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/leasevol"
	"pkt.systems/pslog"
)

func newRebuildCommand(baseLogger pslog.Logger) *cobra.Command {
	var lockspace string
	cmd := &cobra.Command{
		Use:          "rebuild",
		Short:        "Reconcile the lease index against the lock manager's resources",
		Long: `Rebuild reconciles every index slot against the resource registered at the
slot's offset. Run it when open fails because an interrupted operation left
the index marked as updating, or when corruption is suspected. Records win
over resources; orphan resources are adopted when possible and cleared
otherwise. Rebuild is idempotent and safe to re-run after a failure.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(lockspace) == "" {
				return fmt.Errorf("lockspace required (use --lockspace)")
			}
			opts, err := bindVolumeOptions()
			if err != nil {
				return err
			}
			backend, err := openBackend(opts)
			if err != nil {
				return err
			}
			defer backend.Close()
			store, err := openStore(backend, opts)
			if err != nil {
				return err
			}

			ctx := opContext(cmd.Context(), baseLogger, "rebuild")
			if err := leasevol.RebuildIndex(ctx, lockspace, backend, store, opts.Config); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt volume=%s lockspace=%s\n", opts.Path, lockspace)
			return nil
		},
	}
	cmd.Flags().StringVar(&lockspace, "lockspace", "", "lockspace the volume belongs to")
	return cmd
}
