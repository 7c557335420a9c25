package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/leasevol"
	"pkt.systems/pslog"
)

// withVolume opens the backend, resource store, and index, runs fn, and tears
// everything down again. Lease subcommands are one-shot; nothing stays open.
func withVolume(ctx context.Context, fn func(ctx context.Context, vol *leasevol.LeasesVolume) error) error {
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
	vol, err := leasevol.Open(ctx, opts.Config, backend, store)
	if err != nil {
		return err
	}
	defer vol.Close()
	return fn(ctx, vol)
}

func newAddCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:          "add <lease-id>",
		Short:        "Allocate a slot for a lease and register its lock resource",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := opContext(cmd.Context(), baseLogger, "add")
			return withVolume(ctx, func(ctx context.Context, vol *leasevol.LeasesVolume) error {
				info, err := vol.Add(ctx, args[0])
				if err != nil {
					return err
				}
				printLeaseInfo(cmd, info)
				return nil
			})
		},
	}
}

func newRemoveCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:          "remove <lease-id>",
		Short:        "Delete a lease record and clear its lock resource",
		Aliases:      []string{"rm"},
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := opContext(cmd.Context(), baseLogger, "remove")
			return withVolume(ctx, func(ctx context.Context, vol *leasevol.LeasesVolume) error {
				if err := vol.Remove(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed lease=%s\n", args[0])
				return nil
			})
		},
	}
}

func newLookupCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:          "lookup <lease-id>",
		Short:        "Resolve a lease to its volume offset",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := opContext(cmd.Context(), baseLogger, "lookup")
			return withVolume(ctx, func(ctx context.Context, vol *leasevol.LeasesVolume) error {
				info, err := vol.Lookup(ctx, args[0])
				if err != nil {
					return err
				}
				printLeaseInfo(cmd, info)
				return nil
			})
		},
	}
}

func newListCommand(baseLogger pslog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "Enumerate every allocated lease record",
		Aliases:      []string{"ls"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := opContext(cmd.Context(), baseLogger, "list")
			return withVolume(ctx, func(ctx context.Context, vol *leasevol.LeasesVolume) error {
				leases, err := vol.Leases(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "lockspace=%s volume=%s leases=%d\n",
					vol.Lockspace(), vol.Path(), len(leases))
				for _, lease := range leases {
					fmt.Fprintf(cmd.OutOrStdout(), "lease=%s offset=%d updating=%t\n",
						lease.Resource, lease.Offset, lease.Updating)
				}
				return nil
			})
		},
	}
}

func printLeaseInfo(cmd *cobra.Command, info leasevol.LeaseInfo) {
	fmt.Fprintf(cmd.OutOrStdout(), "lease=%s lockspace=%s volume=%s offset=%d\n",
		info.Resource, info.Lockspace, info.Path, info.Offset)
}
