package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/leasevol"
	"pkt.systems/leasevol/internal/lockres"
	"pkt.systems/leasevol/internal/storage"
	"pkt.systems/leasevol/internal/storage/directio"
	"pkt.systems/leasevol/internal/storage/procio"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("LEASEVOL_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "leasevol")
	cmd := newRootCommand(baseLogger)
	ctx = withSignalCancel(ctx)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

// volumeOptions is the bound CLI configuration shared by every subcommand.
type volumeOptions struct {
	Path      string
	Backend   string
	Direct    bool
	IOTimeout time.Duration
	DDTool    string
	Config    leasevol.Config
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "leasevol",
		Short:         "leasevol manages the external-lease index on a shared volume",
		SilenceErrors: true,
		Example: `
  # Initialize the index on a shared block device
  leasevol format --volume /dev/mapper/leases --lockspace dom-3cab12

  # Add and resolve a lease
  leasevol add --volume /dev/mapper/leases 7b4c28f1
  leasevol lookup --volume /dev/mapper/leases 7b4c28f1

  # Recover from an interrupted operation on flaky NFS via the dd backend
  LEASEVOL_BACKEND=dd leasevol rebuild --volume /srv/nfs/leases --lockspace dom-3cab12
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.String("volume", "", "block device or file holding the lease volume")
	persistentFlags.String("backend", "direct", "I/O backend (direct, dd)")
	persistentFlags.Bool("direct", false, "force direct I/O even for regular files")
	persistentFlags.String("alignment", "1MiB", "stride between lease slots")
	persistentFlags.String("block-size", "512B", "storage block size (512B or 4KiB)")
	persistentFlags.Duration("io-timeout", procio.DefaultTimeout, "per-operation deadline for the dd backend")
	persistentFlags.String("dd-tool", "", "dd binary override for the dd backend")
	persistentFlags.String("log-level", "", "log level (trace, debug, info, warn, error)")

	viper.SetEnvPrefix("LEASEVOL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	persistentFlags.VisitAll(func(flag *pflag.Flag) {
		if err := viper.BindPFlag(flag.Name, flag); err != nil {
			panic(err)
		}
	})

	cmd.AddCommand(newFormatCommand(baseLogger))
	cmd.AddCommand(newRebuildCommand(baseLogger))
	cmd.AddCommand(newAddCommand(baseLogger))
	cmd.AddCommand(newRemoveCommand(baseLogger))
	cmd.AddCommand(newLookupCommand(baseLogger))
	cmd.AddCommand(newListCommand(baseLogger))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindVolumeOptions() (volumeOptions, error) {
	opts := volumeOptions{
		Path:      strings.TrimSpace(viper.GetString("volume")),
		Backend:   strings.ToLower(strings.TrimSpace(viper.GetString("backend"))),
		Direct:    viper.GetBool("direct"),
		IOTimeout: viper.GetDuration("io-timeout"),
		DDTool:    strings.TrimSpace(viper.GetString("dd-tool")),
	}
	if opts.Path == "" {
		return volumeOptions{}, fmt.Errorf("volume required (use --volume or LEASEVOL_VOLUME)")
	}
	if alignment := viper.GetString("alignment"); alignment != "" {
		size, err := humanize.ParseBytes(alignment)
		if err != nil {
			return volumeOptions{}, fmt.Errorf("parse alignment: %w", err)
		}
		opts.Config.Alignment = int64(size)
	}
	if blockSize := viper.GetString("block-size"); blockSize != "" {
		size, err := humanize.ParseBytes(blockSize)
		if err != nil {
			return volumeOptions{}, fmt.Errorf("parse block-size: %w", err)
		}
		opts.Config.BlockSize = int64(size)
	}
	if err := opts.Config.Validate(); err != nil {
		return volumeOptions{}, err
	}
	return opts, nil
}

// openBackend opens the configured I/O backend. The caller owns the close.
func openBackend(opts volumeOptions) (storage.Backend, error) {
	switch opts.Backend {
	case "direct", "":
		return directio.Open(directio.Config{
			Path:       opts.Path,
			SectorSize: opts.Config.BlockSize,
			Direct:     opts.Direct,
		})
	case "dd", "proc":
		return procio.New(procio.Config{
			Path:    opts.Path,
			Timeout: opts.IOTimeout,
			Direct:  opts.Direct,
			Tool:    opts.DDTool,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q (want direct or dd)", opts.Backend)
	}
}

func openStore(backend storage.Backend, opts volumeOptions) (lockres.Store, error) {
	return lockres.NewSectorStore(backend, opts.Config.BlockSize)
}

// opContext tags the context with a per-invocation logger so library log lines
// from one CLI run can be correlated.
func opContext(ctx context.Context, baseLogger pslog.Logger, op string) context.Context {
	logger := baseLogger.With("op", op, "op_id", xid.New().String())
	if level, ok := pslog.ParseLevel(strings.TrimSpace(viper.GetString("log-level"))); ok {
		logger = logger.LogLevel(level)
	}
	return pslog.ContextWithLogger(ctx, logger)
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
