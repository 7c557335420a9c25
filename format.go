package leasevol

import (
	"context"
	"time"

	"pkt.systems/leasevol/internal/clock"
	"pkt.systems/leasevol/internal/indexfmt"
	"pkt.systems/leasevol/internal/loggingutil"
	"pkt.systems/leasevol/internal/storage"
	"pkt.systems/leasevol/internal/volindex"
)

// FormatOptions tunes FormatIndex.
type FormatOptions struct {
	// MaxRecords caps how many record slots are initialized; 0 means all.
	// Slots past the cap stay unformatted and are never handed out.
	MaxRecords int
}

// FormatIndex destroys all existing records and initializes a fresh index for
// lockspace on backend. Only for brand-new volumes or a deliberate wipe:
// callers must be certain no lease is still referenced by live cluster
// state.
func FormatIndex(ctx context.Context, lockspace string, backend storage.Backend, cfg Config, opts FormatOptions) error {
	start := time.Now()
	cfg = cfg.withDefaults()
	logger := loggingutil.ContextLogger(ctx).With("volume", backend.Name(), "lockspace", lockspace)
	metrics := indexMetricsFor(logger)

	if err := indexfmt.ValidateName("lockspace", lockspace); err != nil {
		metrics.observeOp(ctx, "format", start, err)
		return err
	}
	max := opts.MaxRecords
	if max <= 0 || max > indexfmt.MaxRecords {
		max = indexfmt.MaxRecords
	}
	index, err := volindex.New(cfg.geometry(), clock.Real{})
	if err != nil {
		metrics.observeOp(ctx, "format", start, err)
		return err
	}
	defer index.Close()

	err = index.WithUpdating(backend, lockspace, func() error {
		empty := indexfmt.Record{}
		for recnum := 0; recnum < max; recnum++ {
			if err := index.WriteRecord(recnum, empty); err != nil {
				return err
			}
		}
		return index.Dump(backend)
	})
	metrics.observeOp(ctx, "format", start, err)
	if err != nil {
		return err
	}
	logger.Info("volume.format", "records", max, "elapsed", time.Since(start))
	return nil
}
