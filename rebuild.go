package leasevol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pkt.systems/leasevol/internal/clock"
	"pkt.systems/leasevol/internal/indexfmt"
	"pkt.systems/leasevol/internal/lockres"
	"pkt.systems/leasevol/internal/loggingutil"
	"pkt.systems/leasevol/internal/storage"
	"pkt.systems/leasevol/internal/volindex"
	"pkt.systems/pslog"
)

// recordState classifies one index slot for reconciliation.
type recordState int

const (
	recordValid recordState = iota
	recordEmpty
	recordCorrupt
)

// RebuildIndex reconciles the index on backend against the lock manager's
// resource store. Run it after Open fails with *IndexUpdatingError or when
// corruption is suspected. The index is the source of truth and resources
// are advisory: valid records win over whatever sits at their offset, orphan
// resources are adopted into corrupt slots when their name is unclaimed and
// cleared otherwise. The whole pass runs inside an updating bracket and is
// idempotent.
//
// Metadata must still be structurally readable; an unreadable metadata block
// cannot be repaired automatically and fails the call with
// *InvalidMetadataError.
func RebuildIndex(ctx context.Context, lockspace string, backend storage.Backend, store lockres.Store, cfg Config) (err error) {
	start := time.Now()
	cfg = cfg.withDefaults()
	logger := loggingutil.ContextLogger(ctx).With("volume", backend.Name(), "lockspace", lockspace)
	metrics := indexMetricsFor(logger)
	defer func() { metrics.observeOp(ctx, "rebuild", start, err) }()

	if err := indexfmt.ValidateName("lockspace", lockspace); err != nil {
		return err
	}
	geo := cfg.geometry()
	index, err := volindex.New(geo, clock.Real{})
	if err != nil {
		return err
	}
	defer index.Close()
	if err := index.Load(backend); err != nil {
		return err
	}
	if _, err := index.ReadMetadata(); err != nil {
		return err
	}
	volumeSize, err := backend.Size()
	if err != nil {
		return fmt.Errorf("rebuild: volume size: %w", err)
	}
	slots := indexfmt.MaxLeases(volumeSize, geo.Alignment)
	logger.Info("volume.rebuild.begin", "slots", slots, "volume_size", volumeSize)

	// Resource names claimed by valid records. An orphan resource may only
	// be adopted under a name no valid record already holds.
	claimed := make(map[string]int)
	for recnum := 0; recnum < slots; recnum++ {
		rec, err := index.ReadRecord(recnum)
		if err == nil && rec.Resource != "" && !rec.Updating && rec.Offset == geo.LeaseOffset(recnum) {
			claimed[rec.Resource] = recnum
		}
	}

	err = index.WithUpdating(backend, lockspace, func() error {
		empty := indexfmt.Record{}
		for recnum := 0; recnum < indexfmt.MaxRecords; recnum++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if recnum >= slots {
				// Beyond the volume's addressable range.
				if err := index.WriteRecord(recnum, empty); err != nil {
					return err
				}
				continue
			}
			if err := reconcileSlot(ctx, logger, metrics, index, store, backend.Name(), lockspace, geo, claimed, recnum); err != nil {
				return err
			}
		}
		return index.Dump(backend)
	})
	if err != nil {
		return err
	}
	logger.Info("volume.rebuild.done", "elapsed", time.Since(start))
	return nil
}

func reconcileSlot(
	ctx context.Context,
	logger pslog.Logger,
	metrics *indexMetrics,
	index *volindex.VolumeIndex,
	store lockres.Store,
	path, lockspace string,
	geo volindex.Geometry,
	claimed map[string]int,
	recnum int,
) error {
	offset := geo.LeaseOffset(recnum)
	empty := indexfmt.Record{}

	rec, recErr := index.ReadRecord(recnum)
	state := classifyRecord(rec, recErr, offset)

	res, resErr := store.ReadResource(ctx, path, offset)
	resMissing := errors.Is(resErr, lockres.ErrNoSuchResource) || (resErr == nil && res.Resource == "")
	if resErr != nil && !resMissing {
		return fmt.Errorf("rebuild: read resource at %d: %w", offset, resErr)
	}

	switch {
	case state == recordValid && !resMissing && res.Resource == rec.Resource && res.Lockspace == lockspace:
		// Record and resource agree.
		return nil

	case state == recordValid && resMissing:
		if err := store.WriteResource(ctx, lockspace, rec.Resource, lockres.Disk{Path: path, Offset: offset}); err != nil {
			return fmt.Errorf("rebuild: recreate resource %q at %d: %w", rec.Resource, offset, err)
		}
		logger.Info("volume.rebuild.recreate_resource", "recnum", recnum, "resource", rec.Resource)
		metrics.observeRepair(ctx, "recreate_resource")
		return nil

	case state == recordValid:
		// Resource present but wrong; the record wins.
		if err := store.WriteResource(ctx, lockspace, rec.Resource, lockres.Disk{Path: path, Offset: offset}); err != nil {
			return fmt.Errorf("rebuild: overwrite resource at %d: %w", offset, err)
		}
		logger.Info("volume.rebuild.overwrite_resource",
			"recnum", recnum, "resource", rec.Resource, "found", res.Resource)
		metrics.observeRepair(ctx, "overwrite_resource")
		return nil

	case state == recordEmpty && !resMissing:
		if err := lockres.Clear(ctx, store, path, offset); err != nil {
			return fmt.Errorf("rebuild: clear leftover resource at %d: %w", offset, err)
		}
		logger.Info("volume.rebuild.clear_leftover_resource", "recnum", recnum, "resource", res.Resource)
		metrics.observeRepair(ctx, "clear_resource")
		return nil

	case state == recordEmpty:
		return nil

	case !resMissing && res.Lockspace == lockspace && unclaimedName(claimed, res.Resource, recnum):
		// Corrupt slot, orphan resource with an unclaimed name: adopt it.
		adopted := indexfmt.Record{Resource: res.Resource, Offset: offset}
		if err := index.WriteRecord(recnum, adopted); err != nil {
			return err
		}
		claimed[res.Resource] = recnum
		logger.Info("volume.rebuild.adopt_resource", "recnum", recnum, "resource", res.Resource)
		metrics.observeRepair(ctx, "adopt_resource")
		return nil

	case !resMissing:
		// Corrupt slot, resource name already claimed elsewhere (or foreign
		// lockspace): both are leftovers.
		if err := index.WriteRecord(recnum, empty); err != nil {
			return err
		}
		if err := lockres.Clear(ctx, store, path, offset); err != nil {
			return fmt.Errorf("rebuild: clear duplicate resource at %d: %w", offset, err)
		}
		logger.Info("volume.rebuild.clear_duplicate", "recnum", recnum, "resource", res.Resource)
		metrics.observeRepair(ctx, "clear_duplicate")
		return nil

	default:
		// Corrupt slot, no resource: unrecoverable, free the slot.
		if err := index.WriteRecord(recnum, empty); err != nil {
			return err
		}
		logger.Info("volume.rebuild.clear_corrupt_record", "recnum", recnum)
		metrics.observeRepair(ctx, "clear_record")
		return nil
	}
}

// classifyRecord maps a slot to the reconciliation table's record axis. A
// record marked updating carries no trustworthy value, and a stored offset
// that disagrees with the slot's derived offset violates the placement
// invariant; both count as corrupt.
func classifyRecord(rec indexfmt.Record, err error, derivedOffset int64) recordState {
	if err != nil {
		return recordCorrupt
	}
	if rec.Resource == "" {
		if rec.Offset == 0 && !rec.Updating {
			return recordEmpty
		}
		return recordCorrupt
	}
	if rec.Updating || rec.Offset != derivedOffset {
		return recordCorrupt
	}
	return recordValid
}

func unclaimedName(claimed map[string]int, resource string, recnum int) bool {
	owner, ok := claimed[resource]
	return !ok || owner == recnum
}
