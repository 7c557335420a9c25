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
)

// LeaseInfo locates one lease: the resource registered with the lock manager
// and the slot it occupies on the volume.
type LeaseInfo struct {
	Lockspace string
	Resource  string
	Path      string
	Offset    int64
}

// LeaseStatus is one row of a full index enumeration, ordered by record
// number.
type LeaseStatus struct {
	Resource string
	Offset   int64
	Updating bool
}

// LeasesVolume is the open lease index on one volume. A LeasesVolume is not
// safe for concurrent use; callers needing concurrency serialize externally.
// Mutating operations must only run on the cluster's single coordinator.
type LeasesVolume struct {
	cfg       Config
	backend   storage.Backend
	store     lockres.Store
	index     *volindex.VolumeIndex
	lockspace string
	metrics   *indexMetrics
}

// Open loads and validates the index on backend. The lockspace is taken from
// the on-storage metadata. Fails with *IndexUpdatingError when a prior
// multi-step operation was interrupted; run RebuildIndex, then reopen.
// The backend's and store's lifetimes stay with the caller.
func Open(ctx context.Context, cfg Config, backend storage.Backend, store lockres.Store) (*LeasesVolume, error) {
	cfg = cfg.withDefaults()
	logger := loggingutil.ContextLogger(ctx).With("volume", backend.Name())

	index, err := volindex.New(cfg.geometry(), clock.Real{})
	if err != nil {
		return nil, err
	}
	if err := index.Load(backend); err != nil {
		return nil, err
	}
	md, err := index.ReadMetadata()
	if err != nil {
		return nil, err
	}
	if md.Updating {
		return nil, &IndexUpdatingError{Lockspace: md.Lockspace, MTime: md.MTime}
	}
	logger.Debug("volume.open", "lockspace", md.Lockspace, "mtime", md.MTime)
	return &LeasesVolume{
		cfg:       cfg,
		backend:   backend,
		store:     store,
		index:     index,
		lockspace: md.Lockspace,
		metrics:   indexMetricsFor(logger),
	}, nil
}

// Lockspace returns the lockspace name recorded in the index metadata.
func (v *LeasesVolume) Lockspace() string { return v.lockspace }

// Path returns the diagnostic identifier of the backing volume.
func (v *LeasesVolume) Path() string { return v.backend.Name() }

// Lookup returns the lease named leaseID. A record marked updating is
// treated as absent; a structurally corrupt record fails the call.
func (v *LeasesVolume) Lookup(ctx context.Context, leaseID string) (info LeaseInfo, err error) {
	start := time.Now()
	defer func() { v.metrics.observeOp(ctx, "lookup", start, err) }()

	recnum, ok := v.index.FindRecord(leaseID)
	if !ok {
		return LeaseInfo{}, fmt.Errorf("lookup %q: %w", leaseID, ErrNoSuchLease)
	}
	rec, err := v.index.ReadRecord(recnum)
	if err != nil {
		return LeaseInfo{}, err
	}
	if rec.Updating {
		return LeaseInfo{}, fmt.Errorf("lookup %q: record %d is updating: %w", leaseID, recnum, ErrNoSuchLease)
	}
	return v.leaseInfo(leaseID, rec.Offset), nil
}

// Add allocates a slot for leaseID, registers the lock resource, and commits
// the record. The resource is written before the index record: a crash
// between the two leaves an orphan resource that RebuildIndex adopts or
// clears, and never a record pointing at a missing resource.
func (v *LeasesVolume) Add(ctx context.Context, leaseID string) (info LeaseInfo, err error) {
	start := time.Now()
	defer func() { v.metrics.observeOp(ctx, "add", start, err) }()
	logger := loggingutil.ContextLogger(ctx).With("volume", v.backend.Name(), "lease", leaseID)

	if err := indexfmt.ValidateName("lease", leaseID); err != nil {
		return LeaseInfo{}, err
	}
	recnum, ok := v.index.FindRecord(leaseID)
	if ok {
		rec, err := v.index.ReadRecord(recnum)
		if err != nil {
			return LeaseInfo{}, err
		}
		if !rec.Updating {
			return LeaseInfo{}, fmt.Errorf("add %q: %w", leaseID, ErrLeaseExists)
		}
		// Stale record from an interrupted write; reuse its slot.
		logger.Debug("volume.add.reuse_stale_record", "recnum", recnum)
	} else {
		recnum, ok = v.index.FindFreeRecord()
		if !ok {
			return LeaseInfo{}, fmt.Errorf("add %q: %w", leaseID, ErrNoSpace)
		}
	}
	offset := v.cfg.geometry().LeaseOffset(recnum)

	// Resource first. If this fails the index is untouched and the add can
	// simply be retried.
	disk := lockres.Disk{Path: v.backend.Name(), Offset: offset}
	if err := v.store.WriteResource(ctx, v.lockspace, leaseID, disk); err != nil {
		return LeaseInfo{}, fmt.Errorf("add %q: write resource: %w", leaseID, err)
	}

	rec := indexfmt.Record{Resource: leaseID, Offset: offset}
	if err := v.commitRecord(recnum, rec); err != nil {
		return LeaseInfo{}, fmt.Errorf("add %q: %w", leaseID, err)
	}
	logger.Info("volume.add", "recnum", recnum, "offset", offset)
	return v.leaseInfo(leaseID, offset), nil
}

// Remove deletes the lease record, then clears the lock resource. The record
// goes first: once it is cleared the lease is gone no matter what happens to
// the resource, which a later rebuild or slot reuse reclaims. A failure to
// clear the resource is logged and swallowed.
func (v *LeasesVolume) Remove(ctx context.Context, leaseID string) (err error) {
	start := time.Now()
	defer func() { v.metrics.observeOp(ctx, "remove", start, err) }()
	logger := loggingutil.ContextLogger(ctx).With("volume", v.backend.Name(), "lease", leaseID)

	recnum, ok := v.index.FindRecord(leaseID)
	if !ok {
		return fmt.Errorf("remove %q: %w", leaseID, ErrNoSuchLease)
	}
	if err := v.commitRecord(recnum, indexfmt.Record{}); err != nil {
		return fmt.Errorf("remove %q: %w", leaseID, err)
	}
	offset := v.cfg.geometry().LeaseOffset(recnum)
	if err := lockres.Clear(ctx, v.store, v.backend.Name(), offset); err != nil {
		logger.Warn("volume.remove.clear_resource_error", "offset", offset, "error", err)
	}
	logger.Info("volume.remove", "recnum", recnum, "offset", offset)
	return nil
}

// Leases enumerates every allocated record in index order. Corrupt records
// are logged and skipped; this is a diagnostic dump, partial results beat
// failing the whole call.
func (v *LeasesVolume) Leases(ctx context.Context) ([]LeaseStatus, error) {
	start := time.Now()
	defer func() { v.metrics.observeOp(ctx, "leases", start, nil) }()
	logger := loggingutil.ContextLogger(ctx).With("volume", v.backend.Name())

	var out []LeaseStatus
	for recnum := 0; recnum < indexfmt.MaxRecords; recnum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := v.index.ReadRecord(recnum)
		if err != nil {
			var invErr *InvalidRecordError
			if errors.As(err, &invErr) {
				logger.Warn("volume.leases.skip_corrupt_record", "recnum", recnum, "reason", invErr.Reason)
				continue
			}
			return nil, err
		}
		if rec.Resource == "" {
			continue
		}
		out = append(out, LeaseStatus{Resource: rec.Resource, Offset: rec.Offset, Updating: rec.Updating})
	}
	return out, nil
}

// Close releases the in-memory index buffer. The backend stays open; its
// lifetime is owned by the caller.
func (v *LeasesVolume) Close() {
	if v.index != nil {
		v.index.Close()
		v.index = nil
	}
}

// commitRecord writes rec through a ChangeBlock to storage, then mutates the
// in-memory index. The in-memory state is never ahead of storage.
func (v *LeasesVolume) commitRecord(recnum int, rec indexfmt.Record) error {
	cb, err := v.index.ChangeBlockFor(recnum)
	if err != nil {
		return err
	}
	if err := cb.WriteRecord(recnum, rec); err != nil {
		return err
	}
	if err := cb.Commit(v.backend); err != nil {
		return err
	}
	return v.index.WriteRecord(recnum, rec)
}

func (v *LeasesVolume) leaseInfo(leaseID string, offset int64) LeaseInfo {
	return LeaseInfo{
		Lockspace: v.lockspace,
		Resource:  leaseID,
		Path:      v.backend.Name(),
		Offset:    offset,
	}
}
