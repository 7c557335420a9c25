package leasevol

import (
	"errors"
	"fmt"

	"pkt.systems/leasevol/internal/indexfmt"
	"pkt.systems/leasevol/internal/volindex"
)

// Expected business outcomes of Add, Remove and Lookup. Always surfaced,
// never retried internally.
var (
	ErrLeaseExists = errors.New("lease already exists")
	ErrNoSuchLease = errors.New("no such lease")
	ErrNoSpace     = errors.New("no free record in lease index")
)

// Structural corruption errors, re-exported so callers can match them with
// errors.As.
type (
	// InvalidRecordError reports a lease record that cannot be decoded.
	InvalidRecordError = indexfmt.InvalidRecordError
	// InvalidMetadataError reports an index metadata block that cannot be
	// decoded.
	InvalidMetadataError = indexfmt.InvalidMetadataError
	// TruncatedIndexError reports a volume too small for the index region.
	TruncatedIndexError = volindex.TruncatedIndexError
)

// IndexUpdatingError is returned by Open when the on-storage metadata still
// carries the updating flag: a prior multi-step operation was interrupted and
// RebuildIndex must run before the index is usable again.
type IndexUpdatingError struct {
	Lockspace string
	MTime     int64
}

func (e *IndexUpdatingError) Error() string {
	return fmt.Sprintf("lease index of lockspace %q is marked updating (mtime %d): rebuild required", e.Lockspace, e.MTime)
}
