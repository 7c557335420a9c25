// Package lockres adapts the external lock manager's resource store. The
// lease index only consumes three primitives: write a named resource at a
// byte offset, read back whatever resource lives at an offset, and clear an
// offset. Clearing is expressed as writing the empty lockspace/resource pair
// because the lock manager has no delete primitive.
package lockres

import (
	"context"
	"errors"
)

// ErrNoSuchResource indicates the storage at the offset has never held a
// valid resource header. It is distinct from transport failures, which
// propagate unmodified.
var ErrNoSuchResource = errors.New("lockres: no such resource")

// Disk identifies one resource slot: the volume path and the byte offset of
// the slot on it.
type Disk struct {
	Path   string
	Offset int64
}

// Info is the resource header as read back from storage.
type Info struct {
	Lockspace string
	Resource  string
	Version   uint64
}

// Store is the consumed lock-manager surface.
type Store interface {
	// WriteResource registers resource under lockspace at the disk slot.
	WriteResource(ctx context.Context, lockspace, resource string, disk Disk) error
	// ReadResource returns the resource header at offset on the volume at
	// path, or ErrNoSuchResource when none was ever written there.
	ReadResource(ctx context.Context, path string, offset int64) (Info, error)
}

// Clear releases the resource slot by writing the empty pair over it.
func Clear(ctx context.Context, store Store, path string, offset int64) error {
	return store.WriteResource(ctx, "", "", Disk{Path: path, Offset: offset})
}
