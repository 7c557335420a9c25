package lockres

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"pkt.systems/leasevol/internal/indexfmt"
	"pkt.systems/leasevol/internal/loggingutil"
	"pkt.systems/leasevol/internal/storage"
)

// headerMagic identifies a resource header sector.
const headerMagic uint32 = 0x524c5631

// Header sector layout: magic u32 BE, reserved u32, version u64 BE,
// lockspace 48s, resource 48s, zero pad to one sector.
const (
	headerVersionOff   = 8
	headerLockspaceOff = 16
	headerResourceOff  = 64
	headerMinSize      = 112
)

// SectorStore implements Store by keeping one resource header sector per
// lease slot on the volume itself. It stands in for a lock-manager daemon
// adapter; anything satisfying Store can replace it.
type SectorStore struct {
	backend storage.Backend
	sector  int64
}

var _ Store = (*SectorStore)(nil)

// NewSectorStore returns a resource store writing sector-sized headers
// through backend.
func NewSectorStore(backend storage.Backend, sector int64) (*SectorStore, error) {
	if backend == nil {
		return nil, fmt.Errorf("lockres: backend required")
	}
	if sector < headerMinSize {
		return nil, fmt.Errorf("lockres: sector size %d too small", sector)
	}
	return &SectorStore{backend: backend, sector: sector}, nil
}

// WriteResource implements Store. The resource version increments on every
// rewrite of a live header and restarts at 1 for a fresh slot.
func (s *SectorStore) WriteResource(ctx context.Context, lockspace, resource string, disk Disk) error {
	if err := s.checkDisk(disk.Path); err != nil {
		return err
	}
	if resource != "" {
		if err := indexfmt.ValidateName("lockspace", lockspace); err != nil {
			return fmt.Errorf("lockres: %w", err)
		}
		if err := indexfmt.ValidateName("resource", resource); err != nil {
			return fmt.Errorf("lockres: %w", err)
		}
	}
	version := uint64(1)
	if prev, err := s.ReadResource(ctx, disk.Path, disk.Offset); err == nil {
		version = prev.Version + 1
	} else if err != ErrNoSuchResource {
		return err
	}
	buf := make([]byte, s.sector)
	binary.BigEndian.PutUint32(buf[0:4], headerMagic)
	binary.BigEndian.PutUint64(buf[headerVersionOff:headerVersionOff+8], version)
	copy(buf[headerLockspaceOff:headerLockspaceOff+indexfmt.MaxResourceName], lockspace)
	copy(buf[headerResourceOff:headerResourceOff+indexfmt.MaxResourceName], resource)
	if _, err := s.backend.WriteAt(buf, disk.Offset); err != nil {
		return fmt.Errorf("lockres: write resource %q at %d: %w", resource, disk.Offset, err)
	}
	loggingutil.ContextLogger(ctx).Debug("lockres.write_resource",
		"lockspace", lockspace, "resource", resource, "offset", disk.Offset, "version", version)
	return nil
}

// ReadResource implements Store.
func (s *SectorStore) ReadResource(ctx context.Context, path string, offset int64) (Info, error) {
	if err := s.checkDisk(path); err != nil {
		return Info{}, err
	}
	buf := make([]byte, s.sector)
	n, err := s.backend.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return Info{}, fmt.Errorf("lockres: read resource at %d: %w", offset, err)
	}
	if int64(n) < s.sector {
		return Info{}, ErrNoSuchResource
	}
	if binary.BigEndian.Uint32(buf[0:4]) != headerMagic {
		return Info{}, ErrNoSuchResource
	}
	return Info{
		Lockspace: trimField(buf[headerLockspaceOff : headerLockspaceOff+indexfmt.MaxResourceName]),
		Resource:  trimField(buf[headerResourceOff : headerResourceOff+indexfmt.MaxResourceName]),
		Version:   binary.BigEndian.Uint64(buf[headerVersionOff : headerVersionOff+8]),
	}, nil
}

func (s *SectorStore) checkDisk(path string) error {
	if path != s.backend.Name() {
		return fmt.Errorf("lockres: disk %q does not match volume %q", path, s.backend.Name())
	}
	return nil
}

func trimField(field []byte) string {
	end := len(field)
	for end > 0 && field[end-1] == 0 {
		end--
	}
	return string(field[:end])
}
