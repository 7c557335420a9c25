// Package volindex holds the in-memory mirror of the on-storage index region
// and the primitives for mutating it safely: whole-region load/dump, record
// and metadata accessors, the single-block ChangeBlock write path, and the
// updating bracket that marks multi-step mutations on storage.
package volindex

import (
	"bytes"
	"fmt"
	"io"

	"pkt.systems/leasevol/internal/clock"
	"pkt.systems/leasevol/internal/indexfmt"
	"pkt.systems/leasevol/internal/storage"
)

// Geometry fixes the volume layout parameters for one index.
type Geometry struct {
	// Alignment is the stride between lease slots.
	Alignment int64
	// BlockSize is the unit of atomic storage writes.
	BlockSize int64
}

// Validate checks the geometry for internal consistency.
func (g Geometry) Validate() error {
	if g.BlockSize < indexfmt.DefaultBlockSize || g.BlockSize > indexfmt.MaxBlockSize {
		return fmt.Errorf("volindex: block size %d outside [%d, %d]", g.BlockSize, indexfmt.DefaultBlockSize, indexfmt.MaxBlockSize)
	}
	if g.BlockSize&(g.BlockSize-1) != 0 {
		return fmt.Errorf("volindex: block size %d not a power of two", g.BlockSize)
	}
	if g.Alignment <= 0 || g.Alignment%g.BlockSize != 0 {
		return fmt.Errorf("volindex: alignment %d not a multiple of block size %d", g.Alignment, g.BlockSize)
	}
	if g.Alignment < indexfmt.IndexSize {
		return fmt.Errorf("volindex: alignment %d smaller than the index region (%d)", g.Alignment, indexfmt.IndexSize)
	}
	if indexfmt.IndexSize%g.BlockSize != 0 {
		return fmt.Errorf("volindex: index region not a whole number of %d-byte blocks", g.BlockSize)
	}
	return nil
}

// IndexBase returns the byte offset of the index region on the volume.
func (g Geometry) IndexBase() int64 {
	return indexfmt.IndexBase(g.Alignment)
}

// LeaseOffset returns the storage offset of the lease held by record recnum.
func (g Geometry) LeaseOffset(recnum int) int64 {
	return indexfmt.LeaseOffset(recnum, g.Alignment)
}

// TruncatedIndexError reports a volume too small to hold the index region.
type TruncatedIndexError struct {
	Expected  int64
	Available int64
}

func (e *TruncatedIndexError) Error() string {
	return fmt.Sprintf("truncated index: expected %d bytes, only %d available", e.Expected, e.Available)
}

// VolumeIndex is an owned, fixed-size buffer mirroring the on-storage index
// region. Accessors are bounds checked; nothing here touches storage except
// Load, Dump and the updating bracket.
type VolumeIndex struct {
	geo Geometry
	clk clock.Clock
	buf []byte
}

// New allocates an index buffer for the supplied geometry.
func New(geo Geometry, clk clock.Clock) (*VolumeIndex, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &VolumeIndex{geo: geo, clk: clk, buf: make([]byte, indexfmt.IndexSize)}, nil
}

// Geometry returns the layout the index was created with.
func (x *VolumeIndex) Geometry() Geometry { return x.geo }

// Close releases the buffer. The index must not be used afterwards.
func (x *VolumeIndex) Close() { x.buf = nil }

// Load reads the entire index region from the backend into the buffer.
func (x *VolumeIndex) Load(backend storage.Backend) error {
	n, err := backend.ReadAt(x.buf, x.geo.IndexBase())
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("load index: %w", err)
	}
	if n < len(x.buf) {
		return &TruncatedIndexError{Expected: int64(len(x.buf)), Available: int64(n)}
	}
	return nil
}

// Dump writes the entire buffer to the backend. The write is not atomic; a
// failure can leave a partially written index, which is why record-level
// mutations go through ChangeBlock instead.
func (x *VolumeIndex) Dump(backend storage.Backend) error {
	if _, err := backend.WriteAt(x.buf, x.geo.IndexBase()); err != nil {
		return fmt.Errorf("dump index: %w", err)
	}
	return nil
}

// ReadRecord decodes record recnum from the buffer.
func (x *VolumeIndex) ReadRecord(recnum int) (indexfmt.Record, error) {
	off, err := recordOffset(recnum)
	if err != nil {
		return indexfmt.Record{}, err
	}
	return indexfmt.DecodeRecord(x.buf[off : off+indexfmt.RecordSize])
}

// WriteRecord encodes rec into the buffer. The buffer only; callers must
// write through to storage first (see ChangeBlock).
func (x *VolumeIndex) WriteRecord(recnum int, rec indexfmt.Record) error {
	off, err := recordOffset(recnum)
	if err != nil {
		return err
	}
	copy(x.buf[off:], rec.Encode())
	return nil
}

// ReadMetadata decodes the metadata block from the buffer.
func (x *VolumeIndex) ReadMetadata() (indexfmt.IndexMetadata, error) {
	return indexfmt.DecodeMetadata(x.buf[:indexfmt.MetadataSize])
}

// WriteMetadata encodes md into the buffer.
func (x *VolumeIndex) WriteMetadata(md indexfmt.IndexMetadata) {
	copy(x.buf, md.Encode())
}

// FindRecord scans the record area for an exact match on the resource name
// field and returns its record number. Linear; the index is small and none
// of this is a hot path.
func (x *VolumeIndex) FindRecord(resource string) (int, bool) {
	if resource == "" || len(resource) > indexfmt.MaxResourceName {
		return 0, false
	}
	field := make([]byte, indexfmt.MaxResourceName)
	copy(field, resource)
	for recnum := 0; recnum < indexfmt.MaxRecords; recnum++ {
		off := indexfmt.MetadataSize + recnum*indexfmt.RecordSize
		if bytes.Equal(x.buf[off:off+indexfmt.MaxResourceName], field) {
			return recnum, true
		}
	}
	return 0, false
}

// FindFreeRecord returns the first record slot whose bytes equal the
// canonical empty encoding.
func (x *VolumeIndex) FindFreeRecord() (int, bool) {
	empty := indexfmt.EmptyRecord()
	for recnum := 0; recnum < indexfmt.MaxRecords; recnum++ {
		off := indexfmt.MetadataSize + recnum*indexfmt.RecordSize
		if bytes.Equal(x.buf[off:off+indexfmt.RecordSize], empty) {
			return recnum, true
		}
	}
	return 0, false
}

// WithUpdating brackets a multi-step index mutation. On entry the metadata is
// written with the updating flag set, both to the buffer and to the first
// storage block. When fn returns nil the flag is cleared the same way. When
// fn fails the flag is left set on storage: the index is then unusable until
// repaired by a rebuild, which is the documented recovery path.
func (x *VolumeIndex) WithUpdating(backend storage.Backend, lockspace string, fn func() error) error {
	md := indexfmt.IndexMetadata{
		Version:   indexfmt.FormatVersion,
		Lockspace: lockspace,
		MTime:     x.clk.Now().Unix(),
		Updating:  true,
	}
	x.WriteMetadata(md)
	if err := x.writeFirstBlock(backend); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	md.Updating = false
	md.MTime = x.clk.Now().Unix()
	x.WriteMetadata(md)
	return x.writeFirstBlock(backend)
}

func (x *VolumeIndex) writeFirstBlock(backend storage.Backend) error {
	if _, err := backend.WriteAt(x.buf[:x.geo.BlockSize], x.geo.IndexBase()); err != nil {
		return fmt.Errorf("write index metadata block: %w", err)
	}
	return nil
}

func recordOffset(recnum int) (int, error) {
	if recnum < 0 || recnum >= indexfmt.MaxRecords {
		return 0, fmt.Errorf("record number %d out of range [0, %d)", recnum, indexfmt.MaxRecords)
	}
	return indexfmt.MetadataSize + recnum*indexfmt.RecordSize, nil
}
