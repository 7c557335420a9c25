package volindex

import (
	"fmt"

	"pkt.systems/leasevol/internal/indexfmt"
	"pkt.systems/leasevol/internal/storage"
)

// ChangeBlock is a copy of the one storage block containing a record, used to
// make a single-record update atomic: mutate the copy, write it to storage as
// exactly one block, and only then mutate the long-lived buffer. A crash
// mid-update leaves storage with either the old or the new record, never a
// mixture, and the in-memory index is never ahead of storage.
type ChangeBlock struct {
	geo      Geometry
	blockNum int64
	buf      []byte
}

// ChangeBlockFor returns a ChangeBlock holding a copy of the index block that
// contains record recnum.
func (x *VolumeIndex) ChangeBlockFor(recnum int) (*ChangeBlock, error) {
	off, err := recordOffset(recnum)
	if err != nil {
		return nil, err
	}
	blockNum := int64(off) / x.geo.BlockSize
	start := blockNum * x.geo.BlockSize
	buf := make([]byte, x.geo.BlockSize)
	copy(buf, x.buf[start:start+x.geo.BlockSize])
	return &ChangeBlock{geo: x.geo, blockNum: blockNum, buf: buf}, nil
}

// WriteRecord encodes rec into the copy. The record must live entirely inside
// this block.
func (b *ChangeBlock) WriteRecord(recnum int, rec indexfmt.Record) error {
	off, err := recordOffset(recnum)
	if err != nil {
		return err
	}
	start := b.blockNum * b.geo.BlockSize
	local := int64(off) - start
	if local < 0 || local+indexfmt.RecordSize > b.geo.BlockSize {
		return fmt.Errorf("record %d not contained in block %d", recnum, b.blockNum)
	}
	copy(b.buf[local:], rec.Encode())
	return nil
}

// Commit writes the block to storage as one block-aligned, block-sized write.
func (b *ChangeBlock) Commit(backend storage.Backend) error {
	off := b.geo.IndexBase() + b.blockNum*b.geo.BlockSize
	if _, err := backend.WriteAt(b.buf, off); err != nil {
		return fmt.Errorf("commit index block %d: %w", b.blockNum, err)
	}
	return nil
}
