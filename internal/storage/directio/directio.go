// Package directio implements the storage backend for raw block devices and
// regular files. Block devices are accessed with O_DIRECT so reads and writes
// bypass the page cache of the local host; the index on a shared volume must
// never be served from a stale cache.
package directio

import (
	"fmt"
	"os"
	"unsafe"

	"pkt.systems/leasevol/internal/storage"
)

// Config captures the tunables for the device backend.
type Config struct {
	// Path is the block device or file backing the lease volume.
	Path string
	// SectorSize is the alignment unit for direct I/O; defaults to 512.
	SectorSize int64
	// Direct forces O_DIRECT even for regular files. Block devices always
	// use direct I/O.
	Direct bool
}

// Device implements storage.Backend over an *os.File.
type Device struct {
	file   *os.File
	path   string
	sector int64
	direct bool
	block  bool
}

var _ storage.Backend = (*Device)(nil)

// Open opens the volume at cfg.Path for synchronous positioned I/O.
func Open(cfg Config) (*Device, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("directio: path required")
	}
	sector := cfg.SectorSize
	if sector == 0 {
		sector = 512
	}
	if sector < 512 || sector%512 != 0 {
		return nil, fmt.Errorf("directio: invalid sector size %d", sector)
	}
	fi, err := os.Stat(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("directio: stat %q: %w", cfg.Path, err)
	}
	isBlock := fi.Mode()&os.ModeDevice != 0 && fi.Mode()&os.ModeCharDevice == 0
	direct := cfg.Direct || isBlock
	flags := os.O_RDWR
	if direct {
		flags |= directFlag
	} else {
		flags |= os.O_SYNC
	}
	file, err := os.OpenFile(cfg.Path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("directio: open %q: %w", cfg.Path, err)
	}
	return &Device{
		file:   file,
		path:   cfg.Path,
		sector: sector,
		direct: direct,
		block:  isBlock,
	}, nil
}

// ReadAt implements storage.Backend.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if d.file == nil {
		return 0, storage.ErrClosed
	}
	if !d.direct {
		return d.file.ReadAt(p, off)
	}
	if err := d.checkAligned(len(p), off); err != nil {
		return 0, err
	}
	buf := alignedBlock(len(p), d.sector)
	n, err := d.file.ReadAt(buf, off)
	copy(p, buf[:n])
	return n, err
}

// WriteAt implements storage.Backend. The write is durable when it returns:
// non-direct handles are opened O_SYNC, direct writes are followed by a data
// sync to flush the device write cache.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if d.file == nil {
		return 0, storage.ErrClosed
	}
	if !d.direct {
		return d.file.WriteAt(p, off)
	}
	if err := d.checkAligned(len(p), off); err != nil {
		return 0, err
	}
	buf := alignedBlock(len(p), d.sector)
	copy(buf, p)
	n, err := d.file.WriteAt(buf, off)
	if err != nil {
		return n, err
	}
	return n, fsyncData(d.file)
}

// Size implements storage.Backend.
func (d *Device) Size() (int64, error) {
	if d.file == nil {
		return 0, storage.ErrClosed
	}
	if d.block {
		return blockDeviceSize(d.file)
	}
	fi, err := d.file.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Name implements storage.Backend.
func (d *Device) Name() string { return d.path }

// Close implements storage.Backend.
func (d *Device) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *Device) checkAligned(n int, off int64) error {
	if off%d.sector != 0 || int64(n)%d.sector != 0 {
		return fmt.Errorf("directio: unaligned i/o (len %d, offset %d, sector %d)", n, off, d.sector)
	}
	return nil
}

// alignedBlock returns an n-byte slice whose backing array starts on an
// align-byte boundary, as required for O_DIRECT transfers.
func alignedBlock(n int, align int64) []byte {
	if align <= 1 {
		return make([]byte, n)
	}
	raw := make([]byte, n+int(align))
	shift := int((align - int64(uintptr(unsafe.Pointer(&raw[0])))%align) % align)
	return raw[shift : shift+n : shift+n]
}
