package leasevol

import (
	"pkt.systems/leasevol/internal/indexfmt"
	"pkt.systems/leasevol/internal/volindex"
)

// Config captures the volume layout tunables shared by every operation.
type Config struct {
	// Alignment is the stride between consecutive lease slots on storage.
	// Defaults to 1 MiB.
	Alignment int64
	// BlockSize is the storage block size, the unit of atomic writes.
	// Defaults to 512; 4096 is supported for 4K-native devices.
	BlockSize int64
}

// MaxRecords is the capacity of the lease index.
const MaxRecords = indexfmt.MaxRecords

// MaxLeaseName is the longest accepted lease or lockspace name.
const MaxLeaseName = indexfmt.MaxResourceName

func (c Config) withDefaults() Config {
	if c.Alignment == 0 {
		c.Alignment = indexfmt.DefaultAlignment
	}
	if c.BlockSize == 0 {
		c.BlockSize = indexfmt.DefaultBlockSize
	}
	return c
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	return c.withDefaults().geometry().Validate()
}

func (c Config) geometry() volindex.Geometry {
	return volindex.Geometry{Alignment: c.Alignment, BlockSize: c.BlockSize}
}

// LeaseOffset returns the storage offset of the lease held by record recnum
// under this configuration.
func (c Config) LeaseOffset(recnum int) int64 {
	return c.withDefaults().geometry().LeaseOffset(recnum)
}
