// Package indexfmt defines the private on-disk format of the lease index: the
// volume slot layout, the 512-byte index metadata block, and the 64-byte lease
// records. The package is pure codec; it performs no I/O.
//
// Volume layout, in units of one alignment (default 1 MiB):
//
//	slot 0        lockspace (reserved for the lock manager)
//	slot 1        index region (IndexSize bytes)
//	slot 2        reserved for the lock manager's internal resource
//	slot 3..N     one lease per slot
//
// All numeric fields inside the index are fixed-width decimal ASCII so the
// format is byte-order independent; only the magic number is binary,
// big-endian.
package indexfmt

import "fmt"

const (
	// Magic identifies the index format on disk.
	Magic uint32 = 0x12152016
	// FormatVersion is the only supported index format version.
	FormatVersion = 1

	// MetadataSize is the size of the metadata block at the start of the
	// index region.
	MetadataSize = 512
	// RecordSize is the encoded size of one lease record.
	RecordSize = 64
	// IndexSize is the fixed size of the index region, independent of
	// alignment and block size.
	IndexSize = 62 * 4096
	// MaxRecords bounds the number of lease records the index can hold.
	MaxRecords = (IndexSize - MetadataSize) / RecordSize

	// MaxResourceName is the on-disk capacity of resource and lockspace
	// name fields.
	MaxResourceName = 48

	// DefaultAlignment is the default stride between lease slots.
	DefaultAlignment = 1024 * 1024
	// DefaultBlockSize is the default storage block size.
	DefaultBlockSize = 512
	// MaxBlockSize is the largest supported storage block size.
	MaxBlockSize = 4096

	lockspaceSlot = 0
	indexSlot     = 1
	internalSlot  = 2
	userSlotBase  = 3

	offsetDigits  = 11
	mtimeDigits   = 10
	versionDigits = 4

	flagUpdating = 'u'
	flagClear    = '-'
	fieldPad     = ' '
	terminator   = '\n'
)

// The record area must fill the index region exactly; this constant underflows
// and fails to compile when the sizes drift apart.
const _ = uint(MetadataSize + MaxRecords*RecordSize - IndexSize)

// IndexBase returns the byte offset of the index region on the volume.
func IndexBase(alignment int64) int64 {
	return indexSlot * alignment
}

// LeaseOffset returns the storage offset of the lease held by record recnum.
// The offset is always derived from the record's position, never trusted from
// storage, so two records can never alias the same slot.
func LeaseOffset(recnum int, alignment int64) int64 {
	return (userSlotBase + int64(recnum)) * alignment
}

// MaxLeases returns how many lease slots fit on a volume of the given size.
// The result is clamped to [0, MaxRecords].
func MaxLeases(volumeSize, alignment int64) int {
	slots := volumeSize/alignment - userSlotBase
	if slots < 0 {
		return 0
	}
	if slots > MaxRecords {
		return MaxRecords
	}
	return int(slots)
}

// ValidateName checks that name fits a 48-byte printable-ASCII field.
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name required", kind)
	}
	if len(name) > MaxResourceName {
		return fmt.Errorf("%s name %q exceeds %d bytes", kind, name, MaxResourceName)
	}
	for i := 0; i < len(name); i++ {
		if name[i] < 0x20 || name[i] > 0x7e {
			return fmt.Errorf("%s name %q contains non-printable byte at %d", kind, name, i)
		}
	}
	return nil
}

func decodeName(field []byte) (string, bool) {
	end := len(field)
	for end > 0 && field[end-1] == 0 {
		end--
	}
	for i := 0; i < end; i++ {
		if field[i] < 0x20 || field[i] > 0x7e {
			return "", false
		}
	}
	return string(field[:end]), true
}

func encodeName(dst []byte, name string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, name)
}

func decodeFlag(b byte) (bool, bool) {
	switch b {
	case flagUpdating:
		return true, true
	case flagClear:
		return false, true
	default:
		return false, false
	}
}

func encodeFlag(updating bool) byte {
	if updating {
		return flagUpdating
	}
	return flagClear
}
