package indexfmt

import (
	"encoding/binary"
	"fmt"
)

// IndexMetadata is the decoded metadata block at the start of the index
// region. Updating set means a multi-step index mutation may not have
// completed; the index is unusable until rebuilt.
type IndexMetadata struct {
	Version   int
	Lockspace string
	MTime     int64 // unix seconds of the last metadata write
	Updating  bool
}

// InvalidMetadataError reports a metadata block that cannot be decoded.
type InvalidMetadataError struct {
	Reason string
	Data   []byte
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("invalid index metadata (%s)", e.Reason)
}

// Encode renders the metadata as a fixed 512-byte block.
func (m IndexMetadata) Encode() []byte {
	buf := make([]byte, MetadataSize)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = fieldPad
	copy(buf[5:9], fmt.Sprintf("%0*d", versionDigits, m.Version))
	buf[9] = fieldPad
	encodeName(buf[10:58], m.Lockspace)
	buf[58] = fieldPad
	copy(buf[59:69], fmt.Sprintf("%0*d", mtimeDigits, m.MTime))
	buf[69] = fieldPad
	buf[70] = encodeFlag(m.Updating)
	buf[MetadataSize-1] = terminator
	return buf
}

// DecodeMetadata parses a 512-byte metadata block, rejecting unknown magic
// values and unsupported format versions.
func DecodeMetadata(block []byte) (IndexMetadata, error) {
	if len(block) < MetadataSize {
		return IndexMetadata{}, &InvalidMetadataError{Reason: "short block", Data: clone(block)}
	}
	block = block[:MetadataSize]
	if magic := binary.BigEndian.Uint32(block[0:4]); magic != Magic {
		return IndexMetadata{}, &InvalidMetadataError{
			Reason: fmt.Sprintf("bad magic %#08x", magic),
			Data:   clone(block),
		}
	}
	version, err := decodeDecimal(block[5:9])
	if err != nil {
		return IndexMetadata{}, &InvalidMetadataError{Reason: "bad version field", Data: clone(block)}
	}
	if version != FormatVersion {
		return IndexMetadata{}, &InvalidMetadataError{
			Reason: fmt.Sprintf("unsupported version %d", version),
			Data:   clone(block),
		}
	}
	lockspace, ok := decodeName(block[10:58])
	if !ok {
		return IndexMetadata{}, &InvalidMetadataError{Reason: "lockspace not ASCII", Data: clone(block)}
	}
	mtime, err := decodeDecimal(block[59:69])
	if err != nil {
		return IndexMetadata{}, &InvalidMetadataError{Reason: "bad mtime field", Data: clone(block)}
	}
	updating, ok := decodeFlag(block[70])
	if !ok {
		return IndexMetadata{}, &InvalidMetadataError{Reason: "bad updating flag", Data: clone(block)}
	}
	return IndexMetadata{
		Version:   int(version),
		Lockspace: lockspace,
		MTime:     mtime,
		Updating:  updating,
	}, nil
}
