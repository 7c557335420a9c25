package indexfmt

import (
	"fmt"
	"strconv"
)

// Record is one decoded lease record. An empty Resource marks a free slot.
// Updating means a multi-step write was in progress when the record was last
// persisted; readers must treat such a record as absent.
type Record struct {
	Resource string
	Offset   int64
	Updating bool
}

// InvalidRecordError reports a record block that cannot be decoded.
type InvalidRecordError struct {
	Reason string
	Data   []byte
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid lease record (%s): %q", e.Reason, e.Data)
}

// Encode renders the record as a fixed 64-byte block. Encode and DecodeRecord
// round-trip exactly for any record Encode accepts.
func (r Record) Encode() []byte {
	buf := make([]byte, RecordSize)
	encodeName(buf[0:48], r.Resource)
	buf[48] = fieldPad
	copy(buf[49:60], fmt.Sprintf("%0*d", offsetDigits, r.Offset))
	buf[60] = fieldPad
	buf[61] = encodeFlag(r.Updating)
	buf[62] = flagClear // reserved
	buf[63] = terminator
	return buf
}

// EmptyRecord returns the canonical encoding of a free record slot.
func EmptyRecord() []byte {
	return Record{}.Encode()
}

// DecodeRecord parses a 64-byte record block.
func DecodeRecord(block []byte) (Record, error) {
	if len(block) < RecordSize {
		return Record{}, &InvalidRecordError{Reason: "short block", Data: clone(block)}
	}
	block = block[:RecordSize]
	resource, ok := decodeName(block[0:48])
	if !ok {
		return Record{}, &InvalidRecordError{Reason: "resource not ASCII", Data: clone(block)}
	}
	offset, err := decodeDecimal(block[49:60])
	if err != nil {
		return Record{}, &InvalidRecordError{Reason: "bad offset field", Data: clone(block)}
	}
	updating, ok := decodeFlag(block[61])
	if !ok {
		return Record{}, &InvalidRecordError{Reason: "bad updating flag", Data: clone(block)}
	}
	return Record{Resource: resource, Offset: offset, Updating: updating}, nil
}

func decodeDecimal(field []byte) (int64, error) {
	for _, b := range field {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("non-digit byte %#x", b)
		}
	}
	return strconv.ParseInt(string(field), 10, 64)
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
