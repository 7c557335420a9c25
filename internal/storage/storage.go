// Package storage defines the positioned-I/O contract the lease index runs
// on. Backends are synchronous and blocking; timeout isolation for
// unresponsive storage belongs to the backend implementation (see procio),
// never to the index layer.
package storage

import "errors"

// ErrClosed indicates the backend was used after Close.
var ErrClosed = errors.New("storage: backend closed")

// Backend is a raw volume addressed by byte offset.
//
// ReadAt and WriteAt follow the io.ReaderAt/io.WriterAt contracts. WriteAt
// must not return before the bytes are physically persisted; the index's
// crash-consistency argument depends on it.
type Backend interface {
	// ReadAt reads len(p) bytes starting at off.
	ReadAt(p []byte, off int64) (int, error)
	// WriteAt persists len(p) bytes starting at off before returning.
	WriteAt(p []byte, off int64) (int, error)
	// Size reports the volume size in bytes.
	Size() (int64, error)
	// Name returns the diagnostic identifier of the volume, typically its
	// path. Lock resources registered against the volume carry this name.
	Name() string
	// Close releases backend resources.
	Close() error
}
