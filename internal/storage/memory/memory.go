// Package memory provides an in-memory storage backend for tests. It records
// every write and supports fault injection so crash windows can be simulated
// deterministically.
package memory

import (
	"fmt"
	"io"
	"sync"

	"pkt.systems/leasevol/internal/storage"
)

// Config configures the in-memory volume.
type Config struct {
	// Size is the volume size in bytes.
	Size int64
	// Name is the diagnostic identifier; defaults to "memory".
	Name string
}

// WriteOp records one WriteAt call.
type WriteOp struct {
	Off  int64
	Data []byte
}

// Store implements storage.Backend over a byte slice.
type Store struct {
	mu     sync.Mutex
	name   string
	data   []byte
	writes []WriteOp
	closed bool

	writeHook func(off int64, p []byte) error
	readHook  func(off int64, p []byte) error
}

// New returns an in-memory volume of cfg.Size bytes, zero-filled.
func New(cfg Config) (*Store, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("memory: size must be > 0")
	}
	name := cfg.Name
	if name == "" {
		name = "memory"
	}
	return &Store{name: name, data: make([]byte, cfg.Size)}, nil
}

// ReadAt implements storage.Backend.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("memory: negative offset %d", off)
	}
	if s.readHook != nil {
		if err := s.readHook(off, p); err != nil {
			return 0, err
		}
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements storage.Backend. Writes beyond the end of the volume
// fail without mutating anything, matching a raw device.
func (s *Store) WriteAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	if off < 0 || off+int64(len(p)) > int64(len(s.data)) {
		return 0, fmt.Errorf("memory: write [%d, %d) outside volume of %d bytes", off, off+int64(len(p)), len(s.data))
	}
	if s.writeHook != nil {
		if err := s.writeHook(off, p); err != nil {
			return 0, err
		}
	}
	n := copy(s.data[off:], p)
	s.writes = append(s.writes, WriteOp{Off: off, Data: append([]byte(nil), p...)})
	return n, nil
}

// Size implements storage.Backend.
func (s *Store) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, storage.ErrClosed
	}
	return int64(len(s.data)), nil
}

// Name implements storage.Backend.
func (s *Store) Name() string { return s.name }

// Close implements storage.Backend.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SetWriteHook installs fn to run before every write; a non-nil error aborts
// the write without mutating the volume. Pass nil to clear.
func (s *Store) SetWriteHook(fn func(off int64, p []byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHook = fn
}

// SetReadHook installs fn to run before every read. Pass nil to clear.
func (s *Store) SetReadHook(fn func(off int64, p []byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readHook = fn
}

// Writes returns a copy of the write log.
func (s *Store) Writes() []WriteOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WriteOp, len(s.writes))
	copy(out, s.writes)
	return out
}

// ResetWrites clears the write log.
func (s *Store) ResetWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = nil
}

// Bytes returns a copy of the byte range [off, off+n).
func (s *Store) Bytes(off, n int64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.data[off:off+n]...)
}

// Corrupt overwrites the byte range at off with raw, bypassing the write log.
func (s *Store) Corrupt(off int64, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.data[off:], raw)
}
