// Package procio implements the storage backend that delegates every
// positioned read and write to an external dd process. When the volume lives
// on network storage that stops responding, the stuck syscall is confined to
// a child process that can be killed on a deadline instead of hanging the
// caller forever.
package procio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"pkt.systems/leasevol/internal/storage"
)

// DefaultTimeout bounds one delegated I/O operation.
const DefaultTimeout = 30 * time.Second

// Config captures the tunables for the subprocess backend.
type Config struct {
	// Path is the block device or file backing the lease volume.
	Path string
	// Timeout is the per-operation deadline; defaults to DefaultTimeout.
	Timeout time.Duration
	// Direct adds iflag/oflag=direct so the child bypasses the page cache.
	// Requires sector-aligned lengths and offsets.
	Direct bool
	// Tool overrides the dd binary, mainly for tests.
	Tool string
}

// Store implements storage.Backend by shelling out to dd.
type Store struct {
	path    string
	timeout time.Duration
	direct  bool
	tool    string
	closed  bool
}

var _ storage.Backend = (*Store)(nil)

// New returns a subprocess-backed volume at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("procio: path required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tool := cfg.Tool
	if tool == "" {
		tool = "dd"
	}
	return &Store{path: cfg.Path, timeout: timeout, direct: cfg.Direct, tool: tool}, nil
}

// ReadAt implements storage.Backend.
func (s *Store) ReadAt(p []byte, off int64) (int, error) {
	if s.closed {
		return 0, storage.ErrClosed
	}
	out, err := s.run(readArgs(s.path, off, len(p), s.direct), nil)
	if err != nil {
		return 0, err
	}
	n := copy(p, out)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements storage.Backend. conv=fsync makes dd flush the bytes to
// the device before it exits, so a clean exit means the write is durable.
func (s *Store) WriteAt(p []byte, off int64) (int, error) {
	if s.closed {
		return 0, storage.ErrClosed
	}
	if _, err := s.run(writeArgs(s.path, off, len(p), s.direct), bytes.NewReader(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Size implements storage.Backend. A short in-process seek is used instead of
// dd; it does not touch the data path.
func (s *Store) Size() (int64, error) {
	if s.closed {
		return 0, storage.ErrClosed
	}
	file, err := os.Open(s.path)
	if err != nil {
		return 0, fmt.Errorf("procio: open %q: %w", s.path, err)
	}
	defer file.Close()
	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("procio: size of %q: %w", s.path, err)
	}
	return size, nil
}

// Name implements storage.Backend.
func (s *Store) Name() string { return s.path }

// Close implements storage.Backend.
func (s *Store) Close() error {
	s.closed = true
	return nil
}

func (s *Store) run(args []string, stdin io.Reader) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, s.tool, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("procio: %s %s timed out after %s", s.tool, args[0], s.timeout)
	}
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("procio: %s failed: %v: %s", s.tool, err, detail)
		}
		return nil, fmt.Errorf("procio: %s failed: %w", s.tool, err)
	}
	return stdout.Bytes(), nil
}

func readArgs(path string, off int64, length int, direct bool) []string {
	iflags := "skip_bytes,count_bytes"
	if direct {
		iflags += ",direct"
	}
	return []string{
		"if=" + path,
		fmt.Sprintf("bs=%d", length),
		fmt.Sprintf("skip=%d", off),
		fmt.Sprintf("count=%d", length),
		"iflag=" + iflags,
		"status=none",
	}
}

func writeArgs(path string, off int64, length int, direct bool) []string {
	oflags := "seek_bytes"
	if direct {
		oflags += ",direct"
	}
	return []string{
		"of=" + path,
		fmt.Sprintf("bs=%d", length),
		"count=1",
		fmt.Sprintf("seek=%d", off),
		"oflag=" + oflags,
		"iflag=fullblock",
		"conv=notrunc,fsync",
		"status=none",
	}
}
