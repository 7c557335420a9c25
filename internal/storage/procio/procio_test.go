package procio

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReadArgs(t *testing.T) {
	t.Parallel()

	args := strings.Join(readArgs("/dev/vg/leases", 1048576, 512, true), " ")
	want := "if=/dev/vg/leases bs=512 skip=1048576 count=512 iflag=skip_bytes,count_bytes,direct status=none"
	if args != want {
		t.Fatalf("read args:\n got %s\nwant %s", args, want)
	}
	if strings.Contains(strings.Join(readArgs("/x", 0, 64, false), " "), "direct") {
		t.Fatal("non-direct read args carry direct flag")
	}
}

func TestWriteArgs(t *testing.T) {
	t.Parallel()

	args := strings.Join(writeArgs("/dev/vg/leases", 4096, 512, false), " ")
	want := "of=/dev/vg/leases bs=512 count=1 seek=4096 oflag=seek_bytes iflag=fullblock conv=notrunc,fsync status=none"
	if args != want {
		t.Fatalf("write args:\n got %s\nwant %s", args, want)
	}
}

func TestRoundTripThroughDD(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("dd"); err != nil {
		t.Skip("dd not available")
	}
	path := filepath.Join(t.TempDir(), "volume")
	if err := os.WriteFile(path, make([]byte, 1<<20), 0o644); err != nil {
		t.Fatalf("create volume: %v", err)
	}
	store, err := New(Config{Path: path, Timeout: time.Minute})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer store.Close()

	payload := bytes.Repeat([]byte{0x5a}, 512)
	if _, err := store.WriteAt(payload, 8192); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := make([]byte, 512)
	if _, err := store.ReadAt(got, 8192); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("read back mismatch")
	}
	size, err := store.Size()
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 1<<20 {
		t.Fatalf("expected size %d, got %d", 1<<20, size)
	}
}

func TestTimeoutKillsChild(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	// A stand-in for dd that hangs the way an unresponsive NFS server would.
	script := filepath.Join(t.TempDir(), "hung-dd")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	store, err := New(Config{Path: "/dev/null", Timeout: 100 * time.Millisecond, Tool: script})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	start := time.Now()
	if _, err := store.ReadAt(make([]byte, 1), 0); err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("child not killed on deadline, took %s", elapsed)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Fatal("new with empty path succeeded")
	}
}
