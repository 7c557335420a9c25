package lockres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pkt.systems/leasevol/internal/storage/memory"
)

func newStore(t *testing.T) (*SectorStore, *memory.Store) {
	t.Helper()
	backend, err := memory.New(memory.Config{Size: 1 << 20, Name: "/dev/test/leases"})
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	store, err := NewSectorStore(backend, 512)
	if err != nil {
		t.Fatalf("sector store: %v", err)
	}
	return store, backend
}

func TestReadVirginSlot(t *testing.T) {
	t.Parallel()

	store, backend := newStore(t)
	_, err := store.ReadResource(context.Background(), backend.Name(), 4096)
	if !errors.Is(err, ErrNoSuchResource) {
		t.Fatalf("expected ErrNoSuchResource, got %v", err)
	}
}

func TestWriteReadClear(t *testing.T) {
	t.Parallel()

	store, backend := newStore(t)
	ctx := context.Background()
	disk := Disk{Path: backend.Name(), Offset: 8192}

	if err := store.WriteResource(ctx, "dom1", "lease-a", disk); err != nil {
		t.Fatalf("write resource: %v", err)
	}
	info, err := store.ReadResource(ctx, disk.Path, disk.Offset)
	if err != nil {
		t.Fatalf("read resource: %v", err)
	}
	if info.Lockspace != "dom1" || info.Resource != "lease-a" || info.Version != 1 {
		t.Fatalf("unexpected info %+v", info)
	}

	if err := store.WriteResource(ctx, "dom1", "lease-a", disk); err != nil {
		t.Fatalf("rewrite resource: %v", err)
	}
	info, err = store.ReadResource(ctx, disk.Path, disk.Offset)
	if err != nil {
		t.Fatalf("read after rewrite: %v", err)
	}
	if info.Version != 2 {
		t.Fatalf("expected version 2, got %d", info.Version)
	}

	if err := Clear(ctx, store, disk.Path, disk.Offset); err != nil {
		t.Fatalf("clear: %v", err)
	}
	info, err = store.ReadResource(ctx, disk.Path, disk.Offset)
	if err != nil {
		t.Fatalf("read after clear: %v", err)
	}
	if info.Lockspace != "" || info.Resource != "" {
		t.Fatalf("clear left %+v", info)
	}
}

func TestWrongVolumeRejected(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t)
	ctx := context.Background()
	err := store.WriteResource(ctx, "dom1", "lease-a", Disk{Path: "/dev/other", Offset: 0})
	if err == nil || !strings.Contains(err.Error(), "does not match volume") {
		t.Fatalf("expected volume mismatch error, got %v", err)
	}
	if _, err := store.ReadResource(ctx, "/dev/other", 0); err == nil {
		t.Fatal("read from wrong volume succeeded")
	}
}

func TestBadNamesRejected(t *testing.T) {
	t.Parallel()

	store, backend := newStore(t)
	ctx := context.Background()
	disk := Disk{Path: backend.Name(), Offset: 0}
	if err := store.WriteResource(ctx, "", "lease-a", disk); err == nil {
		t.Fatal("empty lockspace with non-empty resource accepted")
	}
	long := strings.Repeat("x", 49)
	if err := store.WriteResource(ctx, "dom1", long, disk); err == nil {
		t.Fatal("oversized resource name accepted")
	}
}
