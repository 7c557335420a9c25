package volindex

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"pkt.systems/leasevol/internal/clock"
	"pkt.systems/leasevol/internal/indexfmt"
	"pkt.systems/leasevol/internal/storage/memory"
)

var testGeo = Geometry{Alignment: indexfmt.DefaultAlignment, BlockSize: indexfmt.DefaultBlockSize}

func newBackend(t *testing.T, size int64) *memory.Store {
	t.Helper()
	backend, err := memory.New(memory.Config{Size: size, Name: "/dev/test/leases"})
	if err != nil {
		t.Fatalf("memory backend: %v", err)
	}
	return backend
}

func newIndex(t *testing.T) *VolumeIndex {
	t.Helper()
	idx, err := New(testGeo, clock.NewManual(time.Unix(1767225600, 0)))
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	return idx
}

func TestGeometryValidate(t *testing.T) {
	t.Parallel()

	if err := testGeo.Validate(); err != nil {
		t.Fatalf("default geometry invalid: %v", err)
	}
	if err := (Geometry{Alignment: indexfmt.DefaultAlignment, BlockSize: 4096}).Validate(); err != nil {
		t.Fatalf("4k geometry invalid: %v", err)
	}
	bad := []Geometry{
		{Alignment: indexfmt.DefaultAlignment, BlockSize: 256},
		{Alignment: indexfmt.DefaultAlignment, BlockSize: 8192},
		{Alignment: indexfmt.DefaultAlignment, BlockSize: 768},
		{Alignment: 1000, BlockSize: 512},
		{Alignment: 65536, BlockSize: 512},
	}
	for _, geo := range bad {
		if err := geo.Validate(); err == nil {
			t.Fatalf("geometry %+v accepted", geo)
		}
	}
}

func TestLoadDumpRoundTrip(t *testing.T) {
	t.Parallel()

	backend := newBackend(t, 16<<20)
	idx := newIndex(t)
	idx.WriteMetadata(indexfmt.IndexMetadata{Version: indexfmt.FormatVersion, Lockspace: "dom1", MTime: 1})
	rec := indexfmt.Record{Resource: "lease-7", Offset: testGeo.LeaseOffset(7)}
	if err := idx.WriteRecord(7, rec); err != nil {
		t.Fatalf("write record: %v", err)
	}
	if err := idx.Dump(backend); err != nil {
		t.Fatalf("dump: %v", err)
	}

	reloaded := newIndex(t)
	if err := reloaded.Load(backend); err != nil {
		t.Fatalf("load: %v", err)
	}
	md, err := reloaded.ReadMetadata()
	if err != nil {
		t.Fatalf("read metadata: %v", err)
	}
	if md.Lockspace != "dom1" {
		t.Fatalf("unexpected metadata %+v", md)
	}
	got, err := reloaded.ReadRecord(7)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if got != rec {
		t.Fatalf("record mismatch: %+v != %+v", got, rec)
	}
}

func TestLoadTruncated(t *testing.T) {
	t.Parallel()

	backend := newBackend(t, testGeo.IndexBase()+1000)
	idx := newIndex(t)
	err := idx.Load(backend)
	var trunc *TruncatedIndexError
	if !errors.As(err, &trunc) {
		t.Fatalf("expected TruncatedIndexError, got %v", err)
	}
	if trunc.Expected != indexfmt.IndexSize || trunc.Available != 1000 {
		t.Fatalf("unexpected error payload %+v", trunc)
	}
}

func TestFindRecordAndFree(t *testing.T) {
	t.Parallel()

	idx := newIndex(t)
	for recnum := 0; recnum < indexfmt.MaxRecords; recnum++ {
		if err := idx.WriteRecord(recnum, indexfmt.Record{}); err != nil {
			t.Fatalf("clear record %d: %v", recnum, err)
		}
	}
	if err := idx.WriteRecord(3, indexfmt.Record{Resource: "lease-a", Offset: testGeo.LeaseOffset(3)}); err != nil {
		t.Fatalf("write record: %v", err)
	}

	recnum, ok := idx.FindRecord("lease-a")
	if !ok || recnum != 3 {
		t.Fatalf("find lease-a: (%d, %v)", recnum, ok)
	}
	if _, ok := idx.FindRecord("lease-b"); ok {
		t.Fatal("found a lease that was never added")
	}
	if _, ok := idx.FindRecord(""); ok {
		t.Fatal("empty name matched a record")
	}
	// Names are matched on the full 48-byte field, not as a prefix.
	if _, ok := idx.FindRecord("lease"); ok {
		t.Fatal("prefix matched a record")
	}

	free, ok := idx.FindFreeRecord()
	if !ok || free != 0 {
		t.Fatalf("find free: (%d, %v)", free, ok)
	}
}

func TestFindFreeIgnoresZeroedSlots(t *testing.T) {
	t.Parallel()

	// A freshly allocated buffer is all zero, which is not the canonical
	// empty encoding; nothing may be handed out from it.
	idx := newIndex(t)
	if _, ok := idx.FindFreeRecord(); ok {
		t.Fatal("zeroed slot reported as free")
	}
}

func TestWithUpdatingSetsAndClearsFlag(t *testing.T) {
	t.Parallel()

	backend := newBackend(t, 16<<20)
	idx := newIndex(t)

	err := idx.WithUpdating(backend, "dom1", func() error {
		block := backend.Bytes(testGeo.IndexBase(), indexfmt.MetadataSize)
		md, err := indexfmt.DecodeMetadata(block)
		if err != nil {
			t.Fatalf("metadata during bracket: %v", err)
		}
		if !md.Updating {
			t.Fatal("updating flag not set on storage during bracket")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("bracket: %v", err)
	}

	md, err := indexfmt.DecodeMetadata(backend.Bytes(testGeo.IndexBase(), indexfmt.MetadataSize))
	if err != nil {
		t.Fatalf("metadata after bracket: %v", err)
	}
	if md.Updating {
		t.Fatal("updating flag still set after clean exit")
	}
	if md.Lockspace != "dom1" || md.Version != indexfmt.FormatVersion {
		t.Fatalf("unexpected metadata %+v", md)
	}
}

func TestWithUpdatingLeavesFlagOnFailure(t *testing.T) {
	t.Parallel()

	backend := newBackend(t, 16<<20)
	idx := newIndex(t)
	boom := errors.New("boom")

	if err := idx.WithUpdating(backend, "dom1", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	md, err := indexfmt.DecodeMetadata(backend.Bytes(testGeo.IndexBase(), indexfmt.MetadataSize))
	if err != nil {
		t.Fatalf("metadata after failed bracket: %v", err)
	}
	if !md.Updating {
		t.Fatal("updating flag cleared despite failure")
	}
}

func TestChangeBlockCommitIsOneBlockWrite(t *testing.T) {
	t.Parallel()

	backend := newBackend(t, 16<<20)
	idx := newIndex(t)
	idx.WriteMetadata(indexfmt.IndexMetadata{Version: indexfmt.FormatVersion, Lockspace: "dom1", MTime: 1})
	for recnum := 0; recnum < indexfmt.MaxRecords; recnum++ {
		if err := idx.WriteRecord(recnum, indexfmt.Record{}); err != nil {
			t.Fatalf("clear record %d: %v", recnum, err)
		}
	}
	if err := idx.Dump(backend); err != nil {
		t.Fatalf("dump: %v", err)
	}
	backend.ResetWrites()

	rec := indexfmt.Record{Resource: "lease-a", Offset: testGeo.LeaseOffset(10)}
	cb, err := idx.ChangeBlockFor(10)
	if err != nil {
		t.Fatalf("change block: %v", err)
	}
	if err := cb.WriteRecord(10, rec); err != nil {
		t.Fatalf("write record to block: %v", err)
	}
	if err := cb.Commit(backend); err != nil {
		t.Fatalf("commit: %v", err)
	}

	writes := backend.Writes()
	if len(writes) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(writes))
	}
	if int64(len(writes[0].Data)) != testGeo.BlockSize {
		t.Fatalf("write size %d, expected one block", len(writes[0].Data))
	}
	if writes[0].Off%testGeo.BlockSize != 0 {
		t.Fatalf("write offset %d not block aligned", writes[0].Off)
	}

	// The long-lived buffer is only mutated after the storage write.
	got, err := idx.ReadRecord(10)
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if got.Resource != "" {
		t.Fatal("in-memory index mutated before the caller wrote it")
	}
	if err := idx.WriteRecord(10, rec); err != nil {
		t.Fatalf("write record: %v", err)
	}

	// Storage and buffer now agree.
	recOff := testGeo.IndexBase() + int64(indexfmt.MetadataSize) + int64(10*indexfmt.RecordSize)
	if !bytes.Equal(backend.Bytes(recOff, indexfmt.RecordSize), rec.Encode()) {
		t.Fatal("committed block does not contain the new record")
	}
}

func TestChangeBlockRejectsForeignRecord(t *testing.T) {
	t.Parallel()

	idx := newIndex(t)
	cb, err := idx.ChangeBlockFor(0)
	if err != nil {
		t.Fatalf("change block: %v", err)
	}
	if err := cb.WriteRecord(100, indexfmt.Record{Resource: "x", Offset: 1}); err == nil {
		t.Fatal("record outside the block accepted")
	}
}

func TestRecordBounds(t *testing.T) {
	t.Parallel()

	idx := newIndex(t)
	if _, err := idx.ReadRecord(-1); err == nil {
		t.Fatal("negative recnum accepted")
	}
	if _, err := idx.ReadRecord(indexfmt.MaxRecords); err == nil {
		t.Fatal("recnum past the end accepted")
	}
	if err := idx.WriteRecord(indexfmt.MaxRecords, indexfmt.Record{}); err == nil {
		t.Fatal("write past the end accepted")
	}
}
