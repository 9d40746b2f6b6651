package wal

import (
	"path/filepath"
	"testing"

	"github.com/arthurzhang/silkstore/internal/nvm"
)

func testLogPool(t *testing.T) *nvm.Pool {
	t.Helper()
	pool, err := nvm.Open(nvm.Options{
		PoolSize: 1 << 20,
		LogSize:  1 << 18,
		Backend:  nvm.BackendHeap,
	})
	if err != nil {
		t.Fatalf("Failed to open pool: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func testFilePool(t *testing.T, path string) *nvm.Pool {
	t.Helper()
	pool, err := nvm.Open(nvm.Options{
		Path:     path,
		PoolSize: 1 << 20,
		LogSize:  1 << 18,
		Backend:  nvm.BackendFile,
	})
	if err != nil {
		t.Skipf("file backend unavailable: %v", err)
	}
	return pool
}

func putRecord(i int) *Record {
	return &Record{
		Type:   RecordPut,
		Key:    []byte{byte(i)},
		Value:  []byte{byte(i * 2)},
		SeqNum: uint64(i),
	}
}

func TestLogWriterAppendSingle(t *testing.T) {
	pool := testLogPool(t)

	w, err := NewLogWriter(pool, 4096)
	if err != nil {
		t.Fatalf("Failed to create log writer: %v", err)
	}

	rec := &Record{
		Type:   RecordPut,
		Key:    []byte("test-key"),
		Value:  []byte("test-value"),
		SeqNum: 1,
	}

	off, err := w.Append(rec)
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if off != w.Marker().Offset {
		t.Errorf("First record offset %d, expected shard base %d", off, w.Marker().Offset)
	}
	if w.Records() != 1 {
		t.Errorf("Expected 1 record, got %d", w.Records())
	}
}

func TestLogWriterShardFull(t *testing.T) {
	pool := testLogPool(t)

	rec := &Record{Type: RecordPut, Key: []byte("k"), Value: []byte("v"), SeqNum: 1}
	w, err := NewLogWriter(pool, uint64(rec.EncodedLen()))
	if err != nil {
		t.Fatalf("Failed to create log writer: %v", err)
	}

	if _, err := w.Append(rec); err != nil {
		t.Fatalf("First append should fit exactly: %v", err)
	}
	if _, err := w.Append(rec); !nvm.IsOutOfSpace(err) {
		t.Errorf("Expected out-of-space on full shard, got %v", err)
	}
	if w.Records() != 1 {
		t.Errorf("Failed append must not advance the counter, got %d", w.Records())
	}
}

func TestReplayBlankShard(t *testing.T) {
	pool := testLogPool(t)

	// The heap region is zero-filled, so replay of a never-written shard
	// finds the zeroed tail immediately and leaves the cursor at zero.
	w, err := Replay(pool, nvm.Marker{Offset: 0, Size: 8192}, func(*Record) error {
		t.Fatal("Callback must not run for a blank shard")
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to replay: %v", err)
	}
	if w.Records() != 0 {
		t.Errorf("Expected counter 0, got %d", w.Records())
	}
	if w.Remaining() != 8192 {
		t.Errorf("Expected cursor at 0, remaining %d", w.Remaining())
	}
}

func TestReplayAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.nvm")

	var marker nvm.Marker
	var written uint64

	// Session one: append ten records, then crash (no orderly shutdown
	// beyond Close releasing the mapping).
	{
		pool := testFilePool(t, path)
		w, err := NewLogWriter(pool, 8192)
		if err != nil {
			t.Fatalf("Failed to create log writer: %v", err)
		}
		for i := 0; i < 10; i++ {
			if _, err := w.Append(putRecord(i)); err != nil {
				t.Fatalf("Failed to append record %d: %v", i, err)
			}
			written += uint64(putRecord(i).EncodedLen())
		}
		marker = w.Marker()
		pool.Close()
	}

	// Session two: replay the marker, then resume appending.
	pool := testFilePool(t, path)
	defer pool.Close()

	recs := []*Record{}
	w, err := Replay(pool, marker, func(rec *Record) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to replay: %v", err)
	}

	if len(recs) != 10 {
		t.Fatalf("Expected 10 records, got %d", len(recs))
	}
	for i, rec := range recs {
		if rec.SeqNum != uint64(i) {
			t.Errorf("Record %d: expected seq %d, got %d", i, i, rec.SeqNum)
		}
	}
	if w.Records() != 10 {
		t.Errorf("Expected counter 10, got %d", w.Records())
	}

	// The cursor sits after the last valid byte.
	off, err := w.Append(putRecord(10))
	if err != nil {
		t.Fatalf("Failed to resume appending: %v", err)
	}
	if off != marker.Offset+written {
		t.Errorf("Resumed append at %d, expected %d", off, marker.Offset+written)
	}
}

func TestReplayIgnoresRetiredShardRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.nvm")

	var marker nvm.Marker

	// Session one: fill a shard, retire it, and carve a new shard from the
	// same extent. Free does not scrub the bytes, so without the wipe in
	// NewLogWriter the old records would still sit past the new tail.
	{
		pool := testFilePool(t, path)
		old, err := NewLogWriter(pool, 8192)
		if err != nil {
			t.Fatalf("Failed to create log writer: %v", err)
		}
		for i := 2; i < 7; i++ {
			if _, err := old.Append(putRecord(i)); err != nil {
				t.Fatalf("Failed to append record %d: %v", i, err)
			}
		}
		if err := pool.Free(old.Handle()); err != nil {
			t.Fatalf("Failed to free shard: %v", err)
		}

		w, err := NewLogWriter(pool, 8192)
		if err != nil {
			t.Fatalf("Failed to create log writer: %v", err)
		}
		if w.Marker().Offset != old.Marker().Offset {
			t.Fatalf("New shard at %d, expected reuse of retired extent %d",
				w.Marker().Offset, old.Marker().Offset)
		}
		for i := 100; i < 102; i++ {
			if _, err := w.Append(putRecord(i)); err != nil {
				t.Fatalf("Failed to append record %d: %v", i, err)
			}
		}
		marker = w.Marker()
		pool.Close()
	}

	pool := testFilePool(t, path)
	defer pool.Close()

	recs := []*Record{}
	w, err := Replay(pool, marker, func(rec *Record) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to replay: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 records, got %d (retired shard resurrected)", len(recs))
	}
	for i, want := range []uint64{100, 101} {
		if recs[i].SeqNum != want {
			t.Errorf("Record %d: expected seq %d, got %d", i, want, recs[i].SeqNum)
		}
	}
	if w.Records() != 2 {
		t.Errorf("Expected counter 2, got %d", w.Records())
	}
}

func TestReplayStopsAtTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.nvm")

	var marker nvm.Marker
	var validBytes uint64

	{
		pool := testFilePool(t, path)
		w, err := NewLogWriter(pool, 8192)
		if err != nil {
			t.Fatalf("Failed to create log writer: %v", err)
		}
		for i := 0; i < 3; i++ {
			if _, err := w.Append(putRecord(i)); err != nil {
				t.Fatalf("Failed to append record %d: %v", i, err)
			}
		}
		validBytes = uint64(2 * putRecord(0).EncodedLen())

		// Corrupt the third record's checksum, standing in for a torn
		// write that straddled the crash.
		view, err := w.Handle().View(validBytes, uint64(putRecord(2).EncodedLen()))
		if err != nil {
			t.Fatalf("Failed to view shard: %v", err)
		}
		view[4] ^= 0xFF
		marker = w.Marker()
		pool.Close()
	}

	pool := testFilePool(t, path)
	defer pool.Close()

	recs := []*Record{}
	w, err := Replay(pool, marker, func(rec *Record) error {
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to replay: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 intact records, got %d", len(recs))
	}
	if w.Remaining() != marker.Size-validBytes {
		t.Errorf("Cursor must stop after the last intact record")
	}
}
