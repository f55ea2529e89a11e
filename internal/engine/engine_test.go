package engine

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	dir := t.TempDir()
	opts.CreateIfMissing = true
	e, err := Open(filepath.Join(dir, "db"), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpenCreatesNewDatabase(t *testing.T) {
	openTestEngine(t, DefaultOptions())
}

func TestOpenMissingWithoutCreateIfMissingFails(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfMissing = false
	_, err := Open(filepath.Join(dir, "db"), opts)
	if err != ErrDBMissing {
		t.Fatalf("Open on a missing dir without CreateIfMissing = %v, want ErrDBMissing", err)
	}
}

func TestOpenExistingWithErrorIfExistsFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")

	opts := DefaultOptions()
	e, err := Open(path, opts)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	opts.ErrorIfExists = true
	if _, err := Open(path, opts); err != ErrDBExists {
		t.Fatalf("second Open with ErrorIfExists = %v, want ErrDBExists", err)
	}
}

func TestPutGetDelete(t *testing.T) {
	e := openTestEngine(t, DefaultOptions())

	if err := e.Put([]byte("k1"), []byte("v1"), false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, found, err := e.Get([]byte("k1"), nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("v1")) {
		t.Fatalf("Get(k1) = %q, %v, want v1, true", value, found)
	}

	if err := e.Delete([]byte("k1"), false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found, err := e.Get([]byte("k1"), nil); err != nil || found {
		t.Fatalf("Get after Delete = found=%v err=%v, want false, nil", found, err)
	}
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	e := openTestEngine(t, DefaultOptions())

	value, found, err := e.Get([]byte("absent"), nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found || value != nil {
		t.Fatalf("Get(absent) = %q, %v, want nil, false", value, found)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	e := openTestEngine(t, DefaultOptions())

	if err := e.Put([]byte("k"), []byte("before"), false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	snap := e.NewSnapshot()
	defer e.ReleaseSnapshot(snap)

	if err := e.Put([]byte("k"), []byte("after"), false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	value, found, err := e.Get([]byte("k"), snap)
	if err != nil {
		t.Fatalf("Get(snap) failed: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("before")) {
		t.Fatalf("Get(k, snap) = %q, want before (snapshot should not see the later write)", value)
	}

	value, found, err = e.Get([]byte("k"), nil)
	if err != nil {
		t.Fatalf("Get(latest) failed: %v", err)
	}
	if !found || !bytes.Equal(value, []byte("after")) {
		t.Fatalf("Get(k, nil) = %q, want after (latest read should see the later write)", value)
	}
}

func TestRecoverReplaysWALAfterClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "db")
	opts := DefaultOptions()

	e, err := Open(path, opts)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		if err := e.Put(key, []byte(fmt.Sprintf("value-%d", i)), true); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	e2, err := Open(path, opts)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer e2.Close()

	for i := 0; i < 10; i++ {
		key := []byte(fmt.Sprintf("key-%02d", i))
		want := []byte(fmt.Sprintf("value-%d", i))
		value, found, err := e2.Get(key, nil)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", key, err)
		}
		if !found || !bytes.Equal(value, want) {
			t.Errorf("Get(%s) after recovery = %q, %v, want %q, true", key, value, found, want)
		}
	}
}

func TestIteratorOrdersKeysAndSkipsTombstones(t *testing.T) {
	e := openTestEngine(t, DefaultOptions())

	for _, k := range []string{"c", "a", "e", "b", "d"} {
		if err := e.Put([]byte(k), []byte(k+"-value"), false); err != nil {
			t.Fatalf("Put(%s) failed: %v", k, err)
		}
	}
	if err := e.Delete([]byte("c"), false); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	it, release, err := e.NewIterator(nil)
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}
	defer release()

	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	if err := it.Error(); err != nil {
		t.Fatalf("iterator error: %v", err)
	}

	want := []string{"a", "b", "d", "e"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v (c is deleted)", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestApproximateSizesWithNoFiles(t *testing.T) {
	e := openTestEngine(t, DefaultOptions())
	sizes := e.ApproximateSizes([][2][]byte{{[]byte("a"), []byte("z")}})
	if len(sizes) != 1 || sizes[0] != 0 {
		t.Fatalf("ApproximateSizes with no SST files = %v, want [0]", sizes)
	}
}

func TestGetPropertyUnknownNameReturnsFalse(t *testing.T) {
	e := openTestEngine(t, DefaultOptions())
	if _, ok := e.GetProperty("not.a.real.property"); ok {
		t.Error("GetProperty with an unrecognized name should return ok=false")
	}
}

func TestGetPropertyStatsReportsMemtableUsage(t *testing.T) {
	e := openTestEngine(t, DefaultOptions())
	if err := e.Put([]byte("k"), []byte("v"), false); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	stats, ok := e.GetProperty("ridgekv.stats")
	if !ok {
		t.Fatal("GetProperty(ridgekv.stats) returned ok=false")
	}
	if !strings.Contains(stats, "mem:") {
		t.Errorf("stats = %q, want it to report memtable usage", stats)
	}
}

func TestFlushProducesLevelZeroFile(t *testing.T) {
	opts := DefaultOptions()
	opts.WriteBufferSize = 1024
	e := openTestEngine(t, opts)

	for i := 0; i < 200; i++ {
		key := []byte(fmt.Sprintf("key-%04d", i))
		value := bytes.Repeat([]byte("x"), 64)
		if err := e.Put(key, value, false); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, ok := e.GetProperty("ridgekv.num-files-at-level0"); ok && n != "0" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no level-0 file appeared after exceeding the write buffer size")
}

func TestCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "db"), DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(filepath.Join(dir, "db"), DefaultOptions())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, _, err := e.Get([]byte("k"), nil); err != ErrClosed {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	if _, _, err := e.NewIterator(nil); err != ErrClosed {
		t.Errorf("NewIterator after Close = %v, want ErrClosed", err)
	}
}
