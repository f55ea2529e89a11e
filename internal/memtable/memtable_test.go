package memtable

import (
	"bytes"
	"testing"

	"github.com/ridgekv/ridgekv/internal/dbformat"
)

func TestMemTablePutAndGet(t *testing.T) {
	mt := NewMemTable(nil)

	mt.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))
	mt.Add(2, dbformat.TypeValue, []byte("b"), []byte("2"))

	value, found, deleted := mt.Get([]byte("a"), 10)
	if !found || deleted {
		t.Fatalf("Get(a) = found:%v deleted:%v, want found:true deleted:false", found, deleted)
	}
	if !bytes.Equal(value, []byte("1")) {
		t.Fatalf("Get(a) value = %q, want %q", value, "1")
	}

	if _, found, _ := mt.Get([]byte("missing"), 10); found {
		t.Fatal("Get(missing) should not be found")
	}
}

func TestMemTableOverwriteKeepsNewestVisible(t *testing.T) {
	mt := NewMemTable(nil)

	mt.Add(1, dbformat.TypeValue, []byte("k"), []byte("old"))
	mt.Add(5, dbformat.TypeValue, []byte("k"), []byte("new"))

	value, found, _ := mt.Get([]byte("k"), 10)
	if !found || !bytes.Equal(value, []byte("new")) {
		t.Fatalf("Get(k) at seq 10 = %q found:%v, want %q", value, found, "new")
	}

	// A lookup as-of an earlier sequence must not see the later write.
	value, found, _ = mt.Get([]byte("k"), 1)
	if !found || !bytes.Equal(value, []byte("old")) {
		t.Fatalf("Get(k) at seq 1 = %q found:%v, want %q", value, found, "old")
	}
}

func TestMemTableDeleteTombstone(t *testing.T) {
	mt := NewMemTable(nil)

	mt.Add(1, dbformat.TypeValue, []byte("k"), []byte("v"))
	mt.Add(2, dbformat.TypeDeletion, []byte("k"), nil)

	_, found, deleted := mt.Get([]byte("k"), 10)
	if !found || !deleted {
		t.Fatalf("Get(k) after delete = found:%v deleted:%v, want found:true deleted:true", found, deleted)
	}

	// As-of the sequence before the delete, the value is still visible.
	value, found, deleted := mt.Get([]byte("k"), 1)
	if !found || deleted || !bytes.Equal(value, []byte("v")) {
		t.Fatalf("Get(k) at seq 1 = %q found:%v deleted:%v, want %q found:true deleted:false", value, found, deleted, "v")
	}
}

func TestMemTableCountAndEmpty(t *testing.T) {
	mt := NewMemTable(nil)
	if !mt.Empty() {
		t.Fatal("new memtable should be empty")
	}

	mt.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))
	mt.Add(2, dbformat.TypeValue, []byte("b"), []byte("2"))

	if mt.Empty() {
		t.Fatal("memtable with entries should not be empty")
	}
	if got := mt.Count(); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}
}

func TestMemTableIteratorOrder(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(1, dbformat.TypeValue, []byte("c"), []byte("3"))
	mt.Add(1, dbformat.TypeValue, []byte("a"), []byte("1"))
	mt.Add(1, dbformat.TypeValue, []byte("b"), []byte("2"))

	it := mt.NewIterator()
	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.UserKey()))
	}

	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("iterator returned %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("iterator order mismatch at %d: got %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestMemTableIteratorNewestSequenceFirst(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Add(1, dbformat.TypeValue, []byte("k"), []byte("old"))
	mt.Add(5, dbformat.TypeValue, []byte("k"), []byte("new"))

	it := mt.NewIterator()
	it.SeekToFirst()
	if !it.Valid() {
		t.Fatal("expected a valid first entry")
	}
	if !bytes.Equal(it.Value(), []byte("new")) {
		t.Fatalf("first entry for key k = %q, want %q (highest sequence sorts first)", it.Value(), "new")
	}
	if it.Sequence() != 5 {
		t.Fatalf("Sequence() = %d, want 5", it.Sequence())
	}

	it.Next()
	if !it.Valid() {
		t.Fatal("expected a second entry for the same key")
	}
	if !bytes.Equal(it.Value(), []byte("old")) {
		t.Fatalf("second entry for key k = %q, want %q", it.Value(), "old")
	}
}

func TestMemTableApproximateMemoryUsageGrows(t *testing.T) {
	mt := NewMemTable(nil)
	before := mt.ApproximateMemoryUsage()
	mt.Add(1, dbformat.TypeValue, []byte("k"), bytes.Repeat([]byte("v"), 1000))
	after := mt.ApproximateMemoryUsage()
	if after <= before {
		t.Fatalf("ApproximateMemoryUsage did not grow: before=%d after=%d", before, after)
	}
}

func TestMemTableRefUnref(t *testing.T) {
	mt := NewMemTable(nil)
	mt.Ref()
	if mt.Unref() {
		t.Fatal("Unref after an extra Ref should not report zero references yet")
	}
	if !mt.Unref() {
		t.Fatal("Unref should report zero references once the original ref is released")
	}
}

func TestMemTableNextLogNumber(t *testing.T) {
	mt := NewMemTable(nil)
	if got := mt.NextLogNumber(); got != 0 {
		t.Fatalf("NextLogNumber() = %d, want 0 before SetNextLogNumber", got)
	}
	mt.SetNextLogNumber(42)
	if got := mt.NextLogNumber(); got != 42 {
		t.Fatalf("NextLogNumber() = %d, want 42", got)
	}
}
