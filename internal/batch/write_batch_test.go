package batch

import (
	"bytes"
	"testing"
)

type kvPair struct {
	key   []byte
	value []byte
}

// testHandler records every operation applied to it for verification.
type testHandler struct {
	puts    []kvPair
	deletes [][]byte
}

func (h *testHandler) Put(key, value []byte) error {
	h.puts = append(h.puts, kvPair{dup(key), dup(value)})
	return nil
}

func (h *testHandler) Delete(key []byte) error {
	h.deletes = append(h.deletes, dup(key))
	return nil
}

func dup(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func TestWriteBatchPutAndDelete(t *testing.T) {
	wb := New()
	wb.Put([]byte("a"), []byte("1"))
	wb.Put([]byte("b"), []byte("2"))
	wb.Delete([]byte("a"))

	if got := wb.Count(); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}

	h := &testHandler{}
	if err := wb.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}

	if len(h.puts) != 2 || len(h.deletes) != 1 {
		t.Fatalf("got %d puts and %d deletes, want 2 and 1", len(h.puts), len(h.deletes))
	}
	if !bytes.Equal(h.puts[0].key, []byte("a")) || !bytes.Equal(h.puts[0].value, []byte("1")) {
		t.Fatalf("first put = %q:%q, want a:1", h.puts[0].key, h.puts[0].value)
	}
	if !bytes.Equal(h.deletes[0], []byte("a")) {
		t.Fatalf("delete key = %q, want a", h.deletes[0])
	}
}

func TestWriteBatchSequenceAndClear(t *testing.T) {
	wb := New()
	wb.Put([]byte("k"), []byte("v"))
	wb.SetSequence(42)

	if got := wb.Sequence(); got != 42 {
		t.Fatalf("Sequence() = %d, want 42", got)
	}

	wb.Clear()
	if got := wb.Count(); got != 0 {
		t.Fatalf("Count() after Clear = %d, want 0", got)
	}
	if got := wb.Size(); got != HeaderSize {
		t.Fatalf("Size() after Clear = %d, want %d", got, HeaderSize)
	}
}

func TestWriteBatchAppend(t *testing.T) {
	dst := New()
	dst.Put([]byte("a"), []byte("1"))

	src := New()
	src.Put([]byte("b"), []byte("2"))
	src.Delete([]byte("c"))

	dst.Append(src)

	if got := dst.Count(); got != 3 {
		t.Fatalf("Count() after Append = %d, want 3", got)
	}

	h := &testHandler{}
	if err := dst.Iterate(h); err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if len(h.puts) != 2 || len(h.deletes) != 1 {
		t.Fatalf("got %d puts and %d deletes, want 2 and 1", len(h.puts), len(h.deletes))
	}
}

func TestWriteBatchClone(t *testing.T) {
	wb := New()
	wb.Put([]byte("k"), []byte("v"))

	clone := wb.Clone()
	clone.Put([]byte("k2"), []byte("v2"))

	if wb.Count() != 1 {
		t.Fatalf("original Count() = %d, want 1 (Clone must not mutate the source)", wb.Count())
	}
	if clone.Count() != 2 {
		t.Fatalf("clone Count() = %d, want 2", clone.Count())
	}
}

func TestWriteBatchCloneInto(t *testing.T) {
	wb := New()
	wb.Put([]byte("k"), []byte("v"))

	buf := make([]byte, 0, 256)
	clone := wb.CloneInto(buf)

	if !bytes.Equal(clone.Data(), wb.Data()) {
		t.Fatalf("CloneInto data = %x, want %x", clone.Data(), wb.Data())
	}

	// Mutating the clone must not affect the source, even though it was
	// built from a buffer the caller owns.
	clone.Put([]byte("k2"), []byte("v2"))
	if wb.Count() != 1 {
		t.Fatalf("original Count() = %d, want 1 (CloneInto must not mutate the source)", wb.Count())
	}
}

func TestWriteBatchNewFromData(t *testing.T) {
	wb := New()
	wb.Put([]byte("k"), []byte("v"))

	roundTripped, err := NewFromData(wb.Data())
	if err != nil {
		t.Fatalf("NewFromData failed: %v", err)
	}
	if roundTripped.Count() != wb.Count() {
		t.Fatalf("round-tripped Count() = %d, want %d", roundTripped.Count(), wb.Count())
	}

	if _, err := NewFromData([]byte{1, 2, 3}); err != ErrTooSmall {
		t.Fatalf("NewFromData with short data: err = %v, want %v", err, ErrTooSmall)
	}
}
