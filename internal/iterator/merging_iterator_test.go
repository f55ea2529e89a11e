package iterator

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ridgekv/ridgekv/internal/dbformat"
)

// mockIterator is a simple iterator over a slice of key-value pairs.
type mockIterator struct {
	entries []kvEntry
	pos     int
	err     error
}

type kvEntry struct {
	key   []byte
	value []byte
}

func newMockIterator(entries []kvEntry) *mockIterator {
	return &mockIterator{
		entries: entries,
		pos:     -1,
	}
}

func (m *mockIterator) Valid() bool {
	return m.pos >= 0 && m.pos < len(m.entries)
}

func (m *mockIterator) Key() []byte {
	if !m.Valid() {
		return nil
	}
	return m.entries[m.pos].key
}

func (m *mockIterator) Value() []byte {
	if !m.Valid() {
		return nil
	}
	return m.entries[m.pos].value
}

func (m *mockIterator) SeekToFirst() {
	if len(m.entries) > 0 {
		m.pos = 0
	} else {
		m.pos = -1
	}
}

func (m *mockIterator) SeekToLast() {
	if len(m.entries) > 0 {
		m.pos = len(m.entries) - 1
	} else {
		m.pos = -1
	}
}

func (m *mockIterator) Seek(target []byte) {
	for i, e := range m.entries {
		if bytes.Compare(e.key, target) >= 0 {
			m.pos = i
			return
		}
	}
	m.pos = -1
}

func (m *mockIterator) Next() {
	if m.Valid() {
		m.pos++
		if m.pos >= len(m.entries) {
			m.pos = -1
		}
	}
}

func (m *mockIterator) Prev() {
	if m.Valid() {
		m.pos--
		if m.pos < 0 {
			m.pos = -1
		}
	}
}

func (m *mockIterator) Error() error {
	return m.err
}

func bytewiseCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

func TestMergingIteratorEmpty(t *testing.T) {
	mi := NewMergingIterator(nil, bytewiseCompare)
	mi.SeekToFirst()
	if mi.Valid() {
		t.Error("Empty merging iterator should be invalid")
	}
}

func TestMergingIteratorSingleChild(t *testing.T) {
	child := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("1")},
		{[]byte("b"), []byte("2")},
		{[]byte("c"), []byte("3")},
	})

	mi := NewMergingIterator([]Iterator{child}, bytewiseCompare)
	mi.SeekToFirst()

	expected := []string{"a", "b", "c"}
	for i, exp := range expected {
		if !mi.Valid() {
			t.Fatalf("Expected valid at position %d", i)
		}
		if string(mi.Key()) != exp {
			t.Errorf("Key %d = %s, want %s", i, mi.Key(), exp)
		}
		mi.Next()
	}

	if mi.Valid() {
		t.Error("Should be invalid after last entry")
	}
}

func TestMergingIteratorTwoChildren(t *testing.T) {
	child1 := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("1")},
		{[]byte("c"), []byte("3")},
		{[]byte("e"), []byte("5")},
	})
	child2 := newMockIterator([]kvEntry{
		{[]byte("b"), []byte("2")},
		{[]byte("d"), []byte("4")},
		{[]byte("f"), []byte("6")},
	})

	mi := NewMergingIterator([]Iterator{child1, child2}, bytewiseCompare)
	mi.SeekToFirst()

	expected := []string{"a", "b", "c", "d", "e", "f"}
	for i, exp := range expected {
		if !mi.Valid() {
			t.Fatalf("Expected valid at position %d", i)
		}
		if string(mi.Key()) != exp {
			t.Errorf("Key %d = %s, want %s", i, mi.Key(), exp)
		}
		mi.Next()
	}

	if mi.Valid() {
		t.Error("Should be invalid after last entry")
	}
}

func TestMergingIteratorOverlapping(t *testing.T) {
	child1 := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("v1")},
		{[]byte("b"), []byte("v1")},
		{[]byte("c"), []byte("v1")},
	})
	child2 := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("v2")},
		{[]byte("b"), []byte("v2")},
		{[]byte("c"), []byte("v2")},
	})

	mi := NewMergingIterator([]Iterator{child1, child2}, bytewiseCompare)
	mi.SeekToFirst()

	count := 0
	for mi.Valid() {
		count++
		mi.Next()
	}

	if count != 6 {
		t.Errorf("Expected 6 entries, got %d", count)
	}
}

func TestMergingIteratorThreeChildren(t *testing.T) {
	child1 := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("1")},
		{[]byte("d"), []byte("4")},
	})
	child2 := newMockIterator([]kvEntry{
		{[]byte("b"), []byte("2")},
		{[]byte("e"), []byte("5")},
	})
	child3 := newMockIterator([]kvEntry{
		{[]byte("c"), []byte("3")},
		{[]byte("f"), []byte("6")},
	})

	mi := NewMergingIterator([]Iterator{child1, child2, child3}, bytewiseCompare)
	mi.SeekToFirst()

	expected := []string{"a", "b", "c", "d", "e", "f"}
	for i, exp := range expected {
		if !mi.Valid() {
			t.Fatalf("Expected valid at position %d", i)
		}
		if string(mi.Key()) != exp {
			t.Errorf("Key %d = %s, want %s", i, mi.Key(), exp)
		}
		mi.Next()
	}
}

func TestMergingIteratorSeek(t *testing.T) {
	child1 := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("1")},
		{[]byte("c"), []byte("3")},
		{[]byte("e"), []byte("5")},
	})
	child2 := newMockIterator([]kvEntry{
		{[]byte("b"), []byte("2")},
		{[]byte("d"), []byte("4")},
		{[]byte("f"), []byte("6")},
	})

	mi := NewMergingIterator([]Iterator{child1, child2}, bytewiseCompare)

	mi.Seek([]byte("c"))
	if !mi.Valid() || string(mi.Key()) != "c" {
		t.Errorf("Seek(c) = %s, want c", mi.Key())
	}

	mi.Seek([]byte("cc"))
	if !mi.Valid() || string(mi.Key()) != "d" {
		t.Errorf("Seek(cc) = %s, want d", mi.Key())
	}

	mi.Seek([]byte("z"))
	if mi.Valid() {
		t.Error("Seek beyond last should be invalid")
	}

	mi.Seek([]byte(""))
	if !mi.Valid() || string(mi.Key()) != "a" {
		t.Errorf("Seek('') = %s, want a", mi.Key())
	}
}

func TestMergingIteratorSeekToLast(t *testing.T) {
	child1 := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("1")},
		{[]byte("c"), []byte("3")},
	})
	child2 := newMockIterator([]kvEntry{
		{[]byte("b"), []byte("2")},
		{[]byte("d"), []byte("4")},
	})

	mi := NewMergingIterator([]Iterator{child1, child2}, bytewiseCompare)
	mi.SeekToLast()

	if !mi.Valid() || string(mi.Key()) != "d" {
		t.Errorf("SeekToLast = %s, want d", mi.Key())
	}
}

func TestMergingIteratorEmptyChild(t *testing.T) {
	child1 := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("1")},
		{[]byte("c"), []byte("3")},
	})
	child2 := newMockIterator([]kvEntry{})
	child3 := newMockIterator([]kvEntry{
		{[]byte("b"), []byte("2")},
	})

	mi := NewMergingIterator([]Iterator{child1, child2, child3}, bytewiseCompare)
	mi.SeekToFirst()

	expected := []string{"a", "b", "c"}
	for i, exp := range expected {
		if !mi.Valid() {
			t.Fatalf("Expected valid at position %d", i)
		}
		if string(mi.Key()) != exp {
			t.Errorf("Key %d = %s, want %s", i, mi.Key(), exp)
		}
		mi.Next()
	}
}

func TestMergingIteratorManyChildren(t *testing.T) {
	children := make([]Iterator, 10)
	totalEntries := 0
	for i := range 10 {
		entries := make([]kvEntry, 10)
		for j := range 10 {
			key := []byte{byte('0' + i), byte('0' + j)}
			entries[j] = kvEntry{key: key, value: []byte{byte(i*10 + j)}}
			totalEntries++
		}
		children[i] = newMockIterator(entries)
	}

	mi := NewMergingIterator(children, bytewiseCompare)
	mi.SeekToFirst()

	count := 0
	var prevKey []byte
	for mi.Valid() {
		if prevKey != nil && bytes.Compare(prevKey, mi.Key()) > 0 {
			t.Errorf("Keys not in order: %s > %s", prevKey, mi.Key())
		}
		prevKey = append([]byte{}, mi.Key()...)
		count++
		mi.Next()
	}

	if count != totalEntries {
		t.Errorf("Iterated %d entries, want %d", count, totalEntries)
	}
}

func TestMergingIteratorPrev(t *testing.T) {
	child1 := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("1")},
		{[]byte("c"), []byte("3")},
		{[]byte("e"), []byte("5")},
	})
	child2 := newMockIterator([]kvEntry{
		{[]byte("b"), []byte("2")},
		{[]byte("d"), []byte("4")},
	})

	mi := NewMergingIterator([]Iterator{child1, child2}, bytewiseCompare)
	mi.SeekToLast()

	if !mi.Valid() || string(mi.Key()) != "e" {
		t.Errorf("SeekToLast = %s, want e", mi.Key())
	}

	expected := []string{"e", "d", "c", "b", "a"}
	for i, exp := range expected {
		if !mi.Valid() {
			t.Fatalf("Expected valid at position %d", i)
		}
		if string(mi.Key()) != exp {
			t.Errorf("Key %d = %s, want %s", i, mi.Key(), exp)
		}
		mi.Prev()
	}
}

func TestMergingIteratorAllEmptyChildren(t *testing.T) {
	children := []Iterator{
		newMockIterator([]kvEntry{}),
		newMockIterator([]kvEntry{}),
		newMockIterator([]kvEntry{}),
	}

	mi := NewMergingIterator(children, bytewiseCompare)

	mi.SeekToFirst()
	if mi.Valid() {
		t.Error("All empty children should be invalid after SeekToFirst")
	}

	mi.SeekToLast()
	if mi.Valid() {
		t.Error("All empty children should be invalid after SeekToLast")
	}

	mi.Seek([]byte("any"))
	if mi.Valid() {
		t.Error("All empty children should be invalid after Seek")
	}
}

func TestMergingIteratorKeyValueAfterInvalid(t *testing.T) {
	child := newMockIterator([]kvEntry{
		{[]byte("only"), []byte("one")},
	})

	mi := NewMergingIterator([]Iterator{child}, bytewiseCompare)
	mi.SeekToFirst()
	mi.Next()

	if mi.Valid() {
		t.Error("Should be invalid after exhausting entries")
	}
	if mi.Key() != nil {
		t.Errorf("Key() when invalid should be nil, got %s", mi.Key())
	}
	if mi.Value() != nil {
		t.Errorf("Value() when invalid should be nil, got %s", mi.Value())
	}
}

func TestMergingIteratorWithNilComparator(t *testing.T) {
	child := newMockIterator([]kvEntry{
		{[]byte("a"), []byte("1")},
		{[]byte("b"), []byte("2")},
	})

	mi := NewMergingIterator([]Iterator{child}, nil)
	mi.SeekToFirst()

	if !mi.Valid() {
		t.Error("Should be valid with nil comparator")
	}
}

func TestMergingIteratorNilComparatorOrdersBySequenceDescending(t *testing.T) {
	// With comparator == nil, NewMergingIterator defaults to
	// dbformat.CompareInternalKeys: same user key, higher sequence sorts first.
	older := dbformat.NewInternalKey([]byte("k"), 1, dbformat.TypeValue)
	newer := dbformat.NewInternalKey([]byte("k"), 5, dbformat.TypeValue)

	child1 := newMockIterator([]kvEntry{{older, []byte("old")}})
	child2 := newMockIterator([]kvEntry{{newer, []byte("new")}})

	mi := NewMergingIterator([]Iterator{child1, child2}, nil)
	mi.SeekToFirst()

	if !mi.Valid() {
		t.Fatal("expected a valid first entry")
	}
	if !bytes.Equal(mi.Value(), []byte("new")) {
		t.Errorf("first entry value = %q, want %q (higher sequence sorts first)", mi.Value(), "new")
	}
}

// errorIterator is an iterator that always reports an error.
type errorIterator struct {
	err error
}

func (e *errorIterator) Valid() bool        { return false }
func (e *errorIterator) Key() []byte        { return nil }
func (e *errorIterator) Value() []byte      { return nil }
func (e *errorIterator) SeekToFirst()       {}
func (e *errorIterator) SeekToLast()        {}
func (e *errorIterator) Seek(target []byte) {}
func (e *errorIterator) Next()              {}
func (e *errorIterator) Prev()              {}
func (e *errorIterator) Error() error       { return e.err }

func TestMergingIteratorError(t *testing.T) {
	testErr := bytes.ErrTooLarge
	child := &errorIterator{err: testErr}

	mi := NewMergingIterator([]Iterator{child}, bytewiseCompare)
	mi.SeekToFirst()

	if !errors.Is(mi.Error(), testErr) {
		t.Errorf("Error() = %v, want %v", mi.Error(), testErr)
	}
	if mi.Valid() {
		t.Error("Should be invalid on error")
	}
}

func TestMergingIteratorErrorDuringSeek(t *testing.T) {
	testErr := bytes.ErrTooLarge
	child1 := newMockIterator([]kvEntry{{[]byte("a"), []byte("1")}})
	child2 := &errorIterator{err: testErr}

	mi := NewMergingIterator([]Iterator{child1, child2}, bytewiseCompare)
	mi.Seek([]byte("a"))

	if !errors.Is(mi.Error(), testErr) {
		t.Errorf("Error() = %v, want %v", mi.Error(), testErr)
	}
}

func TestMergingIteratorBinaryKeys(t *testing.T) {
	child1 := newMockIterator([]kvEntry{
		{[]byte{0x00, 0x00}, []byte("zero")},
		{[]byte{0x00, 0xFF}, []byte("mixed")},
	})
	child2 := newMockIterator([]kvEntry{
		{[]byte{0x00, 0x80}, []byte("mid")},
		{[]byte{0xFF, 0xFF}, []byte("max")},
	})

	mi := NewMergingIterator([]Iterator{child1, child2}, bytewiseCompare)
	mi.SeekToFirst()

	expected := [][]byte{
		{0x00, 0x00},
		{0x00, 0x80},
		{0x00, 0xFF},
		{0xFF, 0xFF},
	}

	for i, exp := range expected {
		if !mi.Valid() {
			t.Fatalf("Expected valid at position %d", i)
		}
		if !bytes.Equal(mi.Key(), exp) {
			t.Errorf("Key %d = %v, want %v", i, mi.Key(), exp)
		}
		mi.Next()
	}
}
