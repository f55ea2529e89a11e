package ridgekv

import "github.com/ridgekv/ridgekv/internal/iterator"

// Iterator provides ordered, forward-only iteration over the database as
// of the view it was created with. It is not safe for concurrent use;
// each goroutine iterating should hold its own Iterator. Callers must
// call Close to release the memtables and SST files pinned by it.
type Iterator struct {
	it      *iterator.DBIterator
	release func()
}

// SeekToFirst positions the iterator at the first key.
func (it *Iterator) SeekToFirst() { it.it.SeekToFirst() }

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) { it.it.Seek(target) }

// Next advances to the next key. Valid must be true before calling Next.
func (it *Iterator) Next() { it.it.Next() }

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.it.Valid() }

// Key returns the user key at the current position. The returned slice
// is only valid until the next call to Next or Seek.
func (it *Iterator) Key() []byte { return it.it.Key() }

// Value returns the value at the current position. The returned slice
// is only valid until the next call to Next or Seek.
func (it *Iterator) Value() []byte { return it.it.Value() }

// Error returns any error encountered during iteration.
func (it *Iterator) Error() error { return it.it.Error() }

// Close releases the resources this iterator pinned. After Close, the
// iterator must not be used.
func (it *Iterator) Close() error {
	it.release()
	return nil
}
