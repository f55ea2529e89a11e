// db_iterator.go implements DBIterator, the snapshot-aware view over a
// MergingIterator: it hides internal-key bookkeeping from callers,
// exposing only user keys and values.
//
// Reference: RocksDB v10.7.5
//   - db/db_iter.h
//   - db/db_iter.cc
package iterator

import (
	"bytes"

	"github.com/ridgekv/ridgekv/internal/dbformat"
)

// DBIterator wraps a MergingIterator (typically merging the active
// memtable, immutable memtables, and the SST files of a Version) and
// applies the three rules that turn a stream of internal keys into a
// view of the database as of a snapshot sequence number:
//
//  1. entries with a sequence number above the snapshot are invisible.
//  2. only the newest visible version of each user key is surfaced.
//  3. a TypeDeletion entry hides the key rather than producing a value.
type DBIterator struct {
	iter       *MergingIterator
	comparator func(a, b []byte) int
	sequence   dbformat.SequenceNumber

	valid bool
	err   error
	key   []byte
	value []byte
}

// NewDBIterator builds a DBIterator over src, bounding visibility to
// entries with sequence number <= sequence. comparator compares user
// keys; if nil, bytewise comparison is used.
func NewDBIterator(src *MergingIterator, sequence dbformat.SequenceNumber, comparator func(a, b []byte) int) *DBIterator {
	if comparator == nil {
		comparator = bytes.Compare
	}
	return &DBIterator{
		iter:       src,
		comparator: comparator,
		sequence:   sequence,
	}
}

// Valid returns true if the iterator is positioned at a visible entry.
func (it *DBIterator) Valid() bool { return it.valid }

// Key returns the user key at the current position.
func (it *DBIterator) Key() []byte { return it.key }

// Value returns the value at the current position.
func (it *DBIterator) Value() []byte { return it.value }

// Error returns any error encountered by this iterator or its source.
func (it *DBIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.iter.Error()
}

// SeekToFirst positions the iterator at the first visible key.
func (it *DBIterator) SeekToFirst() {
	it.iter.SeekToFirst()
	it.findNextUserEntry(false)
}

// Seek positions the iterator at the first visible key >= target.
func (it *DBIterator) Seek(target []byte) {
	lookup := dbformat.NewInternalKey(target, it.sequence, dbformat.ValueTypeForSeek)
	it.iter.Seek(lookup)
	it.findNextUserEntry(false)
}

// Next advances past the current user key to the next visible entry.
func (it *DBIterator) Next() {
	if !it.valid {
		return
	}
	// Skip every remaining internal-key version of the current user key
	// before resuming the forward scan.
	it.iter.Next()
	it.findNextUserEntry(true)
}

// findNextUserEntry scans forward from the iterator's current position
// until it lands on a visible, non-deleted user key, skipping hidden
// versions along the way. skipping, when true, also skips any remaining
// versions of the key the caller just consumed (used by Next).
func (it *DBIterator) findNextUserEntry(skipping bool) {
	it.valid = false
	var skipKey []byte
	if skipping {
		skipKey = append(skipKey, it.key...)
	}

	for it.iter.Valid() {
		ikey := it.iter.Key()
		seq := dbformat.ExtractSequenceNumber(ikey)
		if seq > it.sequence {
			it.iter.Next()
			continue
		}

		userKey := dbformat.ExtractUserKey(ikey)
		valueType := dbformat.ExtractValueType(ikey)

		if skipping && skipKey != nil && it.comparator(userKey, skipKey) == 0 {
			it.iter.Next()
			continue
		}
		skipping = false
		skipKey = nil

		switch valueType {
		case dbformat.TypeDeletion:
			skipKey = append(skipKey[:0], userKey...)
			skipping = true
			it.iter.Next()
		case dbformat.TypeValue:
			it.key = append(it.key[:0], userKey...)
			it.value = append(it.value[:0], it.iter.Value()...)
			it.valid = true
			return
		default:
			it.iter.Next()
		}
	}

	it.key = nil
	it.value = nil
}
