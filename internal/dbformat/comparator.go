package dbformat

// comparator.go implements key comparison: the total ordering over user
// keys, and the internal-key ordering built on top of it.

import (
	"bytes"

	"github.com/ridgekv/ridgekv/internal/encoding"
)

// Comparator defines a total ordering over user keys.
type Comparator interface {
	// Compare returns a value < 0 if a < b, 0 if a == b, > 0 if a > b.
	Compare(a, b []byte) int

	// Name returns the name of the comparator, recorded in the table
	// properties block so a reopen can detect a mismatched comparator.
	Name() string
}

// BytewiseComparator is the default comparator: lexicographic byte order.
type BytewiseComparator struct{}

// Compare compares two keys lexicographically.
func (BytewiseComparator) Compare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// Name returns the comparator name.
func (BytewiseComparator) Name() string {
	return "leveldb.BytewiseComparator"
}

// UserKeyComparer is a function that compares two user keys. It exists
// alongside Comparator so call sites that only need a compare function
// (the skip list, the merging iterator) don't have to carry an interface
// value around just to call one method.
type UserKeyComparer func(a, b []byte) int

// BytewiseCompare is UserKeyComparer form of BytewiseComparator.
func BytewiseCompare(a, b []byte) int {
	return bytes.Compare(a, b)
}

// InternalKeyComparator orders internal keys: ascending by user key using
// the wrapped comparator, then descending by sequence number, then
// descending by value type, so that for equal user keys the most recent
// record sorts first.
//
// Since sequence and type are packed as (seq << 8 | type), comparing the
// packed trailer in descending order handles both fields at once.
type InternalKeyComparator struct {
	cmp Comparator
}

// NewInternalKeyComparator wraps a user Comparator as an internal-key
// comparator.
func NewInternalKeyComparator(cmp Comparator) *InternalKeyComparator {
	if cmp == nil {
		cmp = BytewiseComparator{}
	}
	return &InternalKeyComparator{cmp: cmp}
}

// DefaultInternalKeyComparator uses bytewise user key ordering.
var DefaultInternalKeyComparator = NewInternalKeyComparator(BytewiseComparator{})

// Name returns the comparator name, including the wrapped user comparator's
// name, so a mismatched user comparator is detectable on reopen.
func (c *InternalKeyComparator) Name() string {
	return c.cmp.Name()
}

// Compare compares two internal keys.
func (c *InternalKeyComparator) Compare(a, b []byte) int {
	userKeyA := ExtractUserKey(a)
	userKeyB := ExtractUserKey(b)
	if userKeyA == nil {
		userKeyA = a
	}
	if userKeyB == nil {
		userKeyB = b
	}

	if cmp := c.cmp.Compare(userKeyA, userKeyB); cmp != 0 {
		return cmp
	}

	if len(a) >= NumInternalBytes && len(b) >= NumInternalBytes {
		trailerA := encoding.DecodeFixed64(a[len(a)-NumInternalBytes:])
		trailerB := encoding.DecodeFixed64(b[len(b)-NumInternalBytes:])
		// Higher trailer (higher seq, then higher type) sorts first.
		if trailerA > trailerB {
			return -1
		}
		if trailerA < trailerB {
			return 1
		}
	}
	return 0
}

// CompareUserKey compares just the user key portion of two internal keys.
func (c *InternalKeyComparator) CompareUserKey(a, b []byte) int {
	userKeyA := ExtractUserKey(a)
	userKeyB := ExtractUserKey(b)
	if userKeyA == nil {
		userKeyA = a
	}
	if userKeyB == nil {
		userKeyB = b
	}
	return c.cmp.Compare(userKeyA, userKeyB)
}

// UserComparator returns the wrapped user comparator.
func (c *InternalKeyComparator) UserComparator() Comparator {
	return c.cmp
}

// CompareInternalKeys compares two internal keys using the default
// bytewise comparator. Most call sites that don't need a custom
// comparator use this directly rather than constructing their own
// InternalKeyComparator.
func CompareInternalKeys(a, b []byte) int {
	return DefaultInternalKeyComparator.Compare(a, b)
}
