// Package dbformat implements the internal key format shared by the
// memtable, SST files, and the WAL: a user key followed by an 8-byte
// trailer packing a sequence number and a value type.
package dbformat

import (
	"errors"
	"fmt"

	"github.com/ridgekv/ridgekv/internal/encoding"
)

// SequenceNumber is a 56-bit sequence number, stored in the upper 56 bits
// of the 64-bit trailer.
type SequenceNumber uint64

// MaxSequenceNumber is the maximum valid sequence number (2^56 - 1).
const MaxSequenceNumber SequenceNumber = (1 << 56) - 1

// NumInternalBytes is the size of the internal key trailer (sequence + type).
const NumInternalBytes = 8

// ValueType records what kind of record an internal key refers to. It is
// embedded in the on-disk format and must not change.
type ValueType uint8

const (
	// TypeDeletion marks a key as deleted as of its sequence number.
	TypeDeletion ValueType = 0x00
	// TypeValue marks a key as holding a live value.
	TypeValue ValueType = 0x01
)

// ValueTypeForSeek is the type used when constructing a lookup key: the
// largest type value, so that a seek for (userKey, seq) lands before any
// real record at that user key and sequence.
const ValueTypeForSeek = TypeValue

var (
	// ErrKeyTooSmall is returned when an internal key is smaller than the trailer.
	ErrKeyTooSmall = errors.New("dbformat: internal key too small")

	// ErrInvalidValueType is returned when the value type is not recognized.
	ErrInvalidValueType = errors.New("dbformat: invalid value type")
)

// IsValueType reports whether t is a type that may appear in a memtable or
// SST data block (as opposed to only in the WAL framing).
func IsValueType(t ValueType) bool {
	return t == TypeDeletion || t == TypeValue
}

// PackSequenceAndType packs a sequence number and value type into a 64-bit
// value: sequence in the upper 56 bits, type in the lower 8.
func PackSequenceAndType(seq SequenceNumber, t ValueType) uint64 {
	return (uint64(seq) << 8) | uint64(t)
}

// UnpackSequenceAndType extracts the sequence number and value type from a
// packed 64-bit trailer.
func UnpackSequenceAndType(packed uint64) (SequenceNumber, ValueType) {
	return SequenceNumber(packed >> 8), ValueType(packed & 0xFF)
}

// ParsedInternalKey is an internal key split into its three logical fields.
type ParsedInternalKey struct {
	UserKey  []byte
	Sequence SequenceNumber
	Type     ValueType
}

// String returns a human-readable representation.
func (p *ParsedInternalKey) String() string {
	return fmt.Sprintf("{UserKey: %q, Seq: %d, Type: %d}", p.UserKey, p.Sequence, p.Type)
}

// EncodedLength returns the length of the encoded internal key.
func (p *ParsedInternalKey) EncodedLength() int {
	return len(p.UserKey) + NumInternalBytes
}

// AppendInternalKey appends the serialization of key to dst.
func AppendInternalKey(dst []byte, key *ParsedInternalKey) []byte {
	dst = append(dst, key.UserKey...)
	packed := PackSequenceAndType(key.Sequence, key.Type)
	return encoding.AppendFixed64(dst, packed)
}

// ParseInternalKey parses an internal key from data.
func ParseInternalKey(data []byte) (*ParsedInternalKey, error) {
	n := len(data)
	if n < NumInternalBytes {
		return nil, ErrKeyTooSmall
	}

	packed := encoding.DecodeFixed64(data[n-NumInternalBytes:])
	seq, t := UnpackSequenceAndType(packed)

	result := &ParsedInternalKey{
		UserKey:  data[:n-NumInternalBytes],
		Sequence: seq,
		Type:     t,
	}

	if !IsValueType(t) {
		return result, ErrInvalidValueType
	}

	return result, nil
}

// ExtractUserKey returns the user key portion of an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractUserKey(internalKey []byte) []byte {
	if len(internalKey) < NumInternalBytes {
		return nil
	}
	return internalKey[:len(internalKey)-NumInternalBytes]
}

// ExtractValueType returns the value type from an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractValueType(internalKey []byte) ValueType {
	if len(internalKey) < NumInternalBytes {
		return TypeDeletion
	}
	n := len(internalKey)
	packed := encoding.DecodeFixed64(internalKey[n-NumInternalBytes:])
	return ValueType(packed & 0xFF)
}

// ExtractSequenceNumber returns the sequence number from an internal key.
// REQUIRES: len(internalKey) >= NumInternalBytes
func ExtractSequenceNumber(internalKey []byte) SequenceNumber {
	if len(internalKey) < NumInternalBytes {
		return 0
	}
	n := len(internalKey)
	packed := encoding.DecodeFixed64(internalKey[n-NumInternalBytes:])
	return SequenceNumber(packed >> 8)
}

// InternalKey is an encoded internal key stored as a byte slice.
type InternalKey []byte

// NewInternalKey builds an internal key from a user key, sequence number,
// and value type.
func NewInternalKey(userKey []byte, seq SequenceNumber, t ValueType) InternalKey {
	return AppendInternalKey(nil, &ParsedInternalKey{
		UserKey:  userKey,
		Sequence: seq,
		Type:     t,
	})
}

// UserKey returns the user key portion.
func (k InternalKey) UserKey() []byte {
	return ExtractUserKey(k)
}

// Sequence returns the sequence number.
func (k InternalKey) Sequence() SequenceNumber {
	return ExtractSequenceNumber(k)
}

// Type returns the value type.
func (k InternalKey) Type() ValueType {
	return ExtractValueType(k)
}

// Valid reports whether this is a well-formed internal key.
func (k InternalKey) Valid() bool {
	if len(k) < NumInternalBytes {
		return false
	}
	_, err := ParseInternalKey(k)
	return err == nil
}

// Parse returns the parsed internal key.
func (k InternalKey) Parse() (*ParsedInternalKey, error) {
	return ParseInternalKey(k)
}

// LookupKey is the key format passed to Get and to memtable/table seeks: a
// user key paired with a sequence number, encoded as a memtable-style
// length-prefixed internal key so it can be compared directly against
// entries stored in a skip list.
//
// Layout: varint32(internal key length) ‖ user key ‖ 8-byte trailer.
type LookupKey struct {
	// buf holds the full encoding; internalKeyStart marks where the
	// internal key (without the length prefix) begins.
	buf              []byte
	internalKeyStart int
}

// NewLookupKey builds a LookupKey for userKey at the given sequence,
// using ValueTypeForSeek so the lookup key sorts before any real record
// at (userKey, seq).
func NewLookupKey(userKey []byte, seq SequenceNumber) LookupKey {
	internalKeyLen := len(userKey) + NumInternalBytes
	buf := encoding.AppendVarint32(nil, uint32(internalKeyLen))
	internalKeyStart := len(buf)
	buf = append(buf, userKey...)
	buf = encoding.AppendFixed64(buf, PackSequenceAndType(seq, ValueTypeForSeek))
	return LookupKey{buf: buf, internalKeyStart: internalKeyStart}
}

// MemtableKey returns the full length-prefixed encoding, as stored as a
// memtable skip list key.
func (lk LookupKey) MemtableKey() []byte {
	return lk.buf
}

// InternalKey returns the internal key portion (no length prefix).
func (lk LookupKey) InternalKey() []byte {
	return lk.buf[lk.internalKeyStart:]
}

// UserKey returns just the user key portion.
func (lk LookupKey) UserKey() []byte {
	return lk.buf[lk.internalKeyStart : len(lk.buf)-NumInternalBytes]
}

// DebugString returns a debug string representation of the parsed internal key.
func (p *ParsedInternalKey) DebugString() string {
	return fmt.Sprintf("'%s' @ %d : %d", p.UserKey, p.Sequence, p.Type)
}
