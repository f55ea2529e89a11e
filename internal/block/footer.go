// footer.go implements the fixed-size trailer written at the end of every
// table file: handles to the metaindex and index blocks, the checksum type
// in force for the file's blocks, and a magic number.
package block

import (
	"encoding/binary"
)

// TableMagicNumber identifies a table file written by this package.
const TableMagicNumber uint64 = 0x88e241b785f4cff7

// MagicNumberLength is the length in bytes of the footer's magic number.
const MagicNumberLength = 8

// BlockTrailerSize is the size of the per-block trailer: 1 byte compression
// type + 4 bytes checksum.
const BlockTrailerSize = 5

// EncodedLength is the fixed on-disk size of a footer: checksum type (1) +
// two block handles padded to their max encoding (2*MaxEncodedLength) +
// magic number (8).
const EncodedLength = 1 + 2*MaxEncodedLength + MagicNumberLength

// Footer is the fixed trailer at the end of every table file.
type Footer struct {
	ChecksumType    ChecksumType
	MetaindexHandle Handle
	IndexHandle     Handle
}

// ChecksumType identifies the per-block checksum algorithm used throughout
// a table file. It mirrors internal/checksum.Type but is kept distinct so
// this package's on-disk constants don't shift if that package's internal
// numbering ever does.
type ChecksumType uint8

const (
	ChecksumTypeNone   ChecksumType = 0
	ChecksumTypeCRC32C ChecksumType = 1
	ChecksumTypeXXH3   ChecksumType = 4
)

// EncodeTo appends the footer's encoding to dst.
func (f *Footer) EncodeTo(dst []byte) []byte {
	start := len(dst)
	dst = append(dst, byte(f.ChecksumType))
	dst = f.MetaindexHandle.EncodeTo(dst)
	dst = f.IndexHandle.EncodeTo(dst)

	// Pad the two handles out to a fixed width so the footer has a
	// constant size regardless of how short the varints encoded.
	paddedEnd := start + 1 + 2*MaxEncodedLength
	for len(dst) < paddedEnd {
		dst = append(dst, 0)
	}
	dst = dst[:paddedEnd]

	dst = binary.LittleEndian.AppendUint64(dst, TableMagicNumber)
	return dst
}

// DecodeFooter decodes a footer from the trailing EncodedLength bytes of a
// table file.
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) < EncodedLength {
		return nil, ErrBadBlockFooter
	}
	data = data[len(data)-EncodedLength:]

	magic := binary.LittleEndian.Uint64(data[EncodedLength-MagicNumberLength:])
	if magic != TableMagicNumber {
		return nil, ErrBadBlockFooter
	}

	f := &Footer{ChecksumType: ChecksumType(data[0])}

	rest := data[1 : EncodedLength-MagicNumberLength]
	metaindex, rest, err := DecodeHandle(rest)
	if err != nil {
		return nil, err
	}
	f.MetaindexHandle = metaindex

	index, _, err := DecodeHandle(rest)
	if err != nil {
		return nil, err
	}
	f.IndexHandle = index

	return f, nil
}
