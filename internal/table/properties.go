// properties.go implements the table properties block: a small set of
// statistics about the table written once at Finish() time and read back
// by tools and by the version layer when deciding whether to trust a file.
package table

import (
	"github.com/ridgekv/ridgekv/internal/block"
	"github.com/ridgekv/ridgekv/internal/encoding"
)

// Property name constants.
const (
	PropDataSize      = "rocksdb.data.size"
	PropIndexSize     = "rocksdb.index.size"
	PropFilterSize    = "rocksdb.filter.size"
	PropRawKeySize    = "rocksdb.raw.key.size"
	PropRawValueSize  = "rocksdb.raw.value.size"
	PropNumDataBlocks = "rocksdb.num.data.blocks"
	PropNumEntries    = "rocksdb.num.entries"
	PropComparator    = "rocksdb.comparator"
	PropCompression   = "rocksdb.compression"
)

// TableProperties contains metadata about an SST file, collected while it
// was built.
type TableProperties struct {
	DataSize      uint64
	IndexSize     uint64
	FilterSize    uint64
	RawKeySize    uint64
	RawValueSize  uint64
	NumDataBlocks uint64
	NumEntries    uint64

	ComparatorName  string
	CompressionName string

	// UserCollectedProperties holds any property not recognized above, so
	// round-tripping a file written by a newer version doesn't lose data.
	UserCollectedProperties map[string]string
}

// ParsePropertiesBlock parses a properties block into TableProperties.
func ParsePropertiesBlock(data []byte) (*TableProperties, error) {
	blk, err := block.NewBlock(data)
	if err != nil {
		return nil, err
	}

	props := &TableProperties{
		UserCollectedProperties: make(map[string]string),
	}

	iter := blk.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		value := iter.Value()

		if parseUint64Property(props, key, value) {
			continue
		}
		if parseStringProperty(props, key, value) {
			continue
		}
		props.UserCollectedProperties[key] = string(value)
	}

	return props, nil
}

func parseUint64Property(props *TableProperties, key string, value []byte) bool {
	var target *uint64
	switch key {
	case PropDataSize:
		target = &props.DataSize
	case PropIndexSize:
		target = &props.IndexSize
	case PropFilterSize:
		target = &props.FilterSize
	case PropRawKeySize:
		target = &props.RawKeySize
	case PropRawValueSize:
		target = &props.RawValueSize
	case PropNumDataBlocks:
		target = &props.NumDataBlocks
	case PropNumEntries:
		target = &props.NumEntries
	default:
		return false
	}

	v, _, err := encoding.DecodeVarint64(value)
	if err != nil {
		return false
	}
	*target = v
	return true
}

func parseStringProperty(props *TableProperties, key string, value []byte) bool {
	switch key {
	case PropComparator:
		props.ComparatorName = string(value)
	case PropCompression:
		props.CompressionName = string(value)
	default:
		return false
	}
	return true
}
