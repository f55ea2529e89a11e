// Package checksum provides the checksum algorithms used to guard WAL
// records and table blocks against silent corruption.
package checksum

import "github.com/zeebo/xxh3"

// XXH3_64bits computes the 64-bit XXH3 hash of data. Used by the Bloom
// filter (internal/filter) as a general-purpose hash, independent of the
// block-checksum folding below.
func XXH3_64bits(data []byte) uint64 {
	return xxh3.Hash(data)
}

// XXH3Checksum computes the table-block XXH3 checksum: the hash of every
// byte except the last, folded against the last byte separately. Table
// blocks append the block-trailer's compression-type byte after the block
// body, so the checksum is computed this way to cover it without requiring
// a contiguous buffer.
func XXH3Checksum(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	return XXH3ChecksumWithLastByte(data[:len(data)-1], data[len(data)-1])
}

// XXH3ChecksumWithLastByte computes the XXH3 checksum of data followed by
// lastByte, without requiring the two to be contiguous in memory.
func XXH3ChecksumWithLastByte(data []byte, lastByte byte) uint32 {
	h := xxh3.Hash(data)
	v := uint32(h)
	const randomPrime = 0x6b9083d9
	return v ^ (uint32(lastByte) * randomPrime)
}
