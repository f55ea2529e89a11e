package table

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ridgekv/ridgekv/internal/block"
	"github.com/ridgekv/ridgekv/internal/cache"
	"github.com/ridgekv/ridgekv/internal/checksum"
	"github.com/ridgekv/ridgekv/internal/compression"
	"github.com/ridgekv/ridgekv/internal/encoding"
	"github.com/ridgekv/ridgekv/internal/filter"
)

var (
	// ErrInvalidSST indicates the file is not a valid SST file.
	ErrInvalidSST = errors.New("table: invalid SST file")

	// ErrChecksumMismatch indicates a block checksum verification failed.
	ErrChecksumMismatch = errors.New("table: checksum mismatch")

	// ErrBlockNotFound indicates a requested block was not found.
	ErrBlockNotFound = errors.New("table: block not found")
)

// ReadableFile is an interface for reading from an SST file.
type ReadableFile interface {
	io.Closer

	// ReadAt reads len(p) bytes from the file starting at offset.
	ReadAt(p []byte, off int64) (n int, err error)

	// Size returns the total size of the file.
	Size() int64
}

// ReaderOptions controls the behavior of the table reader.
type ReaderOptions struct {
	// VerifyChecksums enables checksum verification for every block read.
	VerifyChecksums bool

	// BlockCache, if non-nil, is consulted and populated for every
	// decoded block this reader loads, keyed by FileNumber and block
	// offset. Shared across readers so that repeated scans over the
	// same table skip re-decompression.
	BlockCache cache.Cache

	// FileNumber identifies this reader's SST file for BlockCache keys.
	FileNumber uint64
}

// Reader reads an SST file in the block-based table format.
type Reader struct {
	file    ReadableFile
	size    int64
	options ReaderOptions

	footer *block.Footer

	propertiesHandle block.Handle
	filterHandle     block.Handle

	indexBlock *block.Block
	properties *TableProperties

	filterReader *filter.BloomFilterReader
}

// Open opens an SST file for reading.
func Open(file ReadableFile, opts ReaderOptions) (*Reader, error) {
	size := file.Size()
	if size < int64(block.EncodedLength) {
		return nil, ErrInvalidSST
	}

	r := &Reader{
		file:    file,
		size:    size,
		options: opts,
	}

	if err := r.readFooter(); err != nil {
		return nil, err
	}
	if err := r.readMetaindex(); err != nil {
		return nil, err
	}
	if err := r.readIndex(); err != nil {
		return nil, err
	}
	if err := r.readFilter(); err != nil {
		// Filter reading failure is not fatal; it only disables the
		// point-lookup skip optimization.
		r.filterReader = nil
	}

	return r, nil
}

func (r *Reader) readFooter() error {
	buf := make([]byte, block.EncodedLength)
	offset := r.size - int64(block.EncodedLength)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return err
	}

	footer, err := block.DecodeFooter(buf)
	if err != nil {
		return err
	}

	r.footer = footer
	return nil
}

func (r *Reader) readMetaindex() error {
	raw, err := r.readBlock(r.footer.MetaindexHandle)
	if err != nil {
		return err
	}
	metaBlock, err := block.NewBlock(raw)
	if err != nil {
		return err
	}

	iter := metaBlock.NewIterator()
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		name := string(iter.Key())
		handle, _, err := block.DecodeHandle(iter.Value())
		if err != nil {
			continue
		}
		switch {
		case name == "rocksdb.properties":
			r.propertiesHandle = handle
		case strings.HasPrefix(name, "filter."):
			r.filterHandle = handle
		}
	}

	return nil
}

func (r *Reader) readIndex() error {
	if r.footer.IndexHandle.IsNull() {
		return ErrBlockNotFound
	}
	raw, err := r.readBlock(r.footer.IndexHandle)
	if err != nil {
		return err
	}
	indexBlock, err := block.NewBlock(raw)
	if err != nil {
		return err
	}
	r.indexBlock = indexBlock
	return nil
}

func (r *Reader) readFilter() error {
	if r.filterHandle.IsNull() {
		return nil
	}

	raw, err := r.readBlock(r.filterHandle)
	if err != nil {
		return err
	}

	r.filterReader = filter.NewBloomFilterReader(raw)
	return nil
}

// KeyMayMatch returns true if the key may be in this SST file. A false
// return means the key is definitely not present.
func (r *Reader) KeyMayMatch(key []byte) bool {
	if r.filterReader == nil {
		return true
	}
	return r.filterReader.MayContain(key)
}

// HasFilter returns true if this table has a Bloom filter.
func (r *Reader) HasFilter() bool {
	return r.filterReader != nil
}

// maxBlockSize bounds how much memory a single corrupted block handle can
// make us allocate.
const maxBlockSize = 256 * 1024 * 1024

// readBlock reads, checksum-verifies, and decompresses the block at handle,
// returning its raw contents. Data/index/metaindex/properties blocks are
// themselves in block.Builder format and must be parsed again with
// block.NewBlock; the filter block is not and is used as-is.
func (r *Reader) readBlock(handle block.Handle) ([]byte, error) {
	if handle.Size > maxBlockSize {
		return nil, fmt.Errorf("block size %d exceeds maximum %d: %w", handle.Size, maxBlockSize, ErrInvalidSST)
	}

	var cacheKey cache.CacheKey
	if r.options.BlockCache != nil {
		cacheKey = cache.CacheKey{FileNumber: r.options.FileNumber, BlockOffset: handle.Offset}
		if h := r.options.BlockCache.Lookup(cacheKey); h != nil {
			blockData := h.Value()
			r.options.BlockCache.Release(h)
			return blockData, nil
		}
	}

	blockData, err := r.readBlockUncached(handle)
	if err != nil {
		return nil, err
	}

	if r.options.BlockCache != nil {
		h := r.options.BlockCache.Insert(cacheKey, blockData, uint64(len(blockData)))
		r.options.BlockCache.Release(h)
	}

	return blockData, nil
}

// readBlockUncached performs the actual read, checksum verification, and
// decompression for a block, bypassing the cache.
func (r *Reader) readBlockUncached(handle block.Handle) ([]byte, error) {
	totalSize := int(handle.Size) + block.BlockTrailerSize
	end := handle.Offset + uint64(totalSize)
	if end < handle.Offset || end > uint64(r.size) {
		return nil, fmt.Errorf("block at offset %d size %d exceeds file size %d: %w",
			handle.Offset, totalSize, r.size, ErrInvalidSST)
	}

	buf := make([]byte, totalSize)
	n, err := r.file.ReadAt(buf, int64(handle.Offset))
	if err != nil {
		return nil, err
	}
	if n < totalSize {
		return nil, ErrInvalidSST
	}

	blockData := buf[:handle.Size]
	compressionType := compression.NoCompression
	trailer := buf[len(buf)-block.BlockTrailerSize:]
	compressionType = compression.Type(trailer[0])

	if r.options.VerifyChecksums {
		storedChecksum := encoding.DecodeFixed32(trailer[1:])
		var computed uint32
		switch r.footer.ChecksumType {
		case block.ChecksumTypeCRC32C:
			computed = checksum.ComputeCRC32CChecksumWithLastByte(blockData, trailer[0])
		case block.ChecksumTypeXXH3:
			computed = checksum.ComputeXXH3ChecksumWithLastByte(blockData, trailer[0])
		default:
			computed = storedChecksum
		}
		if computed != storedChecksum {
			return nil, ErrChecksumMismatch
		}
	}

	if compressionType != compression.NoCompression {
		compressedData := blockData
		expectedSize := 0
		if !compressionHasEmbeddedSize(compressionType) {
			size, prefixLen, err := encoding.DecodeVarint32(compressedData)
			if err != nil {
				return nil, fmt.Errorf("decode compressed block size prefix: %w", err)
			}
			expectedSize = int(size)
			compressedData = compressedData[prefixLen:]
		}

		decompressed, err := compression.DecompressWithSize(compressionType, compressedData, expectedSize)
		if err != nil {
			return nil, fmt.Errorf("decompress block: %w", err)
		}
		blockData = decompressed
	}

	return blockData, nil
}

// NewIterator returns an iterator over the table's key-value pairs. It is
// initially invalid; call SeekToFirst or Seek before use.
func (r *Reader) NewIterator() *TableIterator {
	return &TableIterator{
		reader:    r,
		indexIter: r.indexBlock.NewIterator(),
	}
}

// Close releases resources associated with the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Properties returns the table properties, loading them if necessary.
func (r *Reader) Properties() (*TableProperties, error) {
	if r.properties != nil {
		return r.properties, nil
	}
	if r.propertiesHandle.IsNull() {
		return nil, ErrBlockNotFound
	}

	raw, err := r.readBlock(r.propertiesHandle)
	if err != nil {
		return nil, err
	}

	props, err := ParsePropertiesBlock(raw)
	if err != nil {
		return nil, err
	}

	r.properties = props
	return props, nil
}

// TableIterator iterates over key-value pairs in an SST file, descending
// through the index block to the data blocks it references.
type TableIterator struct {
	reader    *Reader
	indexIter *block.Iterator
	dataBlock *block.Block
	dataIter  *block.Iterator
	err       error
}

// Valid returns true if the iterator is positioned at a valid entry.
func (it *TableIterator) Valid() bool {
	return it.err == nil && it.dataIter != nil && it.dataIter.Valid()
}

// SeekToFirst positions the iterator at the first entry.
func (it *TableIterator) SeekToFirst() {
	it.indexIter.SeekToFirst()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToFirst()
	}
}

// SeekToLast positions the iterator at the last entry.
func (it *TableIterator) SeekToLast() {
	it.indexIter.SeekToLast()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToLast()
	}
}

// Seek positions the iterator at the first entry with key >= target.
func (it *TableIterator) Seek(target []byte) {
	it.indexIter.Seek(target)
	if !it.indexIter.Valid() {
		it.dataIter = nil
		return
	}
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.Seek(target)
	}
}

// Next moves to the next entry.
func (it *TableIterator) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	if !it.dataIter.Valid() {
		it.indexIter.Next()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToFirst()
		}
	}
}

// Prev moves to the previous entry.
func (it *TableIterator) Prev() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Prev()
	if !it.dataIter.Valid() {
		it.indexIter.Prev()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToLast()
		}
	}
}

// Key returns the current key.
func (it *TableIterator) Key() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Key()
}

// Value returns the current value.
func (it *TableIterator) Value() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Value()
}

// Error returns any error encountered during iteration.
func (it *TableIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	if it.dataIter != nil {
		return it.dataIter.Error()
	}
	return nil
}

func (it *TableIterator) loadDataBlock() {
	if !it.indexIter.Valid() {
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	handle, _, err := block.DecodeHandle(it.indexIter.Value())
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	raw, err := it.reader.readBlock(handle)
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	dataBlock, err := block.NewBlock(raw)
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	it.dataBlock = dataBlock
	it.dataIter = dataBlock.NewIterator()
}
