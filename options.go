package ridgekv

import (
	"github.com/ridgekv/ridgekv/internal/compression"
	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/engine"
	"github.com/ridgekv/ridgekv/internal/logging"
	"github.com/ridgekv/ridgekv/internal/vfs"
)

// Logger is an alias for the logging.Logger interface, letting callers
// plug in their own implementation.
type Logger = logging.Logger

// Comparator defines the order of user keys in the database. A custom
// comparator's Name must match the one recorded in the manifest at
// create time; reopening with a different name is an error.
type Comparator = dbformat.Comparator

// CompressionType selects the SST block compression algorithm.
type CompressionType = compression.Type

// Compression type constants.
const (
	CompressionNone   = compression.NoCompression
	CompressionSnappy = compression.SnappyCompression
	CompressionLZ4    = compression.LZ4Compression
	CompressionZstd   = compression.ZstdCompression
)

// Options configures Open.
type Options struct {
	// CreateIfMissing causes Open to create the database directory if it
	// does not already exist.
	CreateIfMissing bool

	// ErrorIfExists causes Open to fail if the database directory is
	// already initialized.
	ErrorIfExists bool

	// ParanoidChecks turns on checksum verification of WAL records during
	// recovery and of table blocks read through the table cache. A WAL
	// record whose checksum does not match is skipped and replay goes on;
	// recovery does not fail on detected corruption.
	ParanoidChecks bool

	// FS is the filesystem implementation to use. If nil, the OS
	// filesystem is used.
	FS vfs.FS

	// Comparator defines the order of keys in the database. If nil, a
	// bytewise comparator is used.
	Comparator Comparator

	// WriteBufferSize is the size, in bytes, at which the active
	// memtable rotates and becomes eligible for flush. Default: 4MiB.
	WriteBufferSize uint64

	// MaxOpenFiles bounds the table cache; 10 of these are reserved for
	// non-cache file descriptors (the lock file, the current WAL, the
	// manifest). Default: 1000.
	MaxOpenFiles int

	// BlockSize is the approximate size of data blocks within SST
	// files. Default: 4KiB.
	BlockSize int

	// BlockRestartInterval is how often a restart point is emitted
	// within a data block's prefix-compressed key stream. Default: 16.
	BlockRestartInterval int

	// FilterBitsPerKey is the number of bits per key used for each
	// SST's bloom filter. 0 disables filters. Default: 10.
	FilterBitsPerKey int

	// Compression is the block compression algorithm. Default: None.
	Compression CompressionType

	// Logger receives diagnostic output from flush, compaction, WAL,
	// manifest, and recovery. If nil, a default logger writing to
	// stderr is used.
	Logger Logger
}

// DefaultOptions returns an Options with the documented defaults.
func DefaultOptions() *Options {
	return &Options{
		CreateIfMissing:      true,
		WriteBufferSize:      4 << 20,
		MaxOpenFiles:         1000,
		BlockSize:            4096,
		BlockRestartInterval: 16,
		FilterBitsPerKey:     10,
		Compression:          CompressionNone,
	}
}

func (o *Options) toEngine() engine.Options {
	if o == nil {
		o = DefaultOptions()
	}
	return engine.Options{
		CreateIfMissing:      o.CreateIfMissing,
		ErrorIfExists:        o.ErrorIfExists,
		WriteBufferSize:      o.WriteBufferSize,
		MaxOpenFiles:         o.MaxOpenFiles,
		BlockSize:            o.BlockSize,
		BlockRestartInterval: o.BlockRestartInterval,
		FilterBitsPerKey:     o.FilterBitsPerKey,
		Compression:          byte(o.Compression),
		Comparator:           o.Comparator,
		ParanoidChecks:       o.ParanoidChecks,
		FS:                   o.FS,
		Logger:               o.Logger,
	}
}

// ReadOptions configures Get and NewIterator.
type ReadOptions struct {
	// VerifyChecksums enables block checksum verification on reads.
	VerifyChecksums bool

	// Snapshot pins the read to a consistent point-in-time view. If
	// nil, the most recently committed state is used.
	Snapshot *Snapshot
}

// DefaultReadOptions returns a ReadOptions with the documented defaults.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{VerifyChecksums: true}
}

// WriteOptions configures Put, Delete, and Write.
type WriteOptions struct {
	// Sync causes the write to be fsynced to the WAL before returning,
	// the strongest durability guarantee at the cost of latency.
	Sync bool
}

// DefaultWriteOptions returns a WriteOptions with the documented defaults.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}
