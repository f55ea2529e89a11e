package ridgekv

import (
	"github.com/ridgekv/ridgekv/internal/batch"
	"github.com/ridgekv/ridgekv/internal/engine"
	"github.com/ridgekv/ridgekv/internal/version"
)

// DB is a single embedded key/value store.
type DB struct {
	e *engine.Engine
}

// Open opens or creates the database at path according to opts. If opts
// is nil, DefaultOptions is used.
func Open(path string, opts *Options) (*DB, error) {
	e, err := engine.Open(path, opts.toEngine())
	if err != nil {
		return nil, err
	}
	return &DB{e: e}, nil
}

// Close shuts down the background worker and releases the directory
// lock. Close is idempotent.
func (db *DB) Close() error {
	return db.e.Close()
}

// Get returns the value for key, or (nil, false) if it is absent or
// deleted as of opts.Snapshot (or the latest committed state, if opts is
// nil or its Snapshot is nil).
func (db *DB) Get(opts *ReadOptions, key []byte) ([]byte, bool, error) {
	var snap *engine.Snapshot
	if opts != nil && opts.Snapshot != nil {
		snap = opts.Snapshot.s
	}
	return db.e.Get(key, snap)
}

// Put sets key to value.
func (db *DB) Put(opts *WriteOptions, key, value []byte) error {
	b := batch.New()
	b.Put(key, value)
	return db.Write(opts, b)
}

// Delete removes key. Deleting an absent key is not an error.
func (db *DB) Delete(opts *WriteOptions, key []byte) error {
	b := batch.New()
	b.Delete(key)
	return db.Write(opts, b)
}

// Write atomically applies every operation in b.
func (db *DB) Write(opts *WriteOptions, b *WriteBatch) error {
	sync := opts != nil && opts.Sync
	return db.e.Write(b, sync)
}

// NewSnapshot captures the database's current sequence number as a
// consistent read view. The snapshot must be released with
// ReleaseSnapshot once no longer needed.
func (db *DB) NewSnapshot() *Snapshot {
	return &Snapshot{s: db.e.NewSnapshot()}
}

// ReleaseSnapshot releases s. After this call s must not be used.
func (db *DB) ReleaseSnapshot(s *Snapshot) {
	db.e.ReleaseSnapshot(s.s)
}

// NewIterator returns an Iterator over the whole key space, as of
// opts.Snapshot (or the latest committed state). The caller must Close
// it once done.
func (db *DB) NewIterator(opts *ReadOptions) (*Iterator, error) {
	var snap *engine.Snapshot
	if opts != nil && opts.Snapshot != nil {
		snap = opts.Snapshot.s
	}
	it, release, err := db.e.NewIterator(snap)
	if err != nil {
		return nil, err
	}
	return &Iterator{it: it, release: release}, nil
}

// CompactRange forces compaction of the user key range [begin, end],
// descending level by level. A nil begin or end is unbounded on that
// side; CompactRange(nil, nil) compacts the entire database.
// Pending writes are flushed to an SST before compaction begins.
func (db *DB) CompactRange(begin, end []byte) error {
	if err := db.e.Write(nil, false); err != nil {
		return err
	}
	for level := 0; level < version.MaxNumLevels-1; level++ {
		if err := db.e.CompactRange(level, begin, end); err != nil {
			return err
		}
	}
	return nil
}

// ApproximateSizes estimates, for each [start, end) range, the number of
// bytes of on-disk data whose key range overlaps it.
func (db *DB) ApproximateSizes(ranges [][2][]byte) []uint64 {
	return db.e.ApproximateSizes(ranges)
}

// GetProperty returns the value of a named introspection property (for
// example "ridgekv.stats" or "ridgekv.num-files-at-level0"), or
// ("", false) if name is not recognized.
func (db *DB) GetProperty(name string) (string, bool) {
	return db.e.GetProperty(name)
}
