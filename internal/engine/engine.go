// Package engine implements the database engine: the write queue and
// group-commit path, the single background flush/compaction worker, and
// the read path that probes the memtable, immutable memtable, and the
// current Version in turn. It is the trimmed, non-RocksDB-surfaced
// replacement for a DBImpl that otherwise also carries column families,
// transactions, and TTL/backup/2PC machinery this design does not need.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl.h
//   - db/db_impl/db_impl.cc
//   - db/db_impl/db_impl_compaction_flush.cc
package engine

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"

	"github.com/ridgekv/ridgekv/internal/batch"
	"github.com/ridgekv/ridgekv/internal/compaction"
	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/filenames"
	"github.com/ridgekv/ridgekv/internal/logging"
	"github.com/ridgekv/ridgekv/internal/manifest"
	"github.com/ridgekv/ridgekv/internal/memtable"
	"github.com/ridgekv/ridgekv/internal/table"
	"github.com/ridgekv/ridgekv/internal/version"
	"github.com/ridgekv/ridgekv/internal/vfs"
	"github.com/ridgekv/ridgekv/internal/wal"
)

// L0 compaction triggers.
const (
	l0SlowdownWritesTrigger = 8
	l0StopWritesTrigger     = 12
	maxMemCompactLevel      = 2
)

// Errors returned by engine operations.
var (
	ErrDBExists  = errors.New("engine: database already exists")
	ErrDBMissing = errors.New("engine: database does not exist")
	ErrClosed    = errors.New("engine: database is closed")
)

// Options configures an Engine. See the root package for the public
// Options type this is built from.
type Options struct {
	CreateIfMissing      bool
	ErrorIfExists        bool
	WriteBufferSize      uint64
	MaxOpenFiles         int
	BlockSize            int
	BlockRestartInterval int
	FilterBitsPerKey     int
	Compression          byte // see internal/compression.Type
	Comparator           dbformat.Comparator
	ParanoidChecks       bool
	FS                   vfs.FS
	Logger               logging.Logger
}

// Engine is the concrete database engine.
type Engine struct {
	name string
	opts Options
	fs   vfs.FS
	cmp  dbformat.Comparator
	log  logging.Logger

	lock io.Closer

	versions   *version.VersionSet
	tableCache *table.TableCache
	tableRead  *cacheTableReader
	picker     *compaction.LeveledCompactionPicker

	mu sync.Mutex
	bg *sync.Cond

	mem           *memtable.MemTable
	imm           *memtable.MemTable
	logFile       vfs.WritableFile
	logFileNumber uint64
	logWriter     *wal.Writer
	seq           uint64

	writers *list.List

	pendingOutputs map[uint64]struct{}

	snapshots *snapshotList

	bgScheduled      bool
	backgroundError  error
	shuttingDown     bool
	manualCompaction *manualCompaction
	seekCompactFile  *manifest.FileMetaData
	seekCompactLevel int
	closed           bool
	workCh           chan struct{}
	workerDone       chan struct{}
}

// DefaultOptions returns the default Engine configuration.
func DefaultOptions() Options {
	return Options{
		CreateIfMissing:      true,
		WriteBufferSize:      4 << 20,
		MaxOpenFiles:         1000,
		BlockSize:            4096,
		BlockRestartInterval: 16,
		FilterBitsPerKey:     10,
		Comparator:           dbformat.BytewiseComparator{},
	}
}

// Open opens or creates the database at path.
func Open(path string, opts Options) (*Engine, error) {
	if opts.Comparator == nil {
		opts.Comparator = dbformat.BytewiseComparator{}
	}
	fs := opts.FS
	if fs == nil {
		fs = vfs.Default()
	}
	opts.FS = fs
	opts.Logger = logging.OrDefault(opts.Logger)

	exists := fs.Exists(filenames.CurrentFilePath(path))
	if exists && opts.ErrorIfExists {
		return nil, ErrDBExists
	}
	if !exists && !opts.CreateIfMissing {
		return nil, ErrDBMissing
	}
	if !exists {
		if err := fs.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	lock, err := fs.Lock(filenames.LockFilePath(path))
	if err != nil {
		return nil, fmt.Errorf("acquire db lock: %w", err)
	}

	tableCacheSize := opts.MaxOpenFiles - 10
	if tableCacheSize < 1 {
		tableCacheSize = 1
	}

	e := &Engine{
		name: path,
		opts: opts,
		fs:   fs,
		cmp:  opts.Comparator,
		log:  opts.Logger,
		lock: lock,
		versions: version.NewVersionSet(version.VersionSetOptions{
			DBName:     path,
			FS:         fs,
			NumLevels:  version.MaxNumLevels,
			Comparator: opts.Comparator,
		}),
		tableCache: table.NewTableCache(fs, table.TableCacheOptions{
			MaxOpenFiles:    tableCacheSize,
			VerifyChecksums: opts.ParanoidChecks,
			BlockCacheBytes: table.DefaultTableCacheOptions().BlockCacheBytes,
		}),
		picker:         compaction.DefaultLeveledCompactionPicker(),
		writers:        list.New(),
		pendingOutputs: make(map[uint64]struct{}),
		snapshots:      newSnapshotList(),
		workCh:         make(chan struct{}, 1),
		workerDone:     make(chan struct{}),
	}
	e.bg = sync.NewCond(&e.mu)
	e.tableRead = newCacheTableReader(e.tableCache)

	if exists {
		if err := e.recover(); err != nil {
			_ = lock.Close()
			return nil, err
		}
	} else {
		if err := e.create(); err != nil {
			_ = lock.Close()
			return nil, err
		}
	}

	go e.backgroundWorker()
	e.mu.Lock()
	e.maybeScheduleCompaction()
	e.mu.Unlock()

	return e, nil
}

// create initializes a brand-new database directory.
func (e *Engine) create() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.versions.Create(); err != nil {
		return fmt.Errorf("create version set: %w", err)
	}

	logNum := e.versions.NextFileNumber()
	logFile, err := e.fs.Create(filenames.LogFilePath(e.name, logNum))
	if err != nil {
		return fmt.Errorf("create wal: %w", err)
	}
	e.logFile = logFile
	e.logFileNumber = logNum
	e.logWriter = wal.NewWriter(logFile)
	e.mem = memtable.NewMemTable(e.memtableComparator())
	e.seq = 0

	edit := manifest.NewVersionEdit()
	edit.SetLogNumber(logNum)
	if err := e.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("record wal number: %w", err)
	}

	return nil
}

// recover restores engine state from an existing database directory:
// the manifest is replayed by VersionSet.Recover, then any WAL segment
// at or after the recorded log number is replayed into a fresh memtable.
func (e *Engine) recover() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.versions.Recover(); err != nil {
		return fmt.Errorf("recover manifest: %w", err)
	}
	e.seq = e.versions.LastSequence()

	e.mem = memtable.NewMemTable(e.memtableComparator())
	names, err := e.fs.ListDir(e.name)
	if err != nil {
		return fmt.Errorf("list db dir: %w", err)
	}
	var logs []uint64
	for _, name := range names {
		if num, ok := filenames.ParseLogNumber(name); ok && num >= e.versions.LogNumber() {
			logs = append(logs, num)
		}
	}
	slices.Sort(logs)
	for _, num := range logs {
		if err := e.replayLog(num); err != nil {
			return fmt.Errorf("replay wal: %w", err)
		}
	}
	e.log.Infof("[recovery] replayed log %d, last sequence %d", e.versions.LogNumber(), e.seq)

	logNum := e.versions.NextFileNumber()
	logFile, err := e.fs.Create(filenames.LogFilePath(e.name, logNum))
	if err != nil {
		return fmt.Errorf("create wal: %w", err)
	}
	e.logFile = logFile
	e.logFileNumber = logNum
	e.logWriter = wal.NewWriter(logFile)

	edit := manifest.NewVersionEdit()
	edit.SetLastSequence(manifest.SequenceNumber(e.seq))
	if err := e.versions.LogAndApply(edit); err != nil {
		return fmt.Errorf("record recovery state: %w", err)
	}

	return nil
}

// replayLog replays the WAL segment numbered logNum into e.mem, advancing
// e.seq to the highest sequence number it observes.
func (e *Engine) replayLog(logNum uint64) error {
	path := filenames.LogFilePath(e.name, logNum)
	if !e.fs.Exists(path) {
		return nil
	}
	f, err := e.fs.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	reader := wal.NewReader(readerAdapter{f}, nil, e.opts.ParanoidChecks)
	applier := &memtableApplier{mem: e.mem}

	for {
		record, err := reader.ReadRecord()
		if err != nil {
			break
		}
		b, err := batch.NewFromData(record)
		if err != nil {
			return fmt.Errorf("decode wal record: %w", err)
		}
		applier.seq = b.Sequence()
		if err := b.Iterate(applier); err != nil {
			return fmt.Errorf("replay batch: %w", err)
		}
		last := b.Sequence() + uint64(b.Count()) - 1
		if last > e.seq {
			e.seq = last
		}
	}
	return nil
}

// readerAdapter adapts a vfs.SequentialFile (Read/Close/Skip) to io.Reader.
type readerAdapter struct {
	f vfs.SequentialFile
}

func (r readerAdapter) Read(p []byte) (int, error) { return r.f.Read(p) }

// memtableComparator adapts the engine's dbformat.Comparator to the
// function-typed comparator memtable.MemTable expects.
func (e *Engine) memtableComparator() memtable.Comparator {
	return e.cmp.Compare
}

// Close shuts down the engine: signals the background worker to exit,
// waits for it, and releases the directory lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.shuttingDown = true
	e.closed = true
	e.bg.Broadcast()
	for e.bgScheduled {
		e.bg.Wait()
	}
	e.mu.Unlock()

	close(e.workerDone)
	select {
	case <-e.workCh: // drain any pending signal so the worker goroutine's final select exits promptly
	default:
	}
	return e.finishClose()
}

func (e *Engine) finishClose() error {
	if err := e.versions.Close(); err != nil {
		return err
	}
	if err := e.tableCache.Close(); err != nil {
		return err
	}
	if e.logFile != nil {
		if err := e.logFile.Close(); err != nil {
			return err
		}
	}
	return e.lock.Close()
}

// deleteObsoleteFiles removes SST files that belong to no live Version
// and are not in pendingOutputs, and WAL/MANIFEST files older than the
// ones currently in use. Called with mu held.
func (e *Engine) deleteObsoleteFiles() {
	live := make(map[uint64]struct{})
	for level := 0; level < version.MaxNumLevels; level++ {
		for _, f := range e.versions.Current().Files(level) {
			live[f.FD.FileNumber] = struct{}{}
		}
	}

	entries, err := e.fs.ListDir(e.name)
	if err != nil {
		return
	}
	for _, name := range entries {
		var keep bool
		if num, ok := filenames.ParseTableNumber(name); ok {
			_, pending := e.pendingOutputs[num]
			_, inVersion := live[num]
			keep = pending || inVersion
			if !keep {
				_ = e.fs.Remove(filepath.Join(e.name, name))
			}
			continue
		}
		if num, ok := filenames.ParseLogNumber(name); ok {
			keep = num >= e.versions.LogNumber()
			if !keep {
				_ = e.fs.Remove(filepath.Join(e.name, name))
			}
			continue
		}
		if num, ok := filenames.ParseManifestNumber(name); ok {
			keep = num >= e.versions.ManifestFileNumber()
			if !keep {
				_ = e.fs.Remove(filepath.Join(e.name, name))
			}
			continue
		}
	}
}
