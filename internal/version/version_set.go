// version_set.go implements the VersionSet which manages all versions.
//
// VersionSet maintains the set of all versions and handles MANIFEST
// file operations. It provides thread-safe access to the current version.
package version

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/filenames"
	"github.com/ridgekv/ridgekv/internal/manifest"
	"github.com/ridgekv/ridgekv/internal/table"
	"github.com/ridgekv/ridgekv/internal/vfs"
	"github.com/ridgekv/ridgekv/internal/wal"
)

// Errors returned by VersionSet operations.
var (
	ErrNotFound           = errors.New("version: not found")
	ErrCorruption         = errors.New("version: corruption")
	ErrInvalidManifest    = errors.New("version: invalid manifest")
	ErrNoCurrentManifest  = errors.New("version: no current manifest")
	ErrManifestTooLarge   = errors.New("version: manifest too large")
	ErrComparatorMismatch = errors.New("version: comparator mismatch")
)

// VersionSetOptions configures the VersionSet.
type VersionSetOptions struct {
	// DBName is the database directory path.
	DBName string

	// FS is the filesystem to use.
	FS vfs.FS

	// MaxManifestFileSize is the maximum size of a MANIFEST file before rotation.
	MaxManifestFileSize uint64

	// NumLevels is the number of levels in the LSM tree.
	NumLevels int

	// Comparator orders user keys. Defaults to dbformat.BytewiseComparator{}.
	Comparator dbformat.Comparator

	// ComparatorName is validated against the comparator name stored in the
	// MANIFEST. If empty, defaults to Comparator.Name().
	ComparatorName string
}

// DefaultVersionSetOptions returns default options.
func DefaultVersionSetOptions(dbname string) VersionSetOptions {
	return VersionSetOptions{
		DBName:              dbname,
		FS:                  vfs.Default(),
		MaxManifestFileSize: 1024 * 1024 * 1024, // 1GB
		NumLevels:           MaxNumLevels,
		Comparator:          dbformat.BytewiseComparator{},
	}
}

// VersionSet manages the set of versions and the MANIFEST file.
type VersionSet struct {
	mu sync.Mutex

	// listMu protects the version linked list (prev/next pointers). It is
	// separate from mu to avoid deadlock when Unref() runs while mu is
	// held, e.g. from inside LogAndApply.
	listMu sync.Mutex

	opts VersionSetOptions

	current       *Version
	dummyVersions Version

	nextFileNumber     uint64
	manifestFileNumber uint64
	lastSequence       uint64
	logNumber          uint64
	prevLogNumber      uint64

	currentVersionNumber uint64

	manifestFile   vfs.WritableFile
	manifestWriter *wal.Writer
}

// NewVersionSet creates a new VersionSet.
func NewVersionSet(opts VersionSetOptions) *VersionSet {
	if opts.Comparator == nil {
		opts.Comparator = dbformat.BytewiseComparator{}
	}
	vs := &VersionSet{
		opts:           opts,
		nextFileNumber: 2, // 1 is reserved for the first MANIFEST
	}
	vs.dummyVersions.prev = &vs.dummyVersions
	vs.dummyVersions.next = &vs.dummyVersions
	return vs
}

// Current returns the current (newest) version. The caller should call
// Ref() on the returned version if they need to keep it.
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current
}

// NextFileNumber allocates a new file number.
func (vs *VersionSet) NextFileNumber() uint64 {
	return atomic.AddUint64(&vs.nextFileNumber, 1) - 1
}

// NextVersionNumber allocates a new version number.
func (vs *VersionSet) NextVersionNumber() uint64 {
	return atomic.AddUint64(&vs.currentVersionNumber, 1)
}

// CurrentVersionNumber returns the current version number.
func (vs *VersionSet) CurrentVersionNumber() uint64 {
	return atomic.LoadUint64(&vs.currentVersionNumber)
}

// NumLiveVersions returns the number of live versions.
func (vs *VersionSet) NumLiveVersions() int {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()

	count := 0
	for v := vs.dummyVersions.next; v != &vs.dummyVersions; v = v.next {
		count++
	}
	return count
}

// GetManifestFileNumber returns the current MANIFEST file number.
func (vs *VersionSet) GetManifestFileNumber() uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.manifestFileNumber
}

// LastSequence returns the last sequence number.
func (vs *VersionSet) LastSequence() uint64 {
	return atomic.LoadUint64(&vs.lastSequence)
}

// SetLastSequence sets the last sequence number.
func (vs *VersionSet) SetLastSequence(seq uint64) {
	atomic.StoreUint64(&vs.lastSequence, seq)
}

// LogNumber returns the current log file number.
func (vs *VersionSet) LogNumber() uint64 {
	return vs.logNumber
}

// ManifestFileNumber returns the current manifest file number.
func (vs *VersionSet) ManifestFileNumber() uint64 {
	return vs.manifestFileNumber
}

// Recover reads the MANIFEST file and recovers the database state.
func (vs *VersionSet) Recover() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	data, err := os.ReadFile(filenames.CurrentFilePath(vs.opts.DBName))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoCurrentManifest
		}
		return err
	}

	manifestName := string(bytes.TrimSpace(data))
	if manifestName == "" {
		return ErrInvalidManifest
	}
	manifestNum, ok := filenames.ParseManifestNumber(manifestName)
	if !ok {
		return ErrInvalidManifest
	}

	manifestPath := filenames.ManifestFilePath(vs.opts.DBName, manifestNum)
	manifestFile, err := vs.opts.FS.Open(manifestPath)
	if err != nil {
		return err
	}
	defer func() { _ = manifestFile.Close() }()

	manifestData, err := io.ReadAll(manifestFile)
	if err != nil {
		return err
	}

	// MANIFEST corruption is always fatal: unlike WAL recovery, which may
	// tolerate a torn last record, we cannot trust partially-decoded
	// metadata, so checksum verification is not optional here.
	builder := NewBuilder(vs, nil)
	reader := wal.NewReader(bytes.NewReader(manifestData), nil, true)

	hasLogNumber := false
	hasNextFileNumber := false
	hasLastSequence := false
	maxFileNumSeen := manifestNum

	for {
		record, err := reader.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("manifest read error: %w", err)
		}

		var edit manifest.VersionEdit
		if err := edit.DecodeFrom(record); err != nil {
			return fmt.Errorf("manifest decode error: %w", err)
		}

		if err := builder.Apply(&edit); err != nil {
			return err
		}

		for _, nf := range edit.NewFiles {
			if num := nf.Meta.FD.FileNumber; num > maxFileNumSeen {
				maxFileNumSeen = num
			}
		}
		if edit.HasLogNumber && edit.LogNumber > maxFileNumSeen {
			maxFileNumSeen = edit.LogNumber
		}
		if edit.HasPrevLogNumber && edit.PrevLogNumber > maxFileNumSeen {
			maxFileNumSeen = edit.PrevLogNumber
		}

		if edit.HasComparator {
			expectedName := vs.opts.ComparatorName
			if expectedName == "" {
				expectedName = vs.opts.Comparator.Name()
			}
			if !comparatorNamesMatch(edit.Comparator, expectedName) {
				return fmt.Errorf("%w: database uses %q, but opening with %q",
					ErrComparatorMismatch, edit.Comparator, expectedName)
			}
		}
		if edit.HasLogNumber {
			hasLogNumber = true
			vs.logNumber = edit.LogNumber
		}
		if edit.HasPrevLogNumber {
			vs.prevLogNumber = edit.PrevLogNumber
		}
		if edit.HasNextFileNumber {
			hasNextFileNumber = true
			atomic.StoreUint64(&vs.nextFileNumber, edit.NextFileNumber)
		}
		if edit.HasLastSequence {
			hasLastSequence = true
			atomic.StoreUint64(&vs.lastSequence, uint64(edit.LastSequence))
		}
	}

	if !hasLogNumber {
		return fmt.Errorf("manifest missing log number")
	}
	if !hasNextFileNumber {
		atomic.StoreUint64(&vs.nextFileNumber, maxFileNumSeen+1)
	}
	if !hasLastSequence {
		return fmt.Errorf("manifest missing last sequence")
	}

	if n := atomic.LoadUint64(&vs.nextFileNumber); n <= maxFileNumSeen {
		atomic.StoreUint64(&vs.nextFileNumber, maxFileNumSeen+1)
	}

	// An orphaned file can exist on disk without a MANIFEST entry if the
	// process crashed between writing an SST and logging it, so the file
	// and sequence-number scans below must run even when the MANIFEST
	// looks complete.
	if maxOnDisk := vs.scanForMaxFileNumber(); maxOnDisk >= atomic.LoadUint64(&vs.nextFileNumber) {
		atomic.StoreUint64(&vs.nextFileNumber, maxOnDisk+1)
	}
	if maxSeqOnDisk := vs.scanForMaxSequenceNumber(); maxSeqOnDisk > atomic.LoadUint64(&vs.lastSequence) {
		atomic.StoreUint64(&vs.lastSequence, maxSeqOnDisk)
	}

	vs.manifestFileNumber = manifestNum
	vs.current = builder.SaveTo(vs)
	vs.current.Ref()
	vs.appendVersion(vs.current)

	return nil
}

// scanForMaxFileNumber scans the database directory for SST, log, and
// MANIFEST files and returns the highest file number found.
func (vs *VersionSet) scanForMaxFileNumber() uint64 {
	entries, err := os.ReadDir(vs.opts.DBName)
	if err != nil {
		return 0
	}

	var maxNum uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var num uint64
		var ok bool
		switch {
		case num, ok = filenames.ParseTableNumber(name); ok:
		case num, ok = filenames.ParseLogNumber(name); ok:
		default:
			num, ok = filenames.ParseManifestNumber(name)
		}
		if ok && num > maxNum {
			maxNum = num
		}
	}
	return maxNum
}

// scanForMaxSequenceNumber scans every SST file in the database directory
// and returns the maximum sequence number found. This guards against
// sequence reuse after a crash: an orphaned SST not yet referenced by the
// MANIFEST may contain sequence numbers beyond LastSequence.
func (vs *VersionSet) scanForMaxSequenceNumber() uint64 {
	entries, err := os.ReadDir(vs.opts.DBName)
	if err != nil {
		return 0
	}

	var maxSeq uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if _, ok := filenames.ParseTableNumber(name); !ok {
			continue
		}

		path := vs.opts.DBName + "/" + name

		file, err := vs.opts.FS.OpenRandomAccess(path)
		if err != nil {
			continue
		}

		reader, err := table.Open(file, table.ReaderOptions{VerifyChecksums: false})
		if err != nil {
			_ = file.Close()
			continue
		}

		iter := reader.NewIterator()
		for iter.SeekToFirst(); iter.Valid(); iter.Next() {
			if seq := dbformat.ExtractSequenceNumber(iter.Key()); uint64(seq) > maxSeq {
				maxSeq = uint64(seq)
			}
		}
		_ = reader.Close()
	}

	return maxSeq
}

// LogAndApply logs a VersionEdit to the MANIFEST and installs the
// resulting version as current.
func (vs *VersionSet) LogAndApply(edit *manifest.VersionEdit) error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	builder := NewBuilder(vs, vs.current)
	if err := builder.Apply(edit); err != nil {
		return err
	}
	newVersion := builder.SaveTo(vs)

	// Persist NextFileNumber with every edit so recovery never reuses a
	// file number.
	edit.HasNextFileNumber = true
	edit.NextFileNumber = atomic.LoadUint64(&vs.nextFileNumber)

	encoded := edit.EncodeTo()

	newManifest := false
	if vs.manifestWriter == nil {
		manifestNum := vs.NextFileNumber()
		manifestPath := filenames.ManifestFilePath(vs.opts.DBName, manifestNum)

		file, err := vs.opts.FS.Create(manifestPath)
		if err != nil {
			return err
		}

		vs.manifestFile = file
		vs.manifestWriter = wal.NewWriter(file)
		vs.manifestFileNumber = manifestNum
		newManifest = true

		snapshotEdit := vs.writeSnapshot()
		if _, err := vs.manifestWriter.AddRecord(snapshotEdit.EncodeTo()); err != nil {
			return err
		}
	}

	if _, err := vs.manifestWriter.AddRecord(encoded); err != nil {
		return err
	}

	// The manifest is synced before CURRENT is rewritten, matching the
	// ordering that keeps a crash window from pointing CURRENT at a
	// MANIFEST that was never made durable.
	if syncer, ok := vs.manifestFile.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return err
		}
	}

	if newManifest {
		if err := vs.setCurrentFile(vs.manifestFileNumber); err != nil {
			return err
		}
	}

	vs.appendVersion(newVersion)
	newVersion.Ref()
	if vs.current != nil {
		vs.current.Unref()
	}
	vs.current = newVersion

	return nil
}

// SyncManifest ensures the MANIFEST file is synced to disk.
func (vs *VersionSet) SyncManifest() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.manifestFile == nil {
		return nil
	}
	if syncer, ok := vs.manifestFile.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// writeSnapshot creates a VersionEdit that captures the current state, so
// a freshly rolled MANIFEST doesn't need every historical edit replayed.
func (vs *VersionSet) writeSnapshot() *manifest.VersionEdit {
	edit := manifest.NewVersionEdit()
	edit.SetComparatorName(vs.opts.Comparator.Name())
	edit.SetLogNumber(vs.logNumber)
	edit.SetNextFileNumber(atomic.LoadUint64(&vs.nextFileNumber))
	edit.SetLastSequence(manifest.SequenceNumber(atomic.LoadUint64(&vs.lastSequence)))

	if vs.current != nil {
		for level := range MaxNumLevels {
			for _, f := range vs.current.files[level] {
				edit.AddFile(level, f)
			}
		}
	}

	return edit
}

// setCurrentFile writes the CURRENT file pointing to the given manifest,
// syncing the temp file and the directory entry for durability.
func (vs *VersionSet) setCurrentFile(manifestNum uint64) error {
	manifestName := filenames.ManifestFileName(manifestNum)
	tempPath := filenames.CurrentFilePath(vs.opts.DBName) + ".tmp"
	currentPath := filenames.CurrentFilePath(vs.opts.DBName)

	content := manifestName + "\n"
	tempFile, err := vs.opts.FS.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create CURRENT.tmp: %w", err)
	}

	if _, err := tempFile.Write([]byte(content)); err != nil {
		_ = tempFile.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("write CURRENT.tmp: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("sync CURRENT.tmp: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("close CURRENT.tmp: %w", err)
	}

	if err := vs.opts.FS.Rename(tempPath, currentPath); err != nil {
		_ = vs.opts.FS.Remove(tempPath)
		return fmt.Errorf("rename CURRENT: %w", err)
	}

	if err := vs.opts.FS.SyncDir(vs.opts.DBName); err != nil {
		return fmt.Errorf("sync dir after CURRENT rename: %w", err)
	}

	return nil
}

// appendVersion adds a version to the linked list.
func (vs *VersionSet) appendVersion(v *Version) {
	vs.listMu.Lock()
	defer vs.listMu.Unlock()
	v.prev = vs.dummyVersions.prev
	v.next = &vs.dummyVersions
	v.prev.next = v
	v.next.prev = v
}

// Create creates a new database with an initial empty version.
func (vs *VersionSet) Create() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	vs.current = NewVersion(vs, vs.NextVersionNumber())
	vs.current.Ref()
	vs.appendVersion(vs.current)

	edit := manifest.NewVersionEdit()
	edit.SetComparatorName(vs.opts.Comparator.Name())
	edit.SetLogNumber(0)
	edit.SetNextFileNumber(atomic.LoadUint64(&vs.nextFileNumber))
	edit.SetLastSequence(0)

	return vs.logAndApplyLocked(edit)
}

// logAndApplyLocked is the internal version of LogAndApply; the caller
// already holds vs.mu.
func (vs *VersionSet) logAndApplyLocked(edit *manifest.VersionEdit) error {
	encoded := edit.EncodeTo()

	if vs.manifestWriter == nil {
		manifestNum := vs.NextFileNumber()
		manifestPath := filenames.ManifestFilePath(vs.opts.DBName, manifestNum)

		file, err := vs.opts.FS.Create(manifestPath)
		if err != nil {
			return err
		}

		vs.manifestFile = file
		vs.manifestWriter = wal.NewWriter(file)
		vs.manifestFileNumber = manifestNum
	}

	if _, err := vs.manifestWriter.AddRecord(encoded); err != nil {
		return err
	}

	if syncer, ok := vs.manifestFile.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return err
		}
	}

	return vs.setCurrentFile(vs.manifestFileNumber)
}

// Close closes the VersionSet and releases resources.
func (vs *VersionSet) Close() error {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.manifestFile != nil {
		if err := vs.manifestFile.Close(); err != nil {
			return err
		}
		vs.manifestFile = nil
		vs.manifestWriter = nil
	}

	return nil
}

// NumLevelFiles returns the number of files at the given level.
func (vs *VersionSet) NumLevelFiles(level int) int {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.current == nil {
		return 0
	}
	return vs.current.NumFiles(level)
}

// NumLevelBytes returns the total size of files at the given level.
func (vs *VersionSet) NumLevelBytes(level int) uint64 {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if vs.current == nil {
		return 0
	}
	return vs.current.NumLevelBytes(level)
}

// comparatorNamesMatch checks if two comparator names are compatible,
// tolerating the historical leveldb/rocksdb naming split for the
// built-in bytewise comparator.
func comparatorNamesMatch(diskName, optName string) bool {
	if diskName == optName {
		return true
	}
	bytewiseNames := map[string]bool{
		"leveldb.BytewiseComparator": true,
		"rocksdb.BytewiseComparator": true,
	}
	return bytewiseNames[diskName] && bytewiseNames[optName]
}
