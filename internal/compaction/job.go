// job.go implements CompactionJob, which executes a single compaction:
// merging the input files in internal-key order, dropping shadowed and
// obsolete entries, and writing the result to new output files.
//
// Reference: RocksDB v10.7.5
//   - db/compaction/compaction_job.h
//   - db/compaction/compaction_job.cc
package compaction

import (
	"fmt"
	"path/filepath"

	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/iterator"
	"github.com/ridgekv/ridgekv/internal/manifest"
	"github.com/ridgekv/ridgekv/internal/table"
	"github.com/ridgekv/ridgekv/internal/vfs"
)

// CompactionJob performs a single compaction operation: reads from input
// files, merges them, and writes to new output files.
type CompactionJob struct {
	compaction *Compaction
	dbPath     string
	fs         vfs.FS
	tableCache *table.TableCache

	nextFileNum func() uint64

	// smallestSnapshot bounds what can be dropped: an entry shadowed by a
	// newer revision, or an obsolete deletion, is only safe to drop if its
	// sequence number is <= smallestSnapshot.
	smallestSnapshot dbformat.SequenceNumber

	// grandparents is the set of level OutputLevel+1 files (sorted by
	// smallest key), used only for overlap accounting when deciding where
	// to split output files.
	grandparents               []*manifest.FileMetaData
	maxGrandparentOverlapBytes uint64

	// deeperLevelFiles holds the file lists for every level strictly
	// below the output level, feeding BaseLevelChecker's obsolete-
	// tombstone test.
	deeperLevelFiles [][]*manifest.FileMetaData

	// onTick is invoked periodically during the merge scan, giving the
	// caller a chance to check whether a higher-priority flush appeared;
	// flushes preempt compaction to keep the write path unblocked. The
	// single-background-thread scheduler already flushes before picking
	// a compaction; this hook exists for callers that want to poll for
	// that condition mid-scan instead of only between jobs.
	onTick func()

	builderOptions table.BuilderOptions

	outputFiles []*manifest.FileMetaData
}

// NewCompactionJob creates a new compaction job.
func NewCompactionJob(
	c *Compaction,
	dbPath string,
	fs vfs.FS,
	tableCache *table.TableCache,
	nextFileNum func() uint64,
	smallestSnapshot dbformat.SequenceNumber,
	grandparents []*manifest.FileMetaData,
	maxGrandparentOverlapBytes uint64,
	deeperLevelFiles [][]*manifest.FileMetaData,
) *CompactionJob {
	return &CompactionJob{
		compaction:                 c,
		dbPath:                     dbPath,
		fs:                         fs,
		tableCache:                 tableCache,
		nextFileNum:                nextFileNum,
		smallestSnapshot:           smallestSnapshot,
		grandparents:               grandparents,
		maxGrandparentOverlapBytes: maxGrandparentOverlapBytes,
		deeperLevelFiles:           deeperLevelFiles,
		builderOptions:             table.DefaultBuilderOptions(),
	}
}

// SetOnTick installs a callback invoked periodically during the merge scan.
func (j *CompactionJob) SetOnTick(fn func()) {
	j.onTick = fn
}

// SetBuilderOptions configures the options used to build output SST
// files, overriding the package defaults.
func (j *CompactionJob) SetBuilderOptions(opts table.BuilderOptions) {
	j.builderOptions = opts
}

// Run executes the compaction and returns the output files it produced.
func (j *CompactionJob) Run() ([]*manifest.FileMetaData, error) {
	if j.compaction.IsTrivialMove {
		return j.doTrivialMove()
	}

	iters, release, err := j.createInputIterators()
	if err != nil {
		return nil, fmt.Errorf("create input iterators: %w", err)
	}
	defer release()

	mergingIter := iterator.NewMergingIterator(iters, dbformat.CompareInternalKeys)

	if err := j.processEntries(mergingIter); err != nil {
		return nil, fmt.Errorf("process entries: %w", err)
	}

	return j.outputFiles, nil
}

// doTrivialMove relocates the sole input file to the output level without
// rewriting its data.
func (j *CompactionJob) doTrivialMove() ([]*manifest.FileMetaData, error) {
	for _, input := range j.compaction.Inputs {
		for _, f := range input.Files {
			outputMeta := manifest.NewFileMetaData()
			outputMeta.FD = f.FD
			outputMeta.Smallest = f.Smallest
			outputMeta.Largest = f.Largest
			j.compaction.Edit.AddFile(j.compaction.OutputLevel, outputMeta)
			j.compaction.Edit.DeleteFile(input.Level, f.FD.FileNumber)
		}
	}
	return nil, nil
}

// createInputIterators opens a table iterator per input file. The
// returned release func releases every opened reader back to the cache.
func (j *CompactionJob) createInputIterators() ([]iterator.Iterator, func(), error) {
	var iters []iterator.Iterator
	var opened []uint64

	release := func() {
		for _, fileNum := range opened {
			j.tableCache.Release(fileNum)
		}
	}

	for _, input := range j.compaction.Inputs {
		for _, f := range input.Files {
			path := j.sstPath(f.FD.FileNumber)
			if !j.fs.Exists(path) {
				release()
				return nil, func() {}, fmt.Errorf("input file %d does not exist: %s", f.FD.FileNumber, path)
			}

			reader, err := j.tableCache.Get(f.FD.FileNumber, path)
			if err != nil {
				release()
				return nil, func() {}, fmt.Errorf("get table reader %d: %w", f.FD.FileNumber, err)
			}
			opened = append(opened, f.FD.FileNumber)
			iters = append(iters, reader.NewIterator())
		}
	}

	return iters, release, nil
}

func (j *CompactionJob) sstPath(fileNum uint64) string {
	return filepath.Join(j.dbPath, fmt.Sprintf("%06d.sst", fileNum))
}

// processEntries implements the merge-compaction core loop: for each user
// key, in newest-first order, drop shadowed revisions and obsolete
// deletions, and emit everything else to the current output file,
// splitting to a new file on size or grandparent-overlap limits.
func (j *CompactionJob) processEntries(iter *iterator.MergingIterator) error {
	baseChecker := NewBaseLevelChecker(j.deeperLevelFiles)

	var builder *table.TableBuilder
	var current *compactionOutputFile
	var hasCurrentUserKey bool
	var currentUserKey []byte
	lastSeqForKey := dbformat.MaxSequenceNumber
	grandparentIdx := 0
	var overlappedBytes uint64
	ticks := 0

	iter.SeekToFirst()

	for iter.Valid() {
		if j.onTick != nil {
			ticks++
			if ticks%4096 == 0 {
				j.onTick()
			}
		}

		key := iter.Key()
		value := iter.Value()
		userKey := dbformat.ExtractUserKey(key)
		seq := dbformat.ExtractSequenceNumber(key)
		valueType := dbformat.ExtractValueType(key)

		firstOccurrence := !hasCurrentUserKey || dbformat.DefaultInternalKeyComparator.UserComparator().Compare(userKey, currentUserKey) != 0
		if firstOccurrence {
			currentUserKey = append(currentUserKey[:0], userKey...)
			hasCurrentUserKey = true
			lastSeqForKey = dbformat.MaxSequenceNumber
		}

		drop := false
		if !firstOccurrence && lastSeqForKey <= j.smallestSnapshot {
			// A newer revision of this user key was already emitted at or
			// below the snapshot; this one is shadowed.
			drop = true
		} else if valueType == dbformat.TypeDeletion && seq <= j.smallestSnapshot && baseChecker.IsBaseLevelForKey(userKey) {
			drop = true
		}
		lastSeqForKey = seq

		if drop {
			iter.Next()
			continue
		}

		if builder == nil || j.shouldSplitOutput(current, key, &grandparentIdx, &overlappedBytes) {
			if builder != nil {
				if err := j.finishOutputFile(builder, current); err != nil {
					return err
				}
			}
			var err error
			current, builder, err = j.startOutputFile()
			if err != nil {
				return err
			}
			overlappedBytes = 0
		}

		if err := builder.Add(key, value); err != nil {
			return fmt.Errorf("add to builder: %w", err)
		}
		if current.smallest == nil {
			current.smallest = append([]byte{}, key...)
		}
		current.largest = append(current.largest[:0], key...)

		iter.Next()
	}

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	if builder != nil {
		return j.finishOutputFile(builder, current)
	}
	return nil
}

// shouldSplitOutput reports whether a new output file should start before
// key is added: either the current file has reached its size target, or
// cumulative grandparent overlap since the file began exceeds the limit.
func (j *CompactionJob) shouldSplitOutput(current *compactionOutputFile, key []byte, grandparentIdx *int, overlappedBytes *uint64) bool {
	if current == nil {
		return true
	}
	if current.builderSize() >= j.compaction.MaxOutputFileSize {
		return true
	}

	for *grandparentIdx < len(j.grandparents) {
		g := j.grandparents[*grandparentIdx]
		if dbformat.CompareInternalKeys(key, g.Largest) <= 0 {
			break
		}
		*overlappedBytes += g.FD.FileSize
		*grandparentIdx++
	}
	return *overlappedBytes > j.maxGrandparentOverlapBytes
}

type compactionOutputFile struct {
	fileNumber uint64
	file       vfs.WritableFile
	path       string
	smallest   []byte
	largest    []byte
	builder    *table.TableBuilder
}

func (o *compactionOutputFile) builderSize() uint64 {
	if o.builder == nil {
		return 0
	}
	return o.builder.FileSize()
}

func (j *CompactionJob) startOutputFile() (*compactionOutputFile, *table.TableBuilder, error) {
	fileNum := j.nextFileNum()
	path := j.sstPath(fileNum)

	file, err := j.fs.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create file %s: %w", path, err)
	}

	builder := table.NewTableBuilder(file, j.builderOptions)
	output := &compactionOutputFile{
		fileNumber: fileNum,
		file:       file,
		path:       path,
		builder:    builder,
	}
	return output, builder, nil
}

func (j *CompactionJob) finishOutputFile(builder *table.TableBuilder, output *compactionOutputFile) error {
	if err := builder.Finish(); err != nil {
		_ = output.file.Close()
		return fmt.Errorf("finish builder: %w", err)
	}

	fileSize := builder.FileSize()

	if err := output.file.Sync(); err != nil {
		_ = output.file.Close()
		return fmt.Errorf("sync file: %w", err)
	}
	if err := output.file.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := j.fs.SyncDir(j.dbPath); err != nil {
		return fmt.Errorf("sync directory after compaction SST write: %w", err)
	}

	fileMeta := manifest.NewFileMetaData()
	fileMeta.FD = manifest.FileDescriptor{FileNumber: output.fileNumber, FileSize: fileSize}
	fileMeta.Smallest = output.smallest
	fileMeta.Largest = output.largest

	j.outputFiles = append(j.outputFiles, fileMeta)
	j.compaction.Edit.AddFile(j.compaction.OutputLevel, fileMeta)

	return nil
}
