// background.go implements the single background worker: memtable flush
// (compactMemTable), merge-compaction execution, manual compaction
// slicing, and the scheduling glue (maybeScheduleCompaction) that ties
// them to the write path and the read path's seek-compaction signal.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_compaction_flush.cc
//   - db/flush_job.cc, db/compaction/compaction_job.cc
package engine

import (
	"fmt"
	"sync"

	"github.com/ridgekv/ridgekv/internal/compaction"
	"github.com/ridgekv/ridgekv/internal/compression"
	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/filenames"
	"github.com/ridgekv/ridgekv/internal/manifest"
	"github.com/ridgekv/ridgekv/internal/memtable"
	"github.com/ridgekv/ridgekv/internal/table"
	"github.com/ridgekv/ridgekv/internal/version"
)

// manualCompaction describes a pending CompactRange request.
type manualCompaction struct {
	level      int
	begin, end []byte // nil means unbounded
	done       bool
	err        error
	finished   *sync.Cond
}

// maybeScheduleCompaction arranges for the background worker to run if
// there is work to do and none is already scheduled. Called with mu held.
func (e *Engine) maybeScheduleCompaction() {
	if e.bgScheduled || e.shuttingDown || e.closed || e.backgroundError != nil {
		return
	}
	if e.imm == nil && e.manualCompaction == nil && e.seekCompactFile == nil {
		v := e.versions.Current()
		if v == nil || !e.picker.NeedsCompaction(v) {
			return
		}
	}
	e.bgScheduled = true
	select {
	case e.workCh <- struct{}{}:
	default:
	}
}

// backgroundWorker is the single goroutine dedicated to flush and
// compaction. It drains one signal at a time and, per signal, keeps
// doing work (flush, then pick-and-run a compaction) until nothing is
// left, rather than re-queuing a fresh signal for itself to pick up.
func (e *Engine) backgroundWorker() {
	for {
		select {
		case <-e.workerDone:
			return
		case <-e.workCh:
			e.runBackgroundWork()
		}
	}
}

func (e *Engine) runBackgroundWork() {
	e.mu.Lock()
	for {
		if e.shuttingDown || e.backgroundError != nil {
			break
		}

		if e.imm != nil {
			// compactMemTable expects mu held on entry and returns with
			// it held again, releasing it only around the SST write.
			if err := e.compactMemTable(); err != nil {
				e.backgroundError = err
				break
			}
			continue
		}

		c := e.pickCompaction()
		if c == nil {
			break
		}
		c.MarkFilesBeingCompacted(true)
		e.mu.Unlock()
		err := e.runCompaction(c)
		e.mu.Lock()
		c.MarkFilesBeingCompacted(false)
		if err != nil {
			e.backgroundError = err
			break
		}
	}

	e.bgScheduled = false
	e.bg.Broadcast()
	e.mu.Unlock()
}

// pickCompaction chooses the next compaction: a pending manual
// compaction takes priority, then a seek-triggered pick, then the
// picker's normal size-driven choice. Called with mu held.
func (e *Engine) pickCompaction() *compaction.Compaction {
	if mc := e.manualCompaction; mc != nil {
		return e.pickManualCompaction(mc)
	}
	if e.seekCompactFile != nil {
		f := e.seekCompactFile
		level := e.seekCompactLevel
		e.seekCompactFile = nil
		if !f.BeingCompacted {
			if c := e.picker.PickSeekCompaction(e.versions.Current(), level, f); c != nil {
				c.Reason = compaction.CompactionReasonSeekCompaction
				return c
			}
		}
	}
	v := e.versions.Current()
	if !e.picker.NeedsCompaction(v) {
		return nil
	}
	return e.picker.PickCompaction(v)
}

func (e *Engine) pickManualCompaction(mc *manualCompaction) *compaction.Compaction {
	v := e.versions.Current()
	files := v.OverlappingInputs(mc.level, mc.begin, mc.end)
	var available []*manifest.FileMetaData
	for _, f := range files {
		if !f.BeingCompacted {
			available = append(available, f)
		}
	}
	if len(available) == 0 {
		e.finishManualCompaction(nil)
		return nil
	}

	levelInput := &compaction.CompactionInputFiles{Level: mc.level, Files: available}
	nextLevel := mc.level + 1
	var inputs []*compaction.CompactionInputFiles
	inputs = append(inputs, levelInput)
	if mc.level > 0 {
		var smallest, largest []byte
		for _, f := range available {
			if smallest == nil || dbformat.CompareInternalKeys(f.Smallest, smallest) < 0 {
				smallest = f.Smallest
			}
			if largest == nil || dbformat.CompareInternalKeys(f.Largest, largest) > 0 {
				largest = f.Largest
			}
		}
		nextFiles := v.OverlappingInputs(nextLevel, smallest, largest)
		var nextAvailable []*manifest.FileMetaData
		for _, f := range nextFiles {
			if !f.BeingCompacted {
				nextAvailable = append(nextAvailable, f)
			}
		}
		if len(nextAvailable) > 0 {
			inputs = append(inputs, &compaction.CompactionInputFiles{Level: nextLevel, Files: nextAvailable})
		}
	} else {
		nextLevel = 1
	}

	c := compaction.NewCompaction(inputs, nextLevel)
	c.Reason = compaction.CompactionReasonManualCompaction
	return c
}

// finishManualCompaction completes the current manual compaction
// request, recording err and waking the waiting caller. Called with mu
// held (or about to be, from pickManualCompaction with mu held).
func (e *Engine) finishManualCompaction(err error) {
	if e.manualCompaction == nil {
		return
	}
	mc := e.manualCompaction
	mc.done = true
	mc.err = err
	e.manualCompaction = nil
	if mc.finished != nil {
		mc.finished.Broadcast()
	}
}

// compactMemTable flushes the immutable memtable to an L0 (or deeper,
// via pickLevelForMemTableOutput) SST file. Called with mu held;
// releases it during the SST write and again during LogAndApply's
// manifest I/O.
func (e *Engine) compactMemTable() error {
	imm := e.imm
	fileNum := e.versions.NextFileNumber()
	e.pendingOutputs[fileNum] = struct{}{}
	logNumber := e.logFileNumber
	e.mu.Unlock()

	e.log.Infof("[flush] started, output file %d", fileNum)
	meta, err := e.writeMemTableToSST(imm, fileNum)

	e.mu.Lock()
	delete(e.pendingOutputs, fileNum)
	if err != nil {
		e.log.Errorf("[flush] file %d failed: %v", fileNum, err)
		return err
	}

	if meta == nil {
		// Empty memtable; nothing to install.
		e.imm = nil
		e.bg.Broadcast()
		return nil
	}

	level := e.pickLevelForMemTableOutput(meta)

	edit := manifest.NewVersionEdit()
	edit.SetPrevLogNumber(0)
	edit.SetLogNumber(logNumber)
	edit.AddFile(level, meta)

	// LogAndApply does its own manifest create/append/fsync/CURRENT-rename;
	// release mu so a manifest fsync never stalls concurrent readers and
	// writers, then reacquire to install the resulting state below.
	e.mu.Unlock()
	err = e.versions.LogAndApply(edit)
	e.mu.Lock()
	if err != nil {
		return fmt.Errorf("apply flush edit: %w", err)
	}
	e.log.Infof("[flush] file %d installed at level %d, %d bytes", fileNum, level, meta.FD.FileSize)

	e.imm = nil
	e.bg.Broadcast()
	e.deleteObsoleteFiles()
	e.maybeScheduleCompaction()
	return nil
}

// writeMemTableToSST builds an SST file from mem's contents. Returns a
// nil meta (and nil error) if the memtable was empty.
func (e *Engine) writeMemTableToSST(mem *memtable.MemTable, fileNum uint64) (*manifest.FileMetaData, error) {
	path := filenames.TableFilePath(e.name, fileNum)
	file, err := e.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create sst file: %w", err)
	}

	builder := table.NewTableBuilder(file, e.builderOptions())

	iter := mem.NewIterator()
	var smallest, largest []byte
	for iter.SeekToFirst(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if err := builder.Add(key, iter.Value()); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("add to sst: %w", err)
		}
		if smallest == nil {
			smallest = append([]byte{}, key...)
		}
		largest = append(largest[:0], key...)
	}
	if err := iter.Error(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("memtable iteration: %w", err)
	}

	if builder.NumEntries() == 0 {
		_ = file.Close()
		_ = e.fs.Remove(path)
		return nil, nil
	}

	if err := builder.Finish(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("finish sst: %w", err)
	}
	fileSize := builder.FileSize()
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("sync sst: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close sst: %w", err)
	}
	if err := e.fs.SyncDir(e.name); err != nil {
		return nil, fmt.Errorf("sync dir: %w", err)
	}

	meta := manifest.NewFileMetaData()
	meta.FD = manifest.FileDescriptor{FileNumber: fileNum, FileSize: fileSize}
	meta.Smallest = smallest
	meta.Largest = largest
	return meta, nil
}

// pickLevelForMemTableOutput chooses the destination level for a newly
// flushed file, pushing down as far as maxMemCompactLevel while there is
// no user-key overlap with that level and grandparent overlap stays
// bounded. Called with mu held.
func (e *Engine) pickLevelForMemTableOutput(meta *manifest.FileMetaData) int {
	v := e.versions.Current()
	level := 0

	if len(v.OverlappingInputs(0, meta.Smallest, meta.Largest)) > 0 {
		return 0
	}

	for level < maxMemCompactLevel {
		if len(v.OverlappingInputs(level+1, meta.Smallest, meta.Largest)) > 0 {
			break
		}
		grandparents := v.OverlappingInputs(level+2, meta.Smallest, meta.Largest)
		if overlapBytes(grandparents) > maxGrandparentOverlapBytes(e.picker, level+1) {
			break
		}
		level++
	}
	return level
}

func overlapBytes(files []*manifest.FileMetaData) uint64 {
	var total uint64
	for _, f := range files {
		total += f.FD.FileSize
	}
	return total
}

func maxGrandparentOverlapBytes(p *compaction.LeveledCompactionPicker, outputLevel int) uint64 {
	return 10 * targetFileSizeForOutput(p, outputLevel)
}

// runCompaction executes c: a trivial move if c qualifies, otherwise a
// full merge via internal/compaction.CompactionJob. Called with mu
// released.
func (e *Engine) runCompaction(c *compaction.Compaction) error {
	e.mu.Lock()
	c.IsTrivialMove = e.isTrivialMove(c)
	smallestSnapshot := e.smallestSnapshotSequence()
	grandparents := e.versions.Current().OverlappingInputs(c.OutputLevel+1, c.SmallestKey, c.LargestKey)
	var deeper [][]*manifest.FileMetaData
	for level := c.OutputLevel + 2; level < version.MaxNumLevels; level++ {
		deeper = append(deeper, e.versions.Current().Files(level))
	}
	e.mu.Unlock()

	job := compaction.NewCompactionJob(
		c,
		e.name,
		e.fs,
		e.tableCache,
		func() uint64 {
			e.mu.Lock()
			n := e.versions.NextFileNumber()
			e.pendingOutputs[n] = struct{}{}
			e.mu.Unlock()
			return n
		},
		smallestSnapshot,
		grandparents,
		maxGrandparentOverlapBytes(e.picker, c.OutputLevel),
		deeper,
	)
	job.SetBuilderOptions(e.builderOptions())
	job.SetOnTick(func() {
		e.mu.Lock()
		if e.imm != nil {
			e.mu.Unlock()
			_ = e.compactMemTableDuringCompaction()
			return
		}
		e.mu.Unlock()
	})

	if c.IsTrivialMove {
		e.log.Infof("[compact] trivial move, level %d -> %d", c.OutputLevel-1, c.OutputLevel)
	} else {
		e.log.Infof("[compact] started, level %d -> %d, %d input file(s)", c.OutputLevel-1, c.OutputLevel, c.NumInputFiles())
	}
	outputs, err := job.Run()

	e.mu.Lock()

	for _, f := range outputs {
		delete(e.pendingOutputs, f.FD.FileNumber)
	}
	if err != nil {
		e.mu.Unlock()
		e.log.Errorf("[compact] failed: %v", err)
		return err
	}

	if !c.IsTrivialMove {
		c.AddInputDeletions()
	}

	// Release mu across the manifest create/append/fsync/CURRENT-rename
	// the same way compactMemTable does, then reacquire to install state.
	e.mu.Unlock()
	err = e.versions.LogAndApply(c.Edit)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("apply compaction edit: %w", err)
	}
	e.log.Infof("[compact] finished, %d output file(s)", len(outputs))
	e.deleteObsoleteFiles()

	if e.manualCompaction != nil && c.Reason == compaction.CompactionReasonManualCompaction {
		e.advanceManualCompaction(c)
	}

	return nil
}

// compactMemTableDuringCompaction flushes a memtable that appeared while
// a merge compaction's onTick fired, giving flush priority over the
// compaction in progress.
func (e *Engine) compactMemTableDuringCompaction() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.imm == nil {
		return nil
	}
	return e.compactMemTable()
}

// advanceManualCompaction advances the manual compaction's begin cursor
// past the just-compacted range, or completes it if the range is
// exhausted. Called with mu held.
func (e *Engine) advanceManualCompaction(c *compaction.Compaction) {
	mc := e.manualCompaction
	if mc == nil {
		return
	}
	if mc.end != nil && dbformat.DefaultInternalKeyComparator.UserComparator().Compare(c.LargestKey, mc.end) >= 0 {
		e.finishManualCompaction(nil)
		return
	}
	mc.begin = dbformat.ExtractUserKey(c.LargestKey)
	v := e.versions.Current()
	if len(v.OverlappingInputs(mc.level, mc.begin, mc.end)) == 0 {
		e.finishManualCompaction(nil)
	}
}

// isTrivialMove reports whether c can relocate its sole input file
// without rewriting data: a single input file, no output-level overlap,
// and limited L+2 overlap so the relocated file won't immediately force
// an expensive future compaction.
func (e *Engine) isTrivialMove(c *compaction.Compaction) bool {
	if c.NumInputFiles() != 1 || len(c.Inputs) != 1 {
		return false
	}
	grandparentOverlap := overlapBytes(e.versions.Current().OverlappingInputs(c.OutputLevel+1, c.SmallestKey, c.LargestKey))
	return grandparentOverlap <= maxGrandparentOverlapBytes(e.picker, c.OutputLevel)
}

// smallestSnapshotSequence returns the oldest live snapshot's sequence
// number, or the current last sequence if there are no live snapshots.
// Called with mu held.
func (e *Engine) smallestSnapshotSequence() dbformat.SequenceNumber {
	if s := e.snapshots.oldest(); s != nil {
		return s.sequence
	}
	return dbformat.SequenceNumber(e.seq)
}

// builderOptions translates the engine's configured options into the SST
// builder options used for both memtable flush and compaction output.
func (e *Engine) builderOptions() table.BuilderOptions {
	opts := table.DefaultBuilderOptions()
	opts.ComparatorName = e.cmp.Name()
	if e.opts.BlockSize > 0 {
		opts.BlockSize = e.opts.BlockSize
	}
	if e.opts.BlockRestartInterval > 0 {
		opts.BlockRestartInterval = e.opts.BlockRestartInterval
	}
	opts.FilterBitsPerKey = e.opts.FilterBitsPerKey
	opts.Compression = compression.Type(e.opts.Compression)
	return opts
}

func targetFileSizeForOutput(p *compaction.LeveledCompactionPicker, level int) uint64 {
	size := p.TargetFileSizeBase
	for range level {
		size = uint64(float64(size) * p.TargetFileSizeMulti)
	}
	if size == 0 {
		return p.TargetFileSizeBase
	}
	return size
}
