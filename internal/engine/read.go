// read.go implements the read path: point lookups against the memtable,
// immutable memtable, and current Version in turn, and construction of
// a snapshot-aware range iterator over all three.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl.cc (GetImpl)
//   - db/db_iter.cc
package engine

import (
	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/filenames"
	"github.com/ridgekv/ridgekv/internal/iterator"
	"github.com/ridgekv/ridgekv/internal/version"
)

// Get looks up key as of snap (or the latest committed state if snap is
// the zero value / not held). Returns (nil, false, nil) for a missing or
// deleted key.
func (e *Engine) Get(key []byte, snap *Snapshot) ([]byte, bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, false, ErrClosed
	}

	seq := dbformat.SequenceNumber(e.seq)
	if snap != nil {
		seq = snap.sequence
	}

	mem := e.mem
	mem.Ref()
	imm := e.imm
	if imm != nil {
		imm.Ref()
	}
	v := e.versions.Current()
	v.Ref()
	e.mu.Unlock()

	defer mem.Unref()
	if imm != nil {
		defer imm.Unref()
	}
	defer v.Unref()

	if value, found, deleted := mem.Get(key, seq); found {
		return returnLookup(value, deleted)
	}
	if imm != nil {
		if value, found, deleted := imm.Get(key, seq); found {
			return returnLookup(value, deleted)
		}
	}

	result, seekFile, err := v.Get(e.tableRead, e.name, key, seq)
	if err != nil {
		return nil, false, err
	}

	if seekFile != nil {
		e.mu.Lock()
		if !seekFile.BeingCompacted {
			e.seekCompactFile = seekFile
			e.maybeScheduleCompaction()
		}
		e.mu.Unlock()
	}

	if !result.Found || result.Deleted {
		return nil, false, nil
	}
	return result.Value, true, nil
}

func returnLookup(value []byte, deleted bool) ([]byte, bool, error) {
	if deleted {
		return nil, false, nil
	}
	return value, true, nil
}

// NewIterator returns a snapshot-aware iterator over the whole key
// space. The returned release func must be called once the caller is
// done with it to release the pinned Version and memtables.
func (e *Engine) NewIterator(snap *Snapshot) (*iterator.DBIterator, func(), error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, nil, ErrClosed
	}

	seq := dbformat.SequenceNumber(e.seq)
	if snap != nil {
		seq = snap.sequence
	}

	mem := e.mem
	mem.Ref()
	imm := e.imm
	if imm != nil {
		imm.Ref()
	}
	v := e.versions.Current()
	v.Ref()
	e.mu.Unlock()

	tableIters, openedFiles := e.versionIterators(v)

	release := func() {
		mem.Unref()
		if imm != nil {
			imm.Unref()
		}
		for _, fileNum := range openedFiles {
			e.tableCache.Release(fileNum)
		}
		v.Unref()
	}

	children := []iterator.Iterator{mem.NewIterator()}
	if imm != nil {
		children = append(children, imm.NewIterator())
	}
	children = append(children, tableIters...)

	merged := iterator.NewMergingIterator(children, dbformat.CompareInternalKeys)
	return iterator.NewDBIterator(merged, seq, e.cmp.Compare), release, nil
}

// versionIterators opens a table iterator per file across every level of
// v. The caller is responsible for releasing each returned file number
// back to the table cache once the iterators are no longer in use.
func (e *Engine) versionIterators(v *version.Version) ([]iterator.Iterator, []uint64) {
	var iters []iterator.Iterator
	var opened []uint64
	for level := 0; level < version.MaxNumLevels; level++ {
		for _, f := range v.Files(level) {
			path := filenames.TableFilePath(e.name, f.FD.FileNumber)
			reader, err := e.tableCache.Get(f.FD.FileNumber, path)
			if err != nil {
				continue
			}
			opened = append(opened, f.FD.FileNumber)
			iters = append(iters, reader.NewIterator())
		}
	}
	return iters, opened
}
