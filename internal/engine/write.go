// write.go implements the write path: a FIFO queue of writers, leader
// election, group-commit batching, and makeRoomForWrite's memtable
// rotation / backpressure loop.
//
// Reference: RocksDB v10.7.5
//   - db/db_impl/db_impl_write.cc
//   - db/write_thread.h / write_thread.cc
package engine

import (
	"container/list"
	"sync"
	"time"

	"github.com/ridgekv/ridgekv/internal/batch"
	"github.com/ridgekv/ridgekv/internal/dbformat"
	"github.com/ridgekv/ridgekv/internal/filenames"
	"github.com/ridgekv/ridgekv/internal/memtable"
	"github.com/ridgekv/ridgekv/internal/mempool"
	"github.com/ridgekv/ridgekv/internal/wal"
)

// groupSizeCap is the general cap for a batch group; a leader smaller
// than smallBatchThreshold gets leader.size+smallGroupSlack instead, to
// bound latency amplification for tiny writes.
const (
	groupSizeCap        = 1 << 20
	smallBatchThreshold = 128 << 10
	smallGroupSlack     = 128 << 10
)

// writer is one entry in the write queue.
type writer struct {
	batch *batch.WriteBatch
	fsync bool
	done  bool
	err   error
	cv    *sync.Cond
}

// memtableApplier implements batch.Handler, inserting each operation into
// mem with sequence numbers assigned sequentially starting at seq.
type memtableApplier struct {
	mem *memtable.MemTable
	seq uint64
}

func (a *memtableApplier) Put(key, value []byte) error {
	a.mem.Add(dbformat.SequenceNumber(a.seq), dbformat.TypeValue, key, value)
	a.seq++
	return nil
}

func (a *memtableApplier) Delete(key []byte) error {
	a.mem.Add(dbformat.SequenceNumber(a.seq), dbformat.TypeDeletion, key, nil)
	a.seq++
	return nil
}

// Write submits b for atomic, durable application. A nil b means "wait
// for earlier writes to drain," taking no sequence numbers but still
// able to trigger a memtable rotation via makeRoomForWrite(force=true).
func (e *Engine) Write(b *batch.WriteBatch, fsync bool) error {
	w := &writer{batch: b, fsync: fsync}

	e.mu.Lock()
	w.cv = sync.NewCond(&e.mu)
	elem := e.writers.PushBack(w)

	for e.writers.Front().Value.(*writer) != w && !w.done {
		w.cv.Wait()
	}
	if w.done {
		e.mu.Unlock()
		return w.err
	}

	// w is now the leader.
	force := b == nil
	err := e.makeRoomForWrite(force)

	lastWriter := w
	var group *batch.WriteBatch
	var firstSeq uint64

	if err == nil && b != nil {
		lastWriter, group = e.buildBatchGroup(elem)
		firstSeq = e.seq + 1
		group.SetSequence(firstSeq)
		e.seq += uint64(group.Count())
		defer mempool.GlobalPool.Put(group.Data())
	}

	wantSync := w.fsync
	logWriter := e.logWriter
	mem := e.mem
	e.mu.Unlock()

	if err == nil && group != nil {
		if _, werr := logWriter.AddRecord(group.Data()); werr != nil {
			err = werr
		} else if wantSync {
			err = logWriter.Sync()
		}
		if err == nil {
			err = group.Iterate(&memtableApplier{mem: mem, seq: firstSeq})
		}
	}

	e.mu.Lock()
	if err != nil && b != nil {
		// A WAL append or memtable apply failure breaks the durability
		// invariant for everything after it; latch it so later writers
		// fail fast instead of silently losing data.
		e.backgroundError = err
	}
	e.popWriters(w, lastWriter, err)
	e.mu.Unlock()

	return err
}

// buildBatchGroup walks the write queue starting at leaderElem,
// concatenating consecutive batches into a single group, and returns the
// last writer folded in along with the merged batch. Called with mu held.
func (e *Engine) buildBatchGroup(leaderElem *list.Element) (*writer, *batch.WriteBatch) {
	leader := leaderElem.Value.(*writer)
	group := leader.batch.CloneInto(mempool.GlobalPool.Get(leader.batch.Size()))

	maxSize := uint64(groupSizeCap)
	if uint64(group.Size()) <= smallBatchThreshold {
		maxSize = uint64(group.Size()) + smallGroupSlack
	}

	last := leader
	for elem := leaderElem.Next(); elem != nil; elem = elem.Next() {
		w := elem.Value.(*writer)
		if w.batch == nil {
			break
		}
		if w.fsync && !leader.fsync {
			break
		}
		grown := uint64(group.Size()) + uint64(w.batch.Size()) - batch.HeaderSize
		if grown > maxSize {
			break
		}
		group.Append(w.batch)
		last = w
	}
	return last, group
}

// popWriters removes every writer from the front of the queue through
// lastWriter (inclusive), marking followers done with err and signaling
// them, then signals the new head if one remains. Called with mu held.
func (e *Engine) popWriters(leader, lastWriter *writer, err error) {
	for {
		front := e.writers.Front()
		fw := front.Value.(*writer)
		e.writers.Remove(front)
		if fw != leader {
			fw.err = err
			fw.done = true
			fw.cv.Signal()
		}
		if fw == lastWriter {
			break
		}
	}
	if front := e.writers.Front(); front != nil {
		front.Value.(*writer).cv.Signal()
	}
}

// makeRoomForWrite ensures the active memtable has room for another
// write, rotating to a new memtable/WAL segment if necessary. Called
// with mu held; may release and reacquire it while waiting or sleeping.
func (e *Engine) makeRoomForWrite(force bool) error {
	allowDelay := !force

	for {
		if e.backgroundError != nil {
			return e.backgroundError
		}

		l0Files := e.versions.NumLevelFiles(0)

		if allowDelay && l0Files > l0SlowdownWritesTrigger {
			e.mu.Unlock()
			time.Sleep(time.Millisecond)
			e.mu.Lock()
			allowDelay = false
			continue
		}

		if !force && e.mem.ApproximateMemoryUsage() <= int64(e.opts.WriteBufferSize) {
			return nil
		}

		if e.imm != nil {
			e.bg.Wait()
			continue
		}

		if l0Files >= l0StopWritesTrigger {
			e.bg.Wait()
			continue
		}

		// Rotate: close the current WAL, open a new one, promote the
		// mutable memtable to immutable, and allocate a fresh mutable one.
		newLogNum := e.versions.NextFileNumber()
		newLogFile, err := e.fs.Create(filenames.LogFilePath(e.name, newLogNum))
		if err != nil {
			return err
		}
		if e.logFile != nil {
			_ = e.logFile.Close()
		}
		e.logFile = newLogFile
		e.logFileNumber = newLogNum
		e.logWriter = wal.NewWriter(newLogFile)

		e.imm = e.mem
		e.mem = memtable.NewMemTable(e.memtableComparator())
		force = false
		e.maybeScheduleCompaction()
	}
}

// Put writes a single key/value pair.
func (e *Engine) Put(key, value []byte, fsync bool) error {
	b := batch.New()
	b.Put(key, value)
	return e.Write(b, fsync)
}

// Delete removes key.
func (e *Engine) Delete(key []byte, fsync bool) error {
	b := batch.New()
	b.Delete(key)
	return e.Write(b, fsync)
}
