// snapshot.go tracks live snapshots as a doubly linked list ordered by
// creation, so the oldest live snapshot's sequence number (the bound
// past which compaction must not drop a shadowed or deleted entry) is a
// cheap O(1) lookup.
//
// Reference: RocksDB v10.7.5
//   - db/snapshot_impl.h
package engine

import (
	"sync"

	"github.com/ridgekv/ridgekv/internal/dbformat"
)

// Snapshot is a consistent point-in-time read view of the database.
type Snapshot struct {
	list     *snapshotList
	sequence dbformat.SequenceNumber
	prev     *Snapshot
	next     *Snapshot
}

// Sequence returns the sequence number this snapshot was taken at.
func (s *Snapshot) Sequence() dbformat.SequenceNumber { return s.sequence }

// snapshotList is a sentinel-headed doubly linked list of live
// snapshots, ordered oldest-first.
type snapshotList struct {
	mu       sync.Mutex
	sentinel Snapshot
}

func newSnapshotList() *snapshotList {
	l := &snapshotList{}
	l.sentinel.prev = &l.sentinel
	l.sentinel.next = &l.sentinel
	return l
}

func (l *snapshotList) empty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sentinel.next == &l.sentinel
}

func (l *snapshotList) newSnapshot(seq dbformat.SequenceNumber) *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := &Snapshot{list: l, sequence: seq}
	tail := l.sentinel.prev
	s.prev = tail
	s.next = &l.sentinel
	tail.next = s
	l.sentinel.prev = s
	return s
}

func (l *snapshotList) release(s *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s.prev == nil || s.next == nil {
		return
	}
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev = nil
	s.next = nil
}

// oldest returns the oldest live snapshot, or nil if there are none.
func (l *snapshotList) oldest() *Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sentinel.next == &l.sentinel {
		return nil
	}
	return l.sentinel.next
}

// NewSnapshot creates a snapshot pinned at the engine's current sequence.
func (e *Engine) NewSnapshot() *Snapshot {
	e.mu.Lock()
	seq := dbformat.SequenceNumber(e.seq)
	e.mu.Unlock()
	return e.snapshots.newSnapshot(seq)
}

// ReleaseSnapshot releases s. After this call s must not be used.
func (e *Engine) ReleaseSnapshot(s *Snapshot) {
	e.snapshots.release(s)
}
