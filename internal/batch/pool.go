package batch

// pool.go implements write batch pooling for reduced allocations. The
// engine does not use it: the write-group path takes its backing buffer
// from internal/mempool.

import (
	"sync"
)

// WriteBatchPool manages a pool of WriteBatch objects for reuse.
type WriteBatchPool struct {
	pool sync.Pool

	mu    sync.Mutex
	stats PoolStats
}

// PoolStats tracks pool usage statistics.
type PoolStats struct {
	Gets   uint64
	Hits   uint64
	Misses uint64
	Puts   uint64
}

// DefaultMaxBatchSize is the maximum batch capacity kept in the pool.
// Larger batches are discarded so one giant batch doesn't pin memory for
// every future Get.
const DefaultMaxBatchSize = 4 * 1024 * 1024

// NewWriteBatchPool creates a new WriteBatchPool.
func NewWriteBatchPool() *WriteBatchPool {
	return &WriteBatchPool{
		pool: sync.Pool{
			New: func() any {
				return New()
			},
		},
	}
}

// Get retrieves a cleared WriteBatch from the pool.
func (p *WriteBatchPool) Get() *WriteBatch {
	p.mu.Lock()
	p.stats.Gets++
	p.mu.Unlock()

	wb, ok := p.pool.Get().(*WriteBatch)
	if !ok {
		wb = New()
	}

	p.mu.Lock()
	if cap(wb.data) > HeaderSize {
		p.stats.Hits++
	} else {
		p.stats.Misses++
	}
	p.mu.Unlock()

	wb.Clear()
	return wb
}

// Put returns a WriteBatch to the pool. Batches grown beyond
// DefaultMaxBatchSize are discarded rather than pooled.
func (p *WriteBatchPool) Put(wb *WriteBatch) {
	if wb == nil {
		return
	}
	if cap(wb.data) > DefaultMaxBatchSize {
		return
	}

	p.mu.Lock()
	p.stats.Puts++
	p.mu.Unlock()

	wb.Clear()
	p.pool.Put(wb)
}

// Stats returns a copy of the pool statistics.
func (p *WriteBatchPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
