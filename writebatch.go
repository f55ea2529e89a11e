package ridgekv

import "github.com/ridgekv/ridgekv/internal/batch"

// WriteBatch holds a sequence of Put/Delete operations to be applied
// atomically. A nil *WriteBatch is not valid; use NewWriteBatch.
type WriteBatch = batch.WriteBatch

// NewWriteBatch returns an empty WriteBatch.
func NewWriteBatch() *WriteBatch {
	return batch.New()
}
