package buffer

import (
	"sync"

	"github.com/proxiscan/proxiscan/pkg/types"
)

// Buffer accumulates DetectionRecords between dispatch cycles.
// All methods are safe for concurrent use.
type Buffer struct {
	mu   sync.Mutex
	open []types.DetectionRecord
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Record appends rec to the tail of the open batch.
func (b *Buffer) Record(rec types.DetectionRecord) {
	b.mu.Lock()
	b.open = append(b.open, rec)
	b.mu.Unlock()
}

// SwapAndClear returns the open batch in arrival order and replaces it with
// an empty one. An empty buffer yields a nil slice.
func (b *Buffer) SwapAndClear() []types.DetectionRecord {
	b.mu.Lock()
	batch := b.open
	b.open = nil
	b.mu.Unlock()
	return batch
}

// Len returns the number of records in the open batch.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open)
}
