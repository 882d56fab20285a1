// Package batch accumulates request log entries in memory and moves full
// batches into the KV store, escalating to the bulk sink once enough entries
// have piled up there.
package batch

import (
	"sync"

	"github.com/ngoyal88/reqlog/pkg/storage"
)

// Buffer is the in-memory batch shared by all requests of one middleware
// instance. Append and the snapshot-and-clear happen under the same lock, so
// each threshold crossing hands its entries to exactly one caller.
type Buffer struct {
	mu      sync.Mutex
	entries []storage.LogEntry
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds e. When the buffer then holds at least threshold entries it is
// cleared and its contents returned with ok=true.
func (b *Buffer) Append(e storage.LogEntry, threshold int) (snapshot []storage.LogEntry, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	bufferedEntries.Set(float64(len(b.entries)))
	if threshold <= 0 || len(b.entries) < threshold {
		return nil, false
	}

	snapshot = b.entries
	b.entries = nil
	bufferedEntries.Set(0)
	return snapshot, true
}

// Drain clears the buffer and returns whatever it held.
func (b *Buffer) Drain() []storage.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.entries
	b.entries = nil
	bufferedEntries.Set(0)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
