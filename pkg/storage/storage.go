package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoKV is returned by helpers handed a nil store.
var ErrNoKV = errors.New("storage: no kv store configured")

// KV is the key-value backend batches are parked in between flushes.
type KV interface {
	HasItem(ctx context.Context, key string) (bool, error)
	// GetItem returns (nil, nil) when key is missing.
	GetItem(ctx context.Context, key string) ([]byte, error)
	// SetItem overwrites whatever key held.
	SetItem(ctx context.Context, key string, value []byte) error
	RemoveItem(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LoadEntries decodes the batch stored under key. Missing keys and stored
// nulls both decode to an empty batch.
func LoadEntries(ctx context.Context, kv KV, key string) ([]LogEntry, error) {
	if kv == nil {
		return nil, ErrNoKV
	}
	data, err := kv.GetItem(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	if len(data) == 0 {
		return []LogEntry{}, nil
	}

	var entries []LogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	return entries, nil
}

// EncodeEntries renders entries as a pretty-printed JSON array.
func EncodeEntries(entries []LogEntry) ([]byte, error) {
	if entries == nil {
		entries = []LogEntry{}
	}
	return json.MarshalIndent(entries, "", "  ")
}
