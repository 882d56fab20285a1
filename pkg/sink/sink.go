// Package sink holds the bulk-insert destinations a full batch is handed to
// once it outgrows the KV store.
package sink

import (
	"context"
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/ngoyal88/reqlog/pkg/storage"
)

// Inserter persists a batch of entries. Implementations insert all of them
// or report failure; partial success is reported as failure.
type Inserter interface {
	Insert(ctx context.Context, entries []storage.LogEntry) error
}

// InserterFunc adapts a plain function to Inserter.
type InserterFunc func(ctx context.Context, entries []storage.LogEntry) error

func (f InserterFunc) Insert(ctx context.Context, entries []storage.LogEntry) error {
	return f(ctx, entries)
}

// LogOnly is the placeholder database: it only records the intent.
type LogOnly struct{}

func (LogOnly) Insert(_ context.Context, entries []storage.LogEntry) error {
	log.Infof("[sink] sending %d logs to DB", len(entries))
	return nil
}

// SafeInsert calls in.Insert and turns a panic inside the driver into an error
// so nothing escapes past the sink boundary.
func SafeInsert(ctx context.Context, in Inserter, entries []storage.LogEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("stack", string(debug.Stack())).Errorf("[sink] insert panicked: %v", r)
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return in.Insert(ctx, entries)
}
