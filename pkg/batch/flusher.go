package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ngoyal88/reqlog/pkg/sink"
	"github.com/ngoyal88/reqlog/pkg/storage"
)

// DefaultDBBatchSize is how many stored entries trigger a bulk insert.
const DefaultDBBatchSize = 30

// Flush outcomes, also used as metric labels.
const (
	OutcomeStored       = "stored"
	OutcomeInserted     = "inserted"
	OutcomeInsertFailed = "insert_failed"
	OutcomeKVError      = "kv_error"
	OutcomeEmpty        = "empty"
)

// Result describes what one flush did. Errors are reported here instead of
// being returned so callers on the request path have nothing to handle.
type Result struct {
	Outcome   string
	Entries   int // combined batch size
	KVErr     error
	InsertErr error
}

// Failed reports whether any step of the flush went wrong.
func (r Result) Failed() bool {
	return r.KVErr != nil || r.InsertErr != nil
}

type FlusherOptions struct {
	DBBatchSize int
	// KeepOnInsertFailure writes the combined batch back to the KV store when
	// the bulk insert fails, instead of removing it.
	KeepOnInsertFailure bool
}

// Flusher moves batches into the KV store and on to the sink.
type Flusher struct {
	kv   storage.KV
	sink sink.Inserter
	opts FlusherOptions

	// serialises the read-modify-write of stored batches
	mu     sync.Mutex
	errLog *rate.Limiter
}

func NewFlusher(kv storage.KV, in sink.Inserter, opts FlusherOptions) *Flusher {
	if opts.DBBatchSize <= 0 {
		opts.DBBatchSize = DefaultDBBatchSize
	}
	if in == nil {
		in = sink.LogOnly{}
	}
	return &Flusher{
		kv:     kv,
		sink:   in,
		opts:   opts,
		errLog: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Flush prepends whatever is stored under fileName to entries, then either
// hands the lot to the sink (and removes the stored batch) or writes it back.
func (f *Flusher) Flush(ctx context.Context, fileName string, entries []storage.LogEntry) Result {
	f.mu.Lock()
	defer f.mu.Unlock()

	res := f.flush(ctx, fileName, entries)
	flushesTotal.WithLabelValues(res.Outcome).Inc()
	return res
}

func (f *Flusher) flush(ctx context.Context, fileName string, logs []storage.LogEntry) Result {
	log.Debugf("[flush] storing %d batched logs", len(logs))

	exists, err := f.kv.HasItem(ctx, fileName)
	if err != nil {
		return f.kvFailure("has", fileName, len(logs), err)
	}
	if exists {
		log.Debugf("[flush] loading stored logs from %s", fileName)
		old, err := storage.LoadEntries(ctx, f.kv, fileName)
		if err != nil {
			return f.kvFailure("get", fileName, len(logs), err)
		}
		logs = append(old, logs...)
	}

	if len(logs) == 0 {
		return Result{Outcome: OutcomeEmpty}
	}

	if len(logs) >= f.opts.DBBatchSize {
		return f.escalate(ctx, fileName, logs)
	}

	if err := f.store(ctx, fileName, logs); err != nil {
		return f.kvFailure("set", fileName, len(logs), err)
	}
	return Result{Outcome: OutcomeStored, Entries: len(logs)}
}

// escalate sends logs to the sink and clears the stored batch. Unless
// KeepOnInsertFailure is set the stored batch is removed even when the insert
// failed, so those entries only survive in the error log.
func (f *Flusher) escalate(ctx context.Context, fileName string, logs []storage.LogEntry) Result {
	log.Infof("[flush] storing %d logs in db", len(logs))
	res := Result{Outcome: OutcomeInserted, Entries: len(logs)}

	insertBatchSize.Observe(float64(len(logs)))
	if err := sink.SafeInsert(ctx, f.sink, logs); err != nil {
		insertErrors.Inc()
		res.Outcome = OutcomeInsertFailed
		res.InsertErr = err
		f.logError("[flush] error sending %d logs to DB: %v", len(logs), err)

		if f.opts.KeepOnInsertFailure {
			if err := f.store(ctx, fileName, logs); err != nil {
				kvErrors.WithLabelValues("set").Inc()
				droppedEntries.Add(float64(len(logs)))
				res.KVErr = err
				f.logError("[flush] error keeping %d logs in KV: %v", len(logs), err)
			}
			return res
		}
		droppedEntries.Add(float64(len(logs)))
	}

	if err := f.kv.RemoveItem(ctx, fileName); err != nil {
		kvErrors.WithLabelValues("remove").Inc()
		res.KVErr = err
		f.logError("[flush] error removing %s from KV: %v", fileName, err)
	}
	return res
}

func (f *Flusher) store(ctx context.Context, fileName string, logs []storage.LogEntry) error {
	data, err := storage.EncodeEntries(logs)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	log.Debugf("[flush] storing %d logs in KV under %s", len(logs), fileName)
	return f.kv.SetItem(ctx, fileName, data)
}

func (f *Flusher) kvFailure(op, fileName string, n int, err error) Result {
	kvErrors.WithLabelValues(op).Inc()
	droppedEntries.Add(float64(n))
	f.logError("[flush] error flushing %d logs to %s (%s): %v", n, fileName, op, err)
	return Result{Outcome: OutcomeKVError, Entries: n, KVErr: err}
}

// logError throttles error lines so a dead KV store doesn't flood the log.
// Metrics still count every failure.
func (f *Flusher) logError(format string, args ...interface{}) {
	if f.errLog.Allow() {
		log.Errorf(format, args...)
	}
}

// Drain pushes the batch stored under fileName to the sink regardless of its
// size. The stored batch is removed only when the insert succeeds.
func (f *Flusher) Drain(ctx context.Context, fileName string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	logs, err := storage.LoadEntries(ctx, f.kv, fileName)
	if err != nil {
		return 0, err
	}
	if len(logs) == 0 {
		return 0, nil
	}

	if err := sink.SafeInsert(ctx, f.sink, logs); err != nil {
		insertErrors.Inc()
		return 0, fmt.Errorf("draining %s: %w", fileName, err)
	}
	if err := f.kv.RemoveItem(ctx, fileName); err != nil {
		return len(logs), fmt.Errorf("removing %s: %w", fileName, err)
	}
	return len(logs), nil
}

// Pending returns the batch currently stored under fileName.
func (f *Flusher) Pending(ctx context.Context, fileName string) ([]storage.LogEntry, error) {
	return storage.LoadEntries(ctx, f.kv, fileName)
}

// KV exposes the backing store, e.g. for health checks.
func (f *Flusher) KV() storage.KV {
	return f.kv
}
