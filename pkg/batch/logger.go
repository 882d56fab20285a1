package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ngoyal88/reqlog/pkg/storage"
)

const defaultFlushTimeout = 5 * time.Second

// OutcomeQueued is returned by FlushNow when ctx ends before the flush ran.
// The entries are still flushed in order by the worker.
const OutcomeQueued = "queued"

type flushJob struct {
	fileName string
	entries  []storage.LogEntry
	done     chan Result // nil for background flushes
}

// Logger owns a Buffer and dispatches flushes off the request path. Flushes
// run on a single worker in the order their batches were taken, so stored
// batches always keep completion order.
type Logger struct {
	buf     *Buffer
	flusher *Flusher
	timeout time.Duration

	// guards the snapshot-and-enqueue step and the fields below
	mu       sync.Mutex
	queue    []flushJob
	running  bool
	fileName string // key the buffered entries belong to

	wg sync.WaitGroup
}

// NewLogger returns a Logger flushing through f. Each flush gets timeout to
// finish; zero means 5s.
func NewLogger(f *Flusher, timeout time.Duration) *Logger {
	if timeout <= 0 {
		timeout = defaultFlushTimeout
	}
	return &Logger{
		buf:     NewBuffer(),
		flusher: f,
		timeout: timeout,
	}
}

// Record appends a completed entry. If that fills the batch, a flush of the
// snapshot to fileName is queued and Record returns true.
//
// Entries buffered under a different fileName (the mode changed since they
// were recorded) are queued to their own key first.
func (l *Logger) Record(e storage.LogEntry, threshold int, fileName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.fileName != "" && l.fileName != fileName {
		if old := l.buf.Drain(); len(old) > 0 {
			log.Infof("[reqlog] batch key changed from %s to %s, flushing %d buffered entries", l.fileName, fileName, len(old))
			l.enqueueLocked(flushJob{fileName: l.fileName, entries: old})
		}
	}
	l.fileName = fileName

	snapshot, full := l.buf.Append(e, threshold)
	if !full {
		return false
	}
	l.enqueueLocked(flushJob{fileName: fileName, entries: snapshot})
	return true
}

func (l *Logger) enqueueLocked(job flushJob) {
	l.wg.Add(1)
	l.queue = append(l.queue, job)
	if !l.running {
		l.running = true
		go l.run()
	}
}

func (l *Logger) run() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		job := l.queue[0]
		l.queue[0] = flushJob{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		res := l.flusher.Flush(ctx, job.fileName, job.entries)
		cancel()
		log.Debugf("[reqlog] flushed %d entries to %s: %s", len(job.entries), job.fileName, res.Outcome)

		if job.done != nil {
			job.done <- res
		}
		l.wg.Done()
	}
}

// Wait blocks until every flush queued so far has finished.
func (l *Logger) Wait() {
	l.wg.Wait()
}

// FlushNow drains the buffer and waits for it to be flushed behind any
// flushes already queued. The entries go to the key they were recorded under;
// fileName is used when nothing was recorded yet.
func (l *Logger) FlushNow(ctx context.Context, fileName string) Result {
	l.mu.Lock()
	entries := l.buf.Drain()
	if len(entries) == 0 {
		l.mu.Unlock()
		return Result{Outcome: OutcomeEmpty}
	}
	if l.fileName != "" {
		fileName = l.fileName
	}
	done := make(chan Result, 1)
	l.enqueueLocked(flushJob{fileName: fileName, entries: entries, done: done})
	l.mu.Unlock()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{Outcome: OutcomeQueued, Entries: len(entries)}
	}
}

// Close flushes whatever is still buffered and waits for the queue to empty,
// bounded by ctx. Batches still queued when ctx ends are dropped and counted.
func (l *Logger) Close(ctx context.Context, fileName string) error {
	l.mu.Lock()
	if entries := l.buf.Drain(); len(entries) > 0 {
		if l.fileName != "" {
			fileName = l.fileName
		}
		l.enqueueLocked(flushJob{fileName: fileName, entries: entries})
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	if n := l.dropQueued(ctx.Err()); n > 0 {
		log.Warnf("[reqlog] shutdown timed out, dropped %d unflushed entries", n)
	}
	return ctx.Err()
}

// dropQueued discards every job not yet picked up by the worker and returns
// how many entries they held. A flush already running is left to finish.
func (l *Logger) dropQueued(cause error) int {
	l.mu.Lock()
	jobs := l.queue
	l.queue = nil
	l.mu.Unlock()

	if cause == nil {
		cause = errors.New("logger closed")
	}
	n := 0
	for _, job := range jobs {
		n += len(job.entries)
		if job.done != nil {
			job.done <- Result{Outcome: OutcomeKVError, Entries: len(job.entries), KVErr: cause}
		}
		l.wg.Done()
	}
	droppedEntries.Add(float64(n))
	return n
}

// Buffered reports how many entries wait in memory.
func (l *Logger) Buffered() int {
	return l.buf.Len()
}

// Queued reports how many batches wait for the flush worker.
func (l *Logger) Queued() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Logger) Flusher() *Flusher {
	return l.flusher
}
