package middleware

import (
	"context"
	"sync"

	"github.com/ngoyal88/reqlog/pkg/storage"
)

type contextKey string

const sessionContextKey contextKey = "session"
const entryContextKey contextKey = "log_entry"

// WithSession attaches session data for the request logger to pick up.
// Session middleware further up the chain is expected to call it.
func WithSession(ctx context.Context, session map[string]any) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext returns the session stored by WithSession.
func SessionFromContext(ctx context.Context) (map[string]any, bool) {
	s, ok := ctx.Value(sessionContextKey).(map[string]any)
	return s, ok
}

// RecordError attaches err to the request's log entry. Only the first error
// of a request is kept; it reports whether err was recorded.
func RecordError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	st, ok := ctx.Value(entryContextKey).(*entryState)
	if !ok {
		return false
	}
	return st.recordError(err.Error(), errorStack(err))
}

// entryState guards a single request's entry. The disconnect watcher may
// record an error from another goroutine while the handler runs.
type entryState struct {
	mu       sync.Mutex
	entry    storage.LogEntry
	finished bool
}

func (s *entryState) recordError(msg, stack string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	ok := s.entry.SetError(msg, stack)
	if ok {
		requestErrors.Inc()
	}
	return ok
}
