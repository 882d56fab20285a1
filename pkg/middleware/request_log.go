package middleware

import (
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"

	"github.com/ngoyal88/reqlog/pkg/batch"
	"github.com/ngoyal88/reqlog/pkg/config"
	"github.com/ngoyal88/reqlog/pkg/storage"
)

// ParamsFunc extracts route parameters from a request.
type ParamsFunc func(r *http.Request) map[string]string

// SessionFunc extracts session data from a request.
type SessionFunc func(r *http.Request) map[string]any

type options struct {
	params  ParamsFunc
	session SessionFunc
	now     func() time.Time
}

type Option func(*options)

// WithParams replaces the default gorilla/mux route variable lookup.
func WithParams(fn ParamsFunc) Option {
	return func(o *options) { o.params = fn }
}

// WithSessions replaces the default lookup of data stored by WithSession.
func WithSessions(fn SessionFunc) Option {
	return func(o *options) { o.session = fn }
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// RequestLoggingMiddleware records one storage.LogEntry per request and hands
// completed entries to lg, which batches and flushes them in the background.
// Mode and thresholds are read from cfgStore on every request so hot reloads
// apply immediately. Logging never fails or delays a request.
func RequestLoggingMiddleware(cfgStore *config.Store, lg *batch.Logger, opts ...Option) func(http.Handler) http.Handler {
	o := options{
		params:  mux.Vars,
		session: sessionFromRequest,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if cfgStore == nil || lg == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := cfgStore.Get()
			if cfg == nil || !cfg.Logging.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			st := &entryState{entry: createLogEntry(r, o)}
			ctx := r.Context()
			r = r.WithContext(contextWithEntry(ctx, st))

			if r.Body != nil && r.Body != http.NoBody {
				r.Body = &trackingBody{ReadCloser: r.Body, st: st}
			}
			wrapper := &loggingResponseWrapper{ResponseWriter: w, st: st}

			// Client disconnects surface as a cancelled request context.
			done := make(chan struct{})
			watcherDone := make(chan struct{})
			go func() {
				defer close(watcherDone)
				select {
				case <-ctx.Done():
					st.recordError(fmt.Sprintf("request aborted: %v", ctx.Err()), "")
				case <-done:
				}
			}()

			finish := func() {
				close(done)
				<-watcherDone
				completeEntry(st, wrapper, cfg.Logging, lg, o.now())
			}

			defer func() {
				if p := recover(); p != nil {
					st.recordError(fmt.Sprintf("panic: %v", p), string(debug.Stack()))
					if wrapper.statusCode == 0 {
						wrapper.statusCode = http.StatusInternalServerError
					}
					finish()
					panic(p)
				}
			}()

			next.ServeHTTP(wrapper, r)
			finish()
		})
	}
}

// createLogEntry snapshots the request at the moment it arrives.
func createLogEntry(r *http.Request, o options) storage.LogEntry {
	e := storage.NewLogEntry(o.now())

	e.Method = r.Method
	e.Path = r.URL.Path
	e.URL = r.RequestURI
	if e.URL == "" {
		e.URL = r.URL.RequestURI()
	}
	e.ClientIP = clientIP(r.RemoteAddr)
	e.UserAgent = r.Header.Get("User-Agent")
	e.Referer = r.Header.Get("Referer")
	e.Origin = r.Header.Get("Origin")

	for k, v := range o.params(r) {
		e.Params[k] = v
	}
	for k, v := range o.session(r) {
		e.Sessions[k] = v
	}
	return e
}

// completeEntry is the completion listener: it stamps the response time and
// status, then queues the entry. Exactly one call per request.
func completeEntry(st *entryState, wrapper *loggingResponseWrapper, cfg config.LoggingConfig, lg *batch.Logger, end time.Time) {
	st.mu.Lock()
	st.finished = true
	st.entry.Complete(end)
	st.entry.StatusCode = wrapper.status()
	entry := st.entry
	st.mu.Unlock()

	entriesCaptured.Inc()
	responseTimeMs.Observe(float64(*entry.ResponseTime))

	lg.Record(entry, cfg.KVThreshold(), cfg.FileName())
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func sessionFromRequest(r *http.Request) map[string]any {
	s, _ := SessionFromContext(r.Context())
	return s
}
