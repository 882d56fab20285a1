package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	pkgerrors "github.com/pkg/errors"

	"github.com/ngoyal88/reqlog/pkg/batch"
	"github.com/ngoyal88/reqlog/pkg/config"
	"github.com/ngoyal88/reqlog/pkg/storage"
)

type testEnv struct {
	kv *storage.MemoryKV
	lg *batch.Logger
}

func newTestEnv(t *testing.T, logging config.LoggingConfig) (*testEnv, func(http.Handler, ...Option) http.Handler) {
	t.Helper()
	logging.Enabled = true
	kv := storage.NewMemoryKV()
	lg := batch.NewLogger(batch.NewFlusher(kv, nil, batch.FlusherOptions{DBBatchSize: 1000}), time.Second)
	store := config.NewStore(&config.Config{Logging: logging})

	env := &testEnv{kv: kv, lg: lg}
	wrap := func(h http.Handler, opts ...Option) http.Handler {
		return RequestLoggingMiddleware(store, lg, opts...)(h)
	}
	return env, wrap
}

// entries waits for background flushes and returns what landed under key.
func (e *testEnv) entries(t *testing.T, key string) []storage.LogEntry {
	t.Helper()
	e.lg.Wait()
	got, err := storage.LoadEntries(context.Background(), e.kv, key)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestRequestLogging_DevelopmentFlushesEveryThree(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{Mode: "development"})
	h := wrap(okHandler())

	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a", nil))
	}
	env.lg.Wait()
	if ok, _ := env.kv.HasItem(context.Background(), "server.json"); ok {
		t.Fatal("want nothing flushed before the third request")
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a", nil))
	if got := env.entries(t, "server.json"); len(got) != 3 {
		t.Errorf("want 3 entries in server.json, got %d", len(got))
	}
	if env.lg.Buffered() != 0 {
		t.Errorf("want buffer cleared, got %d", env.lg.Buffered())
	}
}

func TestRequestLogging_ProductionUsesLogBatch(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{Mode: "production"})
	h := wrap(okHandler())

	for i := 0; i < 5; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a", nil))
	}
	if got := env.entries(t, "log-batch"); len(got) != 5 {
		t.Errorf("want 5 entries in log-batch, got %d", len(got))
	}
}

func TestRequestLogging_CapturesRequestMetadata(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{Mode: "production", BatchSize: 1})

	// registered through router.Use so mux.Vars is populated
	router := mux.NewRouter()
	router.Handle("/users/{id}", okHandler())
	router.Use(func(next http.Handler) http.Handler { return wrap(next) })

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithSession(r.Context(), map[string]any{"user": "u-42"})
		router.ServeHTTP(w, r.WithContext(ctx))
	})

	req := httptest.NewRequest(http.MethodGet, "/users/7?full=1", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("User-Agent", "curl/8.0")
	req.Header.Set("Referer", "https://example.com/")
	req.Header.Set("Origin", "https://example.com")
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := env.entries(t, "log-batch")
	if len(got) != 1 {
		t.Fatalf("want 1 entry, got %d", len(got))
	}
	e := got[0]

	checks := map[string][2]string{
		"method":    {http.MethodGet, e.Method},
		"path":      {"/users/7", e.Path},
		"url":       {"/users/7?full=1", e.URL},
		"clientIP":  {"10.1.2.3", e.ClientIP},
		"userAgent": {"curl/8.0", e.UserAgent},
		"referer":   {"https://example.com/", e.Referer},
		"origin":    {"https://example.com", e.Origin},
		"param id":  {"7", e.Params["id"]},
	}
	for name, c := range checks {
		if c[0] != c[1] {
			t.Errorf("%s: want %q, got %q", name, c[0], c[1])
		}
	}
	if e.Sessions["user"] != "u-42" {
		t.Errorf("want session user u-42, got %v", e.Sessions)
	}
	if e.StatusCode != http.StatusOK {
		t.Errorf("want status 200, got %d", e.StatusCode)
	}
	if e.Error != nil {
		t.Errorf("want no error, got %q", *e.Error)
	}
	if e.ResponseTime == nil || *e.ResponseTime < 0 {
		t.Errorf("want non-negative responseTime, got %v", e.ResponseTime)
	}
}

func TestRequestLogging_StatusCode(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{BatchSize: 2})
	h := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/silent", nil))

	got := env.entries(t, "log-batch")
	if len(got) != 2 {
		t.Fatalf("want 2 entries, got %d", len(got))
	}
	if got[0].StatusCode != http.StatusNotFound {
		t.Errorf("want 404, got %d", got[0].StatusCode)
	}
	if got[1].StatusCode != http.StatusOK {
		t.Errorf("want 200 for handler that never writes, got %d", got[1].StatusCode)
	}
}

func TestRequestLogging_ResponseTime(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{BatchSize: 1})

	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur := now
		now = now.Add(25 * time.Millisecond)
		return cur
	}

	h := wrap(okHandler(), withClock(clock))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	got := env.entries(t, "log-batch")
	if len(got) != 1 || got[0].ResponseTime == nil {
		t.Fatalf("want one completed entry, got %+v", got)
	}
	if *got[0].ResponseTime != 25 {
		t.Errorf("want responseTime 25ms, got %d", *got[0].ResponseTime)
	}
	if got[0].Timestamp != "2024-01-01T00:00:00.000Z" {
		t.Errorf("want timestamp from request start, got %s", got[0].Timestamp)
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestRequestLogging_TransportErrorRecorded(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{BatchSize: 1})
	h := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			// a second failure must not replace the first
			r.Body.Read(make([]byte, 1))
			w.WriteHeader(http.StatusBadRequest)
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/upload", failingReader{err: errors.New("ECONNRESET")})
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := env.entries(t, "log-batch")
	if len(got) != 1 {
		t.Fatalf("want 1 entry, got %d", len(got))
	}
	e := got[0]
	if e.Error == nil || *e.Error != "ECONNRESET" {
		t.Fatalf("want error ECONNRESET, got %v", e.Error)
	}
	if e.StackTrace != "" {
		t.Errorf("want no stack for an error that carries none, got %q", e.StackTrace)
	}
	if e.ResponseTime == nil {
		t.Error("want responseTime still set after an error")
	}
	if e.StatusCode != http.StatusBadRequest {
		t.Errorf("want 400, got %d", e.StatusCode)
	}
}

func TestRequestLogging_ErrorStackIsWhereTheErrorWasCreated(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{BatchSize: 1})
	h := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.ReadAll(r.Body)
	}))

	body := failingReader{err: pkgerrors.New("ECONNRESET")}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/upload", body))

	got := env.entries(t, "log-batch")
	if len(got) != 1 {
		t.Fatalf("want 1 entry, got %d", len(got))
	}
	stack := got[0].StackTrace
	if !strings.Contains(stack, "TestRequestLogging_ErrorStackIsWhereTheErrorWasCreated") {
		t.Errorf("want the stack of the failing code, got %q", stack)
	}
	if strings.Contains(stack, "trackingBody") {
		t.Errorf("want no logging wrapper frames in the stack, got %q", stack)
	}
}

func TestRequestLogging_RecordError(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{BatchSize: 1})
	h := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !RecordError(r.Context(), errors.New("upstream timeout")) {
			t.Error("want first RecordError to stick")
		}
		if RecordError(r.Context(), errors.New("second")) {
			t.Error("want second RecordError ignored")
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	got := env.entries(t, "log-batch")
	if len(got) != 1 || got[0].Error == nil || *got[0].Error != "upstream timeout" {
		t.Errorf("want error upstream timeout, got %+v", got)
	}
	if RecordError(context.Background(), errors.New("x")) {
		t.Error("want RecordError outside the middleware to be a no-op")
	}
}

func TestRequestLogging_ClientDisconnect(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{BatchSize: 1})

	ctx, cancel := context.WithCancel(context.Background())
	h := wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
		time.Sleep(50 * time.Millisecond)
	}))

	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	got := env.entries(t, "log-batch")
	if len(got) != 1 || got[0].Error == nil {
		t.Fatalf("want disconnect recorded, got %+v", got)
	}
	if !strings.Contains(*got[0].Error, "context canceled") {
		t.Errorf("want context canceled in error, got %q", *got[0].Error)
	}
}

func TestRequestLogging_PanicRecordedAndRethrown(t *testing.T) {
	env, wrap := newTestEnv(t, config.LoggingConfig{BatchSize: 1})
	h := wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map write")
	}))

	func() {
		defer func() {
			if recover() == nil {
				t.Error("want panic to propagate")
			}
		}()
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}()

	got := env.entries(t, "log-batch")
	if len(got) != 1 || got[0].Error == nil {
		t.Fatalf("want panic recorded, got %+v", got)
	}
	if *got[0].Error != "panic: nil map write" {
		t.Errorf("want panic message, got %q", *got[0].Error)
	}
	if got[0].StackTrace == "" {
		t.Error("want panic stack recorded")
	}
	if got[0].StatusCode != http.StatusInternalServerError {
		t.Errorf("want 500, got %d", got[0].StatusCode)
	}
}

func TestRequestLogging_Disabled(t *testing.T) {
	kv := storage.NewMemoryKV()
	lg := batch.NewLogger(batch.NewFlusher(kv, nil, batch.FlusherOptions{}), time.Second)
	store := config.NewStore(&config.Config{Logging: config.LoggingConfig{Enabled: false, BatchSize: 1}})
	h := RequestLoggingMiddleware(store, lg)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	lg.Wait()

	if rec.Body.String() != "ok" {
		t.Errorf("want handler output, got %q", rec.Body.String())
	}
	if lg.Buffered() != 0 {
		t.Error("want nothing buffered while disabled")
	}
	if ok, _ := kv.HasItem(context.Background(), "log-batch"); ok {
		t.Error("want nothing flushed while disabled")
	}

	if RequestLoggingMiddleware(nil, nil)(okHandler()) == nil {
		t.Error("want passthrough handler without collaborators")
	}
}

type downKV struct{}

func (downKV) HasItem(context.Context, string) (bool, error) {
	return false, errors.New("dial tcp: connection refused")
}
func (downKV) GetItem(context.Context, string) ([]byte, error) { return nil, errors.New("down") }
func (downKV) SetItem(context.Context, string, []byte) error { return errors.New("down") }
func (downKV) RemoveItem(context.Context, string) error { return errors.New("down") }

func TestRequestLogging_StorageFailureDoesNotAffectResponse(t *testing.T) {
	lg := batch.NewLogger(batch.NewFlusher(downKV{}, nil, batch.FlusherOptions{}), time.Second)
	store := config.NewStore(&config.Config{Logging: config.LoggingConfig{Enabled: true, BatchSize: 1}})
	h := RequestLoggingMiddleware(store, lg)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	lg.Wait()

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("want 200 ok despite storage failure, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestRequestLogging_ModeFromConfigFile(t *testing.T) {
	kv := storage.NewMemoryKV()
	lg := batch.NewLogger(batch.NewFlusher(kv, nil, batch.FlusherOptions{}), time.Second)
	dir := t.TempDir()
	writeFile(t, dir, "logging:\n  mode: \"development\"\n")

	store, err := config.LoadAndWatchDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	h := RequestLoggingMiddleware(store, lg)(okHandler())
	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	lg.Wait()

	if ok, _ := kv.HasItem(context.Background(), "server.json"); !ok {
		t.Error("want development batch flushed to server.json")
	}
}
