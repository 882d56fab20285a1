package middleware

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	pkgerrors "github.com/pkg/errors"
)

func contextWithEntry(ctx context.Context, st *entryState) context.Context {
	return context.WithValue(ctx, entryContextKey, st)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// errorStack returns the stack err was created with, or "" when it carries
// none. The stack of the code observing the error says nothing about its cause.
func errorStack(err error) string {
	var st stackTracer
	if !errors.As(err, &st) {
		return ""
	}
	return strings.TrimPrefix(fmt.Sprintf("%+v", st.StackTrace()), "\n")
}

// loggingResponseWrapper captures the status code and any write failure.
type loggingResponseWrapper struct {
	http.ResponseWriter
	statusCode int
	st         *entryState
}

func (w *loggingResponseWrapper) WriteHeader(code int) {
	if w.statusCode == 0 {
		w.statusCode = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingResponseWrapper) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	if err != nil {
		w.st.recordError(err.Error(), errorStack(err))
	}
	return n, err
}

func (w *loggingResponseWrapper) status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *loggingResponseWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *loggingResponseWrapper) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// trackingBody records the first non-EOF read error on the request body.
type trackingBody struct {
	io.ReadCloser
	st *entryState
}

func (b *trackingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.st.recordError(err.Error(), errorStack(err))
	}
	return n, err
}
