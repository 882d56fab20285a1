package storage

import "time"

// ISOTimeFormat matches the millisecond-precision timestamps already stored in
// existing batches (e.g. 2024-05-01T09:30:00.000Z).
const ISOTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// LogEntry captures one request's metadata. The JSON names are the ones
// persisted batches use, so old KV contents keep decoding.
type LogEntry struct {
	Timestamp    string            `json:"timestamp" bson:"timestamp"`
	Method       string            `json:"method" bson:"method"`
	Path         string            `json:"path" bson:"path"`
	Params       map[string]string `json:"params" bson:"params"`
	Sessions     map[string]any    `json:"sessions" bson:"sessions"`
	URL          string            `json:"url" bson:"url"`
	ClientIP     string            `json:"clientIP" bson:"clientIP"`
	UserAgent    string            `json:"userAgent" bson:"userAgent"`
	Referer      string            `json:"referer" bson:"referer"`
	Origin       string            `json:"origin" bson:"origin"`
	Error        *string           `json:"error" bson:"error"`
	StackTrace   string            `json:"stackTrace,omitempty" bson:"stackTrace,omitempty"`
	ResponseTime *int64            `json:"responseTime" bson:"responseTime"`
	StatusCode   int               `json:"statusCode" bson:"statusCode"`
	StartTime    int64             `json:"startTime" bson:"startTime"` // epoch ms, only used for timing
}

// NewLogEntry returns an entry stamped with now. Error and ResponseTime stay
// nil until the request's listeners fill them.
func NewLogEntry(now time.Time) LogEntry {
	return LogEntry{
		Timestamp: now.UTC().Format(ISOTimeFormat),
		Params:    map[string]string{},
		Sessions:  map[string]any{},
		StartTime: now.UnixMilli(),
	}
}

// SetError records msg and stack unless an error is already present.
// It reports whether the entry changed.
func (e *LogEntry) SetError(msg, stack string) bool {
	if e.Error != nil {
		return false
	}
	e.Error = &msg
	e.StackTrace = stack
	return true
}

// Complete sets ResponseTime from end relative to StartTime. Clock skew never
// yields a negative duration. A second call is a no-op.
func (e *LogEntry) Complete(end time.Time) {
	if e.ResponseTime != nil {
		return
	}
	ms := end.UnixMilli() - e.StartTime
	if ms < 0 {
		ms = 0
	}
	e.ResponseTime = &ms
}
