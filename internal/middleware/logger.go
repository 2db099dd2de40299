package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const redacted = "redacted"

// RequestLogger writes one slog line per request. Credentials carried in the
// query string never reach the log.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return chimiddleware.RequestLogger(&requestFormatter{log: log})
}

type requestFormatter struct {
	log *slog.Logger
}

func (f *requestFormatter) NewLogEntry(r *http.Request) chimiddleware.LogEntry {
	attrs := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"remote", r.RemoteAddr,
	}
	if reqID := chimiddleware.GetReqID(r.Context()); reqID != "" {
		attrs = append(attrs, "request_id", reqID)
	}
	if r.URL.RawQuery != "" {
		attrs = append(attrs, "query", redactQuery(r.URL.Query()))
	}
	return &requestEntry{log: f.log.With(attrs...)}
}

func redactQuery(q url.Values) string {
	if _, ok := q[accessTokenParam]; ok {
		q.Set(accessTokenParam, redacted)
	}
	return q.Encode()
}

type requestEntry struct {
	log *slog.Logger
}

func (e *requestEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	level := slog.LevelInfo
	switch {
	case status >= http.StatusInternalServerError:
		level = slog.LevelError
	case status >= http.StatusBadRequest:
		level = slog.LevelWarn
	}
	e.log.Log(context.Background(), level, "request served",
		"status", status,
		"bytes", bytes,
		"elapsed", elapsed.Round(time.Microsecond),
	)
}

func (e *requestEntry) Panic(v any, stack []byte) {
	e.log.Error("request panicked", "panic", fmt.Sprint(v), "stack", string(stack))
}
