package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultLogWriteTimeout bounds each run log write.
const DefaultLogWriteTimeout = 2 * time.Second

// DBLogHandler is a slog.Handler that writes records to the run log table
type DBLogHandler struct {
	Sink    LogSink
	RunID   uuid.UUID
	Level   slog.Level
	Timeout time.Duration

	attrs []slog.Attr
}

func NewDBLogHandler(sink LogSink, runID uuid.UUID) *DBLogHandler {
	return &DBLogHandler{
		Sink:    sink,
		RunID:   runID,
		Level:   slog.LevelInfo,
		Timeout: DefaultLogWriteTimeout,
	}
}

func (h *DBLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.Level
}

func (h *DBLogHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = attrValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = attrValue(a.Value)
		return true
	})

	metaJSON, err := json.Marshal(attrs)
	if err != nil {
		metaJSON = []byte("{}")
	}

	timeout := h.Timeout
	if timeout <= 0 {
		timeout = DefaultLogWriteTimeout
	}
	// Logs outlive the request that produced them.
	writeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return h.Sink.AppendLog(writeCtx, h.RunID, LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
		Metadata:  metaJSON,
	})
}

func (h *DBLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

// Groups are flattened into the metadata object.
func (h *DBLogHandler) WithGroup(name string) slog.Handler {
	return h
}

func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	case slog.KindTime:
		return v.Time()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindGroup:
		group := make(map[string]any)
		for _, a := range v.Group() {
			group[a.Key] = attrValue(a.Value)
		}
		return group
	default:
		return v.Any()
	}
}
