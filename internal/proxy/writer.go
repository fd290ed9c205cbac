package proxy

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/eztalk/eztalk-proxy/internal/domain"
	"github.com/eztalk/eztalk-proxy/internal/metrics"
)

// EventWriter writes events as JSON lines and flushes after every batch.
// Once a write fails the client is considered gone and later events are
// dropped.
type EventWriter struct {
	w       io.Writer
	flusher http.Flusher
	metrics *metrics.Metrics
	logger  *slog.Logger

	err    error
	finish string
}

func NewEventWriter(w io.Writer, m *metrics.Metrics, logger *slog.Logger) *EventWriter {
	flusher, _ := w.(http.Flusher)
	return &EventWriter{
		w:       w,
		flusher: flusher,
		metrics: m,
		logger:  logger,
	}
}

func (ew *EventWriter) Write(events ...domain.StreamEvent) error {
	if ew.err != nil || len(events) == 0 {
		return ew.err
	}

	for _, ev := range events {
		line, err := ev.MarshalLine()
		if err != nil {
			ew.logger.Error("Failed to encode event", "type", ev.Type, "error", err)
			continue
		}
		if _, err := ew.w.Write(line); err != nil {
			ew.logger.Warn("Client stream closed, dropping events", "error", err)
			ew.err = err
			return err
		}
		ew.metrics.RecordStreamEvent(ev.Type)
		if ev.Type == domain.EventFinish {
			ew.finish = ev.Reason
		}
	}

	if ew.flusher != nil {
		ew.flusher.Flush()
	}
	return nil
}

// FinishReason is the reason of the last finish event written, if any.
func (ew *EventWriter) FinishReason() string {
	return ew.finish
}
