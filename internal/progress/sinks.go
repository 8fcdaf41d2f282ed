package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// LogSink writes every event as a debug record.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Emit(ctx context.Context, event Event) {
	if s.Logger == nil {
		return
	}
	s.Logger.DebugContext(ctx, "agent_event",
		slog.String("type", string(event.Type)),
		slog.String("session_id", event.SessionID),
		slog.Any("payload", event.Payload),
	)
}

// Recorder keeps every event in memory; the HTTP ask response returns them.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types lists the recorded event types in order.
func (r *Recorder) Types() []EventType {
	events := r.Events()
	types := make([]EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	return types
}

type multi []Sink

func (m multi) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}

// Multi fans out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			out = append(out, sink)
		}
	}
	return out
}

// SSE writes events in text/event-stream framing. Write errors stop further output; the
// run itself continues.
type SSE struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	err     error
}

func NewSSE(w io.Writer) *SSE {
	flusher, _ := w.(http.Flusher)
	return &SSE{w: w, flusher: flusher}
}

func (s *SSE) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.err = fmt.Errorf("marshal event: %w", err)
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
		s.err = fmt.Errorf("write event: %w", err)
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func (s *SSE) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
