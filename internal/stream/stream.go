// Package stream implements the progressive translation protocol: a
// push channel of staged events with enforced ordering and first-class
// consumer cancellation.
package stream

import (
	"context"
	"sync"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

// EventType enumerates the protocol's event kinds.
type EventType string

const (
	EventStart    EventType = "start"
	EventChunk    EventType = "chunk"
	EventPartial  EventType = "partial"
	EventImproved EventType = "improved"
	EventFinal    EventType = "final"
	EventError    EventType = "error"
)

// Event is the wire shape of every protocol message; unused fields are
// omitted per event type.
type Event struct {
	Type EventType `json:"event"`

	// start
	RequestID     string `json:"request_id,omitempty"`
	PlannedChunks int    `json:"planned_chunks,omitempty"`

	// chunk
	Index    int     `json:"index,omitempty"`
	Progress float64 `json:"cumulative_progress,omitempty"`

	// chunk / partial / improved
	Text    string                  `json:"text,omitempty"`
	Quality *internal.QualityReport `json:"quality,omitempty"`

	// final
	Result *internal.TranslationResult `json:"result,omitempty"`

	// error
	Kind    nexuserr.Kind `json:"kind,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Stream carries events from the controller to one consumer. The
// producer suspends on backpressure; consumer cancellation surfaces as
// an error at the next send. Event ordering is enforced: start first,
// exactly one terminal event last.
type Stream struct {
	ch chan Event

	mu       sync.Mutex
	started  bool
	terminal bool
	partial  bool
}

// New creates a Stream with the given send buffer.
func New(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{ch: make(chan Event, buffer)}
}

// Events is the consumer side; it is closed after the terminal event.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Start must be the first event sent.
func (s *Stream) Start(ctx context.Context, requestID string, plannedChunks int) error {
	return s.send(ctx, Event{Type: EventStart, RequestID: requestID, PlannedChunks: plannedChunks})
}

// Chunk reports one completed chunk; out-of-order delivery is fine, the
// index lets the consumer reorder.
func (s *Stream) Chunk(ctx context.Context, ct internal.ChunkTranslation, progress float64) error {
	return s.send(ctx, Event{Type: EventChunk, Index: ct.Index, Text: ct.Text, Progress: progress})
}

// Partial carries the fully assembled initial translation.
func (s *Stream) Partial(ctx context.Context, text string, quality internal.QualityReport) error {
	return s.send(ctx, Event{Type: EventPartial, Text: text, Quality: &quality})
}

// Improved carries the optimised translation; it only ever follows
// Partial.
func (s *Stream) Improved(ctx context.Context, text string, quality internal.QualityReport) error {
	return s.send(ctx, Event{Type: EventImproved, Text: text, Quality: &quality})
}

// Final terminates the stream with the complete result.
func (s *Stream) Final(ctx context.Context, result *internal.TranslationResult) error {
	return s.send(ctx, Event{Type: EventFinal, Result: result})
}

// Fail terminates the stream with a structured error.
func (s *Stream) Fail(ctx context.Context, err error) error {
	return s.send(ctx, Event{Type: EventError, Kind: nexuserr.KindOf(err), Message: err.Error()})
}

func (s *Stream) send(ctx context.Context, ev Event) error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return nexuserr.New(nexuserr.KindInternal, "send after terminal event")
	}
	switch ev.Type {
	case EventStart:
		if s.started {
			s.mu.Unlock()
			return nexuserr.New(nexuserr.KindInternal, "duplicate start event")
		}
		s.started = true
	case EventImproved:
		if !s.partial {
			s.mu.Unlock()
			return nexuserr.New(nexuserr.KindInternal, "improved before partial")
		}
	case EventError:
		// An error may terminate a stream that never started.
	default:
		if !s.started {
			s.mu.Unlock()
			return nexuserr.New(nexuserr.KindInternal, "%s before start", ev.Type)
		}
	}
	if ev.Type == EventPartial {
		s.partial = true
	}
	isTerminal := ev.Type == EventFinal || ev.Type == EventError
	if isTerminal {
		s.terminal = true
	}
	s.mu.Unlock()

	select {
	case s.ch <- ev:
		if isTerminal {
			close(s.ch)
		}
		return nil
	case <-ctx.Done():
		if isTerminal {
			close(s.ch)
		}
		return ctx.Err()
	}
}
