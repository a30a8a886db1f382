package stream

import (
	"context"
	"testing"
	"time"

	"github.com/meriley/lingua-nexus-sub001/internal"
	"github.com/meriley/lingua-nexus-sub001/internal/nexuserr"
)

func TestStream_NormalFlow(t *testing.T) {
	s := New(16)
	ctx := context.Background()

	if err := s.Start(ctx, "req-1", 3); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		ct := internal.ChunkTranslation{Index: i, Text: "part"}
		if err := s.Chunk(ctx, ct, float64(i+1)/3); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}
	q := internal.QualityReport{Composite: 0.75, Grade: internal.GradeC}
	if err := s.Partial(ctx, "assembled", q); err != nil {
		t.Fatalf("partial: %v", err)
	}
	q2 := internal.QualityReport{Composite: 0.85, Grade: internal.GradeB}
	if err := s.Improved(ctx, "better", q2); err != nil {
		t.Fatalf("improved: %v", err)
	}
	if err := s.Final(ctx, &internal.TranslationResult{Text: "better"}); err != nil {
		t.Fatalf("final: %v", err)
	}

	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}

	if len(events) != 7 {
		t.Fatalf("expected 7 events, got %d", len(events))
	}
	if events[0].Type != EventStart {
		t.Errorf("first event must be start, got %s", events[0].Type)
	}
	if events[len(events)-1].Type != EventFinal {
		t.Errorf("last event must be final, got %s", events[len(events)-1].Type)
	}
	// partial precedes improved.
	var partialAt, improvedAt int
	for i, ev := range events {
		switch ev.Type {
		case EventPartial:
			partialAt = i
		case EventImproved:
			improvedAt = i
		}
	}
	if partialAt >= improvedAt {
		t.Error("partial must precede improved")
	}
}

func TestStream_OrderingEnforced(t *testing.T) {
	s := New(16)
	ctx := context.Background()

	if err := s.Chunk(ctx, internal.ChunkTranslation{}, 0.5); err == nil {
		t.Error("chunk before start must fail")
	}
	if err := s.Start(ctx, "req-1", 1); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx, "req-1", 1); err == nil {
		t.Error("duplicate start must fail")
	}
	if err := s.Improved(ctx, "text", internal.QualityReport{}); err == nil {
		t.Error("improved before partial must fail")
	}

	if err := s.Final(ctx, &internal.TranslationResult{}); err != nil {
		t.Fatalf("final: %v", err)
	}
	if err := s.Partial(ctx, "late", internal.QualityReport{}); err == nil {
		t.Error("send after terminal must fail")
	}
}

func TestStream_ErrorTerminates(t *testing.T) {
	s := New(16)
	ctx := context.Background()

	_ = s.Start(ctx, "req-1", 1)
	if err := s.Fail(ctx, nexuserr.New(nexuserr.KindBackendFatal, "boom")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	var last Event
	for ev := range s.Events() {
		last = ev
	}
	if last.Type != EventError || last.Kind != nexuserr.KindBackendFatal {
		t.Errorf("unexpected terminal event: %+v", last)
	}
}

func TestStream_ConsumerCancellation(t *testing.T) {
	s := New(0) // unbuffered: every send needs a reader
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		if err := s.Start(ctx, "req-1", 2); err != nil {
			done <- err
			return
		}
		// No reader: this send blocks until cancellation.
		done <- s.Chunk(ctx, internal.ChunkTranslation{Index: 0, Text: "x"}, 0.5)
	}()

	// Drain the start event, then walk away.
	<-s.Events()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("blocked send should fail on consumer cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("producer did not observe cancellation")
	}
}
