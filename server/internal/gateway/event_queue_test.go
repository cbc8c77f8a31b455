package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEventQueue_SerialProcessing(t *testing.T) {
	var processed []EventType
	var mu sync.Mutex

	handler := func(ctx context.Context, msg *ClientMessage) error {
		mu.Lock()
		defer mu.Unlock()
		processed = append(processed, msg.Type)
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	eq := NewEventQueue("s1", handler, nil)
	defer eq.Close()

	events := []EventType{EventUserMessage, EventUseSuggestion, EventRestart, EventSTTStart, EventSTTStop}
	for i, et := range events {
		if err := eq.Enqueue(&ClientMessage{Type: et, EventID: fmt.Sprintf("e%d", i)}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	// 同步事件排在最后，返回时前面的事件都已处理
	if err := eq.EnqueueSync(&ClientMessage{Type: EventHello}, time.Second); err != nil {
		t.Fatalf("sync enqueue: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != len(events)+1 {
		t.Fatalf("expected %d processed events, got %d", len(events)+1, len(processed))
	}
	for i, et := range events {
		if processed[i] != et {
			t.Fatalf("order mismatch at %d: expected %s, got %s", i, et, processed[i])
		}
	}
}

func TestEventQueue_ConcurrentEnqueue(t *testing.T) {
	var count atomic.Int64
	handler := func(ctx context.Context, msg *ClientMessage) error {
		count.Add(1)
		return nil
	}
	eq := NewEventQueue("s1", handler, nil)
	defer eq.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = eq.Enqueue(&ClientMessage{Type: EventASRPartial, EventID: fmt.Sprintf("%d-%d", g, j)})
			}
		}(g)
	}
	wg.Wait()
	_ = eq.EnqueueSync(&ClientMessage{Type: EventHello}, time.Second)

	if got := count.Load(); got != 81 {
		t.Fatalf("expected 81 processed events, got %d", got)
	}
}

func TestEventQueue_BackPressure(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, msg *ClientMessage) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	eq := NewEventQueue("s1", handler, nil)
	defer eq.Close()
	defer close(release)

	dropped := 0
	for i := 0; i < defaultQueueCapacity+20; i++ {
		if err := eq.Enqueue(&ClientMessage{Type: EventASRPartial}); errors.Is(err, ErrQueueFull) {
			dropped++
		}
	}
	if dropped == 0 {
		t.Fatal("expected events dropped under back pressure")
	}
	if s := eq.Stats(); s.Dropped != int64(dropped) {
		t.Fatalf("stats dropped=%d, want %d", s.Dropped, dropped)
	}
	t.Logf("✓ dropped %d events", dropped)
}

func TestEventQueue_ErrorDoesNotStopProcessing(t *testing.T) {
	handler := func(ctx context.Context, msg *ClientMessage) error {
		if msg.Text == "boom" {
			return errors.New("boom")
		}
		return nil
	}
	eq := NewEventQueue("s1", handler, nil)
	defer eq.Close()

	_ = eq.Enqueue(&ClientMessage{Type: EventUserMessage, Text: "a"})
	err := eq.EnqueueSync(&ClientMessage{Type: EventUserMessage, Text: "boom"}, time.Second)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected handler error, got %v", err)
	}
	_ = eq.EnqueueSync(&ClientMessage{Type: EventUserMessage, Text: "c"}, time.Second)

	if s := eq.Stats(); s.Processed != 3 {
		t.Fatalf("expected 3 processed, got %d", s.Processed)
	}
}

func TestEventQueue_SkipsDuplicateEventIDs(t *testing.T) {
	var count atomic.Int64
	handler := func(ctx context.Context, msg *ClientMessage) error {
		count.Add(1)
		return nil
	}
	eq := NewEventQueue("s1", handler, nil)
	defer eq.Close()

	for i := 0; i < 3; i++ {
		_ = eq.EnqueueSync(&ClientMessage{Type: EventUserMessage, EventID: "retry-1"}, time.Second)
	}
	if count.Load() != 1 {
		t.Fatalf("expected duplicate event handled once, got %d", count.Load())
	}
	if s := eq.Stats(); s.Duplicates != 2 {
		t.Fatalf("expected 2 duplicates, got %d", s.Duplicates)
	}
}

func TestEventQueue_SyncTimeout(t *testing.T) {
	handler := func(ctx context.Context, msg *ClientMessage) error {
		<-ctx.Done()
		return ctx.Err()
	}
	eq := NewEventQueue("s1", handler, nil)
	defer eq.Close()

	if err := eq.EnqueueSync(&ClientMessage{Type: EventUserMessage}, 50*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestEventQueue_CloseIsIdempotent(t *testing.T) {
	eq := NewEventQueue("s1", func(context.Context, *ClientMessage) error { return nil }, nil)
	if err := eq.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := eq.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := eq.Enqueue(&ClientMessage{Type: EventHello}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func BenchmarkEventQueue_Enqueue(b *testing.B) {
	eq := NewEventQueue("bench", func(context.Context, *ClientMessage) error { return nil }, nil)
	defer eq.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = eq.Enqueue(&ClientMessage{Type: EventASRPartial})
	}
}
