package tracelens

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// TestClient_ConcurrentEnqueue tests for race conditions in concurrent
// event buffering across kinds.
func TestClient_ConcurrentEnqueue(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(cfg *Config) {
		cfg.MaxQueueSize = 100000
	})

	var wg sync.WaitGroup
	numGoroutines := 100
	eventsPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				client.enqueue(kindSpanCreate, spanEvent{
					ID:      fmt.Sprintf("span-%d-%d", id, j),
					TraceID: fmt.Sprintf("trace-%d", id),
				})
			}
		}(i)
	}
	wg.Wait()

	expected := numGoroutines * eventsPerGoroutine
	if got := len(queuedEvents(client, kindSpanCreate)); got != expected {
		t.Errorf("expected %d events buffered, got %d", expected, got)
	}
}

// TestClient_ConcurrentFlush tests for race conditions between overlapping
// flush calls and concurrent producers.
func TestClient_ConcurrentFlush(t *testing.T) {
	t.Parallel()

	server := newCaptureServer()
	defer server.Close()

	client := newTestClient(t, func(cfg *Config) {
		cfg.Host = server.URL
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			trace := client.Trace(TraceOptions{Name: fmt.Sprintf("trace-%d", id)})
			trace.Span(SpanOptions{Name: "step"}).End(nil)
			trace.End(nil)
			client.Flush(context.Background())
		}(i)
	}
	wg.Wait()

	if err := client.Flush(context.Background()); err != nil {
		t.Fatalf("final flush: %v", err)
	}

	// Every event is delivered exactly once across the competing flushes.
	if got := len(server.receivedItems("/api/v1/traces/batch")); got != 10 {
		t.Errorf("expected 10 trace-create events delivered, got %d", got)
	}
	if got := len(server.receivedItems("/api/v1/spans/batch")); got != 10 {
		t.Errorf("expected 10 span-create events delivered, got %d", got)
	}
}

// TestClient_ConcurrentUpdateAndFlush tests that mutating a live trace and
// span never races with a flush marshaling their buffered snapshots.
func TestClient_ConcurrentUpdateAndFlush(t *testing.T) {
	t.Parallel()

	server := newCaptureServer()
	defer server.Close()

	client := newTestClient(t, func(cfg *Config) {
		cfg.Host = server.URL
	})

	trace := client.Trace(TraceOptions{Name: "live"})
	span := trace.Span(SpanOptions{Name: "step"})

	const updates = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < updates; i++ {
			trace.Update(TraceUpdateOptions{
				Metadata: map[string]any{"attempt": i},
				Tags:     []string{"live"},
			})
			span.Update(SpanUpdateOptions{
				Metadata: map[string]any{"attempt": i},
			})
		}
	}()

	for i := 0; i < 50; i++ {
		if err := client.Flush(context.Background()); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}
	<-done

	if err := client.Flush(context.Background()); err != nil {
		t.Fatalf("final flush: %v", err)
	}
	if got := len(server.receivedItems("/api/v1/traces/update-batch")); got != updates {
		t.Errorf("expected %d trace updates delivered, got %d", updates, got)
	}
	if got := len(server.receivedItems("/api/v1/spans/update-batch")); got != updates {
		t.Errorf("expected %d span updates delivered, got %d", updates, got)
	}
}

// TestClient_ConcurrentQueueOverflow tests drop-oldest behavior under
// concurrent load.
func TestClient_ConcurrentQueueOverflow(t *testing.T) {
	t.Parallel()

	maxSize := 100
	var errMu sync.Mutex
	errCount := 0

	client := newTestClient(t, func(cfg *Config) {
		cfg.MaxQueueSize = maxSize
		cfg.OnError = func(err error) {
			errMu.Lock()
			errCount++
			errMu.Unlock()
		}
	})

	var wg sync.WaitGroup
	numGoroutines := 50
	eventsPerGoroutine := 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				client.enqueue(kindSpanCreate, spanEvent{ID: fmt.Sprintf("%d-%d", id, j)})
			}
		}(i)
	}
	wg.Wait()

	if got := len(queuedEvents(client, kindSpanCreate)); got > maxSize {
		t.Errorf("queue exceeded max size: got %d, max %d", got, maxSize)
	}

	errMu.Lock()
	defer errMu.Unlock()
	if errCount == 0 {
		t.Error("expected overflow errors to be reported")
	}
}
