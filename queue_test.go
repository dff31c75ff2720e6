package tracelens

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestBuffer_FIFOWithinKind(t *testing.T) {
	buf := newBuffer(100)

	for i := 0; i < 5; i++ {
		buf.add(kindSpanCreate, i)
	}
	buf.add(kindTraceCreate, "t")

	drained := buf.drain()
	spans := drained[kindSpanCreate]
	if len(spans) != 5 {
		t.Fatalf("expected 5 span events, got %d", len(spans))
	}
	for i, v := range spans {
		if v != i {
			t.Errorf("position %d: expected %d, got %v", i, i, v)
		}
	}
	if len(drained[kindTraceCreate]) != 1 {
		t.Errorf("expected 1 trace event, got %d", len(drained[kindTraceCreate]))
	}
}

func TestBuffer_DrainEmpties(t *testing.T) {
	buf := newBuffer(100)
	buf.add(kindScore, "s")

	if got := buf.drain(); len(got) != 1 {
		t.Fatalf("expected 1 kind drained, got %d", len(got))
	}
	if got := buf.drain(); got != nil {
		t.Errorf("expected nil on second drain, got %v", got)
	}
}

func TestBuffer_OverflowDropsOldest(t *testing.T) {
	buf := newBuffer(3)

	for i := 0; i < 5; i++ {
		buf.add(kindSpanCreate, i)
	}

	drained := buf.drain()[kindSpanCreate]
	if len(drained) != 3 {
		t.Fatalf("expected 3 events after overflow, got %d", len(drained))
	}
	if drained[0] != 2 || drained[2] != 4 {
		t.Errorf("expected oldest events dropped, got %v", drained)
	}
	if buf.droppedCount() != 2 {
		t.Errorf("expected 2 dropped, got %d", buf.droppedCount())
	}
}

func TestClient_EnqueueReportsOverflow(t *testing.T) {
	var mu sync.Mutex
	var reported []error

	client := newTestClient(t, func(cfg *Config) {
		cfg.MaxQueueSize = 2
		cfg.OnError = func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}
	})

	trace := client.Trace(TraceOptions{Name: "t"})
	for i := 0; i < 4; i++ {
		trace.Span(SpanOptions{Name: fmt.Sprintf("span-%d", i)})
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) == 0 {
		t.Fatal("expected overflow to be reported")
	}
	if !strings.Contains(reported[0].Error(), "queue overflow") {
		t.Errorf("unexpected error: %v", reported[0])
	}
	if client.DroppedEvents() == 0 {
		t.Error("expected dropped counter to advance")
	}
}

func TestClient_SendBatchRetries(t *testing.T) {
	t.Run("retries server errors then drops the batch", func(t *testing.T) {
		var mu sync.Mutex
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			attempts++
			mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		var reported error
		client := newTestClient(t, func(cfg *Config) {
			cfg.Host = server.URL
			cfg.MaxRetries = 2
			cfg.OnError = func(err error) { reported = err }
		})

		client.Trace(TraceOptions{Name: "t"})
		err := client.Flush(context.Background())
		if err == nil {
			t.Fatal("expected flush to fail")
		}

		mu.Lock()
		got := attempts
		mu.Unlock()
		if got != 2 {
			t.Errorf("expected 2 attempts, got %d", got)
		}
		if reported == nil || !strings.Contains(reported.Error(), "dropped after 2 attempts") {
			t.Errorf("unexpected reported error: %v", reported)
		}

		// The failed batch is gone; the next flush sends nothing.
		if err := client.Flush(context.Background()); err != nil {
			t.Errorf("expected clean flush after drop, got %v", err)
		}
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var mu sync.Mutex
		attempts := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			attempts++
			mu.Unlock()
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := newTestClient(t, func(cfg *Config) {
			cfg.Host = server.URL
			cfg.MaxRetries = 3
		})

		client.Trace(TraceOptions{Name: "t"})
		if err := client.Flush(context.Background()); err == nil {
			t.Fatal("expected flush to fail")
		}

		mu.Lock()
		defer mu.Unlock()
		if attempts != 1 {
			t.Errorf("expected a single attempt for 4xx, got %d", attempts)
		}
	})

	t.Run("aborts on cancelled context", func(t *testing.T) {
		server := newCaptureServer()
		defer server.Close()
		client := newTestClient(t, func(cfg *Config) { cfg.Host = server.URL })

		client.Trace(TraceOptions{Name: "t"})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := client.Flush(ctx); err == nil {
			t.Fatal("expected flush to fail on cancelled context")
		}
	})
}

func TestClient_AutoFlushAtThreshold(t *testing.T) {
	server := newCaptureServer()
	defer server.Close()

	client := newTestClient(t, func(cfg *Config) {
		cfg.Host = server.URL
		cfg.FlushAt = 3
		cfg.FlushInterval = time.Hour
	})

	trace := client.Trace(TraceOptions{Name: "t"})
	for i := 0; i < 3; i++ {
		trace.Span(SpanOptions{Name: fmt.Sprintf("span-%d", i)})
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.requestCount("/api/v1/spans/batch") > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the span queue to auto-flush at the threshold")
}

func TestClient_PeriodicFlush(t *testing.T) {
	server := newCaptureServer()
	defer server.Close()

	client := newTestClient(t, func(cfg *Config) {
		cfg.Host = server.URL
		cfg.FlushInterval = 20 * time.Millisecond
	})

	client.Trace(TraceOptions{Name: "t"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.requestCount("/api/v1/traces/batch") > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the periodic flush to deliver the trace")
}
