// Package tracelens provides the Go SDK for the TraceLens observability platform.
//
// Example usage:
//
//	client, err := tracelens.New(tracelens.Config{
//		APIKey:      "your-api-key",
//		ProjectName: "my-project",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Shutdown(context.Background())
//
//	trace := client.Trace(tracelens.TraceOptions{
//		Name:  "handle-request",
//		Input: map[string]any{"query": "Hello"},
//	})
//
//	span := trace.Span(tracelens.SpanOptions{
//		Name:  "llm-call",
//		Type:  tracelens.SpanTypeLLM,
//		Model: "gpt-4",
//	})
//	span.End(&tracelens.SpanEndOptions{
//		Output: "Hi there!",
//		Usage:  &tracelens.Usage{InputTokens: 5, OutputTokens: 3, TotalTokens: 8},
//	})
//
//	trace.End(nil)
//	client.Flush(context.Background())
//
// Instrumented call chains can also be wrapped with Track, which manages the
// trace/span lifecycle and parent resolution through context.Context.
package tracelens

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const userAgent = "tracelens-go/0.1.0"

// Client is the main TraceLens client. All methods are safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
	buf        *buffer
	prompts    *promptCache
	flushCh    chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// New creates a new TraceLens client and starts its background flush loop.
// Configuration problems (missing API key, malformed host) are reported here,
// not deferred to the first network call.
func New(config Config) (*Client, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  config.logger(),
		buf:     newBuffer(config.MaxQueueSize),
		prompts: newPromptCache(),
		flushCh: make(chan struct{}, 1),
		doneCh:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.flushLoop()

	return c, nil
}

// Enabled returns whether tracing is enabled.
func (c *Client) Enabled() bool {
	return c.config.Enabled != nil && *c.config.Enabled
}

// Trace creates a new trace. Its creation event is buffered immediately.
func (c *Client) Trace(opts TraceOptions) *Trace {
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}

	trace := &Trace{
		client:    c,
		id:        opts.ID,
		name:      opts.Name,
		userID:    opts.UserID,
		sessionID: opts.SessionID,
		metadata:  opts.Metadata,
		tags:      opts.Tags,
		input:     opts.Input,
		startTime: time.Now().UTC(),
	}

	if trace.metadata == nil {
		trace.metadata = make(map[string]any)
	}
	if trace.tags == nil {
		trace.tags = []string{}
	}

	trace.sendCreate()
	return trace
}

// Score submits a feedback score for a trace or span.
func (c *Client) Score(opts ScoreOptions) {
	if !c.Enabled() {
		return
	}
	if opts.TraceID == "" && opts.SpanID == "" {
		c.reportError(errMissingScoreTarget)
		return
	}

	c.enqueue(kindScore, scoreEvent{
		ID:          uuid.New().String(),
		TraceID:     opts.TraceID,
		SpanID:      opts.SpanID,
		ProjectName: c.config.ProjectName,
		Name:        opts.Name,
		Value:       opts.Value,
		Category:    opts.Category,
		Reason:      opts.Reason,
		Source:      "sdk",
	})
}

// Shutdown stops the background flush loop and delivers any buffered events.
func (c *Client) Shutdown(ctx context.Context) error {
	c.closeOnce.Do(func() {
		close(c.doneCh)
	})
	c.wg.Wait()
	return c.Flush(ctx)
}

// DroppedEvents returns the total number of events dropped due to queue overflow.
func (c *Client) DroppedEvents() int64 {
	return c.buf.droppedCount()
}

// reportError surfaces a background failure without interrupting callers.
func (c *Client) reportError(err error) {
	c.logger.Warn("background operation failed", zap.Error(err))
	if c.config.OnError != nil {
		c.config.OnError(err)
	}
}

func (c *Client) setHeaders(req *http.Request, json bool) {
	if json {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("User-Agent", userAgent)
	if c.config.WorkspaceName != "" {
		req.Header.Set("X-Tracelens-Workspace", c.config.WorkspaceName)
	}
}

// TraceOptions holds options for creating a trace.
type TraceOptions struct {
	Name      string
	ID        string
	UserID    string
	SessionID string
	Metadata  map[string]any
	Tags      []string
	Input     any
}

// ScoreOptions holds options for submitting a feedback score.
type ScoreOptions struct {
	TraceID  string
	SpanID   string
	Name     string
	Value    float64
	Category string
	Reason   string
}
