package tracelens

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SpanType classifies a span.
type SpanType string

const (
	SpanTypeGeneral SpanType = "general"
	SpanTypeLLM     SpanType = "llm"
	SpanTypeTool    SpanType = "tool"
)

// Usage holds token usage for an LLM span.
type Usage struct {
	InputTokens  int `json:"inputTokens,omitempty"`
	OutputTokens int `json:"outputTokens,omitempty"`
	TotalTokens  int `json:"totalTokens,omitempty"`
}

// ErrorInfo is the structured failure record attached to spans and traces.
type ErrorInfo struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// SpanOptions holds options for creating a span.
type SpanOptions struct {
	Name         string
	ID           string
	ParentSpanID string
	Type         SpanType
	Metadata     map[string]any
	Tags         []string
	Input        any
	Model        string
	Provider     string
}

// Span represents a nested unit of work within a trace. Spans form a tree
// rooted at the trace; a span's lifetime is bounded by its trace's lifetime.
type Span struct {
	client *Client

	mu           sync.Mutex
	id           string
	traceID      string
	parentSpanID string
	spanType     SpanType
	name         string
	metadata     map[string]any
	tags         []string
	input        any
	output       any
	model        string
	provider     string
	usage        *Usage
	errInfo      *ErrorInfo
	scores       []FeedbackScore
	startTime    time.Time
	endTime      *time.Time
	ended        bool
}

func newSpan(client *Client, traceID string, opts SpanOptions) *Span {
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if opts.Type == "" {
		opts.Type = SpanTypeGeneral
	}

	span := &Span{
		client:       client,
		id:           opts.ID,
		traceID:      traceID,
		parentSpanID: opts.ParentSpanID,
		spanType:     opts.Type,
		name:         opts.Name,
		metadata:     opts.Metadata,
		tags:         opts.Tags,
		input:        opts.Input,
		model:        opts.Model,
		provider:     opts.Provider,
		startTime:    time.Now().UTC(),
	}

	if span.metadata == nil {
		span.metadata = make(map[string]any)
	}

	span.sendCreate()
	return span
}

// ID returns the span ID.
func (s *Span) ID() string {
	return s.id
}

// TraceID returns the ID of the trace this span belongs to.
func (s *Span) TraceID() string {
	return s.traceID
}

// ParentSpanID returns the parent span ID, or "" for a trace-rooted span.
func (s *Span) ParentSpanID() string {
	return s.parentSpanID
}

// Ended reports whether End has been called.
func (s *Span) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Span creates a child span of this span.
func (s *Span) Span(opts SpanOptions) *Span {
	if opts.ParentSpanID == "" {
		opts.ParentSpanID = s.id
	}
	return newSpan(s.client, s.traceID, opts)
}

func (s *Span) sendCreate() {
	if !s.client.Enabled() {
		return
	}
	s.mu.Lock()
	event := s.snapshotLocked()
	s.mu.Unlock()

	s.client.enqueue(kindSpanCreate, event)
}

// snapshotLocked builds the wire body from current state. Callers hold s.mu.
// Metadata and tags are copied: the snapshot sits in the queue until a flush
// marshals it, which must not race a later Update mutating the live map.
func (s *Span) snapshotLocked() spanEvent {
	event := spanEvent{
		ID:           s.id,
		TraceID:      s.traceID,
		ParentSpanID: s.parentSpanID,
		ProjectName:  s.client.config.ProjectName,
		Type:         s.spanType,
		Name:         s.name,
		Metadata:     cloneMetadata(s.metadata),
		Tags:         cloneTags(s.tags),
		Input:        s.input,
		Output:       s.output,
		Model:        s.model,
		Provider:     s.provider,
		Usage:        s.usage,
		Error:        s.errInfo,
		StartTime:    s.startTime.Format(time.RFC3339Nano),
	}
	if s.endTime != nil {
		event.EndTime = s.endTime.Format(time.RFC3339Nano)
	}
	return event
}

// SpanUpdateOptions holds options for updating a span.
type SpanUpdateOptions struct {
	Metadata map[string]any
	Tags     []string
	Input    any
	Output   any
	Model    string
	Provider string
	Usage    *Usage
	Error    *ErrorInfo
}

// Update mutates the span and buffers a span-update event.
func (s *Span) Update(opts SpanUpdateOptions) {
	s.mu.Lock()
	for k, v := range opts.Metadata {
		s.metadata[k] = v
	}
	if opts.Tags != nil {
		s.tags = opts.Tags
	}
	if opts.Input != nil {
		s.input = opts.Input
	}
	if opts.Output != nil {
		s.output = opts.Output
	}
	if opts.Model != "" {
		s.model = opts.Model
	}
	if opts.Provider != "" {
		s.provider = opts.Provider
	}
	if opts.Usage != nil {
		s.usage = opts.Usage
	}
	if opts.Error != nil {
		s.errInfo = opts.Error
	}
	event := s.snapshotLocked()
	s.mu.Unlock()

	if s.client.Enabled() {
		s.client.enqueue(kindSpanUpdate, event)
	}
}

// SpanEndOptions holds options for ending a span.
type SpanEndOptions struct {
	Output any
	Model  string
	Usage  *Usage
	Error  *ErrorInfo
}

// End closes the span and buffers its final state. End is idempotent.
func (s *Span) End(opts *SpanEndOptions) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	now := time.Now().UTC()
	s.endTime = &now

	if opts != nil {
		if opts.Output != nil {
			s.output = opts.Output
		}
		if opts.Model != "" {
			s.model = opts.Model
		}
		if opts.Usage != nil {
			s.usage = opts.Usage
		}
		if opts.Error != nil {
			s.errInfo = opts.Error
		}
	}
	event := s.snapshotLocked()
	s.mu.Unlock()

	if s.client.Enabled() {
		s.client.enqueue(kindSpanUpdate, event)
	}
}

// Score adds a feedback score to this span.
func (s *Span) Score(name string, value float64, opts *ScoreAddOptions) {
	score := FeedbackScore{Name: name, Value: value}
	if opts != nil {
		score.Category = opts.Category
		score.Reason = opts.Reason
	}

	s.mu.Lock()
	s.scores = append(s.scores, score)
	s.mu.Unlock()

	s.client.Score(ScoreOptions{
		TraceID:  s.traceID,
		SpanID:   s.id,
		Name:     name,
		Value:    value,
		Category: score.Category,
		Reason:   score.Reason,
	})
}
