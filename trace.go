package tracelens

import (
	"sync"
	"time"
)

// Trace represents one top-level unit of work. It stays mutable until End;
// mutation after End is discouraged but still recorded.
type Trace struct {
	client *Client

	mu        sync.Mutex
	id        string
	name      string
	userID    string
	sessionID string
	metadata  map[string]any
	tags      []string
	input     any
	output    any
	errInfo   *ErrorInfo
	scores    []FeedbackScore
	startTime time.Time
	endTime   *time.Time
	ended     bool
}

// ID returns the trace ID.
func (t *Trace) ID() string {
	return t.id
}

// Name returns the trace name.
func (t *Trace) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// Ended reports whether End has been called.
func (t *Trace) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

// Scores returns the feedback scores recorded on this trace so far.
func (t *Trace) Scores() []FeedbackScore {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FeedbackScore, len(t.scores))
	copy(out, t.scores)
	return out
}

func (t *Trace) sendCreate() {
	if !t.client.Enabled() {
		return
	}
	t.mu.Lock()
	event := t.snapshotLocked()
	t.mu.Unlock()

	t.client.enqueue(kindTraceCreate, event)
}

// snapshotLocked builds the wire body from current state. Callers hold t.mu.
// Metadata and tags are copied: the snapshot sits in the queue until a flush
// marshals it, which must not race a later Update mutating the live map.
func (t *Trace) snapshotLocked() traceEvent {
	event := traceEvent{
		ID:          t.id,
		ProjectName: t.client.config.ProjectName,
		Name:        t.name,
		UserID:      t.userID,
		SessionID:   t.sessionID,
		Metadata:    cloneMetadata(t.metadata),
		Tags:        cloneTags(t.tags),
		Input:       t.input,
		Output:      t.output,
		Error:       t.errInfo,
		StartTime:   t.startTime.Format(time.RFC3339Nano),
	}
	if t.endTime != nil {
		event.EndTime = t.endTime.Format(time.RFC3339Nano)
	}
	return event
}

// Span creates a span within this trace. An empty ParentSpanID makes it a
// direct child of the trace.
func (t *Trace) Span(opts SpanOptions) *Span {
	return newSpan(t.client, t.id, opts)
}

// TraceUpdateOptions holds options for updating a trace.
type TraceUpdateOptions struct {
	Name      *string
	UserID    *string
	SessionID *string
	Metadata  map[string]any
	Tags      []string
	Input     any
	Output    any
	Error     *ErrorInfo
}

// Update mutates the trace and buffers a trace-update event.
func (t *Trace) Update(opts TraceUpdateOptions) {
	t.mu.Lock()
	if opts.Name != nil {
		t.name = *opts.Name
	}
	if opts.UserID != nil {
		t.userID = *opts.UserID
	}
	if opts.SessionID != nil {
		t.sessionID = *opts.SessionID
	}
	for k, v := range opts.Metadata {
		t.metadata[k] = v
	}
	if opts.Tags != nil {
		t.tags = opts.Tags
	}
	if opts.Input != nil {
		t.input = opts.Input
	}
	if opts.Output != nil {
		t.output = opts.Output
	}
	if opts.Error != nil {
		t.errInfo = opts.Error
	}
	event := t.snapshotLocked()
	t.mu.Unlock()

	if t.client.Enabled() {
		t.client.enqueue(kindTraceUpdate, event)
	}
}

// TraceEndOptions holds options for ending a trace.
type TraceEndOptions struct {
	Output any
	Error  *ErrorInfo
}

// End closes the trace and buffers its final state. End is idempotent;
// only the first call has any effect.
func (t *Trace) End(opts *TraceEndOptions) {
	t.mu.Lock()
	if t.ended {
		t.mu.Unlock()
		return
	}
	t.ended = true
	now := time.Now().UTC()
	t.endTime = &now

	if opts != nil {
		if opts.Output != nil {
			t.output = opts.Output
		}
		if opts.Error != nil {
			t.errInfo = opts.Error
		}
	}
	event := t.snapshotLocked()
	t.mu.Unlock()

	if t.client.Enabled() {
		t.client.enqueue(kindTraceUpdate, event)
	}
}

// Score adds a feedback score to this trace.
func (t *Trace) Score(name string, value float64, opts *ScoreAddOptions) {
	score := FeedbackScore{Name: name, Value: value}
	if opts != nil {
		score.Category = opts.Category
		score.Reason = opts.Reason
	}

	t.mu.Lock()
	t.scores = append(t.scores, score)
	t.mu.Unlock()

	t.client.Score(ScoreOptions{
		TraceID:  t.id,
		Name:     name,
		Value:    value,
		Category: score.Category,
		Reason:   score.Reason,
	})
}
