package tracelens

// eventKind identifies one batch queue and the ingestion endpoint it drains to.
type eventKind string

const (
	kindTraceCreate eventKind = "trace-create"
	kindTraceUpdate eventKind = "trace-update"
	kindSpanCreate  eventKind = "span-create"
	kindSpanUpdate  eventKind = "span-update"
	kindScore       eventKind = "score"
)

func (k eventKind) endpoint() string {
	switch k {
	case kindTraceCreate:
		return "/api/v1/traces/batch"
	case kindTraceUpdate:
		return "/api/v1/traces/update-batch"
	case kindSpanCreate:
		return "/api/v1/spans/batch"
	case kindSpanUpdate:
		return "/api/v1/spans/update-batch"
	case kindScore:
		return "/api/v1/feedback-scores/batch"
	}
	return ""
}

// cloneMetadata copies a metadata map so a buffered snapshot never aliases
// the live map a later Update mutates.
func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	return append([]string(nil), tags...)
}

// batchPayload is the envelope every ingestion endpoint accepts.
type batchPayload struct {
	Items []any `json:"items"`
}

// traceEvent is the wire body for trace-create and trace-update batches.
type traceEvent struct {
	ID          string         `json:"id"`
	ProjectName string         `json:"projectName,omitempty"`
	Name        string         `json:"name,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	SessionID   string         `json:"sessionId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Input       any            `json:"input,omitempty"`
	Output      any            `json:"output,omitempty"`
	Error       *ErrorInfo     `json:"error,omitempty"`
	StartTime   string         `json:"startTime,omitempty"`
	EndTime     string         `json:"endTime,omitempty"`
}

// spanEvent is the wire body for span-create and span-update batches.
type spanEvent struct {
	ID           string         `json:"id"`
	TraceID      string         `json:"traceId"`
	ParentSpanID string         `json:"parentSpanId,omitempty"`
	ProjectName  string         `json:"projectName,omitempty"`
	Type         SpanType       `json:"type,omitempty"`
	Name         string         `json:"name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Input        any            `json:"input,omitempty"`
	Output       any            `json:"output,omitempty"`
	Model        string         `json:"model,omitempty"`
	Provider     string         `json:"provider,omitempty"`
	Usage        *Usage         `json:"usage,omitempty"`
	Error        *ErrorInfo     `json:"error,omitempty"`
	StartTime    string         `json:"startTime,omitempty"`
	EndTime      string         `json:"endTime,omitempty"`
}

// scoreEvent is the wire body for feedback-score batches.
type scoreEvent struct {
	ID          string  `json:"id"`
	TraceID     string  `json:"traceId"`
	SpanID      string  `json:"spanId,omitempty"`
	ProjectName string  `json:"projectName,omitempty"`
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	Category    string  `json:"categoryName,omitempty"`
	Reason      string  `json:"reason,omitempty"`
	Source      string  `json:"source,omitempty"`
}
