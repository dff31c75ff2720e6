package tracelens

import "context"

type contextKey int

const (
	traceKey contextKey = iota
	spanKey
)

// WithTrace returns a context carrying the trace. Derived contexts are the
// only propagation mechanism: two concurrent call chains holding different
// contexts can never observe each other's trace.
func WithTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, traceKey, trace)
}

// TraceFromContext returns the current trace, or nil if none is active.
func TraceFromContext(ctx context.Context) *Trace {
	trace, _ := ctx.Value(traceKey).(*Trace)
	return trace
}

// WithSpan returns a context carrying the span.
func WithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanKey, span)
}

// SpanFromContext returns the current span, or nil if none is active.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey).(*Span)
	return span
}

// StartTrace creates a trace and returns a context carrying it.
func (c *Client) StartTrace(ctx context.Context, opts TraceOptions) (*Trace, context.Context) {
	trace := c.Trace(opts)
	return trace, WithTrace(ctx, trace)
}

// StartSpan creates a span parented on the context's current span. When the
// context carries no trace, a new root trace is created first; the caller
// owns ending it.
func (c *Client) StartSpan(ctx context.Context, opts SpanOptions) (*Span, context.Context) {
	trace := TraceFromContext(ctx)
	if trace == nil {
		trace = c.Trace(TraceOptions{
			Name:     opts.Name,
			Metadata: opts.Metadata,
			Tags:     opts.Tags,
			Input:    opts.Input,
		})
		ctx = WithTrace(ctx, trace)
	}

	if opts.ParentSpanID == "" {
		if parent := SpanFromContext(ctx); parent != nil {
			opts.ParentSpanID = parent.ID()
		}
	}

	span := trace.Span(opts)
	return span, WithSpan(ctx, span)
}
