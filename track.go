package tracelens

import (
	"context"
	"fmt"
	"runtime/debug"
)

// TrackedFunc is the unit of work wrapped by Track. The context it receives
// carries the span created for this call; nested Track calls use it to
// resolve their parent.
type TrackedFunc func(ctx context.Context) (any, error)

// TrackOptions configures a tracked call.
type TrackOptions struct {
	Name     string
	Type     SpanType
	Metadata map[string]any
	Tags     []string
	Input    any
	Model    string
	Provider string
}

// Track runs fn inside a span named name. If the context carries no trace,
// this call becomes a root: a trace is created and ended when fn returns.
// Otherwise the span is attached as a child of the context's current span
// (or directly to the trace).
//
// Track never alters fn's outcome: errors are recorded on the span (and the
// trace, if root) and returned unchanged, and panics are recorded with their
// stack and re-raised with the original value.
func (c *Client) Track(ctx context.Context, name string, fn TrackedFunc) (any, error) {
	return c.TrackWithOptions(ctx, TrackOptions{Name: name}, fn)
}

// TrackWithOptions is Track with full span configuration.
func (c *Client) TrackWithOptions(ctx context.Context, opts TrackOptions, fn TrackedFunc) (any, error) {
	if !c.Enabled() {
		return fn(ctx)
	}

	trace := TraceFromContext(ctx)
	root := trace == nil
	if root {
		trace = c.Trace(TraceOptions{
			Name:     opts.Name,
			Metadata: opts.Metadata,
			Tags:     opts.Tags,
			Input:    opts.Input,
		})
		ctx = WithTrace(ctx, trace)
	}

	spanOpts := SpanOptions{
		Name:     opts.Name,
		Type:     opts.Type,
		Metadata: opts.Metadata,
		Tags:     opts.Tags,
		Input:    opts.Input,
		Model:    opts.Model,
		Provider: opts.Provider,
	}
	if parent := SpanFromContext(ctx); parent != nil {
		spanOpts.ParentSpanID = parent.ID()
	}
	span := trace.Span(spanOpts)
	ctx = WithSpan(ctx, span)

	defer func() {
		if r := recover(); r != nil {
			info := &ErrorInfo{
				Message: fmt.Sprint(r),
				Type:    fmt.Sprintf("%T", r),
				Stack:   string(debug.Stack()),
			}
			span.End(&SpanEndOptions{Error: info})
			if root {
				trace.End(&TraceEndOptions{Error: info})
			}
			panic(r)
		}
	}()

	output, err := fn(ctx)
	if err != nil {
		info := &ErrorInfo{
			Message: err.Error(),
			Type:    fmt.Sprintf("%T", err),
		}
		span.End(&SpanEndOptions{Error: info})
		if root {
			trace.End(&TraceEndOptions{Error: info})
		}
		return output, err
	}

	span.End(&SpanEndOptions{Output: output})
	if root {
		trace.End(&TraceEndOptions{Output: output})
	}
	return output, nil
}
