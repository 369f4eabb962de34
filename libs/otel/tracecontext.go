package otelx

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// Carrier is a W3C trace context flattened to the two columns stored next to
// outbox rows and scheduled jobs. The poller that later picks up the row
// attaches it, so its spans join the trace that created the row.
type Carrier struct {
	Parent string
	State  string
}

var traceContext = propagation.TraceContext{}

// Capture returns the span context of ctx. It is empty when ctx carries no
// sampled or unsampled span.
func Capture(ctx context.Context) Carrier {
	m := propagation.MapCarrier{}
	traceContext.Inject(ctx, m)
	return Carrier{Parent: m.Get("traceparent"), State: m.Get("tracestate")}
}

func (c Carrier) Empty() bool { return c.Parent == "" }

// Attach makes c the remote parent of ctx.
func (c Carrier) Attach(ctx context.Context) context.Context {
	if c.Empty() {
		return ctx
	}
	return traceContext.Extract(ctx, propagation.MapCarrier{"traceparent": c.Parent, "tracestate": c.State})
}
