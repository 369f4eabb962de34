package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestCarrierRoundTrip(t *testing.T) {
	if c := Capture(context.Background()); !c.Empty() {
		t.Fatalf("no span should capture nothing, got %+v", c)
	}
	ctx := context.Background()
	if (Carrier{}).Attach(ctx) != ctx {
		t.Fatal("empty carrier must not wrap the context")
	}

	c := Carrier{Parent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", State: "vendor=1"}
	sc := trace.SpanContextFromContext(c.Attach(ctx))
	if !sc.IsValid() || !sc.IsRemote() || sc.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if got := Capture(c.Attach(ctx)); got != c {
		t.Fatalf("round trip = %+v, want %+v", got, c)
	}
}
