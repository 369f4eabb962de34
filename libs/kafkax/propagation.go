package kafkax

import (
	"context"

	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// InjectTraceHeaders appends the W3C trace context of ctx to headers.
func InjectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	c := headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, &c)
	return c.headers
}

// MessageContext is the context a handler runs in: the producer's trace as
// remote parent, and a request id for log correlation. Messages without a
// request_id header use their event id.
func MessageContext(ctx context.Context, msg kafka.Message) context.Context {
	ctx = otel.GetTextMapPropagator().Extract(ctx, &headerCarrier{headers: msg.Headers})
	id := HeaderValue(msg.Headers, HeaderRequestID)
	if id == "" {
		id = ExtractEventMeta(msg).EventID
	}
	return httpx.ContextWithRequestID(ctx, id)
}

type headerCarrier struct {
	headers []kafka.Header
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)

func (c *headerCarrier) Get(key string) string { return HeaderValue(c.headers, key) }

func (c *headerCarrier) Keys() []string {
	keys := make([]string, len(c.headers))
	for i, h := range c.headers {
		keys[i] = h.Key
	}
	return keys
}

// Set overwrites, so a re-published message never carries two traceparents.
func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}
