package kafkax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/md-rashed-zaman/lunchpass/libs/httpx"
	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerRetriesThenCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		msgs: []kafka.Message{
			{Topic: "t", Offset: 1, Headers: []kafka.Header{{Key: HeaderEventID, Value: []byte("ok")}}},
			{Topic: "t", Offset: 2, Headers: []kafka.Header{{Key: HeaderEventID, Value: []byte("bad")}}},
		},
		cancel: cancel,
	}
	calls := map[string]int{}
	handler := func(_ context.Context, msg kafka.Message) error {
		id := ExtractEventMeta(msg).EventID
		calls[id]++
		if id == "bad" {
			return errors.New("boom")
		}
		return nil
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := newConsumer(reader, logger, ConsumerConfig{Attempts: 2, RetryDelay: time.Millisecond}, handler)
	c.Run(ctx)

	if calls["ok"] != 1 || calls["bad"] != 2 {
		t.Fatalf("unexpected calls %v", calls)
	}
	if len(reader.committed) != 2 || reader.committed[0] != 1 || reader.committed[1] != 2 {
		t.Fatalf("unexpected commits %v", reader.committed)
	}
}

func TestExtractEventMetaFallbacks(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{Topic: "order.events", Key: []byte("k1")})
	if meta.EventID != "k1" || meta.EventType != "order.events" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" a:9092, ,b:9092")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("SplitBrokers = %#v", got)
	}
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	headers := InjectTraceHeaders(context.Background(), []kafka.Header{{Key: HeaderEventID, Value: []byte("e")}})
	if HeaderValue(headers, HeaderEventID) != "e" {
		t.Fatalf("existing headers lost: %v", headers)
	}
}

func TestReadyCheckNeedsBrokers(t *testing.T) {
	if err := ReadyCheck(" , ")(context.Background()); err == nil {
		t.Fatal("expected an error without brokers")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ReadyCheck("127.0.0.1:1")(ctx); err == nil {
		t.Fatal("expected an error for an unreachable broker")
	}
}

func TestMessageContextRequestID(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: HeaderEventID, Value: []byte("evt-1")}}}
	if got := httpx.RequestIDFromContext(MessageContext(context.Background(), msg)); got != "evt-1" {
		t.Fatalf("fallback request id = %q", got)
	}
	msg.Headers = append(msg.Headers, kafka.Header{Key: HeaderRequestID, Value: []byte("rid")})
	if got := httpx.RequestIDFromContext(MessageContext(context.Background(), msg)); got != "rid" {
		t.Fatalf("request id = %q", got)
	}
}

func TestEventMetaHeaders(t *testing.T) {
	h := EventMeta{EventID: "e-9", EventType: "meal.consumed"}.Headers()
	if len(h) != 2 {
		t.Fatalf("empty aggregate type should be omitted: %v", h)
	}
	meta := ExtractEventMeta(kafka.Message{Topic: "ordering.events", Key: []byte("k"), Headers: h})
	if meta.EventID != "e-9" || meta.EventType != "meal.consumed" || meta.AggregateType != "" {
		t.Fatalf("unexpected meta %+v", meta)
	}
	bare := ExtractEventMeta(kafka.Message{Topic: "ordering.events", Key: []byte("k")})
	if bare.EventID != "k" || bare.EventType != "ordering.events" {
		t.Fatalf("fallbacks not applied: %+v", bare)
	}
}
