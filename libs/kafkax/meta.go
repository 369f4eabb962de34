package kafkax

import (
	"strings"

	"github.com/segmentio/kafka-go"
)

// Header keys set by the outbox publisher.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateType = "aggregate_type"
	HeaderRequestID     = "request_id"
)

// EventMeta identifies one event independent of its payload. EventID is the
// inbox dedup key on the consuming side.
type EventMeta struct {
	EventID       string
	EventType     string
	AggregateType string
}

// Headers renders m for a producer. Empty fields are omitted.
func (m EventMeta) Headers() []kafka.Header {
	var out []kafka.Header
	for _, kv := range [][2]string{
		{HeaderEventID, m.EventID},
		{HeaderEventType, m.EventType},
		{HeaderAggregateType, m.AggregateType},
	} {
		if kv[1] != "" {
			out = append(out, kafka.Header{Key: kv[0], Value: []byte(kv[1])})
		}
	}
	return out
}

// ExtractEventMeta reads the headers back. A message produced without them
// (kafka-console-producer, the webhook simulator) is identified by its key
// and typed by its topic.
func ExtractEventMeta(msg kafka.Message) EventMeta {
	m := EventMeta{
		EventID:       HeaderValue(msg.Headers, HeaderEventID),
		EventType:     HeaderValue(msg.Headers, HeaderEventType),
		AggregateType: HeaderValue(msg.Headers, HeaderAggregateType),
	}
	if m.EventID == "" {
		m.EventID = string(msg.Key)
	}
	if m.EventType == "" {
		m.EventType = msg.Topic
	}
	return m
}

// HeaderValue returns the last value for key, matching how kafka-go
// consumers see a header set twice.
func HeaderValue(headers []kafka.Header, key string) string {
	for i := len(headers) - 1; i >= 0; i-- {
		if headers[i].Key == key {
			return string(headers[i].Value)
		}
	}
	return ""
}

// SplitBrokers parses KAFKA_BROKERS ("kafka:9092, kafka-2:9092").
func SplitBrokers(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' })
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// NewWriter returns a writer that routes by the message Topic field and
// partitions by key, so events of one aggregate stay ordered.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}
