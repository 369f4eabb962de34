// Package outbox implements the transactional outbox: services insert events
// in the same transaction as their state change and a Publisher relays them
// to Kafka.
package outbox

import (
	"encoding/json"
	"fmt"
)

// Event is the envelope written to the outbox_events table. Topic groups the
// events of one aggregate family; EventType travels as a header.
type Event struct {
	Topic         string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewEvent marshals payload as JSON.
func NewEvent(topic, aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		Topic:         topic,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       b,
	}, nil
}
