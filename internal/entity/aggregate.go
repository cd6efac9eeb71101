package entity

import "time"

// EventStoreRecord is one persisted entry of an order's history stream.
type EventStoreRecord struct {
	ID         string    `json:"id"`
	StreamID   string    `json:"streamId"`
	StreamType string    `json:"streamType"`
	Version    int       `json:"version"`
	EventType  string    `json:"eventType"`
	Payload    []byte    `json:"payload"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Event represents a domain event.
type Event interface {
	EventType() string
}

// Aggregate represents a domain aggregate root rebuilt from its stream.
type Aggregate interface {
	GetAggregateID() string
	GetVersion() int
	ApplyEvent(event Event) error
}

// AggregateBase provides a basic implementation for an aggregate.
type AggregateBase struct {
	ID      string
	Version int
}

func (a *AggregateBase) GetAggregateID() string {
	return a.ID
}

func (a *AggregateBase) GetVersion() int {
	return a.Version
}
