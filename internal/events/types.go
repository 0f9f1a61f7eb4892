package events

import (
	"context"
	"time"

	"walletledger/internal/ledger"
)

// EventType represents the type of event.
type EventType string

const (
	// PositionUpdated is emitted after a transaction event mutated a
	// position and was persisted.
	PositionUpdated EventType = "position.updated"

	// PositionPriced is emitted after a price tick recomputed the
	// unrealized side of a position. Lots and realized P&L are untouched.
	PositionPriced EventType = "position.priced"

	// TransactionRejected is emitted when an inbound event was refused;
	// rejected events are reported, never silently dropped.
	TransactionRejected EventType = "transaction.rejected"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// PositionUpdatedEvent carries the accounting record and the refreshed
// position after a successful mutation.
type PositionUpdatedEvent struct {
	BaseEvent
	Key         ledger.PositionKey
	Transaction ledger.TransactionPnL
	Position    ledger.Position
}

// PositionPricedEvent carries a position refreshed by a price tick only.
type PositionPricedEvent struct {
	BaseEvent
	Key      ledger.PositionKey
	Position ledger.Position
}

// TransactionRejectedEvent reports a refused inbound event.
type TransactionRejectedEvent struct {
	BaseEvent
	Key        ledger.PositionKey
	SourceTxID string
	Reason     string
}

// Handler processes published events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Subscription represents an active handler registration.
type Subscription interface {
	Unsubscribe()
}
