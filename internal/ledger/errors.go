package ledger

import "errors"

var (
	// ErrInvalidEvent marks events rejected at the boundary: unknown
	// direction, non-positive quantity or price, missing identifiers.
	ErrInvalidEvent = errors.New("invalid event")

	// ErrInsufficientLots is returned when a sell asks for more quantity
	// than the open lots hold. The caller decides the oversell policy;
	// the lot store never clamps silently.
	ErrInsufficientLots = errors.New("insufficient lots")

	// ErrDuplicateTransaction is returned when an event's source
	// transaction id was already processed for the position.
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)
