// Package ledger implements the cost-basis accounting core: open-lot
// bookkeeping, FIFO/LIFO matching, realized and unrealized P&L.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits kept for all monetary values.
const Scale = 8

// round normalizes a decimal to the ledger scale.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Direction classifies an inbound transaction event.
type Direction string

const (
	DirectionBuy        Direction = "buy"
	DirectionSell       Direction = "sell"
	DirectionLaunch     Direction = "launch"
	DirectionFunding    Direction = "funding"
	DirectionFeePayment Direction = "fee_payment"
)

// ParseDirection validates a raw direction string.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case DirectionBuy:
		return DirectionBuy, nil
	case DirectionSell:
		return DirectionSell, nil
	case DirectionLaunch:
		return DirectionLaunch, nil
	case DirectionFunding:
		return DirectionFunding, nil
	case DirectionFeePayment:
		return DirectionFeePayment, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidEvent, s)
	}
}

// OpensLot reports whether events of this direction create a new lot.
func (d Direction) OpensLot() bool {
	return d == DirectionBuy || d == DirectionLaunch
}

// ConsumesLots reports whether events of this direction close lot quantity.
func (d Direction) ConsumesLots() bool {
	return d == DirectionSell
}

// Method selects the order in which open lots are matched against a sell.
type Method string

const (
	FIFO Method = "fifo"
	LIFO Method = "lifo"
)

// ParseMethod parses an accounting method name.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case FIFO:
		return FIFO, nil
	case LIFO:
		return LIFO, nil
	default:
		return "", fmt.Errorf("unknown accounting method: %q", s)
	}
}

// FeeAllocation controls how buy-side fees are attributed to a lot.
type FeeAllocation string

const (
	// FeeProportional folds the fee into the lot's cost so later sells
	// carry a proportional share of it.
	FeeProportional FeeAllocation = "proportional"
	// FeeSeparate records the fee on the transaction only; the lot's cost
	// stays price times quantity.
	FeeSeparate FeeAllocation = "separate"
)

// ParseFeeAllocation parses a fee allocation mode name.
func ParseFeeAllocation(s string) (FeeAllocation, error) {
	switch FeeAllocation(strings.ToLower(strings.TrimSpace(s))) {
	case FeeProportional:
		return FeeProportional, nil
	case FeeSeparate:
		return FeeSeparate, nil
	default:
		return "", fmt.Errorf("unknown fee allocation mode: %q", s)
	}
}

// AccountingConfig is read at the moment an event is matched against lots.
// Changing it mid-run affects only subsequently opened lots and sells.
type AccountingConfig struct {
	Method        Method
	IncludeFees   bool
	FeeAllocation FeeAllocation
}

// DefaultAccountingConfig returns FIFO with fees folded into cost basis.
func DefaultAccountingConfig() AccountingConfig {
	return AccountingConfig{
		Method:        FIFO,
		IncludeFees:   true,
		FeeAllocation: FeeProportional,
	}
}

// PositionKey identifies one (wallet, token) ledger.
type PositionKey struct {
	WalletID     string
	TokenAddress string
}

func (k PositionKey) String() string {
	return k.WalletID + "/" + k.TokenAddress
}

// Event is one inbound transaction from the execution layer, validated at
// the boundary before it reaches the accounting engine.
type Event struct {
	SourceTxID   string
	WalletID     string
	TokenAddress string
	Direction    Direction
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Fees         decimal.Decimal
	GasUsed      decimal.Decimal
	Timestamp    time.Time
}

// Key returns the position key the event belongs to.
func (e Event) Key() PositionKey {
	return PositionKey{WalletID: e.WalletID, TokenAddress: e.TokenAddress}
}

// Validate rejects malformed events before any state is touched.
func (e Event) Validate() error {
	if e.SourceTxID == "" {
		return fmt.Errorf("%w: missing source transaction id", ErrInvalidEvent)
	}
	if e.WalletID == "" || e.TokenAddress == "" {
		return fmt.Errorf("%w: missing wallet or token address", ErrInvalidEvent)
	}
	if _, err := ParseDirection(string(e.Direction)); err != nil {
		return err
	}
	if e.Fees.IsNegative() {
		return fmt.Errorf("%w: negative fees", ErrInvalidEvent)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}
	if e.Direction.OpensLot() || e.Direction.ConsumesLots() {
		if !e.Quantity.IsPositive() {
			return fmt.Errorf("%w: quantity must be positive, got %s", ErrInvalidEvent, e.Quantity)
		}
		if !e.Price.IsPositive() {
			return fmt.Errorf("%w: price must be positive, got %s", ErrInvalidEvent, e.Price)
		}
	} else if e.Quantity.IsNegative() || e.Price.IsNegative() {
		return fmt.Errorf("%w: negative quantity or price", ErrInvalidEvent)
	}
	return nil
}

// TransactionPnL is the immutable per-event accounting record.
type TransactionPnL struct {
	SourceTxID   string
	WalletID     string
	TokenAddress string
	Direction    Direction
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	Fees         decimal.Decimal
	GasUsed      decimal.Decimal
	CostBasis    decimal.Decimal
	RealizedPnL  decimal.Decimal
	Method       Method
	IsRealized   bool
	Timestamp    time.Time
}

// Key returns the position key the record belongs to.
func (t TransactionPnL) Key() PositionKey {
	return PositionKey{WalletID: t.WalletID, TokenAddress: t.TokenAddress}
}

// Position is the derived state for one (wallet, token) pair.
type Position struct {
	Key               PositionKey
	CurrentBalance    decimal.Decimal
	TotalCost         decimal.Decimal
	AverageCostBasis  decimal.Decimal
	RealizedPnL       decimal.Decimal
	UnrealizedPnL     decimal.Decimal
	ROI               decimal.Decimal
	CurrentPrice      decimal.Decimal
	PriceStale        bool
	PriceAsOf         time.Time
	TransactionCount  int64
	FirstPurchaseAt   time.Time
	LastTransactionAt time.Time
}

// Accumulator carries the monotonic per-key counters that are never
// recomputed from lots: realized P&L and transaction bookkeeping.
type Accumulator struct {
	RealizedPnL       decimal.Decimal
	TransactionCount  int64
	FirstPurchaseAt   time.Time
	LastTransactionAt time.Time
}

// Record folds one processed event into the accumulator.
func (a *Accumulator) Record(rec TransactionPnL) {
	a.RealizedPnL = round(a.RealizedPnL.Add(rec.RealizedPnL))
	a.TransactionCount++
	if rec.Direction.OpensLot() && (a.FirstPurchaseAt.IsZero() || rec.Timestamp.Before(a.FirstPurchaseAt)) {
		a.FirstPurchaseAt = rec.Timestamp
	}
	if rec.Timestamp.After(a.LastTransactionAt) {
		a.LastTransactionAt = rec.Timestamp
	}
}

// PriceObservation is the market price used for unrealized P&L. Stale marks
// fallbacks (transaction price or last-known) taken when the feed had
// nothing fresher.
type PriceObservation struct {
	Price decimal.Decimal
	AsOf  time.Time
	Stale bool
}
