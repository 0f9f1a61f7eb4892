package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a single acquisition: quantity bought at a unit cost, consumed
// piecewise by later sells. RemainingQuantity is the only mutable field.
type Lot struct {
	LotID             string
	Quantity          decimal.Decimal
	RemainingQuantity decimal.Decimal
	UnitCost          decimal.Decimal
	FeesAttributed    decimal.Decimal
	OpenedAt          time.Time
}

// CostRemaining is the open cost carried by the lot: remaining quantity at
// unit cost plus whatever fee share has not been consumed yet.
func (l *Lot) CostRemaining() decimal.Decimal {
	return round(l.RemainingQuantity.Mul(l.UnitCost).Add(l.FeesAttributed))
}

// Consumption describes how much of one lot a sell took.
type Consumption struct {
	LotID     string
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	FeeShare  decimal.Decimal
	Exhausted bool
}

// CostBasis is the cost the consumed slice carried.
func (c Consumption) CostBasis() decimal.Decimal {
	return round(c.Quantity.Mul(c.UnitCost).Add(c.FeeShare))
}

// LotStore holds the open lots of a single position. It is not safe for
// concurrent use; the mutation serializer owns it.
type LotStore struct {
	lots []*Lot
}

// NewLotStore returns an empty lot store.
func NewLotStore() *LotStore {
	return &LotStore{}
}

// Append inserts a new open lot. Ordering is applied at read time, so the
// insert position does not matter.
func (s *LotStore) Append(lot *Lot) {
	s.lots = append(s.lots, lot)
}

// Len returns the number of open lots.
func (s *LotStore) Len() int {
	return len(s.lots)
}

// Open returns the open lots ordered oldest first. Callers get the live
// pointers and must not mutate them.
func (s *LotStore) Open() []*Lot {
	out := make([]*Lot, len(s.lots))
	copy(out, s.lots)
	sortLots(out, FIFO)
	return out
}

// TotalRemaining sums the remaining quantity over all open lots.
func (s *LotStore) TotalRemaining() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.lots {
		total = total.Add(l.RemainingQuantity)
	}
	return round(total)
}

// TotalCost sums the open cost basis over all open lots.
func (s *LotStore) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.lots {
		total = total.Add(l.CostRemaining())
	}
	return round(total)
}

// Consume takes quantity out of the open lots in method order: oldest first
// for FIFO, newest first for LIFO. If the open lots cannot cover the
// requested quantity it returns ErrInsufficientLots and leaves every lot
// untouched.
func (s *LotStore) Consume(quantity decimal.Decimal, method Method) ([]Consumption, error) {
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("%w: consume quantity must be positive, got %s", ErrInvalidEvent, quantity)
	}
	if available := s.TotalRemaining(); available.LessThan(quantity) {
		return nil, fmt.Errorf("%w: requested %s, available %s",
			ErrInsufficientLots, quantity, available)
	}

	ordered := make([]*Lot, len(s.lots))
	copy(ordered, s.lots)
	sortLots(ordered, method)

	var out []Consumption
	left := quantity
	for _, lot := range ordered {
		if left.IsZero() {
			break
		}
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}

		take := lot.RemainingQuantity
		if take.GreaterThan(left) {
			take = left
		}

		// The closing slice of a lot takes the whole residual fee share
		// so nothing is lost to division dust.
		var feeShare decimal.Decimal
		if take.Equal(lot.RemainingQuantity) {
			feeShare = lot.FeesAttributed
		} else {
			feeShare = round(lot.FeesAttributed.Mul(take).Div(lot.RemainingQuantity))
		}

		lot.RemainingQuantity = lot.RemainingQuantity.Sub(take)
		lot.FeesAttributed = lot.FeesAttributed.Sub(feeShare)

		out = append(out, Consumption{
			LotID:     lot.LotID,
			Quantity:  take,
			UnitCost:  lot.UnitCost,
			FeeShare:  feeShare,
			Exhausted: lot.RemainingQuantity.IsZero(),
		})
		left = left.Sub(take)
	}

	return out, nil
}

// PruneEmpty drops lots whose remaining quantity reached zero. A pruned lot
// never re-enters the store.
func (s *LotStore) PruneEmpty() {
	kept := s.lots[:0]
	for _, l := range s.lots {
		if l.RemainingQuantity.IsPositive() {
			kept = append(kept, l)
		}
	}
	s.lots = kept
}

// sortLots orders lots by open time, lot id breaking ties so replays are
// deterministic even for same-timestamp acquisitions.
func sortLots(lots []*Lot, method Method) {
	sort.SliceStable(lots, func(i, j int) bool {
		a, b := lots[i], lots[j]
		if !a.OpenedAt.Equal(b.OpenedAt) {
			if method == LIFO {
				return a.OpenedAt.After(b.OpenedAt)
			}
			return a.OpenedAt.Before(b.OpenedAt)
		}
		if method == LIFO {
			return a.LotID > b.LotID
		}
		return a.LotID < b.LotID
	})
}
