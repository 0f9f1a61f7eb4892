package ledger

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RecomputePosition derives the position snapshot from the open lots, the
// accumulated realized P&L and a price observation. It is idempotent: a
// price-only recompute changes the unrealized side and nothing else.
func RecomputePosition(key PositionKey, store *LotStore, acc Accumulator, obs PriceObservation) Position {
	balance := store.TotalRemaining()
	totalCost := store.TotalCost()

	avgCost := decimal.Zero
	if balance.IsPositive() {
		avgCost = round(totalCost.Div(balance))
	}

	unrealized := round(balance.Mul(obs.Price).Sub(totalCost))

	roi := decimal.Zero
	if !totalCost.IsZero() {
		roi = round(acc.RealizedPnL.Add(unrealized).Div(totalCost).Mul(hundred))
	}

	return Position{
		Key:               key,
		CurrentBalance:    balance,
		TotalCost:         totalCost,
		AverageCostBasis:  avgCost,
		RealizedPnL:       acc.RealizedPnL,
		UnrealizedPnL:     unrealized,
		ROI:               roi,
		CurrentPrice:      round(obs.Price),
		PriceStale:        obs.Stale,
		PriceAsOf:         obs.AsOf,
		TransactionCount:  acc.TransactionCount,
		FirstPurchaseAt:   acc.FirstPurchaseAt,
		LastTransactionAt: acc.LastTransactionAt,
	}
}
