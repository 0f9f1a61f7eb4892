package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRecomputePosition(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	key := PositionKey{WalletID: "wallet-1", TokenAddress: "0xToken"}

	store := NewLotStore()
	store.Append(testLot("b1", "100", "1", base))
	store.Append(testLot("b2", "50", "2", base.Add(time.Minute)))

	acc := Accumulator{
		RealizedPnL:       dec("10"),
		TransactionCount:  3,
		FirstPurchaseAt:   base,
		LastTransactionAt: base.Add(time.Minute),
	}

	pos := RecomputePosition(key, store, acc, PriceObservation{Price: dec("1.5"), AsOf: base.Add(2 * time.Minute)})

	assert.True(t, pos.CurrentBalance.Equal(dec("150")))
	assert.True(t, pos.TotalCost.Equal(dec("200")))
	// 200 / 150
	assert.True(t, pos.AverageCostBasis.Equal(dec("1.33333333")), "avg %s", pos.AverageCostBasis)
	// 150 x 1.5 - 200
	assert.True(t, pos.UnrealizedPnL.Equal(dec("25")))
	// (10 + 25) / 200 x 100
	assert.True(t, pos.ROI.Equal(dec("17.5")), "roi %s", pos.ROI)
	assert.True(t, pos.RealizedPnL.Equal(dec("10")))
	assert.Equal(t, int64(3), pos.TransactionCount)
	assert.Equal(t, base, pos.FirstPurchaseAt)
}

func TestRecomputePosition_EmptyStore(t *testing.T) {
	key := PositionKey{WalletID: "wallet-1", TokenAddress: "0xToken"}
	acc := Accumulator{RealizedPnL: dec("42"), TransactionCount: 2}

	pos := RecomputePosition(key, NewLotStore(), acc, PriceObservation{Price: dec("3")})

	assert.True(t, pos.CurrentBalance.IsZero())
	assert.True(t, pos.TotalCost.IsZero())
	assert.True(t, pos.AverageCostBasis.IsZero())
	assert.True(t, pos.UnrealizedPnL.IsZero())
	assert.True(t, pos.ROI.IsZero())
	assert.True(t, pos.RealizedPnL.Equal(dec("42")))
}

// A price-only recompute may change the unrealized side and the price
// fields, never realized P&L, balance or lot contents.
func TestRecomputePosition_PriceOnlyUpdate(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	key := PositionKey{WalletID: "wallet-1", TokenAddress: "0xToken"}
	engine := NewEngine(zaptest.NewLogger(t))
	cfg := DefaultAccountingConfig()
	store := NewLotStore()

	var acc Accumulator
	for _, ev := range []Event{
		testEvent("b1", DirectionBuy, "100", "1", "0", base),
		testEvent("s1", DirectionSell, "40", "2", "0", base.Add(time.Minute)),
	} {
		rec, err := engine.Apply(ev, cfg, store)
		require.NoError(t, err)
		acc.Record(rec)
	}

	first := RecomputePosition(key, store, acc, PriceObservation{Price: dec("2"), AsOf: base.Add(2 * time.Minute)})
	second := RecomputePosition(key, store, acc, PriceObservation{Price: dec("5"), AsOf: base.Add(3 * time.Minute)})

	assert.True(t, second.RealizedPnL.Equal(first.RealizedPnL))
	assert.True(t, second.CurrentBalance.Equal(first.CurrentBalance))
	assert.True(t, second.TotalCost.Equal(first.TotalCost))
	assert.Equal(t, first.TransactionCount, second.TransactionCount)

	assert.False(t, second.UnrealizedPnL.Equal(first.UnrealizedPnL))
	assert.False(t, second.ROI.Equal(first.ROI))
	assert.True(t, second.CurrentPrice.Equal(dec("5")))

	// recompute is idempotent at a fixed price
	third := RecomputePosition(key, store, acc, PriceObservation{Price: dec("5"), AsOf: base.Add(3 * time.Minute)})
	assert.Equal(t, second, third)
}

func TestAccumulator_Record(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var acc Accumulator

	acc.Record(TransactionPnL{Direction: DirectionBuy, RealizedPnL: decimal.Zero, Timestamp: base})
	acc.Record(TransactionPnL{Direction: DirectionSell, RealizedPnL: dec("5.5"), IsRealized: true, Timestamp: base.Add(time.Hour)})
	acc.Record(TransactionPnL{Direction: DirectionSell, RealizedPnL: dec("-2"), IsRealized: true, Timestamp: base.Add(2 * time.Hour)})

	assert.True(t, acc.RealizedPnL.Equal(dec("3.5")))
	assert.Equal(t, int64(3), acc.TransactionCount)
	assert.Equal(t, base, acc.FirstPurchaseAt)
	assert.Equal(t, base.Add(2*time.Hour), acc.LastTransactionAt)
}
