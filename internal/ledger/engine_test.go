package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testEvent(txID string, dir Direction, qty, price, fees string, ts time.Time) Event {
	return Event{
		SourceTxID:   txID,
		WalletID:     "wallet-1",
		TokenAddress: "0xToken",
		Direction:    dir,
		Quantity:     dec(qty),
		Price:        dec(price),
		Fees:         dec(fees),
		Timestamp:    ts,
	}
}

func TestEngine_MethodSensitivity(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		method       Method
		wantRealized string
		wantLotID    string
		wantLeft     string
		wantCost     string
	}{
		{
			// 100x(3-1) + 20x(3-2) = 220, 30 @ $2 left
			name:         "fifo",
			method:       FIFO,
			wantRealized: "220",
			wantLotID:    "buy-1",
			wantLeft:     "30",
			wantCost:     "60",
		},
		{
			// 50x(3-2) + 70x(3-1) = 190, 30 @ $1 left
			name:         "lifo",
			method:       LIFO,
			wantRealized: "190",
			wantLotID:    "buy-2",
			wantLeft:     "30",
			wantCost:     "30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(zaptest.NewLogger(t))
			cfg := AccountingConfig{Method: tt.method, IncludeFees: true, FeeAllocation: FeeProportional}
			store := NewLotStore()

			_, err := engine.Apply(testEvent("buy-1", DirectionBuy, "100", "1", "0", base), cfg, store)
			require.NoError(t, err)
			_, err = engine.Apply(testEvent("buy-2", DirectionBuy, "50", "2", "0", base.Add(time.Minute)), cfg, store)
			require.NoError(t, err)

			rec, err := engine.Apply(testEvent("sell-1", DirectionSell, "120", "3", "0", base.Add(2*time.Minute)), cfg, store)
			require.NoError(t, err)

			assert.True(t, rec.IsRealized)
			assert.Equal(t, tt.method, rec.Method)
			assert.True(t, rec.RealizedPnL.Equal(dec(tt.wantRealized)),
				"realized %s, want %s", rec.RealizedPnL, tt.wantRealized)

			require.Equal(t, 1, store.Len())
			left := store.Open()[0]
			assert.Equal(t, tt.wantLotID, left.LotID)
			assert.True(t, left.RemainingQuantity.Equal(dec(tt.wantLeft)))
			assert.True(t, store.TotalCost().Equal(dec(tt.wantCost)))
		})
	}
}

func TestEngine_BuyCostBasisWithFees(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		cfg          AccountingConfig
		wantBasis    string
		wantLotFees  string
		wantLotStore string // TotalCost after the buy
	}{
		{
			name:         "fees folded proportionally",
			cfg:          AccountingConfig{Method: FIFO, IncludeFees: true, FeeAllocation: FeeProportional},
			wantBasis:    "102.5",
			wantLotFees:  "2.5",
			wantLotStore: "102.5",
		},
		{
			name:         "fees on record only",
			cfg:          AccountingConfig{Method: FIFO, IncludeFees: true, FeeAllocation: FeeSeparate},
			wantBasis:    "102.5",
			wantLotFees:  "0",
			wantLotStore: "100",
		},
		{
			name:         "fees excluded",
			cfg:          AccountingConfig{Method: FIFO, IncludeFees: false, FeeAllocation: FeeProportional},
			wantBasis:    "100",
			wantLotFees:  "0",
			wantLotStore: "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(zaptest.NewLogger(t))
			store := NewLotStore()

			rec, err := engine.Apply(testEvent("buy-1", DirectionBuy, "50", "2", "2.5", base), tt.cfg, store)
			require.NoError(t, err)

			assert.True(t, rec.CostBasis.Equal(dec(tt.wantBasis)), "basis %s", rec.CostBasis)
			assert.True(t, rec.RealizedPnL.IsZero())
			assert.False(t, rec.IsRealized)

			require.Equal(t, 1, store.Len())
			lot := store.Open()[0]
			assert.True(t, lot.FeesAttributed.Equal(dec(tt.wantLotFees)))
			assert.True(t, store.TotalCost().Equal(dec(tt.wantLotStore)))
		})
	}
}

func TestEngine_SellFeesAlwaysReduceRealized(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(zaptest.NewLogger(t))
	cfg := AccountingConfig{Method: FIFO, IncludeFees: true, FeeAllocation: FeeSeparate}
	store := NewLotStore()

	_, err := engine.Apply(testEvent("buy-1", DirectionBuy, "10", "1", "0", base), cfg, store)
	require.NoError(t, err)

	rec, err := engine.Apply(testEvent("sell-1", DirectionSell, "10", "2", "0.75", base.Add(time.Minute)), cfg, store)
	require.NoError(t, err)

	// 10x2 - 10x1 - 0.75
	assert.True(t, rec.RealizedPnL.Equal(dec("9.25")), "realized %s", rec.RealizedPnL)
}

func TestEngine_OversellRejected(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	cfg := DefaultAccountingConfig()
	store := NewLotStore()

	_, err := engine.Apply(testEvent("sell-1", DirectionSell, "1", "2", "0", time.Now()), cfg, store)
	require.ErrorIs(t, err, ErrInsufficientLots)
	assert.Equal(t, 0, store.Len())
}

func TestEngine_LaunchOpensLot(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	store := NewLotStore()

	rec, err := engine.Apply(testEvent("launch-1", DirectionLaunch, "1000", "0.001", "0", time.Now()), DefaultAccountingConfig(), store)
	require.NoError(t, err)
	assert.True(t, rec.CostBasis.Equal(dec("1")))
	assert.Equal(t, 1, store.Len())
}

func TestEngine_FundingAndFeePaymentAreAuditOnly(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	cfg := DefaultAccountingConfig()
	store := NewLotStore()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := engine.Apply(testEvent("buy-1", DirectionBuy, "10", "1", "0", base), cfg, store)
	require.NoError(t, err)

	for _, dir := range []Direction{DirectionFunding, DirectionFeePayment} {
		ev := Event{
			SourceTxID:   "aux-" + string(dir),
			WalletID:     "wallet-1",
			TokenAddress: "0xToken",
			Direction:    dir,
			Quantity:     decimal.Zero,
			Price:        decimal.Zero,
			Fees:         dec("0.01"),
			Timestamp:    base.Add(time.Minute),
		}
		rec, err := engine.Apply(ev, cfg, store)
		require.NoError(t, err)
		assert.True(t, rec.RealizedPnL.IsZero())
		assert.True(t, rec.CostBasis.IsZero())
		assert.False(t, rec.IsRealized)
	}

	// no lot mutation happened
	assert.Equal(t, 1, store.Len())
	assert.True(t, store.TotalRemaining().Equal(dec("10")))
}

func TestEngine_InvalidEvents(t *testing.T) {
	engine := NewEngine(zaptest.NewLogger(t))
	cfg := DefaultAccountingConfig()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ev   Event
	}{
		{"zero quantity buy", testEvent("tx", DirectionBuy, "0", "1", "0", base)},
		{"negative quantity sell", testEvent("tx", DirectionSell, "-5", "1", "0", base)},
		{"zero price buy", testEvent("tx", DirectionBuy, "10", "0", "0", base)},
		{"negative price sell", testEvent("tx", DirectionSell, "10", "-1", "0", base)},
		{"negative fees", testEvent("tx", DirectionBuy, "10", "1", "-1", base)},
		{"unknown direction", testEvent("tx", Direction("swap"), "10", "1", "0", base)},
		{"missing tx id", testEvent("", DirectionBuy, "10", "1", "0", base)},
		{"missing timestamp", testEvent("tx", DirectionBuy, "10", "1", "0", time.Time{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewLotStore()
			_, err := engine.Apply(tt.ev, cfg, store)
			require.ErrorIs(t, err, ErrInvalidEvent)
			assert.Equal(t, 0, store.Len())
		})
	}
}

// Conservation: realized + unrealized at the current price must equal
// (balance x price + proceeds) - all cost basis ever incurred.
func TestEngine_Conservation(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, method := range []Method{FIFO, LIFO} {
		t.Run(string(method), func(t *testing.T) {
			engine := NewEngine(zaptest.NewLogger(t))
			cfg := AccountingConfig{Method: method, IncludeFees: true, FeeAllocation: FeeProportional}
			store := NewLotStore()

			events := []Event{
				testEvent("b1", DirectionBuy, "100", "1.25", "0.5", base),
				testEvent("b2", DirectionBuy, "40", "2.1", "0.2", base.Add(1*time.Minute)),
				testEvent("s1", DirectionSell, "90", "1.9", "0.3", base.Add(2*time.Minute)),
				testEvent("b3", DirectionBuy, "25", "1.6", "0.1", base.Add(3*time.Minute)),
				testEvent("s2", DirectionSell, "60", "2.4", "0.25", base.Add(4*time.Minute)),
			}

			var (
				acc          Accumulator
				totalBasis   decimal.Decimal
				proceeds     decimal.Decimal
				sellFees     decimal.Decimal
			)
			for _, ev := range events {
				rec, err := engine.Apply(ev, cfg, store)
				require.NoError(t, err)
				acc.Record(rec)
				if ev.Direction.OpensLot() {
					totalBasis = totalBasis.Add(rec.CostBasis)
				} else {
					proceeds = proceeds.Add(ev.Quantity.Mul(ev.Price))
					sellFees = sellFees.Add(ev.Fees)
				}
			}

			price := dec("2.75")
			pos := RecomputePosition(PositionKey{"wallet-1", "0xToken"}, store, acc,
				PriceObservation{Price: price, AsOf: base.Add(5 * time.Minute)})

			lhs := pos.RealizedPnL.Add(pos.UnrealizedPnL)
			rhs := pos.CurrentBalance.Mul(price).Add(proceeds).Sub(totalBasis).Sub(sellFees)
			assert.True(t, lhs.Equal(rhs.Round(Scale)), "lhs %s rhs %s", lhs, rhs)

			// balance invariant
			assert.True(t, pos.CurrentBalance.Equal(store.TotalRemaining()))
		})
	}
}
