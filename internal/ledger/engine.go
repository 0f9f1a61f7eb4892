package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine translates one validated event into lot mutations and an
// immutable TransactionPnL record. It never touches persistence or the
// network; everything it knows arrives through its arguments.
type Engine struct {
	logger *zap.Logger
}

// NewEngine creates an accounting engine.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("engine")}
}

// Apply runs the event against the lot store under the given configuration.
// On error the store is left exactly as it was.
func (e *Engine) Apply(ev Event, cfg AccountingConfig, store *LotStore) (TransactionPnL, error) {
	if err := ev.Validate(); err != nil {
		return TransactionPnL{}, err
	}

	rec := TransactionPnL{
		SourceTxID:   ev.SourceTxID,
		WalletID:     ev.WalletID,
		TokenAddress: ev.TokenAddress,
		Direction:    ev.Direction,
		Quantity:     round(ev.Quantity),
		Price:        round(ev.Price),
		Fees:         round(ev.Fees),
		GasUsed:      round(ev.GasUsed),
		CostBasis:    decimal.Zero,
		RealizedPnL:  decimal.Zero,
		Method:       cfg.Method,
		Timestamp:    ev.Timestamp,
	}

	switch {
	case ev.Direction.OpensLot():
		rec.CostBasis = e.openLot(ev, cfg, store)
	case ev.Direction.ConsumesLots():
		basis, realized, err := e.closeLots(ev, cfg, store)
		if err != nil {
			return TransactionPnL{}, err
		}
		rec.CostBasis = basis
		rec.RealizedPnL = realized
		rec.IsRealized = true
	default:
		// funding and fee payments are recorded for audit only
	}

	return rec, nil
}

// openLot creates the lot for a buy or launch and returns its cost basis.
func (e *Engine) openLot(ev Event, cfg AccountingConfig, store *LotStore) decimal.Decimal {
	quantity := round(ev.Quantity)
	price := round(ev.Price)
	costBasis := quantity.Mul(price)

	feesAttributed := decimal.Zero
	if cfg.IncludeFees {
		costBasis = costBasis.Add(ev.Fees)
		if cfg.FeeAllocation == FeeProportional {
			feesAttributed = round(ev.Fees)
		}
	}

	store.Append(&Lot{
		LotID:             ev.SourceTxID,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		UnitCost:          price,
		FeesAttributed:    feesAttributed,
		OpenedAt:          ev.Timestamp,
	})

	e.logger.Debug("lot opened",
		zap.String("lot_id", ev.SourceTxID),
		zap.String("wallet", ev.WalletID),
		zap.String("token", ev.TokenAddress),
		zap.String("quantity", quantity.String()),
		zap.String("unit_cost", price.String()))

	return round(costBasis)
}

// closeLots consumes lots for a sell and returns the consumed cost basis
// and the realized P&L contribution. Sell-side fees always reduce realized
// P&L; the fee allocation mode only governs the buy side.
func (e *Engine) closeLots(ev Event, cfg AccountingConfig, store *LotStore) (decimal.Decimal, decimal.Decimal, error) {
	quantity := round(ev.Quantity)
	price := round(ev.Price)

	consumed, err := store.Consume(quantity, cfg.Method)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("sell %s: %w", ev.SourceTxID, err)
	}

	basis := decimal.Zero
	for _, c := range consumed {
		basis = basis.Add(c.CostBasis())
	}
	basis = round(basis)

	proceeds := quantity.Mul(price)
	realized := round(proceeds.Sub(basis).Sub(ev.Fees))

	store.PruneEmpty()

	e.logger.Debug("lots consumed",
		zap.String("tx", ev.SourceTxID),
		zap.String("wallet", ev.WalletID),
		zap.String("token", ev.TokenAddress),
		zap.Int("lots_touched", len(consumed)),
		zap.String("cost_basis", basis.String()),
		zap.String("realized_pnl", realized.String()),
		zap.String("method", string(cfg.Method)))

	return basis, realized, nil
}
