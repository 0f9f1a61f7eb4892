package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"walletledger/internal/ledger"
	"walletledger/internal/storage"
)

// Reconstructor rebuilds in-memory ledger state from persistence at
// startup. Persisted lot remainders and transaction records are trusted as
// written; matching is never re-run against historical events.
type Reconstructor struct {
	store   storage.Storage
	logger  *zap.Logger
	workers int
}

// NewReconstructor creates a reconstructor running at most workers keys
// concurrently.
func NewReconstructor(store storage.Storage, logger *zap.Logger, workers int) *Reconstructor {
	if workers <= 0 {
		workers = 4
	}
	return &Reconstructor{
		store:   store,
		logger:  logger.Named("reconstruct"),
		workers: workers,
	}
}

// Rebuild restores every persisted key into the service. A key that fails
// to load is logged and starts empty; it never blocks the others.
func (r *Reconstructor) Rebuild(ctx context.Context, svc *Service) error {
	keys, err := r.store.ListPositionKeys(ctx)
	if err != nil {
		return fmt.Errorf("list position keys: %w", err)
	}
	if len(keys) == 0 {
		r.logger.Info("no persisted positions to reconstruct")
		return nil
	}

	var restored, failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := r.rebuildKey(ctx, svc, key); err != nil {
				failed.Add(1)
				r.logger.Warn("failed to reconstruct key, starting empty",
					zap.String("key", key.String()), zap.Error(err))
				return nil
			}
			restored.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("ledger reconstruction complete",
		zap.Int("keys", len(keys)),
		zap.Int64("restored", restored.Load()),
		zap.Int64("failed", failed.Load()))
	return nil
}

func (r *Reconstructor) rebuildKey(ctx context.Context, svc *Service, key ledger.PositionKey) error {
	lotRows, err := r.store.ListLotsByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("list lots: %w", err)
	}
	txRows, err := r.store.ListTransactionsByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("list transactions: %w", err)
	}

	lots := ledger.NewLotStore()
	for _, row := range lotRows {
		lot := row.Ledger()
		if !lot.RemainingQuantity.IsPositive() {
			continue
		}
		lots.Append(lot)
	}

	var acc ledger.Accumulator
	seen := make(map[string]struct{}, len(txRows))
	for _, row := range txRows {
		rec := row.Ledger()
		acc.Record(rec)
		seen[rec.SourceTxID] = struct{}{}
	}

	// the stored snapshot carries only the last observed price; every
	// derived figure is recomputed from lots and records
	obs := ledger.PriceObservation{Stale: true}
	if stored, err := r.store.GetPosition(ctx, key); err == nil {
		prior := stored.Ledger()
		obs.Price = prior.CurrentPrice
		obs.AsOf = prior.PriceAsOf
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("get position: %w", err)
	}

	pos := ledger.RecomputePosition(key, lots, acc, obs)
	svc.restore(key, lots, acc, seen, pos)

	r.logger.Debug("key reconstructed",
		zap.String("key", key.String()),
		zap.Int("open_lots", lots.Len()),
		zap.Int64("transactions", acc.TransactionCount),
		zap.String("balance", pos.CurrentBalance.String()))
	return nil
}
