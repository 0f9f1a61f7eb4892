// Package storage defines the persistence contract for the ledger:
// append-only transaction records, authoritative open-lot state, position
// upserts and the audit trail.
package storage

import (
	"context"

	"walletledger/internal/ledger"
	"walletledger/internal/storage/models"
)

// Storage is the read/write contract the ledger depends on.
type Storage interface {
	// Transaction P&L records (append-only; SourceTxID unique)
	SaveTransactionPnL(ctx context.Context, rec *models.TransactionPnL) error
	ListTransactionsByKey(ctx context.Context, key ledger.PositionKey) ([]*models.TransactionPnL, error)

	// Open lots (RemainingQuantity persisted authoritatively)
	ReplaceLots(ctx context.Context, key ledger.PositionKey, lots []*models.Lot) error
	ListLotsByKey(ctx context.Context, key ledger.PositionKey) ([]*models.Lot, error)

	// Position snapshots (one row per key, overwritten on recompute)
	UpsertPosition(ctx context.Context, pos *models.Position) error
	GetPosition(ctx context.Context, key ledger.PositionKey) (*models.Position, error)
	ListPositionKeys(ctx context.Context) ([]ledger.PositionKey, error)

	// Audit trail
	SaveActivity(ctx context.Context, activity *models.Activity) error
	ListActivities(ctx context.Context, limit int) ([]*models.Activity, error)

	// Migrations
	RunMigrations() error
}
