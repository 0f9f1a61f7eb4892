package models

import (
	"time"

	"github.com/shopspring/decimal"

	"walletledger/internal/ledger"
)

// Position is the upserted snapshot, one row per (wallet, token) pair.
type Position struct {
	BaseModel
	WalletID          string          `gorm:"uniqueIndex:idx_positions_key;not null;type:varchar(64)"`
	TokenAddress      string          `gorm:"uniqueIndex:idx_positions_key;not null;type:varchar(64)"`
	CurrentBalance    decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	TotalCost         decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	AverageCostBasis  decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	RealizedPnL       decimal.Decimal `gorm:"column:realized_pnl;type:numeric(38,8);not null"`
	UnrealizedPnL     decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(38,8);not null"`
	ROI               decimal.Decimal `gorm:"column:roi;type:numeric(38,8);not null"`
	CurrentPrice      decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	PriceStale        bool            `gorm:"not null"`
	PriceAsOf         *time.Time
	TransactionCount  int64 `gorm:"not null"`
	FirstPurchaseAt   *time.Time
	LastTransactionAt *time.Time
}

// NewPosition maps a derived position onto its persisted form.
func NewPosition(pos ledger.Position) *Position {
	m := &Position{
		WalletID:         pos.Key.WalletID,
		TokenAddress:     pos.Key.TokenAddress,
		CurrentBalance:   pos.CurrentBalance,
		TotalCost:        pos.TotalCost,
		AverageCostBasis: pos.AverageCostBasis,
		RealizedPnL:      pos.RealizedPnL,
		UnrealizedPnL:    pos.UnrealizedPnL,
		ROI:              pos.ROI,
		CurrentPrice:     pos.CurrentPrice,
		PriceStale:       pos.PriceStale,
		TransactionCount: pos.TransactionCount,
	}
	if !pos.PriceAsOf.IsZero() {
		t := pos.PriceAsOf
		m.PriceAsOf = &t
	}
	if !pos.FirstPurchaseAt.IsZero() {
		t := pos.FirstPurchaseAt
		m.FirstPurchaseAt = &t
	}
	if !pos.LastTransactionAt.IsZero() {
		t := pos.LastTransactionAt
		m.LastTransactionAt = &t
	}
	return m
}

// Ledger converts the row back into the derived position.
func (m *Position) Ledger() ledger.Position {
	pos := ledger.Position{
		Key:              ledger.PositionKey{WalletID: m.WalletID, TokenAddress: m.TokenAddress},
		CurrentBalance:   m.CurrentBalance,
		TotalCost:        m.TotalCost,
		AverageCostBasis: m.AverageCostBasis,
		RealizedPnL:      m.RealizedPnL,
		UnrealizedPnL:    m.UnrealizedPnL,
		ROI:              m.ROI,
		CurrentPrice:     m.CurrentPrice,
		PriceStale:       m.PriceStale,
		TransactionCount: m.TransactionCount,
	}
	if m.PriceAsOf != nil {
		pos.PriceAsOf = *m.PriceAsOf
	}
	if m.FirstPurchaseAt != nil {
		pos.FirstPurchaseAt = *m.FirstPurchaseAt
	}
	if m.LastTransactionAt != nil {
		pos.LastTransactionAt = *m.LastTransactionAt
	}
	return pos
}
