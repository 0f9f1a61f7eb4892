package models

import (
	"time"

	"github.com/shopspring/decimal"

	"walletledger/internal/ledger"
)

// TransactionPnL is the append-only accounting record, one row per
// processed event. SourceTxID is the dedupe key.
type TransactionPnL struct {
	BaseModel
	SourceTxID   string          `gorm:"uniqueIndex;not null;type:varchar(88)"`
	WalletID     string          `gorm:"index:idx_txpnl_key;not null;type:varchar(64)"`
	TokenAddress string          `gorm:"index:idx_txpnl_key;not null;type:varchar(64)"`
	Direction    string          `gorm:"not null;type:varchar(20)"`
	Quantity     decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	Price        decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	Fees         decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	GasUsed      decimal.Decimal `gorm:"type:numeric(38,8)"`
	CostBasis    decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	// Explicit column name: default GORM naming turns "PnL" into "pn_l".
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(38,8);not null"`
	Method      string          `gorm:"not null;type:varchar(10)"`
	IsRealized  bool            `gorm:"not null"`
	EventTime   time.Time       `gorm:"index;not null"`
}

// TableName overrides the default pluralization.
func (TransactionPnL) TableName() string {
	return "transaction_pnl"
}

// NewTransactionPnL maps a ledger record onto its persisted form.
func NewTransactionPnL(rec ledger.TransactionPnL) *TransactionPnL {
	return &TransactionPnL{
		SourceTxID:   rec.SourceTxID,
		WalletID:     rec.WalletID,
		TokenAddress: rec.TokenAddress,
		Direction:    string(rec.Direction),
		Quantity:     rec.Quantity,
		Price:        rec.Price,
		Fees:         rec.Fees,
		GasUsed:      rec.GasUsed,
		CostBasis:    rec.CostBasis,
		RealizedPnL:  rec.RealizedPnL,
		Method:       string(rec.Method),
		IsRealized:   rec.IsRealized,
		EventTime:    rec.Timestamp,
	}
}

// Ledger converts the row back into the domain record.
func (m *TransactionPnL) Ledger() ledger.TransactionPnL {
	return ledger.TransactionPnL{
		SourceTxID:   m.SourceTxID,
		WalletID:     m.WalletID,
		TokenAddress: m.TokenAddress,
		Direction:    ledger.Direction(m.Direction),
		Quantity:     m.Quantity,
		Price:        m.Price,
		Fees:         m.Fees,
		GasUsed:      m.GasUsed,
		CostBasis:    m.CostBasis,
		RealizedPnL:  m.RealizedPnL,
		Method:       ledger.Method(m.Method),
		IsRealized:   m.IsRealized,
		Timestamp:    m.EventTime,
	}
}
