package models

import (
	"time"

	"github.com/shopspring/decimal"

	"walletledger/internal/ledger"
)

// Lot is the persisted open-lot state. RemainingQuantity here is
// authoritative: startup reconstruction trusts it instead of re-running
// the lot matching over history.
type Lot struct {
	BaseModel
	LotID             string          `gorm:"uniqueIndex;not null;type:varchar(88)"`
	WalletID          string          `gorm:"index:idx_lots_key;not null;type:varchar(64)"`
	TokenAddress      string          `gorm:"index:idx_lots_key;not null;type:varchar(64)"`
	Quantity          decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	RemainingQuantity decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	UnitCost          decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	FeesAttributed    decimal.Decimal `gorm:"type:numeric(38,8);not null"`
	OpenedAt          time.Time       `gorm:"index;not null"`
}

// NewLot maps an open ledger lot onto its persisted form.
func NewLot(key ledger.PositionKey, lot *ledger.Lot) *Lot {
	return &Lot{
		LotID:             lot.LotID,
		WalletID:          key.WalletID,
		TokenAddress:      key.TokenAddress,
		Quantity:          lot.Quantity,
		RemainingQuantity: lot.RemainingQuantity,
		UnitCost:          lot.UnitCost,
		FeesAttributed:    lot.FeesAttributed,
		OpenedAt:          lot.OpenedAt,
	}
}

// Ledger converts the row back into a domain lot.
func (m *Lot) Ledger() *ledger.Lot {
	return &ledger.Lot{
		LotID:             m.LotID,
		Quantity:          m.Quantity,
		RemainingQuantity: m.RemainingQuantity,
		UnitCost:          m.UnitCost,
		FeesAttributed:    m.FeesAttributed,
		OpenedAt:          m.OpenedAt,
	}
}
