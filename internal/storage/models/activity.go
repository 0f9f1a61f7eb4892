package models

import "github.com/shopspring/decimal"

// Activity is one audit-trail entry: processed events, rejections and
// persistence replays all leave a row here.
type Activity struct {
	BaseModel
	ActivityID   string          `gorm:"uniqueIndex;not null;type:varchar(36)"`
	Type         string          `gorm:"index;not null;type:varchar(50)"`
	Description  string          `gorm:"not null;type:text"`
	WalletID     string          `gorm:"index;type:varchar(64)"`
	TokenAddress string          `gorm:"type:varchar(64)"`
	SourceTxID   string          `gorm:"index;type:varchar(88)"`
	Status       string          `gorm:"not null;type:varchar(20)"`
	Amount       decimal.Decimal `gorm:"type:numeric(38,8)"`
}
