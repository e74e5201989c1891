package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InternalTransfer 内部转账记录
// 同一用户同一幂等键只会生成一条，创建后不可修改
type InternalTransfer struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransferNo         string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transfer_no"`
	UserID             int64           `gorm:"uniqueIndex:uk_user_idempotency;not null" json:"user_id"`
	IdempotencyKey     *string         `gorm:"type:varchar(64);uniqueIndex:uk_user_idempotency" json:"idempotency_key,omitempty"`
	OriginKind         string          `gorm:"type:varchar(16);not null" json:"origin_kind"`
	OriginID           int64           `gorm:"not null" json:"origin_id"`
	DestKind           string          `gorm:"type:varchar(16);not null" json:"dest_kind"`
	DestID             int64           `gorm:"not null" json:"dest_id"`
	OriginAmount       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"origin_amount"`
	OriginCurrency     string          `gorm:"type:varchar(8);not null" json:"origin_currency"`
	DestAmount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"dest_amount"`
	DestCurrency       string          `gorm:"type:varchar(8);not null" json:"dest_currency"`
	ConversionRate     decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"conversion_rate"`
	BalanceAfterOrigin decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after_origin"`
	BalanceAfterDest   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after_dest"`
	CreatedAt          time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (InternalTransfer) TableName() string {
	return "internal_transfer"
}

func (t *InternalTransfer) AfterFind(tx *gorm.DB) error {
	t.OriginAmount = t.OriginAmount.Round(MoneyScale)
	t.DestAmount = t.DestAmount.Round(MoneyScale)
	t.ConversionRate = t.ConversionRate.Round(RateScale)
	t.BalanceAfterOrigin = t.BalanceAfterOrigin.Round(MoneyScale)
	t.BalanceAfterDest = t.BalanceAfterDest.Round(MoneyScale)
	return nil
}

func (t *InternalTransfer) Origin() EntityRef {
	return EntityRef{Kind: t.OriginKind, ID: t.OriginID}
}

func (t *InternalTransfer) Dest() EntityRef {
	return EntityRef{Kind: t.DestKind, ID: t.DestID}
}
