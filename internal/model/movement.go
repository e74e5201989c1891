package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	MovementKindTransaction = "TRANSACTION"
	MovementKindTombstone   = "TOMBSTONE"
	MovementKindTransfer    = "TRANSFER"
	MovementKindRecurring   = "RECURRING"
	MovementKindSubAccount  = "SUB_ACCOUNT"
)

// MovementRecord 资金变动历史
// (entity_kind, entity_id, correlation_id) 唯一，同一业务单据重复记录时覆盖而不是追加
type MovementRecord struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityKind    string          `gorm:"type:varchar(16);uniqueIndex:uk_entity_correlation;not null" json:"entity_kind"`
	EntityID      int64           `gorm:"uniqueIndex:uk_entity_correlation;not null" json:"entity_id"`
	CorrelationID string          `gorm:"type:varchar(64);uniqueIndex:uk_entity_correlation;not null" json:"correlation_id"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	Kind          string          `gorm:"type:varchar(16);not null" json:"kind"`
	Delta         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"delta"`
	CurrencyCode  string          `gorm:"type:varchar(8);not null" json:"currency_code"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`
	Metadata      string          `gorm:"type:text" json:"metadata"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MovementRecord) TableName() string {
	return "movement_record"
}

func (m *MovementRecord) AfterFind(tx *gorm.DB) error {
	m.Delta = m.Delta.Round(MoneyScale)
	m.BalanceAfter = m.BalanceAfter.Round(MoneyScale)
	return nil
}

func (m *MovementRecord) Ref() EntityRef {
	return EntityRef{Kind: m.EntityKind, ID: m.EntityID}
}
