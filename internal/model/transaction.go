package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	TransactionTypeIncome  = "INCOME"
	TransactionTypeExpense = "EXPENSE"
)

// ConversionSnapshot 交易首次入账时某一条腿的换算结果
//
// 撤销时直接使用这里保存的金额，不再按当前汇率重新计算，
// 保证 "入账 -> 撤销" 后余额分毫不差
type ConversionSnapshot struct {
	Amount   decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"amount"`
	Currency string              `gorm:"type:varchar(8)" json:"currency,omitempty"`
	Rate     decimal.NullDecimal `gorm:"type:decimal(20,6)" json:"rate"`
}

func (c ConversionSnapshot) Present() bool {
	return c.Amount.Valid && c.Currency != ""
}

// Transaction 收支交易表
// 每笔交易的生命周期都对应一次可撤销的余额变动
type Transaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID         int64           `gorm:"index;not null" json:"user_id"`
	Type           string          `gorm:"type:varchar(16);not null" json:"type"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	CurrencyCode   string          `gorm:"type:varchar(8);not null" json:"currency_code"`
	AccountID      *int64          `gorm:"index" json:"account_id,omitempty"`
	SubAccountID   *int64          `gorm:"index" json:"sub_account_id,omitempty"`
	AffectsAccount bool            `gorm:"not null;default:false" json:"affects_account"`
	Description    string          `gorm:"type:varchar(256)" json:"description"`
	EffectiveDate  time.Time       `gorm:"index;not null" json:"effective_date"`
	RecordedAt     time.Time       `gorm:"not null" json:"recorded_at"`

	AccountConversion    ConversionSnapshot `gorm:"embedded;embeddedPrefix:acc_conv_" json:"account_conversion"`
	SubAccountConversion ConversionSnapshot `gorm:"embedded;embeddedPrefix:sub_conv_" json:"sub_account_conversion"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

func (t *Transaction) AfterFind(tx *gorm.DB) error {
	t.Amount = t.Amount.Round(MoneyScale)
	if t.AccountConversion.Amount.Valid {
		t.AccountConversion.Amount.Decimal = t.AccountConversion.Amount.Decimal.Round(MoneyScale)
	}
	if t.SubAccountConversion.Amount.Valid {
		t.SubAccountConversion.Amount.Decimal = t.SubAccountConversion.Amount.Decimal.Round(MoneyScale)
	}
	return nil
}

// Sign 收入为 +1，支出为 -1
func (t *Transaction) Sign() int64 {
	if t.Type == TransactionTypeIncome {
		return 1
	}
	return -1
}

// ClearConversions 编辑交易时旧的换算结果作废，由重新入账生成
func (t *Transaction) ClearConversions() {
	t.AccountConversion = ConversionSnapshot{}
	t.SubAccountConversion = ConversionSnapshot{}
}

func ValidTransactionType(typ string) bool {
	return typ == TransactionTypeIncome || typ == TransactionTypeExpense
}
