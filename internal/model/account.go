package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Account 用户主账户表
// 每个用户有且只有一个主账户，余额只能通过余额引擎或转账修改
type Account struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       int64           `gorm:"uniqueIndex;not null" json:"user_id"` // 每个用户只有一个主账户
	CurrencyCode string          `gorm:"type:varchar(8);not null" json:"currency_code"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	IsPrincipal  bool            `gorm:"not null" json:"is_principal"`
	Version      int             `gorm:"not null;default:0" json:"version"` // 每次变动 +1
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

// AfterFind 数据库可能返回浮点表示，统一规整到两位小数
func (a *Account) AfterFind(tx *gorm.DB) error {
	a.Balance = a.Balance.Round(MoneyScale)
	return nil
}

func (a *Account) Entity() *LedgerEntity {
	return &LedgerEntity{
		Ref:          AccountRef(a.ID),
		UserID:       a.UserID,
		CurrencyCode: a.CurrencyCode,
		Balance:      a.Balance,
	}
}

// SubAccount 子账户表
//
// AffectsAccount=true 时，子账户的创建和删除会同步调整关联主账户余额；
// Earmarked=true 表示资金是从主账户已有余额中划拨的，创建时不重复入账
type SubAccount struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          int64           `gorm:"index;not null" json:"user_id"`
	Name            string          `gorm:"type:varchar(64);not null" json:"name"`
	CurrencyCode    string          `gorm:"type:varchar(8);not null" json:"currency_code"`
	Balance         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	LinkedAccountID *int64          `gorm:"index" json:"linked_account_id,omitempty"`
	AffectsAccount  bool            `gorm:"not null;default:false" json:"affects_account"`
	Earmarked       bool            `gorm:"not null;default:false" json:"earmarked"`
	Version         int             `gorm:"not null;default:0" json:"version"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubAccount) TableName() string {
	return "sub_account"
}

func (s *SubAccount) AfterFind(tx *gorm.DB) error {
	s.Balance = s.Balance.Round(MoneyScale)
	return nil
}

func (s *SubAccount) Entity() *LedgerEntity {
	return &LedgerEntity{
		Ref:             SubAccountRef(s.ID),
		UserID:          s.UserID,
		CurrencyCode:    s.CurrencyCode,
		Balance:         s.Balance,
		LinkedAccountID: s.LinkedAccountID,
		AffectsAccount:  s.AffectsAccount,
	}
}
