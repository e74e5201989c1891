package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// 金额统一保留两位小数，汇率保留六位
const (
	MoneyScale int32 = 2
	RateScale  int32 = 6
)

const (
	EntityKindAccount    = "ACCOUNT"
	EntityKindSubAccount = "SUB_ACCOUNT"
)

// EntityRef 指向一个可记账实体（主账户或子账户）
type EntityRef struct {
	Kind string `json:"kind" binding:"required,oneof=ACCOUNT SUB_ACCOUNT"`
	ID   int64  `json:"id" binding:"required"`
}

func AccountRef(id int64) EntityRef {
	return EntityRef{Kind: EntityKindAccount, ID: id}
}

func SubAccountRef(id int64) EntityRef {
	return EntityRef{Kind: EntityKindSubAccount, ID: id}
}

func (r EntityRef) Valid() bool {
	return (r.Kind == EntityKindAccount || r.Kind == EntityKindSubAccount) && r.ID > 0
}

func (r EntityRef) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// LedgerEntity 记账实体的统一视图，余额引擎和转账只通过它读取实体信息
type LedgerEntity struct {
	Ref             EntityRef
	UserID          int64
	CurrencyCode    string
	Balance         decimal.Decimal
	LinkedAccountID *int64
	AffectsAccount  bool
}
