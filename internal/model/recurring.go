package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	RecurringStateActive    = "ACTIVE"
	RecurringStateRunning   = "RUNNING"
	RecurringStateError     = "ERROR"
	RecurringStatePaused    = "PAUSED"
	RecurringStateCompleted = "COMPLETED"
)

// ValidStateTransitions 周期扣款状态机
// COMPLETED 为终态；RUNNING 只能由调度器推进
var ValidStateTransitions = map[string][]string{
	RecurringStateActive:  {RecurringStateRunning, RecurringStatePaused},
	RecurringStateRunning: {RecurringStateActive, RecurringStateError, RecurringStateCompleted},
	RecurringStateError:   {RecurringStateRunning, RecurringStatePaused},
	RecurringStatePaused:  {RecurringStateActive},
}

func CanTransitionTo(currentState, targetState string) bool {
	allowedStates, exists := ValidStateTransitions[currentState]
	if !exists {
		return false
	}
	for _, s := range allowedStates {
		if s == targetState {
			return true
		}
	}
	return false
}

const (
	FrequencyWeekday    = "WEEKDAY"      // 0=周日 .. 6=周六
	FrequencyDayOfMonth = "DAY_OF_MONTH" // 1-31
	FrequencyAnnualDate = "ANNUAL_DATE"  // MM-DD
)

// RecurringDefinition 周期扣款定义
type RecurringDefinition struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            int64           `gorm:"index;not null" json:"user_id"`
	Name              string          `gorm:"type:varchar(64);not null" json:"name"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	CurrencyCode      string          `gorm:"type:varchar(8);not null" json:"currency_code"`
	FrequencyKind     string          `gorm:"type:varchar(16);not null" json:"frequency_kind"`
	FrequencyValue    string          `gorm:"type:varchar(8);not null" json:"frequency_value"`
	NextRunAt         time.Time       `gorm:"index;not null" json:"next_run_at"`
	State             string          `gorm:"type:varchar(16);index;not null" json:"state"`
	ErrorMessage      string          `gorm:"type:varchar(512)" json:"error_message,omitempty"`
	AccountID         *int64          `json:"account_id,omitempty"`
	SubAccountID      *int64          `json:"sub_account_id,omitempty"`
	AffectsAccount    bool            `gorm:"not null;default:false" json:"affects_account"`
	AffectsSubAccount bool            `gorm:"not null;default:false" json:"affects_sub_account"`
	TotalPayments     *int            `json:"total_payments,omitempty"` // 为空表示不限期
	PaymentsMade      int             `gorm:"not null;default:0" json:"payments_made"`
	LastRunAt         *time.Time      `json:"last_run_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (RecurringDefinition) TableName() string {
	return "recurring_definition"
}

func (d *RecurringDefinition) AfterFind(tx *gorm.DB) error {
	d.Amount = d.Amount.Round(MoneyScale)
	return nil
}

func (d *RecurringDefinition) FixedTerm() bool {
	return d.TotalPayments != nil
}

// Exhausted 定长扣款已付清
func (d *RecurringDefinition) Exhausted() bool {
	return d.TotalPayments != nil && d.PaymentsMade >= *d.TotalPayments
}

const (
	ExecutionStatusSuccess = "SUCCESS"
	ExecutionStatusFailed  = "FAILED"
)

// RecurringExecutionLog 周期扣款执行日志
// 只追加，不修改，不删除
type RecurringExecutionLog struct {
	ID                   int64              `gorm:"primaryKey;autoIncrement" json:"id"`
	ExecutionNo          string             `gorm:"type:varchar(64);uniqueIndex;not null" json:"execution_no"`
	DefinitionID         int64              `gorm:"index;not null" json:"definition_id"`
	UserID               int64              `gorm:"index;not null" json:"user_id"`
	Status               string             `gorm:"type:varchar(16);not null" json:"status"`
	Amount               decimal.Decimal    `gorm:"type:decimal(20,2);not null" json:"amount"`
	CurrencyCode         string             `gorm:"type:varchar(8);not null" json:"currency_code"`
	AccountConversion    ConversionSnapshot `gorm:"embedded;embeddedPrefix:acc_conv_" json:"account_conversion"`
	SubAccountConversion ConversionSnapshot `gorm:"embedded;embeddedPrefix:sub_conv_" json:"sub_account_conversion"`
	ErrorMessage         string             `gorm:"type:varchar(512)" json:"error_message,omitempty"`
	ExecutedAt           time.Time          `gorm:"index;not null" json:"executed_at"`
}

func (RecurringExecutionLog) TableName() string {
	return "recurring_execution_log"
}

func (l *RecurringExecutionLog) AfterFind(tx *gorm.DB) error {
	l.Amount = l.Amount.Round(MoneyScale)
	if l.AccountConversion.Amount.Valid {
		l.AccountConversion.Amount.Decimal = l.AccountConversion.Amount.Decimal.Round(MoneyScale)
	}
	if l.SubAccountConversion.Amount.Valid {
		l.SubAccountConversion.Amount.Decimal = l.SubAccountConversion.Amount.Decimal.Round(MoneyScale)
	}
	return nil
}
