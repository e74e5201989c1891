package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventSourceTransaction = "TRANSACTION"
	EventSourceTransfer    = "TRANSFER"
	EventSourceRecurring   = "RECURRING"
	EventSourceSubAccount  = "SUB_ACCOUNT"
)

// LedgerChangedEvent 余额发生变动后发出的事件
// 下游（看板缓存、统计）订阅它自行失效缓存，不再维护共享的版本计数器
type LedgerChangedEvent struct {
	EventID       string       `json:"event_id"`
	UserID        int64        `json:"user_id"`
	Source        string       `json:"source"`
	CorrelationID string       `json:"correlation_id"`
	Legs          []LegPayload `json:"legs"`
	OccurredAt    time.Time    `json:"occurred_at"`
}

type LegPayload struct {
	Entity       EntityRef       `json:"entity"`
	Delta        decimal.Decimal `json:"delta"`
	CurrencyCode string          `json:"currency_code"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
}

// NotificationEvent 推送通知，由通知服务消费
type NotificationEvent struct {
	EventID    string            `json:"event_id"`
	UserID     int64             `json:"user_id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}
