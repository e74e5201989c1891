package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 本地消息表
// 与余额变动写在同一个数据库事务里，由 OutboxSender 异步投递到 Kafka
type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	LastError  string    `gorm:"type:varchar(512)" json:"last_error,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

const (
	EventTypeLedgerChanged = "LEDGER_CHANGED"
	EventTypeNotification  = "NOTIFICATION"
)
