package repository

import (
	"context"

	"finledger/internal/model"

	"gorm.io/gorm"
)

type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create 写入待投递消息，在业务事务内调用时随业务一起提交或回滚
func (r *OutboxRepository) Create(ctx context.Context, msg *model.OutboxMessage) error {
	return conn(ctx, r.db).Create(msg).Error
}

func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := conn(ctx, r.db).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return conn(ctx, r.db).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", model.OutboxStatusSent).Error
}

// RecordFailure 记录一次投递失败，达到最大重试次数后标记为 FAILED
func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, lastErr string, exhausted bool) error {
	updates := map[string]interface{}{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  truncate(lastErr, 512),
	}
	if exhausted {
		updates["status"] = model.OutboxStatusFailed
	}
	return conn(ctx, r.db).
		Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *OutboxRepository) GetFailedMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := conn(ctx, r.db).
		Where("status = ?", model.OutboxStatusFailed).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

func (r *OutboxRepository) ListByTopic(ctx context.Context, topic string) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := conn(ctx, r.db).
		Where("topic = ?", topic).
		Order("id ASC").
		Find(&messages).Error
	return messages, err
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
