package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"finledger/internal/config"
	"finledger/internal/model"
	"finledger/internal/repository"

	"github.com/google/uuid"
)

// OutboxPublisher 把事件写进本地消息表
//
// 在业务事务中调用时，事件与余额变动一起提交；OutboxSender 负责投递到 Kafka
type OutboxPublisher struct {
	outboxRepo *repository.OutboxRepository
	topics     config.KafkaTopicConfig
}

func NewOutboxPublisher(outboxRepo *repository.OutboxRepository, topics config.KafkaTopicConfig) *OutboxPublisher {
	return &OutboxPublisher{
		outboxRepo: outboxRepo,
		topics:     topics,
	}
}

func (p *OutboxPublisher) PublishLedgerChanged(ctx context.Context, event *model.LedgerChangedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	// 同一用户的事件用 user_id 做 key，保证分区内有序
	return p.write(ctx, p.topics.LedgerChanged, strconv.FormatInt(event.UserID, 10), model.EventTypeLedgerChanged, event)
}

func (p *OutboxPublisher) Notify(ctx context.Context, userID int64, title, body string, metadata map[string]string) error {
	event := &model.NotificationEvent{
		EventID:    uuid.NewString(),
		UserID:     userID,
		Title:      title,
		Body:       body,
		Metadata:   metadata,
		OccurredAt: time.Now().UTC(),
	}
	return p.write(ctx, p.topics.Notification, event.EventID, model.EventTypeNotification, event)
}

func (p *OutboxPublisher) write(ctx context.Context, topic, key, eventType string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := &model.OutboxMessage{
		MessageKey: key,
		Topic:      topic,
		EventType:  eventType,
		Payload:    string(raw),
		Status:     model.OutboxStatusPending,
	}
	if err := p.outboxRepo.Create(ctx, msg); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}

// ledgerEvent 把引擎返回的腿转换成事件
func ledgerEvent(userID int64, source, correlationID string, legs []LegEffect) *model.LedgerChangedEvent {
	payload := make([]model.LegPayload, 0, len(legs))
	for _, leg := range legs {
		payload = append(payload, model.LegPayload{
			Entity:       leg.Entity,
			Delta:        leg.Delta,
			CurrencyCode: leg.CurrencyCode,
			BalanceAfter: leg.BalanceAfter,
		})
	}
	return &model.LedgerChangedEvent{
		UserID:        userID,
		Source:        source,
		CorrelationID: correlationID,
		Legs:          payload,
	}
}
