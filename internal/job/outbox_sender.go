package job

import (
	"context"
	"time"

	"finledger/internal/model"
	"finledger/internal/repository"

	"go.uber.org/zap"
)

// MessageSender Kafka 生产者
type MessageSender interface {
	SendMessage(topic, key, value string) error
}

// OutboxSender 把本地消息表里待投递的事件发到 Kafka
// 投递至少一次，消费方按 event_id 去重
type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	sender        MessageSender
	logger        *zap.Logger
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(outboxRepo *repository.OutboxRepository, sender MessageSender, logger *zap.Logger, batchSize, maxRetryCount int) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    outboxRepo,
		sender:        sender,
		logger:        logger.Named("outbox_sender"),
		stopCh:        make(chan struct{}),
		interval:      100 * time.Millisecond,
		batchSize:     batchSize,
		maxRetryCount: maxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.logger.Info("任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending 投递一批待发送消息，返回成功条数
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("查询消息失败", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.sender.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error("更新消息状态失败", zap.Int64("id", msg.ID), zap.Error(updateErr))
			return false
		}
		s.logger.Debug("消息发送成功",
			zap.Int64("id", msg.ID),
			zap.String("topic", msg.Topic),
			zap.String("key", msg.MessageKey),
			zap.String("event_type", msg.EventType),
		)
		return true
	}

	exhausted := msg.RetryCount+1 >= s.maxRetryCount
	s.logger.Warn("消息发送失败",
		zap.Int64("id", msg.ID),
		zap.Int("retry_count", msg.RetryCount+1),
		zap.Bool("exhausted", exhausted),
		zap.Error(err),
	)
	if recordErr := s.outboxRepo.RecordFailure(ctx, msg.ID, err.Error(), exhausted); recordErr != nil {
		s.logger.Error("记录发送失败出错", zap.Int64("id", msg.ID), zap.Error(recordErr))
	}
	return false
}
