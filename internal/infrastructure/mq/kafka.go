package mq

import (
	"fmt"

	"finledger/internal/config"

	"github.com/IBM/sarama"
)

// Producer Kafka 同步生产者的简单封装
type Producer struct {
	producer sarama.SyncProducer
}

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return NewProducer(producer), nil
}

func NewProducer(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

// SendMessage 发送消息到 Kafka
func (p *Producer) SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

// Close 关闭 Kafka 生产者
func (p *Producer) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
