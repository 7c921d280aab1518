// Package notification delivers domain notifications to the downstream
// pipeline (Kafka) and to customers by email (SendGrid).
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"carrental-backend/internal/domain"
	"carrental-backend/internal/logger"
)

const headerNotificationType = "notification_type"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// KafkaNotifier publishes notifications as JSON, keyed by notification id.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

func NewKafkaNotifier(cfg KafkaConfig) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	logger.Info("Kafka notifier created", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newKafkaNotifier(writer, cfg.Topic), nil
}

func newKafkaNotifier(w messageWriter, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic}
}

func (k *KafkaNotifier) Send(ctx context.Context, n domain.Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(n.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerNotificationType, Value: []byte(n.Type)},
		},
		Time: n.OccurredAt,
	}

	logger.ExternalServiceCall("kafka", "write", "topic", k.topic, "type", n.Type, "id", n.ID)
	err = k.writer.WriteMessages(ctx, msg)
	logger.ExternalServiceResult("kafka", "write", err, "topic", k.topic, "id", n.ID)
	if err != nil {
		return fmt.Errorf("failed to publish notification %s: %w", n.ID, err)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}
