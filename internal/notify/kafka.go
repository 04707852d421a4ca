package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"dogsense/ingestion/internal/domain"
)

const kafkaWriteTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier exports alerts to a Kafka topic, keyed by device so one
// device's alerts stay in one partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier returns nil when no brokers or topic are configured.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &KafkaNotifier{writer: writer, topic: topic}
}

func (n *KafkaNotifier) Notify(ctx context.Context, a *domain.Alert) error {
	payload, err := encode(a)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", a.ID, err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()
	err = n.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(a.DeviceID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(a.Category)},
			{Key: "severity", Value: []byte(a.Severity)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write to %s: %w", n.topic, err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
