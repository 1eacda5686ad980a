// Package events публикует изменения статусов заказов в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// StatusChanged описывает переход заказа в новый статус.
type StatusChanged struct {
	OrderUUID   string    `json:"order_uuid"`
	OrderNumber string    `json:"order_number"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	HasEsim     bool      `json:"has_esim"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher публикует события заказов.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, e StatusChanged) error
	Close() error
}

// EventTypeHeader содержит тип события в заголовках сообщения.
const EventTypeHeader = "event-type"

// StatusChangedType задаёт значение EventTypeHeader для StatusChanged.
const StatusChangedType = "order.status_changed"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher пишет события в топик Kafka с ключом по UUID заказа,
// поэтому события одного заказа попадают в одну партицию.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher создаёт писателя в топик topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
	}
}

// PublishStatusChanged отправляет событие.
func (p *KafkaPublisher) PublishStatusChanged(ctx context.Context, e StatusChanged) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(e.OrderUUID),
		Value:   value,
		Time:    e.OccurredAt,
		Headers: []kafka.Header{{Key: EventTypeHeader, Value: []byte(StatusChangedType)}},
	}); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close закрывает писателя.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher ничего не публикует.
type NopPublisher struct{}

// PublishStatusChanged ничего не делает.
func (NopPublisher) PublishStatusChanged(context.Context, StatusChanged) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }
