package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/korisu-sushi/sushi-bot/internal/services"
)

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order notifications to a Kafka topic keyed by order id.
type KafkaPublisher struct {
	writer MessageWriter
	clock  func() time.Time
}

// NewKafkaWriter builds a writer for brokers and topic.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	addrs := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("kafka order publisher: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka order publisher: topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, nil
}

// NewKafkaPublisher wraps writer.
func NewKafkaPublisher(writer MessageWriter) (*KafkaPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka order publisher: writer is required")
	}
	return &KafkaPublisher{writer: writer, clock: time.Now}, nil
}

// PublishOrder writes one message. The write honours ctx, so the dispatcher timeout bounds it.
func (p *KafkaPublisher) PublishOrder(ctx context.Context, notification services.OrderNotification) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal order notification: %w", err)
	}
	headers := make([]kafka.Header, 0, 4)
	for key, value := range attributes(notification) {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	msg := kafka.Message{
		Key:     []byte(notification.Order.OrderID),
		Value:   data,
		Headers: headers,
		Time:    p.clock().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write order notification: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
