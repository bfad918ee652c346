package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/korisu-sushi/sushi-bot/internal/services"
)

// PubSubPublisher publishes order notifications to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubPublisher constructs a Pub/Sub backed order notifier.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrder publishes the notification and waits for the server acknowledgement.
func (p *PubSubPublisher) PublishOrder(ctx context.Context, notification services.OrderNotification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal order notification: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attributes(notification),
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order notification: %w", err)
	}
	return nil
}

func attributes(notification services.OrderNotification) map[string]string {
	attrs := make(map[string]string)
	setAttr(attrs, "orderId", notification.Order.OrderID)
	setAttr(attrs, "ownerId", notification.Order.OwnerID)
	setAttr(attrs, "deliveryType", notification.Order.DeliveryType)
	setAttr(attrs, "language", notification.Language)
	attrs["total"] = strconv.FormatInt(notification.Order.Total, 10)
	return attrs
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
