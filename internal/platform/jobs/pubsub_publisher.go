package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/jfbeehive/swift-checkout/internal/services"
)

// PubSubCheckoutPublisher publishes checkout lifecycle events to a Pub/Sub topic.
type PubSubCheckoutPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubCheckoutPublisher constructs a Pub/Sub backed checkout event publisher. When the topic has
// message ordering enabled, events of one session are delivered in order.
func NewPubSubCheckoutPublisher(topic *pubsub.Topic) (*PubSubCheckoutPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub checkout publisher: topic is required")
	}
	return &PubSubCheckoutPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishCheckoutEvent sends the event and waits for the server acknowledgement.
func (p *PubSubCheckoutPublisher) PublishCheckoutEvent(ctx context.Context, event services.CheckoutEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub checkout publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal checkout event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", string(event.Type))
	setAttr(attrs, "sessionId", event.SessionID)
	setAttr(attrs, "transactionId", event.TransactionID)
	setAttr(attrs, "paymentMethod", event.PaymentMethod)
	setAttr(attrs, "status", event.Status)
	if event.Amount > 0 {
		attrs["amount"] = strconv.FormatInt(event.Amount, 10)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.SessionID)
	}

	result := p.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish checkout event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
