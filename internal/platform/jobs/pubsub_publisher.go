package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/apostella/api/internal/services"
)

// PubSubEmailPublisher publishes outbound email jobs to a Pub/Sub topic
// consumed by the mail worker.
type PubSubEmailPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEmailPublisher constructs a Pub/Sub backed email job publisher.
func NewPubSubEmailPublisher(topic *pubsub.Topic) (*PubSubEmailPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub email publisher: topic is required")
	}
	return &PubSubEmailPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEmailJob enqueues an email job message on the configured topic.
func (p *PubSubEmailPublisher) PublishEmailJob(ctx context.Context, message services.EmailJobMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub email publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal email job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "emailId", message.EmailID)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "kind", message.Kind)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish email job: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
