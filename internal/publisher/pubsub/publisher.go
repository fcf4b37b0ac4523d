// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// topic is the slice of *pubsub.Topic the publisher needs.
type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// attributed payloads contribute message attributes.
type attributed interface {
	Attributes() map[string]string
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic topic
}

// New creates a Publisher for the provided topic.
func New(t *pubsub.Topic) *Publisher {
	if t == nil {
		return &Publisher{}
	}
	return &Publisher{topic: t}
}

// Publish marshals the payload to JSON and publishes it to the topic. The
// topic argument is ignored; the bound topic is used.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data}
	if a, ok := payload.(attributed); ok {
		msg.Attributes = a.Attributes()
	}

	result := p.topic.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}
