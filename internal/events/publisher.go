package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
// A nil Publisher is valid and drops everything, so callers can run without
// an event bus configured.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishOutcome publishes the invocation outcome event.
func (p *Publisher) PublishOutcome(ctx context.Context, event OutcomeEvent) error {
	return p.publish(ctx, SubjectOutcome, event)
}

// PublishAudit publishes an audit event.
func (p *Publisher) PublishAudit(ctx context.Context, event AuditEvent) error {
	return p.publish(ctx, SubjectAudit, event)
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	if p == nil || p.js == nil {
		return nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
