package services

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/repositories"
)

// EmailJobMessage is the outbound notification unit handed to a dispatcher.
// Kind labels the workflow that produced it.
type EmailJobMessage struct {
	EmailID  string    `json:"emailId"`
	OrderID  string    `json:"orderId,omitempty"`
	Kind     string    `json:"kind,omitempty"`
	To       string    `json:"to"`
	From     string    `json:"from,omitempty"`
	Subject  string    `json:"subject"`
	HTMLBody string    `json:"htmlBody"`
	QueuedAt time.Time `json:"queuedAt"`
}

// NotificationDispatcher hands an email job to the delivery side. Dispatch
// is best-effort: callers log failures and continue, they never roll back
// the state change that triggered the notification.
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, message EmailJobMessage) error
}

// OutboxDispatcher writes email jobs to the Firestore outbox collection the
// mail worker tails. This is the default strategy.
type OutboxDispatcher struct {
	outbox repositories.EmailOutboxRepository
	clock  func() time.Time
}

// NewOutboxDispatcher constructs the outbox-backed dispatcher.
func NewOutboxDispatcher(outbox repositories.EmailOutboxRepository, clock func() time.Time) (*OutboxDispatcher, error) {
	if outbox == nil {
		return nil, errors.New("outbox dispatcher: outbox repository is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &OutboxDispatcher{outbox: outbox, clock: clock}, nil
}

// Dispatch enqueues the message as an unread outbox document.
func (d *OutboxDispatcher) Dispatch(ctx context.Context, message EmailJobMessage) error {
	if strings.TrimSpace(message.To) == "" {
		return errors.New("outbox dispatcher: recipient is required")
	}
	queuedAt := message.QueuedAt
	if queuedAt.IsZero() {
		queuedAt = d.clock().UTC()
	}
	return d.outbox.Enqueue(ctx, domain.EmailMessage{
		ID:        message.EmailID,
		To:        message.To,
		From:      message.From,
		Subject:   message.Subject,
		HTMLBody:  message.HTMLBody,
		OrderID:   message.OrderID,
		Status:    domain.OutboxUnread,
		CreatedAt: queuedAt,
	})
}

// EmailJobPublisher publishes email jobs to a message broker.
type EmailJobPublisher interface {
	PublishEmailJob(ctx context.Context, message EmailJobMessage) (string, error)
}

// PublisherDispatcher adapts an EmailJobPublisher to NotificationDispatcher.
// It backs the pubsub notification strategy.
type PublisherDispatcher struct {
	publisher EmailJobPublisher
	clock     func() time.Time
}

// NewPublisherDispatcher constructs the broker-backed dispatcher.
func NewPublisherDispatcher(publisher EmailJobPublisher, clock func() time.Time) (*PublisherDispatcher, error) {
	if publisher == nil {
		return nil, errors.New("publisher dispatcher: publisher is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &PublisherDispatcher{publisher: publisher, clock: clock}, nil
}

// Dispatch publishes the message and discards the broker message ID.
func (d *PublisherDispatcher) Dispatch(ctx context.Context, message EmailJobMessage) error {
	if strings.TrimSpace(message.To) == "" {
		return errors.New("publisher dispatcher: recipient is required")
	}
	if message.QueuedAt.IsZero() {
		message.QueuedAt = d.clock().UTC()
	}
	_, err := d.publisher.PublishEmailJob(ctx, message)
	return err
}

type senderDispatcher struct {
	next NotificationDispatcher
	from string
}

// WithDefaultSender stamps the configured from address on messages that
// omit one before handing them to the wrapped dispatcher.
func WithDefaultSender(next NotificationDispatcher, from string) NotificationDispatcher {
	from = strings.TrimSpace(from)
	if next == nil || from == "" {
		return next
	}
	return &senderDispatcher{next: next, from: from}
}

func (d *senderDispatcher) Dispatch(ctx context.Context, message EmailJobMessage) error {
	if strings.TrimSpace(message.From) == "" {
		message.From = d.from
	}
	return d.next.Dispatch(ctx, message)
}

var (
	_ NotificationDispatcher = (*OutboxDispatcher)(nil)
	_ NotificationDispatcher = (*PublisherDispatcher)(nil)
	_ NotificationDispatcher = (*senderDispatcher)(nil)
)
