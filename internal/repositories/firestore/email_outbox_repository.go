package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/apostella/api/internal/domain"
	pfirestore "github.com/apostella/api/internal/platform/firestore"
	"github.com/apostella/api/internal/repositories"
)

const customerEmailsCollection = "customerEmails"

// EmailOutboxRepository implements repositories.EmailOutboxRepository backed
// by Firestore. The mail worker tails the collection for unread documents.
type EmailOutboxRepository struct {
	provider *pfirestore.Provider
	emails   *pfirestore.BaseRepository[emailDocument]
}

// NewEmailOutboxRepository constructs a Firestore-backed email outbox.
func NewEmailOutboxRepository(provider *pfirestore.Provider) (*EmailOutboxRepository, error) {
	if provider == nil {
		return nil, errors.New("email outbox repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[emailDocument](provider, customerEmailsCollection, nil, nil)
	return &EmailOutboxRepository{
		provider: provider,
		emails:   base,
	}, nil
}

// Enqueue stores the message for the mail worker to pick up.
func (r *EmailOutboxRepository) Enqueue(ctx context.Context, message domain.EmailMessage) error {
	if r == nil || r.emails == nil {
		return errors.New("email outbox repository not initialised")
	}
	id := strings.TrimSpace(message.ID)
	if id == "" {
		return pfirestore.WrapError("outbox.enqueue", errors.New("email id is required"))
	}

	doc := emailFromDomain(message)
	if doc.Status == "" {
		doc.Status = string(domain.OutboxUnread)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := r.emails.Set(ctx, id, doc)
	return err
}

// MarkSent records a successful delivery.
func (r *EmailOutboxRepository) MarkSent(ctx context.Context, emailID string, sentAt time.Time) error {
	if r == nil || r.emails == nil {
		return errors.New("email outbox repository not initialised")
	}
	id := strings.TrimSpace(emailID)
	if id == "" {
		return pfirestore.WrapError("outbox.markSent", errors.New("email id is required"))
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(domain.OutboxSent)},
		{Path: "sentAt", Value: sentAt},
		{Path: "error", Value: firestore.Delete},
	}
	_, err := r.emails.Update(ctx, id, updates)
	return err
}

// MarkFailed records a delivery failure with its reason.
func (r *EmailOutboxRepository) MarkFailed(ctx context.Context, emailID string, reason string) error {
	if r == nil || r.emails == nil {
		return errors.New("email outbox repository not initialised")
	}
	id := strings.TrimSpace(emailID)
	if id == "" {
		return pfirestore.WrapError("outbox.markFailed", errors.New("email id is required"))
	}

	updates := []firestore.Update{
		{Path: "status", Value: string(domain.OutboxError)},
		{Path: "error", Value: reason},
	}
	_, err := r.emails.Update(ctx, id, updates)
	return err
}

type emailDocument struct {
	To        string     `firestore:"to"`
	From      string     `firestore:"from,omitempty"`
	Subject   string     `firestore:"subject"`
	HTML      string     `firestore:"html"`
	OrderID   string     `firestore:"orderId,omitempty"`
	Status    string     `firestore:"status"`
	SentAt    *time.Time `firestore:"sentAt,omitempty"`
	Error     string     `firestore:"error,omitempty"`
	CreatedAt time.Time  `firestore:"createdAt"`
}

func emailFromDomain(message domain.EmailMessage) emailDocument {
	return emailDocument{
		To:        message.To,
		From:      message.From,
		Subject:   message.Subject,
		HTML:      message.HTMLBody,
		OrderID:   message.OrderID,
		Status:    string(message.Status),
		SentAt:    cloneTime(message.SentAt),
		Error:     message.Error,
		CreatedAt: message.CreatedAt,
	}
}

var _ repositories.EmailOutboxRepository = (*EmailOutboxRepository)(nil)
