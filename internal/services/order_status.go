package services

import (
	"errors"
	"fmt"
	"time"

	domain "github.com/apostella/api/internal/domain"
)

// ErrIllegalTransition reports a status transition attempted from a terminal
// state or via an event the workflow does not define. Callers must not
// persist anything when they see it.
var ErrIllegalTransition = errors.New("order status: illegal transition")

// ContactEvent is an outcome of handling an inbound contact message.
type ContactEvent string

const (
	// ContactEventSpamDetected blocks the message before forwarding.
	ContactEventSpamDetected ContactEvent = "spam_detected"
	// ContactEventEmailSent records a successful forward.
	ContactEventEmailSent ContactEvent = "email_sent"
	// ContactEventEmailFailed records a failed forward attempt.
	ContactEventEmailFailed ContactEvent = "email_failed"
)

// QuoteEvent is a customer's response to a sent quote.
type QuoteEvent string

const (
	// QuoteEventPaid records a payment arriving without an explicit accept.
	QuoteEventPaid QuoteEvent = "paid"
	// QuoteEventAccepted records an explicit accept.
	QuoteEventAccepted QuoteEvent = "accepted"
	// QuoteEventDeclined records an explicit decline.
	QuoteEventDeclined QuoteEvent = "declined"
)

// EmbassyPriceEvent is a customer's response to a confirmed embassy fee.
type EmbassyPriceEvent string

const (
	// EmbassyPriceEventConfirmed approves the fee.
	EmbassyPriceEventConfirmed EmbassyPriceEvent = "confirmed"
	// EmbassyPriceEventDeclined rejects the fee.
	EmbassyPriceEventDeclined EmbassyPriceEvent = "declined"
)

// OutboxEvent is a delivery outcome reported by the mail worker.
type OutboxEvent string

const (
	// OutboxEventSent records a delivered email.
	OutboxEventSent OutboxEvent = "sent"
	// OutboxEventFailed records a failed delivery attempt.
	OutboxEventFailed OutboxEvent = "failed"
)

var contactTransitions = map[domain.ContactStatus]map[ContactEvent]domain.ContactStatus{
	domain.ContactPending: {
		ContactEventSpamDetected: domain.ContactSpamBlocked,
		ContactEventEmailSent:    domain.ContactEmailed,
		ContactEventEmailFailed:  domain.ContactEmailFailed,
	},
}

var quoteTransitions = map[domain.QuoteStatus]map[QuoteEvent]domain.QuoteStatus{
	domain.QuoteSent: {
		QuoteEventPaid:     domain.QuotePaid,
		QuoteEventAccepted: domain.QuoteAccepted,
		QuoteEventDeclined: domain.QuoteDeclined,
	},
}

var embassyPriceTransitions = map[domain.EmbassyPriceStatus]map[EmbassyPriceEvent]domain.EmbassyPriceStatus{
	domain.EmbassyPricePending: {
		EmbassyPriceEventConfirmed: domain.EmbassyPriceConfirmed,
		EmbassyPriceEventDeclined:  domain.EmbassyPriceDeclined,
	},
}

var outboxTransitions = map[domain.OutboxStatus]map[OutboxEvent]domain.OutboxStatus{
	domain.OutboxUnread: {
		OutboxEventSent:   domain.OutboxSent,
		OutboxEventFailed: domain.OutboxError,
	},
}

// NextContactStatus projects a contact message's status after event.
func NextContactStatus(current domain.ContactStatus, event ContactEvent) (domain.ContactStatus, error) {
	next, ok := contactTransitions[current][event]
	if !ok {
		return current, fmt.Errorf("%w: contact %s via %s", ErrIllegalTransition, current, event)
	}
	return next, nil
}

// NextQuoteStatus projects a quote's status after event.
func NextQuoteStatus(current domain.QuoteStatus, event QuoteEvent) (domain.QuoteStatus, error) {
	next, ok := quoteTransitions[current][event]
	if !ok {
		return current, fmt.Errorf("%w: quote %s via %s", ErrIllegalTransition, current, event)
	}
	return next, nil
}

// NextEmbassyPriceStatus projects an order's embassy fee status after event.
func NextEmbassyPriceStatus(current domain.EmbassyPriceStatus, event EmbassyPriceEvent) (domain.EmbassyPriceStatus, error) {
	next, ok := embassyPriceTransitions[current][event]
	if !ok {
		return current, fmt.Errorf("%w: embassy price %s via %s", ErrIllegalTransition, current, event)
	}
	return next, nil
}

// NextOutboxStatus projects a queued email's status after event.
func NextOutboxStatus(current domain.OutboxStatus, event OutboxEvent) (domain.OutboxStatus, error) {
	next, ok := outboxTransitions[current][event]
	if !ok {
		return current, fmt.Errorf("%w: outbox %s via %s", ErrIllegalTransition, current, event)
	}
	return next, nil
}

// OrderStatusAfterQuoteDecision maps a terminal quote status onto the
// order's primary status. A declined quote cancels the order; the other
// outcomes leave the primary status to back-office handling.
func OrderStatusAfterQuoteDecision(quoteStatus domain.QuoteStatus) (domain.OrderStatus, bool) {
	if quoteStatus == domain.QuoteDeclined {
		return domain.OrderStatusCancelled, true
	}
	return "", false
}

// EmbassyPriceAudit builds the audit entry recorded when a confirmed embassy
// fee overwrites the order's effective total.
func EmbassyPriceAudit(previousTotal, confirmedTotal int64, now time.Time) domain.PriceAuditEntry {
	return domain.PriceAuditEntry{
		PreviousTotal:  previousTotal,
		ConfirmedTotal: confirmedTotal,
		Delta:          confirmedTotal - previousTotal,
		RecordedAt:     now.UTC(),
	}
}
