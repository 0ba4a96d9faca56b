package domain

import "time"

// OrderStatus enumerates the order's primary lifecycle states.
type OrderStatus string

const (
	// OrderStatusPending indicates the order has been received but not processed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusInProgress indicates the legalization work has started.
	OrderStatusInProgress OrderStatus = "in_progress"
	// OrderStatusCompleted indicates all requested services are done.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled indicates the order was cancelled and will not proceed.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// ContactStatus tracks the handling of an inbound contact message.
type ContactStatus string

const (
	// ContactPending indicates the message awaits forwarding.
	ContactPending ContactStatus = "pending"
	// ContactSpamBlocked indicates the message was rejected as spam.
	ContactSpamBlocked ContactStatus = "spam_blocked"
	// ContactEmailed indicates the message was forwarded successfully.
	ContactEmailed ContactStatus = "emailed"
	// ContactEmailFailed indicates forwarding was attempted and failed.
	ContactEmailFailed ContactStatus = "email_failed"
)

// QuoteStatus tracks a sent quote's customer-facing lifecycle.
type QuoteStatus string

const (
	// QuoteSent indicates the quote has been delivered and awaits a decision.
	QuoteSent QuoteStatus = "sent"
	// QuotePaid indicates the customer paid without an explicit accept.
	QuotePaid QuoteStatus = "paid"
	// QuoteAccepted indicates the customer accepted the quote.
	QuoteAccepted QuoteStatus = "accepted"
	// QuoteDeclined indicates the customer declined the quote.
	QuoteDeclined QuoteStatus = "declined"
)

// EmbassyPriceStatus gates whether an order may proceed to embassy submission.
type EmbassyPriceStatus string

const (
	// EmbassyPricePending indicates the confirmed embassy fee awaits a decision.
	EmbassyPricePending EmbassyPriceStatus = "pending"
	// EmbassyPriceConfirmed indicates the customer approved the embassy fee.
	EmbassyPriceConfirmed EmbassyPriceStatus = "confirmed"
	// EmbassyPriceDeclined indicates the customer rejected the embassy fee.
	EmbassyPriceDeclined EmbassyPriceStatus = "declined"
)

// OutboxStatus tracks a queued notification email.
type OutboxStatus string

const (
	// OutboxUnread indicates the email awaits the mail worker.
	OutboxUnread OutboxStatus = "unread"
	// OutboxSent indicates the mail worker delivered the email.
	OutboxSent OutboxStatus = "sent"
	// OutboxError indicates delivery was attempted and failed.
	OutboxError OutboxStatus = "error"
)

// AddressSnapshot is a postal address captured at confirmation time.
type AddressSnapshot struct {
	Name       string `firestore:"name"`
	Company    string `firestore:"company,omitempty"`
	Street     string `firestore:"street"`
	Line2      string `firestore:"line2,omitempty"`
	PostalCode string `firestore:"postalCode"`
	City       string `firestore:"city"`
	Country    string `firestore:"country"`
	Phone      string `firestore:"phone,omitempty"`
	Email      string `firestore:"email,omitempty"`
}

// CustomerInfo is the order's customer contact snapshot.
type CustomerInfo struct {
	Name         string
	Email        string
	Phone        string
	CustomerType CustomerType
}

// OrderQuote is the quote state embedded on an order.
type OrderQuote struct {
	Status     QuoteStatus
	Token      string
	TotalExcl  int64
	VATAmount  int64
	TotalIncl  int64
	SentAt     *time.Time
	ResolvedAt *time.Time
}

// Order is the legalization order as the confirmation workflows see it.
// The order record is owned by the back office; these workflows read it,
// propose status transitions, and merge confirmation outcomes onto it.
type Order struct {
	ID                     string
	OrderNumber            string
	Customer               CustomerInfo
	Country                string
	Services               []string
	Quantity               int
	Status                 OrderStatus
	TotalPrice             int64
	Currency               string
	PricingBreakdown       []PriceLineItem
	PickupAddress          *AddressSnapshot
	ReturnAddress          *AddressSnapshot
	PickupAddressConfirmed bool
	ReturnAddressConfirmed bool
	PickupAddressUpdated   bool
	ReturnAddressUpdated   bool
	Quote                  *OrderQuote
	EmbassyPriceStatus     EmbassyPriceStatus
	HasUnconfirmedPrices   bool
	PendingEmbassyPrice    int64
	PendingTotalPrice      int64
	PriceAudit             []PriceAuditEntry
	CancellationReason     string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// EmailMessage is a queued outbound notification.
type EmailMessage struct {
	ID        string
	To        string
	From      string
	Subject   string
	HTMLBody  string
	OrderID   string
	Status    OutboxStatus
	SentAt    *time.Time
	Error     string
	CreatedAt time.Time
}
