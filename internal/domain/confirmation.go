package domain

import "time"

// ConfirmationKind distinguishes the confirmation workflows.
type ConfirmationKind string

const (
	// ConfirmationAddress asks the customer to verify a pickup or return address.
	ConfirmationAddress ConfirmationKind = "address"
	// ConfirmationEmbassyPrice asks the customer to approve a confirmed embassy fee.
	ConfirmationEmbassyPrice ConfirmationKind = "embassy_price"
	// ConfirmationQuote asks the customer to accept or decline a quote.
	ConfirmationQuote ConfirmationKind = "quote"
)

// ConfirmationStatus is the shared lifecycle of a confirmation record.
// A record leaves pending exactly once and is then immutable.
type ConfirmationStatus string

const (
	// ConfirmationPending indicates the record awaits the customer's decision.
	ConfirmationPending ConfirmationStatus = "pending"
	// ConfirmationConfirmed indicates the customer confirmed or accepted.
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	// ConfirmationDeclined indicates the customer declined.
	ConfirmationDeclined ConfirmationStatus = "declined"
)

// AddressConfirmationType says which of the order's addresses is confirmed.
type AddressConfirmationType string

const (
	// AddressTypePickup confirms the courier pickup address.
	AddressTypePickup AddressConfirmationType = "pickup"
	// AddressTypeReturn confirms the document return address.
	AddressTypeReturn AddressConfirmationType = "return"
)

// AddressConfirmationPayload is the address-specific part of a confirmation.
type AddressConfirmationPayload struct {
	Type           AddressConfirmationType
	Address        AddressSnapshot
	AddressUpdated bool
}

// EmbassyPricePayload is the embassy-fee part of a confirmation. Original
// values are kept so a confirm can record the audit delta.
type EmbassyPricePayload struct {
	ConfirmedEmbassyPrice int64
	ConfirmedTotalPrice   int64
	OriginalTotalPrice    int64
	OriginalBreakdown     []PriceLineItem
}

// CustomerType selects the VAT display mode for quotes.
type CustomerType string

const (
	// CustomerPrivate shows prices inclusive of VAT.
	CustomerPrivate CustomerType = "private"
	// CustomerCompany shows prices exclusive of VAT with VAT broken out.
	CustomerCompany CustomerType = "company"
)

// QuoteLineItem is one priced row of a quote as sent to the customer.
type QuoteLineItem struct {
	Description string
	Quantity    int
	UnitPrice   int64
	Total       int64
	VATRate     int
}

// QuotePayload is the quote-specific part of a confirmation.
type QuotePayload struct {
	LineItems    []QuoteLineItem
	TotalAmount  int64
	CustomerType CustomerType
	Locale       string
	Message      string
}

// ConfirmationRecord is a single-use, token-addressed pending decision.
// Exactly one of Address, EmbassyPrice and Quote is set, matching Kind.
type ConfirmationRecord struct {
	ID            string
	Kind          ConfirmationKind
	OrderID       string
	OrderNumber   string
	CustomerEmail string
	Token         string
	Status        ConfirmationStatus
	CreatedAt     time.Time
	ExpiresAt     *time.Time
	ResolvedAt    *time.Time
	Address       *AddressConfirmationPayload
	EmbassyPrice  *EmbassyPricePayload
	Quote         *QuotePayload
}

// Expired reports whether the record's deadline has passed at now.
// Records without a deadline never expire.
func (r ConfirmationRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// Resolved reports whether the record has left pending.
func (r ConfirmationRecord) Resolved() bool {
	return r.Status != ConfirmationPending
}

// ConfirmationDecision is the customer's response to a pending record.
type ConfirmationDecision string

const (
	// DecisionConfirm approves the pending record as-is.
	DecisionConfirm ConfirmationDecision = "confirm"
	// DecisionDecline rejects the pending record.
	DecisionDecline ConfirmationDecision = "decline"
	// DecisionUpdate replaces the address snapshot and confirms in one step.
	DecisionUpdate ConfirmationDecision = "update"
)
