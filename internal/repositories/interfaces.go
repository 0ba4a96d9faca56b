package repositories

import (
	"context"
	"time"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/platform/pagination"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	PricingRules() PricingRuleRepository
	Confirmations() ConfirmationRepository
	EmailOutbox() EmailOutboxRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository reads and merges onto order documents. Orders are owned by
// the back office; the API never creates or deletes them.
type OrderRepository interface {
	// FindByID resolves an order by document ID, falling back to an
	// orderNumber lookup when no document matches.
	FindByID(ctx context.Context, idOrNumber string) (domain.Order, error)
	// Merge applies the supplied field updates to the order document,
	// leaving all other fields untouched.
	Merge(ctx context.Context, orderID string, update OrderMergeUpdate) error
	// AppendPriceAudit appends an audit entry without overwriting
	// concurrent appends.
	AppendPriceAudit(ctx context.Context, orderID string, entry domain.PriceAuditEntry) error
}

// OrderMergeUpdate carries the optional order fields a workflow may set.
// Nil pointers leave the stored value unchanged.
type OrderMergeUpdate struct {
	Status                 *domain.OrderStatus
	TotalPrice             *int64
	PricingBreakdown       []domain.PriceLineItem
	PickupAddress          *domain.AddressSnapshot
	ReturnAddress          *domain.AddressSnapshot
	PickupAddressConfirmed *bool
	ReturnAddressConfirmed *bool
	PickupAddressUpdated   *bool
	ReturnAddressUpdated   *bool
	Quote                  *domain.OrderQuote
	EmbassyPriceStatus     *domain.EmbassyPriceStatus
	HasUnconfirmedPrices   *bool
	PendingEmbassyPrice    *int64
	PendingTotalPrice      *int64
	CancellationReason     *string
	UpdatedAt              time.Time
}

// PricingRuleRepository owns the pricing rule collection.
type PricingRuleRepository interface {
	Get(ctx context.Context, countryCode string, service domain.ServiceType) (domain.PricingRule, error)
	Upsert(ctx context.Context, rule domain.PricingRule) error
	ListAll(ctx context.Context) ([]domain.PricingRule, error)
	// List returns one page of rules plus the token for the next page,
	// or an empty token when exhausted.
	List(ctx context.Context, params pagination.Params) ([]domain.PricingRule, string, error)
	ListByCountry(ctx context.Context, countryCode string) ([]domain.PricingRule, error)
}

// ConfirmationRepository owns confirmation records across all kinds, keyed
// by token.
type ConfirmationRepository interface {
	Insert(ctx context.Context, record domain.ConfirmationRecord) error
	FindByToken(ctx context.Context, kind domain.ConfirmationKind, token string) (domain.ConfirmationRecord, error)
	// ConditionalResolve transitions the record out of pending in a single
	// atomic conditional write. It returns the post-transition record when
	// the guard held, or reports conflict when the record already left
	// pending.
	ConditionalResolve(ctx context.Context, req ConditionalResolveRequest) (domain.ConfirmationRecord, error)
}

// ConditionalResolveRequest describes an at-most-once status transition.
// AddressPatch, when set, replaces the address snapshot in the same write.
type ConditionalResolveRequest struct {
	Kind         domain.ConfirmationKind
	Token        string
	NewStatus    domain.ConfirmationStatus
	AddressPatch *domain.AddressSnapshot
	ResolvedAt   time.Time
}

// EmailOutboxRepository queues outbound notification emails for the mail worker.
type EmailOutboxRepository interface {
	Enqueue(ctx context.Context, message domain.EmailMessage) error
	MarkSent(ctx context.Context, emailID string, sentAt time.Time) error
	MarkFailed(ctx context.Context, emailID string, reason string) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}

// HealthCheck describes the outcome of an individual dependency probe.
type HealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency status for health endpoints.
type HealthReport struct {
	Status      string
	Checks      map[string]HealthCheck
	GeneratedAt time.Time
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)
