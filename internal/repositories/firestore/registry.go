package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/apostella/api/internal/platform/firestore"
	"github.com/apostella/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind
// repositories.Registry for dependency injection.
type Registry struct {
	provider      *pfirestore.Provider
	orders        *OrderRepository
	pricingRules  *PricingRuleRepository
	confirmations *ConfirmationRepository
	emailOutbox   *EmailOutboxRepository
	health        repositories.HealthRepository
}

// NewRegistry wires every repository against the shared provider. The health
// repository is supplied by the caller because its probe set depends on which
// other backends the process talks to.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	pricingRules, err := NewPricingRuleRepository(provider)
	if err != nil {
		return nil, err
	}
	confirmations, err := NewConfirmationRepository(provider)
	if err != nil {
		return nil, err
	}
	emailOutbox, err := NewEmailOutboxRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:      provider,
		orders:        orders,
		pricingRules:  pricingRules,
		confirmations: confirmations,
		emailOutbox:   emailOutbox,
		health:        health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// PricingRules returns the pricing rule repository.
func (r *Registry) PricingRules() repositories.PricingRuleRepository { return r.pricingRules }

// Confirmations returns the confirmation repository.
func (r *Registry) Confirmations() repositories.ConfirmationRepository { return r.confirmations }

// EmailOutbox returns the email outbox repository.
func (r *Registry) EmailOutbox() repositories.EmailOutboxRepository { return r.emailOutbox }

// Health returns the dependency health repository.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn inside a Firestore transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}

var _ repositories.Registry = (*Registry)(nil)
