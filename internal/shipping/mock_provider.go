package shipping

import (
	domain "github.com/apostella/api/internal/domain"
)

// MockProvider serves the same rate card as the DHL provider without
// requiring carrier credentials. It backs local development and tests;
// the fee funcs can be overridden per test.
type MockProvider struct {
	PickupFeeFn func(method domain.PickupMethod) int64
	ReturnFeeFn func(service string) (int64, bool)
}

// NewMockProvider constructs a provider with rate card defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Name identifies the provider in logs and health output.
func (p *MockProvider) Name() string { return "mock" }

// PickupFee delegates to the override when set, else the rate card.
func (p *MockProvider) PickupFee(method domain.PickupMethod) int64 {
	if p.PickupFeeFn != nil {
		return p.PickupFeeFn(method)
	}
	if fee, ok := pickupRateCard[method]; ok {
		return fee
	}
	return standardPickupFee
}

// ReturnFee delegates to the override when set, else the rate card.
func (p *MockProvider) ReturnFee(service string) (int64, bool) {
	if p.ReturnFeeFn != nil {
		return p.ReturnFeeFn(service)
	}
	fee, ok := returnRateCard[normaliseService(service)]
	return fee, ok
}

var _ PickupProvider = (*MockProvider)(nil)
