package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/platform/pagination"
	"github.com/apostella/api/internal/repositories"
	"github.com/apostella/api/internal/shipping"
)

// defaultCurrency is the catalog's pricing currency. All amounts are whole
// currency units.
const defaultCurrency = "SEK"

// fallbackRates holds the country-agnostic official fee + service fee pairs
// used when no catalog rule exists for a (country, service) pair.
var fallbackRates = map[domain.ServiceType]struct {
	OfficialFee int64
	ServiceFee  int64
}{
	domain.ServiceApostille:    {OfficialFee: 440, ServiceFee: 999},
	domain.ServiceNotarization: {OfficialFee: 320, ServiceFee: 999},
	domain.ServiceChamber:      {OfficialFee: 799, ServiceFee: 1199},
	domain.ServiceEmbassy:      {OfficialFee: 1500, ServiceFee: 1199},
	domain.ServiceUD:           {OfficialFee: 750, ServiceFee: 999},
	domain.ServiceTranslation:  {OfficialFee: 0, ServiceFee: 999},
}

// PricingCatalog serves pricing rules with a country-agnostic fallback and
// the pickup and return-service fees quoted by the shipping provider. It
// also carries the administrative catalog operations.
type PricingCatalog struct {
	rules  repositories.PricingRuleRepository
	pickup shipping.PickupProvider
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// PricingCatalogDeps bundles collaborators for NewPricingCatalog.
type PricingCatalogDeps struct {
	Rules  repositories.PricingRuleRepository
	Pickup shipping.PickupProvider
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

// NewPricingCatalog constructs the catalog service.
func NewPricingCatalog(deps PricingCatalogDeps) (*PricingCatalog, error) {
	if deps.Rules == nil {
		return nil, errors.New("pricing catalog: rule repository is required")
	}
	pickup := deps.Pickup
	if pickup == nil {
		pickup = shipping.NewMockProvider()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingCatalog{
		rules:  deps.Rules,
		pickup: pickup,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Rule resolves the pricing rule for the country and service pair. When no
// stored rule matches, the country-agnostic fallback rule is returned with an
// empty CountryCode so callers can tell the two apart.
func (c *PricingCatalog) Rule(ctx context.Context, countryCode string, service domain.ServiceType) (domain.PricingRule, error) {
	if !domain.IsValidServiceType(service) {
		return domain.PricingRule{}, fmt.Errorf("pricing catalog: unknown service type %q", service)
	}
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	if country != "" {
		rule, err := c.rules.Get(ctx, country, service)
		if err == nil {
			if rule.IsActive {
				return rule, nil
			}
		} else {
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return domain.PricingRule{}, err
			}
		}
	}
	return fallbackRule(service), nil
}

// PickupRate returns the shipping provider's fee for the pickup method.
func (c *PricingCatalog) PickupRate(method domain.PickupMethod) int64 {
	return c.pickup.PickupFee(method)
}

// ReturnRate returns the shipping provider's flat fee for a return service.
func (c *PricingCatalog) ReturnRate(service string) (int64, bool) {
	return c.pickup.ReturnFee(service)
}

// BulkAdjustCommand adjusts service fees across the catalog. Exactly one of
// Percent and Delta must be set. Empty Services or Countries means all.
type BulkAdjustCommand struct {
	Percent   *float64
	Delta     *int64
	Services  []domain.ServiceType
	Countries []string
	UpdatedBy string
}

// BulkAdjust rewrites the matching rules' service fees and recomputes base
// prices. It returns the number of rules updated.
func (c *PricingCatalog) BulkAdjust(ctx context.Context, cmd BulkAdjustCommand) (int, error) {
	if (cmd.Percent == nil) == (cmd.Delta == nil) {
		return 0, errors.New("pricing catalog: exactly one of percent and delta is required")
	}

	rules, err := c.rules.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	serviceFilter := make(map[domain.ServiceType]struct{}, len(cmd.Services))
	for _, service := range cmd.Services {
		serviceFilter[service] = struct{}{}
	}
	countryFilter := make(map[string]struct{}, len(cmd.Countries))
	for _, country := range cmd.Countries {
		countryFilter[strings.ToUpper(strings.TrimSpace(country))] = struct{}{}
	}

	now := c.clock()
	updated := 0
	for _, rule := range rules {
		if len(serviceFilter) > 0 {
			if _, ok := serviceFilter[rule.ServiceType]; !ok {
				continue
			}
		}
		if len(countryFilter) > 0 {
			if _, ok := countryFilter[strings.ToUpper(rule.CountryCode)]; !ok {
				continue
			}
		}

		fee := rule.ServiceFee
		if cmd.Percent != nil {
			fee = int64(math.Round(float64(fee) * (1 + *cmd.Percent/100)))
		} else {
			fee += *cmd.Delta
		}
		if fee < 0 {
			fee = 0
		}
		if fee == rule.ServiceFee {
			continue
		}

		rule.ServiceFee = fee
		rule.BasePrice = rule.OfficialFee + fee
		rule.UpdatedAt = now
		rule.UpdatedBy = cmd.UpdatedBy
		if err := c.rules.Upsert(ctx, rule); err != nil {
			return updated, err
		}
		updated++
	}

	c.logger(ctx, "pricing_bulk_adjust", map[string]any{"matched": updated})
	return updated, nil
}

// Upsert stores an administrative rule edit, normalising the derived base price.
func (c *PricingCatalog) Upsert(ctx context.Context, rule domain.PricingRule) (domain.PricingRule, error) {
	if !domain.IsValidServiceType(rule.ServiceType) {
		return domain.PricingRule{}, fmt.Errorf("pricing catalog: unknown service type %q", rule.ServiceType)
	}
	country := strings.ToUpper(strings.TrimSpace(rule.CountryCode))
	if country == "" {
		return domain.PricingRule{}, errors.New("pricing catalog: country code is required")
	}
	if rule.OfficialFee < 0 || rule.ServiceFee < 0 {
		return domain.PricingRule{}, errors.New("pricing catalog: fees cannot be negative")
	}

	rule.CountryCode = country
	rule.BasePrice = rule.OfficialFee + rule.ServiceFee
	if strings.TrimSpace(rule.Currency) == "" {
		rule.Currency = defaultCurrency
	}
	rule.UpdatedAt = c.clock()
	if err := c.rules.Upsert(ctx, rule); err != nil {
		return domain.PricingRule{}, err
	}
	return rule, nil
}

// ListRules returns one page of stored rules with the next page token.
func (c *PricingCatalog) ListRules(ctx context.Context, params pagination.Params) ([]domain.PricingRule, string, error) {
	return c.rules.List(ctx, params)
}

// Stats summarises the stored catalog.
func (c *PricingCatalog) Stats(ctx context.Context) (domain.PricingStats, error) {
	rules, err := c.rules.ListAll(ctx)
	if err != nil {
		return domain.PricingStats{}, err
	}

	stats := domain.PricingStats{
		RuleCount:        len(rules),
		AverageBasePrice: make(map[domain.ServiceType]int64),
	}
	countries := make(map[string]struct{})
	sums := make(map[domain.ServiceType]int64)
	counts := make(map[domain.ServiceType]int64)
	for _, rule := range rules {
		if rule.IsActive {
			stats.ActiveRuleCount++
		}
		countries[strings.ToUpper(rule.CountryCode)] = struct{}{}
		sums[rule.ServiceType] += rule.BasePrice
		counts[rule.ServiceType]++
	}
	stats.CountryCount = len(countries)
	for service, sum := range sums {
		stats.AverageBasePrice[service] = sum / counts[service]
	}
	return stats, nil
}

// SeedDefaults writes the fallback rules for each country, skipping pairs
// that already have a rule. It returns the number of rules created.
func (c *PricingCatalog) SeedDefaults(ctx context.Context, countries []string, updatedBy string) (int, error) {
	if len(countries) == 0 {
		return 0, errors.New("pricing catalog: at least one country is required")
	}

	now := c.clock()
	created := 0
	for _, country := range countries {
		code := strings.ToUpper(strings.TrimSpace(country))
		if code == "" {
			continue
		}
		for _, service := range domain.KnownServiceTypes {
			_, err := c.rules.Get(ctx, code, service)
			if err == nil {
				continue
			}
			var repoErr repositories.RepositoryError
			if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
				return created, err
			}

			rule := fallbackRule(service)
			rule.CountryCode = code
			rule.UpdatedAt = now
			rule.UpdatedBy = updatedBy
			if err := c.rules.Upsert(ctx, rule); err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

func fallbackRule(service domain.ServiceType) domain.PricingRule {
	rates := fallbackRates[service]
	return domain.PricingRule{
		ServiceType: service,
		OfficialFee: rates.OfficialFee,
		ServiceFee:  rates.ServiceFee,
		BasePrice:   rates.OfficialFee + rates.ServiceFee,
		Currency:    defaultCurrency,
		IsActive:    true,
	}
}
