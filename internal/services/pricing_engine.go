package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/apostella/api/internal/domain"
)

var (
	// ErrUnknownService signals a service identifier outside the catalog.
	ErrUnknownService = errors.New("pricing: unknown service")
	// ErrUnknownCountry signals a missing destination country.
	ErrUnknownCountry = errors.New("pricing: unknown country")
	// ErrInvalidQuantity signals a document quantity outside 1..maxQuantity.
	ErrInvalidQuantity = errors.New("pricing: invalid quantity")
)

// maxQuantity matches the document limit of the order form. It also keeps
// the per-line BasePrice * quantity multiplication far from int64 overflow.
const maxQuantity = 100

const (
	// expeditedFee is the flat express-processing surcharge.
	expeditedFee int64 = 500
	// scannedCopyUnitFee is charged per document when scanned copies are requested.
	scannedCopyUnitFee int64 = 200
	// standardVATRate applies to brokered service lines. Official fees are
	// VAT-exempt but only split out at quote display time.
	standardVATRate = 25
)

var serviceLabels = map[domain.ServiceType]string{
	domain.ServiceApostille:    "Apostille",
	domain.ServiceNotarization: "Notarization",
	domain.ServiceEmbassy:      "Embassy legalization",
	domain.ServiceUD:           "UD legalization",
	domain.ServiceChamber:      "Chamber of Commerce certification",
	domain.ServiceTranslation:  "Certified translation",
}

// CatalogReader is the pricing rule surface the engine computes against.
type CatalogReader interface {
	Rule(ctx context.Context, countryCode string, service domain.ServiceType) (domain.PricingRule, error)
	PickupRate(method domain.PickupMethod) int64
	ReturnRate(service string) (int64, bool)
}

// PricingEngine turns an order selection into an itemized price breakdown.
// It is pure apart from catalog reads: identical requests against the same
// catalog snapshot produce identical breakdowns.
type PricingEngine struct {
	catalog CatalogReader
	logger  func(context.Context, string, map[string]any)
}

// PricingEngineDeps bundles collaborators for NewPricingEngine.
type PricingEngineDeps struct {
	Catalog CatalogReader
	Logger  func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs the pricing engine.
func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.Catalog == nil {
		return nil, errors.New("pricing engine: catalog is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{catalog: deps.Catalog, logger: logger}, nil
}

// ComputePrice prices the request. Base services are priced per document;
// add-ons are flat except scanned copies, which scale per document.
// TotalPrice is always BasePrice + AdditionalFees in whole currency units.
func (e *PricingEngine) ComputePrice(ctx context.Context, req domain.OrderPricingRequest) (domain.PriceBreakdown, error) {
	country := strings.ToUpper(strings.TrimSpace(req.Country))
	if country == "" {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: country is required", ErrUnknownCountry)
	}
	if req.Quantity < 1 || req.Quantity > maxQuantity {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, req.Quantity)
	}
	if len(req.Services) == 0 {
		return domain.PriceBreakdown{}, fmt.Errorf("%w: no services selected", ErrUnknownService)
	}

	quantity := int64(req.Quantity)
	breakdown := domain.PriceBreakdown{Currency: defaultCurrency}

	for _, raw := range req.Services {
		service := domain.ServiceType(strings.ToLower(strings.TrimSpace(raw)))
		if !domain.IsValidServiceType(service) {
			return domain.PriceBreakdown{}, fmt.Errorf("%w: %q", ErrUnknownService, raw)
		}
		rule, err := e.catalog.Rule(ctx, country, service)
		if err != nil {
			return domain.PriceBreakdown{}, err
		}
		if rule.Currency != "" && breakdown.Currency != rule.Currency {
			breakdown.Currency = rule.Currency
		}

		amount := rule.BasePrice * quantity
		line := domain.PriceLineItem{
			Service:     string(service),
			Description: fmt.Sprintf("%s (%d)", serviceLabels[service], req.Quantity),
			Quantity:    req.Quantity,
			BasePrice:   rule.BasePrice,
			Amount:      amount,
			VATRate:     standardVATRate,
		}
		// An embassy fee priced off the fallback rule is an estimate until
		// the embassy confirms the actual charge.
		if service == domain.ServiceEmbassy && rule.CountryCode == "" {
			line.IsTBC = true
		}
		breakdown.BasePrice += amount
		breakdown.Breakdown = append(breakdown.Breakdown, line)
	}

	if req.Expedited {
		breakdown.AdditionalFees += expeditedFee
		breakdown.Breakdown = append(breakdown.Breakdown, domain.PriceLineItem{
			Service:     "expedited",
			Description: "Express processing",
			Fee:         expeditedFee,
			Amount:      expeditedFee,
			VATRate:     standardVATRate,
		})
	}

	if req.PickupService {
		method := req.PickupMethod
		if method == "" && req.PremiumPickup {
			method = domain.PickupDHLExpress
		}
		fee := e.catalog.PickupRate(method)
		label := "Document pickup"
		if method != "" {
			label = fmt.Sprintf("Document pickup (%s)", method)
		}
		breakdown.AdditionalFees += fee
		breakdown.Breakdown = append(breakdown.Breakdown, domain.PriceLineItem{
			Service:     "pickup",
			Description: label,
			Fee:         fee,
			Amount:      fee,
			VATRate:     standardVATRate,
		})
	}

	if req.ScannedCopies {
		fee := scannedCopyUnitFee * quantity
		breakdown.AdditionalFees += fee
		breakdown.Breakdown = append(breakdown.Breakdown, domain.PriceLineItem{
			Service:     "scanned_copies",
			Description: fmt.Sprintf("Scanned copies (%d)", req.Quantity),
			Quantity:    req.Quantity,
			BasePrice:   scannedCopyUnitFee,
			Amount:      fee,
			VATRate:     standardVATRate,
		})
	}

	for _, returnService := range req.ReturnServices {
		name := strings.ToLower(strings.TrimSpace(returnService))
		if name == "" {
			continue
		}
		fee, ok := e.catalog.ReturnRate(name)
		if !ok {
			return domain.PriceBreakdown{}, fmt.Errorf("%w: return service %q", ErrUnknownService, returnService)
		}
		breakdown.AdditionalFees += fee
		breakdown.Breakdown = append(breakdown.Breakdown, domain.PriceLineItem{
			Service:     name,
			Description: fmt.Sprintf("Return shipping (%s)", name),
			Fee:         fee,
			Amount:      fee,
			VATRate:     standardVATRate,
		})
	}

	breakdown.TotalPrice = breakdown.BasePrice + breakdown.AdditionalFees
	return breakdown, nil
}

// ZeroPricedBreakdown is the degraded fallback callers present when pricing
// fails: the selection is preserved but every amount is zero and marked as
// pending manual pricing.
func ZeroPricedBreakdown(req domain.OrderPricingRequest) domain.PriceBreakdown {
	breakdown := domain.PriceBreakdown{Currency: defaultCurrency}
	quantity := req.Quantity
	if quantity < 1 {
		quantity = 1
	}
	for _, raw := range req.Services {
		service := strings.ToLower(strings.TrimSpace(raw))
		if service == "" {
			continue
		}
		label := service
		if name, ok := serviceLabels[domain.ServiceType(service)]; ok {
			label = name
		}
		breakdown.Breakdown = append(breakdown.Breakdown, domain.PriceLineItem{
			Service:     service,
			Description: fmt.Sprintf("%s (%d)", label, quantity),
			Quantity:    quantity,
			VATRate:     standardVATRate,
			IsTBC:       true,
		})
	}
	return breakdown
}
