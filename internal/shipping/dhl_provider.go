package shipping

import (
	"errors"

	domain "github.com/apostella/api/internal/domain"
)

// standardPickupFee applies to pickup methods outside the negotiated rate card.
const standardPickupFee int64 = 450

// pickupRateCard holds the negotiated per-method pickup fees. Stockholm
// methods are served by the local courier partner under the same agreement.
var pickupRateCard = map[domain.PickupMethod]int64{
	domain.PickupDHL:              450,
	domain.PickupStockholmCourier: 350,
	domain.PickupDHLExpress:       650,
	domain.PickupStockholmSameday: 450,
}

// returnRateCard holds the flat return shipping fees per service.
var returnRateCard = map[string]int64{
	"postnord-rek":      85,
	"dhl-sweden":        180,
	"dhl-europe":        250,
	"dhl-worldwide":     450,
	"dhl-pre-12":        350,
	"dhl-pre-9":         450,
	"stockholm-city":    120,
	"stockholm-express": 180,
	"stockholm-sameday": 250,
	"own-delivery":      0,
	"office-pickup":     0,
}

// DHLProviderConfig configures the DHLProvider.
type DHLProviderConfig struct {
	APIKey string
}

// DHLProvider quotes fees from the DHL account's rate card. The API key
// identifies the account the rate card was negotiated for.
type DHLProvider struct {
	apiKey string
}

// NewDHLProvider constructs the rate-card backed provider.
func NewDHLProvider(cfg DHLProviderConfig) (*DHLProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("shipping: dhl api key is required")
	}
	return &DHLProvider{apiKey: cfg.APIKey}, nil
}

// Name identifies the provider in logs and health output.
func (p *DHLProvider) Name() string { return "dhl" }

// PickupFee returns the rate card fee, or the standard fee for unknown methods.
func (p *DHLProvider) PickupFee(method domain.PickupMethod) int64 {
	if fee, ok := pickupRateCard[method]; ok {
		return fee
	}
	return standardPickupFee
}

// ReturnFee returns the flat return fee for the service.
func (p *DHLProvider) ReturnFee(service string) (int64, bool) {
	fee, ok := returnRateCard[normaliseService(service)]
	return fee, ok
}

var _ PickupProvider = (*DHLProvider)(nil)
