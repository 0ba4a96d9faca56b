package domain

import "time"

// ServiceType enumerates the legalization services that can be priced.
type ServiceType string

const (
	// ServiceApostille is an apostille issued by a notary public.
	ServiceApostille ServiceType = "apostille"
	// ServiceNotarization is a plain notarization without apostille.
	ServiceNotarization ServiceType = "notarization"
	// ServiceEmbassy is legalization at the destination country's embassy.
	ServiceEmbassy ServiceType = "embassy"
	// ServiceUD is legalization at the ministry for foreign affairs.
	ServiceUD ServiceType = "ud"
	// ServiceChamber is certification by the chamber of commerce.
	ServiceChamber ServiceType = "chamber"
	// ServiceTranslation is certified translation of the document.
	ServiceTranslation ServiceType = "translation"
)

// KnownServiceTypes lists every service type in catalog order.
var KnownServiceTypes = []ServiceType{
	ServiceApostille,
	ServiceNotarization,
	ServiceEmbassy,
	ServiceUD,
	ServiceChamber,
	ServiceTranslation,
}

// IsValidServiceType reports whether s names a priced service.
func IsValidServiceType(s ServiceType) bool {
	for _, known := range KnownServiceTypes {
		if s == known {
			return true
		}
	}
	return false
}

// PricingRule is the per-country, per-service price entry. BasePrice is
// always OfficialFee + ServiceFee; amounts are whole currency units.
type PricingRule struct {
	CountryCode        string
	ServiceType        ServiceType
	OfficialFee        int64
	ServiceFee         int64
	BasePrice          int64
	ProcessingTimeDays int
	Currency           string
	IsActive           bool
	UpdatedAt          time.Time
	UpdatedBy          string
}

// PickupMethod enumerates the courier pickup options.
type PickupMethod string

const (
	// PickupDHL is a standard DHL pickup.
	PickupDHL PickupMethod = "dhl"
	// PickupDHLExpress is a time-guaranteed DHL pickup.
	PickupDHLExpress PickupMethod = "dhl_express"
	// PickupStockholmCourier is a Stockholm-region courier pickup.
	PickupStockholmCourier PickupMethod = "stockholm_courier"
	// PickupStockholmSameday is a same-day courier pickup.
	PickupStockholmSameday PickupMethod = "stockholm_sameday"
)

// PickupPricing is the rate entry for a pickup method.
type PickupPricing struct {
	Method    PickupMethod
	Price     int64
	IsActive  bool
	IsPremium bool
}

// OrderPricingRequest is the input to price computation. Services hold
// service type identifiers; Quantity is the number of documents.
type OrderPricingRequest struct {
	Country        string
	Services       []string
	Quantity       int
	Expedited      bool
	DeliveryMethod string
	ReturnServices []string
	ScannedCopies  bool
	PickupService  bool
	PickupMethod   PickupMethod
	PremiumPickup  bool
}

// PriceLineItem is one row of a price breakdown. Base-service rows carry
// Quantity and a per-unit BasePrice; add-on rows carry a flat Fee.
type PriceLineItem struct {
	Service     string
	Description string
	Quantity    int
	BasePrice   int64
	Fee         int64
	Amount      int64
	VATRate     int
	IsTBC       bool
}

// PriceBreakdown is the priced result for an order. TotalPrice is always
// BasePrice + AdditionalFees.
type PriceBreakdown struct {
	BasePrice      int64
	AdditionalFees int64
	TotalPrice     int64
	Currency       string
	Breakdown      []PriceLineItem
}

// PriceAuditEntry records an overwrite of an order's effective total.
type PriceAuditEntry struct {
	PreviousTotal  int64     `firestore:"previousTotal"`
	ConfirmedTotal int64     `firestore:"confirmedTotal"`
	Delta          int64     `firestore:"delta"`
	RecordedAt     time.Time `firestore:"recordedAt"`
}

// PricingStats summarizes the catalog for admin dashboards.
type PricingStats struct {
	RuleCount        int
	ActiveRuleCount  int
	CountryCount     int
	AverageBasePrice map[ServiceType]int64
}
