package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/services"
)

// PriceComputer computes an order price breakdown from a pricing request.
type PriceComputer interface {
	ComputePrice(ctx context.Context, req domain.OrderPricingRequest) (domain.PriceBreakdown, error)
}

// PricingHandlers exposes the price computation endpoint.
type PricingHandlers struct {
	engine PriceComputer
}

// NewPricingHandlers constructs the pricing handlers.
func NewPricingHandlers(engine PriceComputer) *PricingHandlers {
	return &PricingHandlers{engine: engine}
}

// Routes registers the pricing endpoints.
func (h *PricingHandlers) Routes(r chi.Router) {
	r.Post("/compute", h.compute)
}

type computePriceRequest struct {
	Country        string   `json:"country" validate:"required,max=100"`
	Services       []string `json:"services" validate:"required,min=1,dive,required"`
	Quantity       int      `json:"quantity" validate:"required,gte=1"`
	Expedited      bool     `json:"expedited"`
	DeliveryMethod string   `json:"deliveryMethod" validate:"omitempty,max=100"`
	ReturnServices []string `json:"returnServices" validate:"omitempty,dive,required"`
	ScannedCopies  bool     `json:"scannedCopies"`
	PickupService  bool     `json:"pickupService"`
	PickupMethod   string   `json:"pickupMethod" validate:"omitempty,max=100"`
	PremiumPickup  bool     `json:"premiumPickup"`
}

type priceLineItemResponse struct {
	Service     string `json:"service"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity,omitempty"`
	BasePrice   int64  `json:"basePrice,omitempty"`
	Fee         int64  `json:"fee,omitempty"`
	Amount      int64  `json:"amount"`
	VATRate     int    `json:"vatRate"`
	IsTBC       bool   `json:"isTBC,omitempty"`
}

type priceBreakdownResponse struct {
	BasePrice      int64                   `json:"basePrice"`
	AdditionalFees int64                   `json:"additionalFees"`
	TotalPrice     int64                   `json:"totalPrice"`
	Currency       string                  `json:"currency"`
	Breakdown      []priceLineItemResponse `json:"breakdown"`
}

// compute prices the request. Unknown countries, unknown services and
// out-of-range quantities degrade to a zero-priced breakdown so the quote
// form can still render and a human can price the order manually.
func (h *PricingHandlers) compute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req computePriceRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	pricingReq := domain.OrderPricingRequest{
		Country:        req.Country,
		Services:       req.Services,
		Quantity:       req.Quantity,
		Expedited:      req.Expedited,
		DeliveryMethod: req.DeliveryMethod,
		ReturnServices: req.ReturnServices,
		ScannedCopies:  req.ScannedCopies,
		PickupService:  req.PickupService,
		PickupMethod:   domain.PickupMethod(req.PickupMethod),
		PremiumPickup:  req.PremiumPickup,
	}

	breakdown, err := h.engine.ComputePrice(ctx, pricingReq)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrUnknownService),
		errors.Is(err, services.ErrUnknownCountry),
		errors.Is(err, services.ErrInvalidQuantity):
		breakdown = services.ZeroPricedBreakdown(pricingReq)
	default:
		writeServiceError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, breakdownResponse(breakdown))
}

func breakdownResponse(breakdown domain.PriceBreakdown) priceBreakdownResponse {
	items := make([]priceLineItemResponse, 0, len(breakdown.Breakdown))
	for _, item := range breakdown.Breakdown {
		items = append(items, priceLineItemResponse{
			Service:     item.Service,
			Description: item.Description,
			Quantity:    item.Quantity,
			BasePrice:   item.BasePrice,
			Fee:         item.Fee,
			Amount:      item.Amount,
			VATRate:     item.VATRate,
			IsTBC:       item.IsTBC,
		})
	}
	return priceBreakdownResponse{
		BasePrice:      breakdown.BasePrice,
		AdditionalFees: breakdown.AdditionalFees,
		TotalPrice:     breakdown.TotalPrice,
		Currency:       breakdown.Currency,
		Breakdown:      items,
	}
}
