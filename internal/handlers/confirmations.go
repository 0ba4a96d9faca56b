package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/platform/httpx"
	"github.com/apostella/api/internal/services"
)

// ConfirmationAPI is the slice of the confirmation service the handlers use.
type ConfirmationAPI interface {
	CreateAddressConfirmation(ctx context.Context, cmd services.CreateAddressConfirmationCommand) (services.ConfirmationLink, error)
	CreateEmbassyPriceConfirmation(ctx context.Context, cmd services.CreateEmbassyPriceConfirmationCommand) (services.ConfirmationLink, error)
	SendQuote(ctx context.Context, cmd services.SendQuoteCommand) (services.ConfirmationLink, error)
	Get(ctx context.Context, kind domain.ConfirmationKind, token string) (domain.ConfirmationRecord, error)
	Resolve(ctx context.Context, cmd services.ResolveConfirmationCommand) (domain.ConfirmationRecord, error)
}

// ConfirmationHandlers exposes the quote, address and embassy fee
// confirmation endpoints.
type ConfirmationHandlers struct {
	confirmations ConfirmationAPI
	sendLimiter   RateLimiter
}

// ConfirmationHandlerOption customises the confirmation handlers.
type ConfirmationHandlerOption func(*ConfirmationHandlers)

// WithSendRateLimiter rate limits the /send endpoints per client IP.
func WithSendRateLimiter(limiter RateLimiter) ConfirmationHandlerOption {
	return func(h *ConfirmationHandlers) {
		h.sendLimiter = limiter
	}
}

// NewConfirmationHandlers constructs the confirmation handlers.
func NewConfirmationHandlers(confirmations ConfirmationAPI, opts ...ConfirmationHandlerOption) *ConfirmationHandlers {
	h := &ConfirmationHandlers{confirmations: confirmations}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// QuoteRoutes registers the quote endpoints.
func (h *ConfirmationHandlers) QuoteRoutes(r chi.Router) {
	r.Post("/send", h.sendQuote)
	r.Get("/{token}", h.getQuote)
	r.Post("/{token}", h.resolveQuote)
}

// AddressRoutes registers the address confirmation endpoints.
func (h *ConfirmationHandlers) AddressRoutes(r chi.Router) {
	r.Post("/send", h.sendAddressConfirmation)
	r.Get("/{token}", h.getAddressConfirmation)
	r.Post("/{token}", h.resolveAddressConfirmation)
}

// EmbassyPriceRoutes registers the embassy fee confirmation endpoints.
func (h *ConfirmationHandlers) EmbassyPriceRoutes(r chi.Router) {
	r.Post("/send", h.sendEmbassyPriceConfirmation)
	r.Get("/{token}", h.getEmbassyPriceConfirmation)
	r.Post("/{token}", h.resolveEmbassyPriceConfirmation)
}

// allowSend enforces the per-IP send limit. True means the request may proceed.
func (h *ConfirmationHandlers) allowSend(w http.ResponseWriter, r *http.Request) bool {
	if h.sendLimiter == nil {
		return true
	}
	if h.sendLimiter.Allow(r.RemoteAddr) {
		return true
	}
	httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests, try again later", http.StatusTooManyRequests))
	return false
}

type quoteLineItemPayload struct {
	Description string `json:"description" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	UnitPrice   int64  `json:"unitPrice" validate:"gte=0"`
	Total       int64  `json:"total" validate:"gte=0"`
	VATRate     int    `json:"vatRate" validate:"gte=0,lte=100"`
}

type sendQuoteRequest struct {
	OrderID      string                 `json:"orderId" validate:"required"`
	LineItems    []quoteLineItemPayload `json:"lineItems" validate:"required,min=1,dive"`
	TotalAmount  int64                  `json:"totalAmount" validate:"gte=0"`
	CustomerType string                 `json:"customerType" validate:"omitempty,oneof=private company"`
	Locale       string                 `json:"locale" validate:"omitempty,max=35"`
	Message      string                 `json:"message" validate:"omitempty,max=4000"`
}

func (h *ConfirmationHandlers) sendQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allowSend(w, r) {
		return
	}

	var req sendQuoteRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	items := make([]domain.QuoteLineItem, 0, len(req.LineItems))
	for _, item := range req.LineItems {
		items = append(items, domain.QuoteLineItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Total:       item.Total,
			VATRate:     item.VATRate,
		})
	}

	link, err := h.confirmations.SendQuote(ctx, services.SendQuoteCommand{
		OrderID:      req.OrderID,
		LineItems:    items,
		TotalAmount:  req.TotalAmount,
		CustomerType: domain.CustomerType(req.CustomerType),
		Locale:       req.Locale,
		Message:      req.Message,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"quoteUrl": link.URL,
		"token":    link.Record.Token,
	})
}

func (h *ConfirmationHandlers) getQuote(w http.ResponseWriter, r *http.Request) {
	h.getConfirmation(w, r, domain.ConfirmationQuote)
}

type resolveQuoteRequest struct {
	Action string `json:"action" validate:"required,oneof=accept decline"`
}

func (h *ConfirmationHandlers) resolveQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resolveQuoteRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	decision := domain.DecisionConfirm
	if req.Action == "decline" {
		decision = domain.DecisionDecline
	}
	h.resolve(w, r, services.ResolveConfirmationCommand{
		Kind:     domain.ConfirmationQuote,
		Token:    chi.URLParam(r, "token"),
		Decision: decision,
	})
}

type sendAddressConfirmationRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Type    string `json:"type" validate:"required,oneof=pickup return"`
}

func (h *ConfirmationHandlers) sendAddressConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allowSend(w, r) {
		return
	}

	var req sendAddressConfirmationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	link, err := h.confirmations.CreateAddressConfirmation(ctx, services.CreateAddressConfirmationCommand{
		OrderID: req.OrderID,
		Type:    domain.AddressConfirmationType(req.Type),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"confirmationUrl": link.URL,
		"token":           link.Record.Token,
	})
}

func (h *ConfirmationHandlers) getAddressConfirmation(w http.ResponseWriter, r *http.Request) {
	h.getConfirmation(w, r, domain.ConfirmationAddress)
}

type addressPayload struct {
	Name       string `json:"name" validate:"required"`
	Company    string `json:"company" validate:"omitempty,max=200"`
	Street     string `json:"street" validate:"required"`
	Line2      string `json:"line2" validate:"omitempty,max=200"`
	PostalCode string `json:"postalCode" validate:"required"`
	City       string `json:"city" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone" validate:"omitempty,max=40"`
	Email      string `json:"email" validate:"omitempty,email"`
}

type resolveAddressConfirmationRequest struct {
	Action  string          `json:"action" validate:"required,oneof=confirm update"`
	Address *addressPayload `json:"address" validate:"omitempty"`
}

func (h *ConfirmationHandlers) resolveAddressConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resolveAddressConfirmationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	if req.Action == "update" && req.Address == nil {
		writeBadRequest(ctx, w, errors.New("address is required for the update action"))
		return
	}

	decision := domain.DecisionConfirm
	var snapshot *domain.AddressSnapshot
	if req.Action == "update" {
		decision = domain.DecisionUpdate
		snapshot = &domain.AddressSnapshot{
			Name:       req.Address.Name,
			Company:    req.Address.Company,
			Street:     req.Address.Street,
			Line2:      req.Address.Line2,
			PostalCode: req.Address.PostalCode,
			City:       req.Address.City,
			Country:    req.Address.Country,
			Phone:      req.Address.Phone,
			Email:      req.Address.Email,
		}
	}
	h.resolve(w, r, services.ResolveConfirmationCommand{
		Kind:     domain.ConfirmationAddress,
		Token:    chi.URLParam(r, "token"),
		Decision: decision,
		Address:  snapshot,
	})
}

type sendEmbassyPriceConfirmationRequest struct {
	OrderID               string `json:"orderId" validate:"required"`
	ConfirmedEmbassyPrice int64  `json:"confirmedEmbassyPrice" validate:"gt=0"`
	ConfirmedTotalPrice   int64  `json:"confirmedTotalPrice" validate:"gt=0"`
}

func (h *ConfirmationHandlers) sendEmbassyPriceConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.allowSend(w, r) {
		return
	}

	var req sendEmbassyPriceConfirmationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	link, err := h.confirmations.CreateEmbassyPriceConfirmation(ctx, services.CreateEmbassyPriceConfirmationCommand{
		OrderID:               req.OrderID,
		ConfirmedEmbassyPrice: req.ConfirmedEmbassyPrice,
		ConfirmedTotalPrice:   req.ConfirmedTotalPrice,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"confirmationUrl": link.URL,
		"token":           link.Record.Token,
	})
}

func (h *ConfirmationHandlers) getEmbassyPriceConfirmation(w http.ResponseWriter, r *http.Request) {
	h.getConfirmation(w, r, domain.ConfirmationEmbassyPrice)
}

type resolveEmbassyPriceConfirmationRequest struct {
	Action string `json:"action" validate:"required,oneof=confirm decline"`
}

func (h *ConfirmationHandlers) resolveEmbassyPriceConfirmation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resolveEmbassyPriceConfirmationRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	decision := domain.DecisionConfirm
	if req.Action == "decline" {
		decision = domain.DecisionDecline
	}
	h.resolve(w, r, services.ResolveConfirmationCommand{
		Kind:     domain.ConfirmationEmbassyPrice,
		Token:    chi.URLParam(r, "token"),
		Decision: decision,
	})
}

func (h *ConfirmationHandlers) getConfirmation(w http.ResponseWriter, r *http.Request, kind domain.ConfirmationKind) {
	ctx := r.Context()

	record, err := h.confirmations.Get(ctx, kind, chi.URLParam(r, "token"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmationResponse(record, false))
}

// resolve applies the decision. A replayed decision answers 200 with the
// terminal state so retried confirmations render "already confirmed"
// instead of an error page.
func (h *ConfirmationHandlers) resolve(w http.ResponseWriter, r *http.Request, cmd services.ResolveConfirmationCommand) {
	ctx := r.Context()

	record, err := h.confirmations.Resolve(ctx, cmd)
	if err != nil {
		var already *services.AlreadyResolvedError
		if errors.As(err, &already) {
			writeJSON(w, http.StatusOK, confirmationResponse(already.Record, true))
			return
		}
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmationResponse(record, false))
}

func confirmationResponse(record domain.ConfirmationRecord, alreadyResolved bool) map[string]any {
	payload := map[string]any{
		"success":     true,
		"kind":        record.Kind,
		"status":      record.Status,
		"orderId":     record.OrderID,
		"orderNumber": record.OrderNumber,
	}
	if alreadyResolved {
		payload["alreadyResolved"] = true
	}
	if record.ExpiresAt != nil {
		payload["expiresAt"] = record.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if record.ResolvedAt != nil {
		payload["resolvedAt"] = record.ResolvedAt.UTC().Format(time.RFC3339)
	}

	switch {
	case record.Address != nil:
		payload["type"] = record.Address.Type
		payload["address"] = addressResponse(record.Address.Address)
		payload["addressUpdated"] = record.Address.AddressUpdated
	case record.EmbassyPrice != nil:
		payload["confirmedEmbassyPrice"] = record.EmbassyPrice.ConfirmedEmbassyPrice
		payload["confirmedTotalPrice"] = record.EmbassyPrice.ConfirmedTotalPrice
		payload["originalTotalPrice"] = record.EmbassyPrice.OriginalTotalPrice
	case record.Quote != nil:
		payload["totalAmount"] = record.Quote.TotalAmount
		payload["customerType"] = record.Quote.CustomerType
		payload["locale"] = record.Quote.Locale
		if record.Quote.Message != "" {
			payload["message"] = record.Quote.Message
		}
	}
	return payload
}

func addressResponse(address domain.AddressSnapshot) map[string]any {
	payload := map[string]any{
		"name":       address.Name,
		"street":     address.Street,
		"postalCode": address.PostalCode,
		"city":       address.City,
		"country":    address.Country,
	}
	if address.Company != "" {
		payload["company"] = address.Company
	}
	if address.Line2 != "" {
		payload["line2"] = address.Line2
	}
	if address.Phone != "" {
		payload["phone"] = address.Phone
	}
	if address.Email != "" {
		payload["email"] = address.Email
	}
	return payload
}
