package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/platform/httpx"
	"github.com/apostella/api/internal/platform/pagination"
	"github.com/apostella/api/internal/services"
)

// PricingCatalogAPI is the slice of the pricing catalog the admin handlers use.
type PricingCatalogAPI interface {
	Rule(ctx context.Context, countryCode string, service domain.ServiceType) (domain.PricingRule, error)
	Upsert(ctx context.Context, rule domain.PricingRule) (domain.PricingRule, error)
	BulkAdjust(ctx context.Context, cmd services.BulkAdjustCommand) (int, error)
	ListRules(ctx context.Context, params pagination.Params) ([]domain.PricingRule, string, error)
	Stats(ctx context.Context) (domain.PricingStats, error)
	SeedDefaults(ctx context.Context, countries []string, updatedBy string) (int, error)
}

// listRulesOptions bounds the query parameters accepted by the rule listing.
var listRulesOptions = pagination.Options{
	DefaultPageSize: 50,
	MaxPageSize:     200,
	AllowedFilterFields: map[string][]pagination.Operator{
		"countryCode": {pagination.OperatorEqual},
		"serviceType": {pagination.OperatorEqual},
	},
}

// AdminPricingHandlers exposes the catalog maintenance endpoints.
type AdminPricingHandlers struct {
	catalog PricingCatalogAPI
}

// NewAdminPricingHandlers constructs the admin pricing handlers.
func NewAdminPricingHandlers(catalog PricingCatalogAPI) *AdminPricingHandlers {
	return &AdminPricingHandlers{catalog: catalog}
}

// Routes registers the admin pricing endpoints.
func (h *AdminPricingHandlers) Routes(r chi.Router) {
	r.Get("/pricing", h.listRules)
	r.Get("/pricing/stats", h.stats)
	r.Post("/pricing/bulk-adjust", h.bulkAdjust)
	r.Post("/pricing/seed", h.seed)
	r.Get("/pricing/{country}/{service}", h.getRule)
	r.Put("/pricing/{country}/{service}", h.putRule)
}

type pricingRuleResponse struct {
	CountryCode        string `json:"countryCode"`
	ServiceType        string `json:"serviceType"`
	OfficialFee        int64  `json:"officialFee"`
	ServiceFee         int64  `json:"serviceFee"`
	BasePrice          int64  `json:"basePrice"`
	ProcessingTimeDays int    `json:"processingTimeDays,omitempty"`
	Currency           string `json:"currency"`
	IsActive           bool   `json:"isActive"`
	UpdatedAt          string `json:"updatedAt,omitempty"`
	UpdatedBy          string `json:"updatedBy,omitempty"`
	Fallback           bool   `json:"fallback"`
}

func ruleResponse(rule domain.PricingRule) pricingRuleResponse {
	resp := pricingRuleResponse{
		CountryCode:        rule.CountryCode,
		ServiceType:        string(rule.ServiceType),
		OfficialFee:        rule.OfficialFee,
		ServiceFee:         rule.ServiceFee,
		BasePrice:          rule.BasePrice,
		ProcessingTimeDays: rule.ProcessingTimeDays,
		Currency:           rule.Currency,
		IsActive:           rule.IsActive,
		UpdatedBy:          rule.UpdatedBy,
		Fallback:           rule.CountryCode == "",
	}
	if !rule.UpdatedAt.IsZero() {
		resp.UpdatedAt = rule.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *AdminPricingHandlers) listRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	params, err := pagination.FromRequest(r, listRulesOptions)
	if err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	rules, nextToken, err := h.catalog.ListRules(ctx, params)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]pricingRuleResponse, 0, len(rules))
	for _, rule := range rules {
		items = append(items, ruleResponse(rule))
	}
	body := map[string]any{"rules": items}
	if nextToken != "" {
		body["nextPageToken"] = nextToken
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *AdminPricingHandlers) getRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	service := domain.ServiceType(strings.ToLower(chi.URLParam(r, "service")))
	if !domain.IsValidServiceType(service) {
		writeBadRequest(ctx, w, fmt.Errorf("unknown service type %q", service))
		return
	}
	rule, err := h.catalog.Rule(ctx, chi.URLParam(r, "country"), service)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse(rule))
}

type putRuleRequest struct {
	OfficialFee        int64  `json:"officialFee" validate:"gte=0"`
	ServiceFee         int64  `json:"serviceFee" validate:"gte=0"`
	ProcessingTimeDays int    `json:"processingTimeDays" validate:"gte=0"`
	Currency           string `json:"currency" validate:"omitempty,len=3"`
	IsActive           *bool  `json:"isActive"`
	UpdatedBy          string `json:"updatedBy" validate:"omitempty,max=200"`
}

func (h *AdminPricingHandlers) putRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req putRuleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule, err := h.catalog.Upsert(ctx, domain.PricingRule{
		CountryCode:        chi.URLParam(r, "country"),
		ServiceType:        domain.ServiceType(strings.ToLower(chi.URLParam(r, "service"))),
		OfficialFee:        req.OfficialFee,
		ServiceFee:         req.ServiceFee,
		ProcessingTimeDays: req.ProcessingTimeDays,
		Currency:           req.Currency,
		IsActive:           active,
		UpdatedBy:          req.UpdatedBy,
	})
	if err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, ruleResponse(rule))
}

type bulkAdjustRequest struct {
	Percent   *float64 `json:"percent"`
	Delta     *int64   `json:"delta"`
	Services  []string `json:"services" validate:"omitempty,dive,required"`
	Countries []string `json:"countries" validate:"omitempty,dive,required"`
	UpdatedBy string   `json:"updatedBy" validate:"omitempty,max=200"`
}

func (h *AdminPricingHandlers) bulkAdjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req bulkAdjustRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	serviceTypes := make([]domain.ServiceType, 0, len(req.Services))
	for _, service := range req.Services {
		serviceTypes = append(serviceTypes, domain.ServiceType(strings.ToLower(service)))
	}
	updated, err := h.catalog.BulkAdjust(ctx, services.BulkAdjustCommand{
		Percent:   req.Percent,
		Delta:     req.Delta,
		Services:  serviceTypes,
		Countries: req.Countries,
		UpdatedBy: req.UpdatedBy,
	})
	if err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": updated})
}

func (h *AdminPricingHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.catalog.Stats(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to collect pricing stats", http.StatusInternalServerError))
		return
	}

	averages := make(map[string]int64, len(stats.AverageBasePrice))
	for service, avg := range stats.AverageBasePrice {
		averages[string(service)] = avg
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ruleCount":        stats.RuleCount,
		"activeRuleCount":  stats.ActiveRuleCount,
		"countryCount":     stats.CountryCount,
		"averageBasePrice": averages,
	})
}

type seedRequest struct {
	Countries []string `json:"countries" validate:"required,min=1,dive,required"`
	UpdatedBy string   `json:"updatedBy" validate:"omitempty,max=200"`
}

func (h *AdminPricingHandlers) seed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req seedRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(ctx, w, err)
		return
	}

	created, err := h.catalog.SeedDefaults(ctx, req.Countries, req.UpdatedBy)
	if err != nil {
		writeBadRequest(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "created": created})
}
