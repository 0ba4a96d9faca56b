package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/platform/pagination"
	"github.com/apostella/api/internal/services"
)

type stubPricingCatalog struct {
	ruleFn       func(ctx context.Context, countryCode string, service domain.ServiceType) (domain.PricingRule, error)
	upsertFn     func(ctx context.Context, rule domain.PricingRule) (domain.PricingRule, error)
	bulkAdjustFn func(ctx context.Context, cmd services.BulkAdjustCommand) (int, error)
	listRulesFn  func(ctx context.Context, params pagination.Params) ([]domain.PricingRule, string, error)
	statsFn      func(ctx context.Context) (domain.PricingStats, error)
	seedFn       func(ctx context.Context, countries []string, updatedBy string) (int, error)
}

func (s *stubPricingCatalog) Rule(ctx context.Context, countryCode string, service domain.ServiceType) (domain.PricingRule, error) {
	if s.ruleFn != nil {
		return s.ruleFn(ctx, countryCode, service)
	}
	return domain.PricingRule{}, nil
}

func (s *stubPricingCatalog) Upsert(ctx context.Context, rule domain.PricingRule) (domain.PricingRule, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, rule)
	}
	return rule, nil
}

func (s *stubPricingCatalog) BulkAdjust(ctx context.Context, cmd services.BulkAdjustCommand) (int, error) {
	if s.bulkAdjustFn != nil {
		return s.bulkAdjustFn(ctx, cmd)
	}
	return 0, nil
}

func (s *stubPricingCatalog) ListRules(ctx context.Context, params pagination.Params) ([]domain.PricingRule, string, error) {
	if s.listRulesFn != nil {
		return s.listRulesFn(ctx, params)
	}
	return nil, "", nil
}

func (s *stubPricingCatalog) Stats(ctx context.Context) (domain.PricingStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return domain.PricingStats{}, nil
}

func (s *stubPricingCatalog) SeedDefaults(ctx context.Context, countries []string, updatedBy string) (int, error) {
	if s.seedFn != nil {
		return s.seedFn(ctx, countries, updatedBy)
	}
	return 0, nil
}

func newAdminPricingRouter(catalog *stubPricingCatalog) chi.Router {
	router := chi.NewRouter()
	NewAdminPricingHandlers(catalog).Routes(router)
	return router
}

func TestAdminPricingHandlers_GetRule(t *testing.T) {
	updated := time.Date(2026, time.February, 1, 12, 0, 0, 0, time.UTC)
	catalog := &stubPricingCatalog{}
	catalog.ruleFn = func(_ context.Context, countryCode string, service domain.ServiceType) (domain.PricingRule, error) {
		if countryCode != "se" || service != domain.ServiceApostille {
			t.Fatalf("unexpected lookup %s %s", countryCode, service)
		}
		return domain.PricingRule{
			CountryCode: "SE",
			ServiceType: domain.ServiceApostille,
			OfficialFee: 100,
			ServiceFee:  850,
			BasePrice:   950,
			Currency:    "SEK",
			IsActive:    true,
			UpdatedAt:   updated,
			UpdatedBy:   "ops",
		}, nil
	}
	router := newAdminPricingRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/pricing/se/apostille", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded pricingRuleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if decoded.CountryCode != "SE" || decoded.BasePrice != 950 || decoded.Fallback {
		t.Fatalf("unexpected rule %#v", decoded)
	}
	if decoded.UpdatedAt != "2026-02-01T12:00:00Z" {
		t.Fatalf("expected RFC3339 timestamp, got %s", decoded.UpdatedAt)
	}
}

func TestAdminPricingHandlers_GetRuleFallbackFlag(t *testing.T) {
	catalog := &stubPricingCatalog{}
	catalog.ruleFn = func(context.Context, string, domain.ServiceType) (domain.PricingRule, error) {
		return domain.PricingRule{ServiceType: domain.ServiceEmbassy, BasePrice: 2699, Currency: "SEK", IsActive: true}, nil
	}
	router := newAdminPricingRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/pricing/de/embassy", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	var decoded pricingRuleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !decoded.Fallback {
		t.Fatalf("expected fallback flag for rule without country, got %#v", decoded)
	}
}

func TestAdminPricingHandlers_GetRuleUnknownService(t *testing.T) {
	router := newAdminPricingRouter(&stubPricingCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/pricing/se/laminating", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestAdminPricingHandlers_PutRule(t *testing.T) {
	catalog := &stubPricingCatalog{}
	catalog.upsertFn = func(_ context.Context, rule domain.PricingRule) (domain.PricingRule, error) {
		if rule.CountryCode != "se" || rule.ServiceType != domain.ServiceNotarization {
			t.Fatalf("unexpected upsert %#v", rule)
		}
		if rule.OfficialFee != 200 || rule.ServiceFee != 1200 {
			t.Fatalf("unexpected fees %#v", rule)
		}
		if !rule.IsActive {
			t.Fatalf("expected rule active by default")
		}
		rule.CountryCode = "SE"
		rule.BasePrice = rule.OfficialFee + rule.ServiceFee
		rule.Currency = "SEK"
		return rule, nil
	}
	router := newAdminPricingRouter(catalog)

	payload, _ := json.Marshal(map[string]any{"officialFee": 200, "serviceFee": 1200, "updatedBy": "ops"})
	req := httptest.NewRequest(http.MethodPut, "/pricing/se/notarization", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded pricingRuleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if decoded.BasePrice != 1400 || decoded.CountryCode != "SE" {
		t.Fatalf("unexpected rule %#v", decoded)
	}
}

func TestAdminPricingHandlers_BulkAdjust(t *testing.T) {
	catalog := &stubPricingCatalog{}
	catalog.bulkAdjustFn = func(_ context.Context, cmd services.BulkAdjustCommand) (int, error) {
		if cmd.Percent == nil || *cmd.Percent != 10 {
			t.Fatalf("expected ten percent adjustment, got %#v", cmd.Percent)
		}
		if len(cmd.Services) != 1 || cmd.Services[0] != domain.ServiceApostille {
			t.Fatalf("unexpected service filter %#v", cmd.Services)
		}
		return 4, nil
	}
	router := newAdminPricingRouter(catalog)

	payload, _ := json.Marshal(map[string]any{"percent": 10, "services": []string{"Apostille"}, "updatedBy": "ops"})
	req := httptest.NewRequest(http.MethodPost, "/pricing/bulk-adjust", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		Success bool `json:"success"`
		Updated int  `json:"updated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !decoded.Success || decoded.Updated != 4 {
		t.Fatalf("unexpected response %#v", decoded)
	}
}

func TestAdminPricingHandlers_Stats(t *testing.T) {
	catalog := &stubPricingCatalog{}
	catalog.statsFn = func(context.Context) (domain.PricingStats, error) {
		return domain.PricingStats{
			RuleCount:       6,
			ActiveRuleCount: 5,
			CountryCount:    3,
			AverageBasePrice: map[domain.ServiceType]int64{
				domain.ServiceApostille: 1000,
			},
		}, nil
	}
	router := newAdminPricingRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/pricing/stats", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		RuleCount        int              `json:"ruleCount"`
		ActiveRuleCount  int              `json:"activeRuleCount"`
		CountryCount     int              `json:"countryCount"`
		AverageBasePrice map[string]int64 `json:"averageBasePrice"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if decoded.RuleCount != 6 || decoded.AverageBasePrice["apostille"] != 1000 {
		t.Fatalf("unexpected stats %#v", decoded)
	}
}

func TestAdminPricingHandlers_Seed(t *testing.T) {
	catalog := &stubPricingCatalog{}
	catalog.seedFn = func(_ context.Context, countries []string, updatedBy string) (int, error) {
		if len(countries) != 2 || countries[0] != "SE" {
			t.Fatalf("unexpected countries %#v", countries)
		}
		if updatedBy != "ops" {
			t.Fatalf("unexpected updatedBy %s", updatedBy)
		}
		return 12, nil
	}
	router := newAdminPricingRouter(catalog)

	payload, _ := json.Marshal(map[string]any{"countries": []string{"SE", "NO"}, "updatedBy": "ops"})
	req := httptest.NewRequest(http.MethodPost, "/pricing/seed", bytes.NewReader(payload))
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		Created int `json:"created"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if decoded.Created != 12 {
		t.Fatalf("expected 12 created, got %d", decoded.Created)
	}
}

func TestAdminPricingHandlers_ListRules(t *testing.T) {
	catalog := &stubPricingCatalog{}
	catalog.listRulesFn = func(_ context.Context, params pagination.Params) ([]domain.PricingRule, string, error) {
		if params.PageSize != 2 {
			t.Fatalf("unexpected page size %d", params.PageSize)
		}
		if len(params.Filters) != 1 || params.Filters[0].Field != "countryCode" || params.Filters[0].Value != "SE" {
			t.Fatalf("unexpected filters %#v", params.Filters)
		}
		return []domain.PricingRule{
			{CountryCode: "SE", ServiceType: domain.ServiceApostille, BasePrice: 950, Currency: "SEK", IsActive: true},
			{CountryCode: "SE", ServiceType: domain.ServiceNotarization, BasePrice: 700, Currency: "SEK", IsActive: true},
		}, "next-page", nil
	}
	router := newAdminPricingRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/pricing?pageSize=2&filter=countryCode%3D%3DSE", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded struct {
		Rules         []pricingRuleResponse `json:"rules"`
		NextPageToken string                `json:"nextPageToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(decoded.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(decoded.Rules))
	}
	if decoded.Rules[1].ServiceType != "notarization" {
		t.Fatalf("unexpected second rule %#v", decoded.Rules[1])
	}
	if decoded.NextPageToken != "next-page" {
		t.Fatalf("unexpected next page token %q", decoded.NextPageToken)
	}
}

func TestAdminPricingHandlers_ListRulesLastPage(t *testing.T) {
	catalog := &stubPricingCatalog{}
	catalog.listRulesFn = func(_ context.Context, _ pagination.Params) ([]domain.PricingRule, string, error) {
		return []domain.PricingRule{{CountryCode: "NO", ServiceType: domain.ServiceApostille, BasePrice: 950, Currency: "SEK"}}, "", nil
	}
	router := newAdminPricingRouter(catalog)

	req := httptest.NewRequest(http.MethodGet, "/pricing", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := decoded["nextPageToken"]; ok {
		t.Fatal("expected nextPageToken to be omitted on the last page")
	}
}

func TestAdminPricingHandlers_ListRulesRejectsBadQuery(t *testing.T) {
	router := newAdminPricingRouter(&stubPricingCatalog{})

	req := httptest.NewRequest(http.MethodGet, "/pricing?pageSize=many", nil)
	resp := httptest.NewRecorder()

	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.Code, resp.Body.String())
	}
}
