package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/apostella/api/internal/domain"
	pfirestore "github.com/apostella/api/internal/platform/firestore"
	"github.com/apostella/api/internal/platform/pagination"
	"github.com/apostella/api/internal/repositories"
)

const (
	pricingCollection   = "pricing"
	defaultRulePageSize = 50
)

// PricingRuleRepository implements repositories.PricingRuleRepository backed
// by Firestore. Rules are keyed "{COUNTRY}_{service}" so a single document
// get answers the common lookup.
type PricingRuleRepository struct {
	provider *pfirestore.Provider
	rules    *pfirestore.BaseRepository[pricingRuleDocument]
}

// NewPricingRuleRepository constructs a Firestore-backed pricing rule repository.
func NewPricingRuleRepository(provider *pfirestore.Provider) (*PricingRuleRepository, error) {
	if provider == nil {
		return nil, errors.New("pricing rule repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[pricingRuleDocument](provider, pricingCollection, nil, nil)
	return &PricingRuleRepository{
		provider: provider,
		rules:    base,
	}, nil
}

// Get returns the rule for the country and service pair.
func (r *PricingRuleRepository) Get(ctx context.Context, countryCode string, service domain.ServiceType) (domain.PricingRule, error) {
	if r == nil || r.rules == nil {
		return domain.PricingRule{}, errors.New("pricing rule repository not initialised")
	}
	id, err := pricingRuleID(countryCode, service)
	if err != nil {
		return domain.PricingRule{}, pfirestore.WrapError("pricing.get", err)
	}

	doc, err := r.rules.Get(ctx, id)
	if err != nil {
		return domain.PricingRule{}, err
	}
	return doc.Data.toDomain(), nil
}

// Upsert writes the rule under its canonical document ID, replacing any
// previous revision.
func (r *PricingRuleRepository) Upsert(ctx context.Context, rule domain.PricingRule) error {
	if r == nil || r.rules == nil {
		return errors.New("pricing rule repository not initialised")
	}
	id, err := pricingRuleID(rule.CountryCode, rule.ServiceType)
	if err != nil {
		return pfirestore.WrapError("pricing.upsert", err)
	}

	doc := pricingRuleFromDomain(rule)
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = time.Now().UTC()
	}
	_, err = r.rules.Set(ctx, id, doc)
	return err
}

// ListAll returns every rule in the catalog.
func (r *PricingRuleRepository) ListAll(ctx context.Context) ([]domain.PricingRule, error) {
	if r == nil || r.rules == nil {
		return nil, errors.New("pricing rule repository not initialised")
	}

	docs, err := r.rules.Query(ctx, nil)
	if err != nil {
		return nil, err
	}
	rules := make([]domain.PricingRule, 0, len(docs))
	for _, doc := range docs {
		rules = append(rules, doc.Data.toDomain())
	}
	return rules, nil
}

// List returns a single page of rules ordered by document ID along with
// the token addressing the next page. An empty token means the listing
// is exhausted.
func (r *PricingRuleRepository) List(ctx context.Context, params pagination.Params) ([]domain.PricingRule, string, error) {
	if r == nil || r.rules == nil {
		return nil, "", errors.New("pricing rule repository not initialised")
	}
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = defaultRulePageSize
	}

	docs, err := r.rules.Query(ctx, func(q firestore.Query) firestore.Query {
		for _, filter := range params.Filters {
			q = q.Where(filter.Field, string(filter.Op), filter.Value)
		}
		q = q.OrderBy(firestore.DocumentID, firestore.Asc)
		if len(params.Cursor.StartAfter) > 0 {
			q = q.StartAfter(params.Cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return nil, "", err
	}

	nextToken := ""
	if len(docs) > pageSize {
		docs = docs[:pageSize]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{docs[len(docs)-1].ID}})
		if err != nil {
			return nil, "", pfirestore.WrapError("pricing.list", err)
		}
		nextToken = token
	}

	rules := make([]domain.PricingRule, 0, len(docs))
	for _, doc := range docs {
		rules = append(rules, doc.Data.toDomain())
	}
	return rules, nextToken, nil
}

// ListByCountry returns the rules for a single country.
func (r *PricingRuleRepository) ListByCountry(ctx context.Context, countryCode string) ([]domain.PricingRule, error) {
	if r == nil || r.rules == nil {
		return nil, errors.New("pricing rule repository not initialised")
	}
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	if country == "" {
		return nil, pfirestore.WrapError("pricing.listByCountry", errors.New("country code is required"))
	}

	docs, err := r.rules.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("countryCode", "==", country)
	})
	if err != nil {
		return nil, err
	}
	rules := make([]domain.PricingRule, 0, len(docs))
	for _, doc := range docs {
		rules = append(rules, doc.Data.toDomain())
	}
	return rules, nil
}

func pricingRuleID(countryCode string, service domain.ServiceType) (string, error) {
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	if country == "" {
		return "", errors.New("country code is required")
	}
	if !domain.IsValidServiceType(service) {
		return "", fmt.Errorf("unknown service type %q", service)
	}
	return country + "_" + string(service), nil
}

type pricingRuleDocument struct {
	CountryCode        string    `firestore:"countryCode"`
	ServiceType        string    `firestore:"serviceType"`
	OfficialFee        int64     `firestore:"officialFee"`
	ServiceFee         int64     `firestore:"serviceFee"`
	BasePrice          int64     `firestore:"basePrice"`
	ProcessingTimeDays int       `firestore:"processingTimeDays,omitempty"`
	Currency           string    `firestore:"currency"`
	IsActive           bool      `firestore:"isActive"`
	UpdatedAt          time.Time `firestore:"updatedAt"`
	UpdatedBy          string    `firestore:"updatedBy,omitempty"`
}

func (d pricingRuleDocument) toDomain() domain.PricingRule {
	return domain.PricingRule{
		CountryCode:        d.CountryCode,
		ServiceType:        domain.ServiceType(d.ServiceType),
		OfficialFee:        d.OfficialFee,
		ServiceFee:         d.ServiceFee,
		BasePrice:          d.BasePrice,
		ProcessingTimeDays: d.ProcessingTimeDays,
		Currency:           d.Currency,
		IsActive:           d.IsActive,
		UpdatedAt:          d.UpdatedAt,
		UpdatedBy:          d.UpdatedBy,
	}
}

func pricingRuleFromDomain(rule domain.PricingRule) pricingRuleDocument {
	return pricingRuleDocument{
		CountryCode:        strings.ToUpper(strings.TrimSpace(rule.CountryCode)),
		ServiceType:        string(rule.ServiceType),
		OfficialFee:        rule.OfficialFee,
		ServiceFee:         rule.ServiceFee,
		BasePrice:          rule.BasePrice,
		ProcessingTimeDays: rule.ProcessingTimeDays,
		Currency:           rule.Currency,
		IsActive:           rule.IsActive,
		UpdatedAt:          rule.UpdatedAt,
		UpdatedBy:          rule.UpdatedBy,
	}
}

var _ repositories.PricingRuleRepository = (*PricingRuleRepository)(nil)
