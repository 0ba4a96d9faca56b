package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/apostella/api/internal/domain"
	pfirestore "github.com/apostella/api/internal/platform/firestore"
	"github.com/apostella/api/internal/repositories"
)

const (
	addressConfirmationsCollection = "addressConfirmations"
	embassyConfirmationsCollection = "embassyPriceConfirmations"
	quoteConfirmationsCollection   = "quotes"
)

// ConfirmationRepository implements repositories.ConfirmationRepository
// backed by Firestore. Each confirmation kind lives in its own collection
// and documents are keyed by token, so possession of the token is the only
// credential needed to address a record.
type ConfirmationRepository struct {
	provider *pfirestore.Provider
	byKind   map[domain.ConfirmationKind]*pfirestore.BaseRepository[confirmationDocument]
}

// NewConfirmationRepository constructs a Firestore-backed confirmation repository.
func NewConfirmationRepository(provider *pfirestore.Provider) (*ConfirmationRepository, error) {
	if provider == nil {
		return nil, errors.New("confirmation repository requires firestore provider")
	}
	byKind := map[domain.ConfirmationKind]*pfirestore.BaseRepository[confirmationDocument]{
		domain.ConfirmationAddress:      pfirestore.NewBaseRepository[confirmationDocument](provider, addressConfirmationsCollection, nil, nil),
		domain.ConfirmationEmbassyPrice: pfirestore.NewBaseRepository[confirmationDocument](provider, embassyConfirmationsCollection, nil, nil),
		domain.ConfirmationQuote:        pfirestore.NewBaseRepository[confirmationDocument](provider, quoteConfirmationsCollection, nil, nil),
	}
	return &ConfirmationRepository{
		provider: provider,
		byKind:   byKind,
	}, nil
}

// Insert stores a freshly issued confirmation record.
func (r *ConfirmationRepository) Insert(ctx context.Context, record domain.ConfirmationRecord) error {
	base, err := r.baseFor(record.Kind)
	if err != nil {
		return err
	}
	token := strings.TrimSpace(record.Token)
	if token == "" {
		return pfirestore.WrapError("confirmations.insert", errors.New("confirmation token is required"))
	}

	_, err = base.Set(ctx, token, confirmationFromDomain(record))
	return err
}

// FindByToken loads the record addressed by token within the kind's collection.
func (r *ConfirmationRepository) FindByToken(ctx context.Context, kind domain.ConfirmationKind, token string) (domain.ConfirmationRecord, error) {
	base, err := r.baseFor(kind)
	if err != nil {
		return domain.ConfirmationRecord{}, err
	}
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return domain.ConfirmationRecord{}, pfirestore.WrapError("confirmations.find", errors.New("confirmation token is required"))
	}

	doc, err := base.Get(ctx, trimmed)
	if err != nil {
		return domain.ConfirmationRecord{}, err
	}
	return doc.Data.toDomain(kind, doc.ID), nil
}

// ConditionalResolve moves the record out of pending in a single transaction.
// The transition only happens while the stored status is still pending;
// a record that already resolved yields a conflict error so callers can
// distinguish replays from fresh decisions.
func (r *ConfirmationRepository) ConditionalResolve(ctx context.Context, req repositories.ConditionalResolveRequest) (domain.ConfirmationRecord, error) {
	base, err := r.baseFor(req.Kind)
	if err != nil {
		return domain.ConfirmationRecord{}, err
	}
	token := strings.TrimSpace(req.Token)
	if token == "" {
		return domain.ConfirmationRecord{}, pfirestore.WrapError("confirmations.resolve", errors.New("confirmation token is required"))
	}

	resolvedAt := req.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}

	var resolved domain.ConfirmationRecord
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := base.DocumentRef(ctx, token)
		if err != nil {
			return err
		}

		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc confirmationDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore confirmations decode %s: %w", token, err)
		}
		if doc.Status != string(domain.ConfirmationPending) {
			return status.Errorf(codes.FailedPrecondition, "confirmation %s already resolved as %s", token, doc.Status)
		}

		doc.Status = string(req.NewStatus)
		doc.ResolvedAt = &resolvedAt
		if req.AddressPatch != nil && doc.Address != nil {
			doc.Address.Address = *req.AddressPatch
			doc.Address.AddressUpdated = true
		}

		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		resolved = doc.toDomain(req.Kind, snapshot.Ref.ID)
		return nil
	})
	if err != nil {
		return domain.ConfirmationRecord{}, pfirestore.WrapError("confirmations.resolve", err)
	}
	return resolved, nil
}

func (r *ConfirmationRepository) baseFor(kind domain.ConfirmationKind) (*pfirestore.BaseRepository[confirmationDocument], error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("confirmation repository not initialised")
	}
	base, ok := r.byKind[kind]
	if !ok {
		return nil, pfirestore.WrapError("confirmations", fmt.Errorf("unknown confirmation kind %q", kind))
	}
	return base, nil
}

type confirmationDocument struct {
	RecordID      string                      `firestore:"recordId"`
	OrderID       string                      `firestore:"orderId"`
	OrderNumber   string                      `firestore:"orderNumber,omitempty"`
	CustomerEmail string                      `firestore:"customerEmail"`
	Status        string                      `firestore:"status"`
	CreatedAt     time.Time                   `firestore:"createdAt"`
	ExpiresAt     *time.Time                  `firestore:"expiresAt,omitempty"`
	ResolvedAt    *time.Time                  `firestore:"resolvedAt,omitempty"`
	Address       *addressPayloadDocument     `firestore:"address,omitempty"`
	EmbassyPrice  *embassyPayloadDocument     `firestore:"embassyPrice,omitempty"`
	Quote         *quotePayloadDocument       `firestore:"quote,omitempty"`
}

type addressPayloadDocument struct {
	Type           string                 `firestore:"type"`
	Address        domain.AddressSnapshot `firestore:"address"`
	AddressUpdated bool                   `firestore:"addressUpdated"`
}

type embassyPayloadDocument struct {
	ConfirmedEmbassyPrice int64               `firestore:"confirmedEmbassyPrice"`
	ConfirmedTotalPrice   int64               `firestore:"confirmedTotalPrice"`
	OriginalTotalPrice    int64               `firestore:"originalTotalPrice"`
	OriginalBreakdown     []priceLineDocument `firestore:"originalBreakdown,omitempty"`
}

type quotePayloadDocument struct {
	LineItems    []quoteLineDocument `firestore:"lineItems"`
	TotalAmount  int64               `firestore:"totalAmount"`
	CustomerType string              `firestore:"customerType"`
	Locale       string              `firestore:"locale,omitempty"`
	Message      string              `firestore:"message,omitempty"`
}

type quoteLineDocument struct {
	Description string `firestore:"description"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Total       int64  `firestore:"total"`
	VATRate     int    `firestore:"vatRate"`
}

func (d confirmationDocument) toDomain(kind domain.ConfirmationKind, token string) domain.ConfirmationRecord {
	record := domain.ConfirmationRecord{
		ID:            d.RecordID,
		Kind:          kind,
		OrderID:       d.OrderID,
		OrderNumber:   d.OrderNumber,
		CustomerEmail: d.CustomerEmail,
		Token:         token,
		Status:        domain.ConfirmationStatus(d.Status),
		CreatedAt:     d.CreatedAt,
		ExpiresAt:     cloneTime(d.ExpiresAt),
		ResolvedAt:    cloneTime(d.ResolvedAt),
	}
	if d.Address != nil {
		record.Address = &domain.AddressConfirmationPayload{
			Type:           domain.AddressConfirmationType(d.Address.Type),
			Address:        d.Address.Address,
			AddressUpdated: d.Address.AddressUpdated,
		}
	}
	if d.EmbassyPrice != nil {
		record.EmbassyPrice = &domain.EmbassyPricePayload{
			ConfirmedEmbassyPrice: d.EmbassyPrice.ConfirmedEmbassyPrice,
			ConfirmedTotalPrice:   d.EmbassyPrice.ConfirmedTotalPrice,
			OriginalTotalPrice:    d.EmbassyPrice.OriginalTotalPrice,
			OriginalBreakdown:     priceLinesFromDocuments(d.EmbassyPrice.OriginalBreakdown),
		}
	}
	if d.Quote != nil {
		lines := make([]domain.QuoteLineItem, 0, len(d.Quote.LineItems))
		for _, line := range d.Quote.LineItems {
			lines = append(lines, domain.QuoteLineItem{
				Description: line.Description,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				Total:       line.Total,
				VATRate:     line.VATRate,
			})
		}
		record.Quote = &domain.QuotePayload{
			LineItems:    lines,
			TotalAmount:  d.Quote.TotalAmount,
			CustomerType: domain.CustomerType(d.Quote.CustomerType),
			Locale:       d.Quote.Locale,
			Message:      d.Quote.Message,
		}
	}
	return record
}

func confirmationFromDomain(record domain.ConfirmationRecord) confirmationDocument {
	doc := confirmationDocument{
		RecordID:      record.ID,
		OrderID:       record.OrderID,
		OrderNumber:   record.OrderNumber,
		CustomerEmail: record.CustomerEmail,
		Status:        string(record.Status),
		CreatedAt:     record.CreatedAt,
		ExpiresAt:     cloneTime(record.ExpiresAt),
		ResolvedAt:    cloneTime(record.ResolvedAt),
	}
	if record.Address != nil {
		doc.Address = &addressPayloadDocument{
			Type:           string(record.Address.Type),
			Address:        record.Address.Address,
			AddressUpdated: record.Address.AddressUpdated,
		}
	}
	if record.EmbassyPrice != nil {
		doc.EmbassyPrice = &embassyPayloadDocument{
			ConfirmedEmbassyPrice: record.EmbassyPrice.ConfirmedEmbassyPrice,
			ConfirmedTotalPrice:   record.EmbassyPrice.ConfirmedTotalPrice,
			OriginalTotalPrice:    record.EmbassyPrice.OriginalTotalPrice,
			OriginalBreakdown:     priceLinesToDocuments(record.EmbassyPrice.OriginalBreakdown),
		}
	}
	if record.Quote != nil {
		lines := make([]quoteLineDocument, 0, len(record.Quote.LineItems))
		for _, line := range record.Quote.LineItems {
			lines = append(lines, quoteLineDocument{
				Description: line.Description,
				Quantity:    line.Quantity,
				UnitPrice:   line.UnitPrice,
				Total:       line.Total,
				VATRate:     line.VATRate,
			})
		}
		doc.Quote = &quotePayloadDocument{
			LineItems:    lines,
			TotalAmount:  record.Quote.TotalAmount,
			CustomerType: string(record.Quote.CustomerType),
			Locale:       record.Quote.Locale,
			Message:      record.Quote.Message,
		}
	}
	return doc
}

var _ repositories.ConfirmationRepository = (*ConfirmationRepository)(nil)
