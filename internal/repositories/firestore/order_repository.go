package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/apostella/api/internal/domain"
	pfirestore "github.com/apostella/api/internal/platform/firestore"
	"github.com/apostella/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// Order documents are created by the back office tooling; this repository
// only reads them and merges workflow outcomes onto existing documents.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{
		provider: provider,
		orders:   base,
	}, nil
}

// FindByID resolves an order by document ID first and falls back to an
// orderNumber lookup, so handlers can accept either form of reference.
func (r *OrderRepository) FindByID(ctx context.Context, idOrNumber string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	key := strings.TrimSpace(idOrNumber)
	if key == "" {
		return domain.Order{}, pfirestore.WrapError("orders.find", errors.New("order reference is required"))
	}

	doc, err := r.orders.Get(ctx, key)
	if err == nil {
		return doc.Data.toDomain(doc.ID), nil
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		return domain.Order{}, err
	}

	docs, queryErr := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", key).Limit(1)
	})
	if queryErr != nil {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", queryErr)
	}
	if len(docs) == 0 {
		return domain.Order{}, err
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// Merge applies the populated fields of update to the order document and
// leaves every other field untouched.
func (r *OrderRepository) Merge(ctx context.Context, orderID string, update repositories.OrderMergeUpdate) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return pfirestore.WrapError("orders.merge", errors.New("order id is required"))
	}

	updates := buildOrderUpdates(update)
	if len(updates) == 0 {
		return nil
	}

	_, err := r.orders.Update(ctx, id, updates)
	return err
}

// AppendPriceAudit appends a price audit entry. The array union keeps
// concurrent appends from overwriting each other.
func (r *OrderRepository) AppendPriceAudit(ctx context.Context, orderID string, entry domain.PriceAuditEntry) error {
	if r == nil || r.orders == nil {
		return errors.New("order repository not initialised")
	}
	id := strings.TrimSpace(orderID)
	if id == "" {
		return pfirestore.WrapError("orders.audit", errors.New("order id is required"))
	}

	updates := []firestore.Update{
		{Path: "priceAudit", Value: firestore.ArrayUnion(entry)},
		{Path: "updatedAt", Value: entry.RecordedAt},
	}
	_, err := r.orders.Update(ctx, id, updates)
	return err
}

func buildOrderUpdates(update repositories.OrderMergeUpdate) []firestore.Update {
	updates := make([]firestore.Update, 0, 12)

	if update.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*update.Status)})
	}
	if update.TotalPrice != nil {
		updates = append(updates, firestore.Update{Path: "totalPrice", Value: *update.TotalPrice})
	}
	if update.PricingBreakdown != nil {
		updates = append(updates, firestore.Update{Path: "pricingBreakdown", Value: priceLinesToDocuments(update.PricingBreakdown)})
	}
	if update.PickupAddress != nil {
		updates = append(updates, firestore.Update{Path: "pickupAddress", Value: *update.PickupAddress})
	}
	if update.ReturnAddress != nil {
		updates = append(updates, firestore.Update{Path: "returnAddress", Value: *update.ReturnAddress})
	}
	if update.PickupAddressConfirmed != nil {
		updates = append(updates, firestore.Update{Path: "pickupAddressConfirmed", Value: *update.PickupAddressConfirmed})
	}
	if update.ReturnAddressConfirmed != nil {
		updates = append(updates, firestore.Update{Path: "returnAddressConfirmed", Value: *update.ReturnAddressConfirmed})
	}
	if update.PickupAddressUpdated != nil {
		updates = append(updates, firestore.Update{Path: "pickupAddressUpdated", Value: *update.PickupAddressUpdated})
	}
	if update.ReturnAddressUpdated != nil {
		updates = append(updates, firestore.Update{Path: "returnAddressUpdated", Value: *update.ReturnAddressUpdated})
	}
	if update.Quote != nil {
		updates = append(updates, firestore.Update{Path: "quote", Value: orderQuoteToDocument(*update.Quote)})
	}
	if update.EmbassyPriceStatus != nil {
		updates = append(updates, firestore.Update{Path: "embassyPriceStatus", Value: string(*update.EmbassyPriceStatus)})
	}
	if update.HasUnconfirmedPrices != nil {
		updates = append(updates, firestore.Update{Path: "hasUnconfirmedPrices", Value: *update.HasUnconfirmedPrices})
	}
	if update.PendingEmbassyPrice != nil {
		updates = append(updates, firestore.Update{Path: "pendingEmbassyPrice", Value: *update.PendingEmbassyPrice})
	}
	if update.PendingTotalPrice != nil {
		updates = append(updates, firestore.Update{Path: "pendingTotalPrice", Value: *update.PendingTotalPrice})
	}
	if update.CancellationReason != nil {
		if strings.TrimSpace(*update.CancellationReason) == "" {
			updates = append(updates, firestore.Update{Path: "cancellationReason", Value: firestore.Delete})
		} else {
			updates = append(updates, firestore.Update{Path: "cancellationReason", Value: *update.CancellationReason})
		}
	}

	if len(updates) == 0 {
		return nil
	}
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: updatedAt})
	return updates
}

type orderDocument struct {
	OrderNumber            string                     `firestore:"orderNumber"`
	Customer               orderCustomerDocument      `firestore:"customer"`
	Country                string                     `firestore:"country"`
	Services               []string                   `firestore:"services"`
	Quantity               int                        `firestore:"quantity"`
	Status                 string                     `firestore:"status"`
	TotalPrice             int64                      `firestore:"totalPrice"`
	Currency               string                     `firestore:"currency,omitempty"`
	PricingBreakdown       []priceLineDocument        `firestore:"pricingBreakdown,omitempty"`
	PickupAddress          *domain.AddressSnapshot    `firestore:"pickupAddress,omitempty"`
	ReturnAddress          *domain.AddressSnapshot    `firestore:"returnAddress,omitempty"`
	PickupAddressConfirmed bool                       `firestore:"pickupAddressConfirmed"`
	ReturnAddressConfirmed bool                       `firestore:"returnAddressConfirmed"`
	PickupAddressUpdated   bool                       `firestore:"pickupAddressUpdated"`
	ReturnAddressUpdated   bool                       `firestore:"returnAddressUpdated"`
	Quote                  *orderQuoteDocument        `firestore:"quote,omitempty"`
	EmbassyPriceStatus     string                     `firestore:"embassyPriceStatus,omitempty"`
	HasUnconfirmedPrices   bool                       `firestore:"hasUnconfirmedPrices"`
	PendingEmbassyPrice    int64                      `firestore:"pendingEmbassyPrice,omitempty"`
	PendingTotalPrice      int64                      `firestore:"pendingTotalPrice,omitempty"`
	PriceAudit             []domain.PriceAuditEntry   `firestore:"priceAudit,omitempty"`
	CancellationReason     string                     `firestore:"cancellationReason,omitempty"`
	CreatedAt              time.Time                  `firestore:"createdAt"`
	UpdatedAt              time.Time                  `firestore:"updatedAt"`
}

type orderCustomerDocument struct {
	Name         string `firestore:"name"`
	Email        string `firestore:"email"`
	Phone        string `firestore:"phone,omitempty"`
	CustomerType string `firestore:"customerType,omitempty"`
}

type orderQuoteDocument struct {
	Status     string     `firestore:"status"`
	Token      string     `firestore:"token,omitempty"`
	TotalExcl  int64      `firestore:"totalExcl"`
	VATAmount  int64      `firestore:"vatAmount"`
	TotalIncl  int64      `firestore:"totalIncl"`
	SentAt     *time.Time `firestore:"sentAt,omitempty"`
	ResolvedAt *time.Time `firestore:"resolvedAt,omitempty"`
}

type priceLineDocument struct {
	Service     string `firestore:"service"`
	Description string `firestore:"description,omitempty"`
	Quantity    int    `firestore:"quantity,omitempty"`
	BasePrice   int64  `firestore:"basePrice,omitempty"`
	Fee         int64  `firestore:"fee,omitempty"`
	Amount      int64  `firestore:"amount"`
	VATRate     int    `firestore:"vatRate"`
	IsTBC       bool   `firestore:"isTBC,omitempty"`
}

func (d orderDocument) toDomain(id string) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		Customer: domain.CustomerInfo{
			Name:         d.Customer.Name,
			Email:        d.Customer.Email,
			Phone:        d.Customer.Phone,
			CustomerType: domain.CustomerType(d.Customer.CustomerType),
		},
		Country:                d.Country,
		Services:               append([]string(nil), d.Services...),
		Quantity:               d.Quantity,
		Status:                 domain.OrderStatus(d.Status),
		TotalPrice:             d.TotalPrice,
		Currency:               d.Currency,
		PricingBreakdown:       priceLinesFromDocuments(d.PricingBreakdown),
		PickupAddress:          cloneAddress(d.PickupAddress),
		ReturnAddress:          cloneAddress(d.ReturnAddress),
		PickupAddressConfirmed: d.PickupAddressConfirmed,
		ReturnAddressConfirmed: d.ReturnAddressConfirmed,
		PickupAddressUpdated:   d.PickupAddressUpdated,
		ReturnAddressUpdated:   d.ReturnAddressUpdated,
		EmbassyPriceStatus:     domain.EmbassyPriceStatus(d.EmbassyPriceStatus),
		HasUnconfirmedPrices:   d.HasUnconfirmedPrices,
		PendingEmbassyPrice:    d.PendingEmbassyPrice,
		PendingTotalPrice:      d.PendingTotalPrice,
		PriceAudit:             append([]domain.PriceAuditEntry(nil), d.PriceAudit...),
		CancellationReason:     d.CancellationReason,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}
	if d.Quote != nil {
		quote := domain.OrderQuote{
			Status:     domain.QuoteStatus(d.Quote.Status),
			Token:      d.Quote.Token,
			TotalExcl:  d.Quote.TotalExcl,
			VATAmount:  d.Quote.VATAmount,
			TotalIncl:  d.Quote.TotalIncl,
			SentAt:     cloneTime(d.Quote.SentAt),
			ResolvedAt: cloneTime(d.Quote.ResolvedAt),
		}
		order.Quote = &quote
	}
	return order
}

func orderQuoteToDocument(quote domain.OrderQuote) orderQuoteDocument {
	return orderQuoteDocument{
		Status:     string(quote.Status),
		Token:      quote.Token,
		TotalExcl:  quote.TotalExcl,
		VATAmount:  quote.VATAmount,
		TotalIncl:  quote.TotalIncl,
		SentAt:     cloneTime(quote.SentAt),
		ResolvedAt: cloneTime(quote.ResolvedAt),
	}
}

func priceLinesToDocuments(lines []domain.PriceLineItem) []priceLineDocument {
	if len(lines) == 0 {
		return nil
	}
	docs := make([]priceLineDocument, 0, len(lines))
	for _, line := range lines {
		docs = append(docs, priceLineDocument{
			Service:     line.Service,
			Description: line.Description,
			Quantity:    line.Quantity,
			BasePrice:   line.BasePrice,
			Fee:         line.Fee,
			Amount:      line.Amount,
			VATRate:     line.VATRate,
			IsTBC:       line.IsTBC,
		})
	}
	return docs
}

func priceLinesFromDocuments(docs []priceLineDocument) []domain.PriceLineItem {
	if len(docs) == 0 {
		return nil
	}
	lines := make([]domain.PriceLineItem, 0, len(docs))
	for _, doc := range docs {
		lines = append(lines, domain.PriceLineItem{
			Service:     doc.Service,
			Description: doc.Description,
			Quantity:    doc.Quantity,
			BasePrice:   doc.BasePrice,
			Fee:         doc.Fee,
			Amount:      doc.Amount,
			VATRate:     doc.VATRate,
			IsTBC:       doc.IsTBC,
		})
	}
	return lines
}

func cloneAddress(addr *domain.AddressSnapshot) *domain.AddressSnapshot {
	if addr == nil {
		return nil
	}
	copied := *addr
	return &copied
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
