package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/repositories"
)

type fakeConfirmationRepo struct {
	records   map[string]domain.ConfirmationRecord
	insertFn  func(ctx context.Context, record domain.ConfirmationRecord) error
	resolveFn func(ctx context.Context, req repositories.ConditionalResolveRequest) (domain.ConfirmationRecord, error)
}

func newFakeConfirmationRepo(records ...domain.ConfirmationRecord) *fakeConfirmationRepo {
	repo := &fakeConfirmationRepo{records: make(map[string]domain.ConfirmationRecord)}
	for _, record := range records {
		repo.records[record.Token] = record
	}
	return repo
}

func (f *fakeConfirmationRepo) Insert(ctx context.Context, record domain.ConfirmationRecord) error {
	if f.insertFn != nil {
		return f.insertFn(ctx, record)
	}
	f.records[record.Token] = record
	return nil
}

func (f *fakeConfirmationRepo) FindByToken(_ context.Context, kind domain.ConfirmationKind, token string) (domain.ConfirmationRecord, error) {
	record, ok := f.records[token]
	if !ok || record.Kind != kind {
		return domain.ConfirmationRecord{}, &stubRepoError{notFound: true}
	}
	return record, nil
}

func (f *fakeConfirmationRepo) ConditionalResolve(ctx context.Context, req repositories.ConditionalResolveRequest) (domain.ConfirmationRecord, error) {
	if f.resolveFn != nil {
		return f.resolveFn(ctx, req)
	}
	record, ok := f.records[req.Token]
	if !ok || record.Kind != req.Kind {
		return domain.ConfirmationRecord{}, &stubRepoError{notFound: true}
	}
	if record.Status != domain.ConfirmationPending {
		return domain.ConfirmationRecord{}, &stubRepoError{conflict: true}
	}
	record.Status = req.NewStatus
	resolvedAt := req.ResolvedAt
	record.ResolvedAt = &resolvedAt
	if req.AddressPatch != nil && record.Address != nil {
		record.Address.Address = *req.AddressPatch
		record.Address.AddressUpdated = true
	}
	f.records[req.Token] = record
	return record, nil
}

type fakeOrderRepo struct {
	orders  map[string]domain.Order
	merges  []repositories.OrderMergeUpdate
	audits  []domain.PriceAuditEntry
	mergeFn func(ctx context.Context, orderID string, update repositories.OrderMergeUpdate) error
}

func newFakeOrderRepo(orders ...domain.Order) *fakeOrderRepo {
	repo := &fakeOrderRepo{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (f *fakeOrderRepo) FindByID(_ context.Context, idOrNumber string) (domain.Order, error) {
	if order, ok := f.orders[idOrNumber]; ok {
		return order, nil
	}
	for _, order := range f.orders {
		if order.OrderNumber == idOrNumber {
			return order, nil
		}
	}
	return domain.Order{}, &stubRepoError{notFound: true}
}

func (f *fakeOrderRepo) Merge(ctx context.Context, orderID string, update repositories.OrderMergeUpdate) error {
	if f.mergeFn != nil {
		return f.mergeFn(ctx, orderID, update)
	}
	f.merges = append(f.merges, update)
	return nil
}

func (f *fakeOrderRepo) AppendPriceAudit(_ context.Context, _ string, entry domain.PriceAuditEntry) error {
	f.audits = append(f.audits, entry)
	return nil
}

type fakeDispatcher struct {
	messages   []EmailJobMessage
	dispatchFn func(ctx context.Context, message EmailJobMessage) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, message EmailJobMessage) error {
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, message)
	}
	f.messages = append(f.messages, message)
	return nil
}

var testNow = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

func testOrder() domain.Order {
	return domain.Order{
		ID:          "ord_001",
		OrderNumber: "AP-2026-0042",
		Customer: domain.CustomerInfo{
			Name:         "Eva Lind",
			Email:        "eva@example.se",
			CustomerType: domain.CustomerPrivate,
		},
		Country:    "AE",
		TotalPrice: 1650,
		Currency:   "SEK",
		PricingBreakdown: []domain.PriceLineItem{
			{Service: string(domain.ServiceEmbassy), Description: "Embassy legalization (1)", Quantity: 1, BasePrice: 1650, Amount: 1650, VATRate: 25, IsTBC: true},
		},
		PickupAddress: &domain.AddressSnapshot{
			Name: "Eva Lind", Street: "Storgatan 1", PostalCode: "111 22", City: "Stockholm", Country: "SE",
		},
	}
}

type confirmationFixture struct {
	service       *ConfirmationService
	confirmations *fakeConfirmationRepo
	orders        *fakeOrderRepo
	dispatcher    *fakeDispatcher
}

func newConfirmationFixture(t *testing.T, mutate func(*ConfirmationServiceDeps)) confirmationFixture {
	t.Helper()

	confirmations := newFakeConfirmationRepo()
	orders := newFakeOrderRepo(testOrder())
	dispatcher := &fakeDispatcher{}

	sequence := 0
	deps := ConfirmationServiceDeps{
		Confirmations: confirmations,
		Orders:        orders,
		Dispatcher:    dispatcher,
		Policy: ConfirmationPolicy{
			PublicBaseURL: "https://apostella.se",
			AddressTTL:    168 * time.Hour,
			EmbassyTTL:    168 * time.Hour,
			QuoteTTL:      720 * time.Hour,
		},
		Clock:       func() time.Time { return testNow },
		TokenSource: func() string { return "tok-fixed" },
		IDSource: func() string {
			sequence++
			return fmt.Sprintf("%04d", sequence)
		},
	}
	if mutate != nil {
		mutate(&deps)
	}

	service, err := NewConfirmationService(deps)
	if err != nil {
		t.Fatalf("NewConfirmationService error: %v", err)
	}
	return confirmationFixture{service: service, confirmations: confirmations, orders: orders, dispatcher: dispatcher}
}

func TestCreateAddressConfirmation(t *testing.T) {
	fx := newConfirmationFixture(t, nil)

	link, err := fx.service.CreateAddressConfirmation(context.Background(), CreateAddressConfirmationCommand{
		OrderID: "ord_001",
		Type:    domain.AddressTypePickup,
	})
	if err != nil {
		t.Fatalf("CreateAddressConfirmation error: %v", err)
	}

	record := link.Record
	if record.ID != "cnf_0001" {
		t.Fatalf("id = %q, want cnf_0001", record.ID)
	}
	if record.Status != domain.ConfirmationPending {
		t.Fatalf("status = %v, want pending", record.Status)
	}
	wantExpiry := testNow.Add(168 * time.Hour)
	if record.ExpiresAt == nil || !record.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expiresAt = %v, want %v", record.ExpiresAt, wantExpiry)
	}
	if record.Address == nil || record.Address.Address.Street != "Storgatan 1" {
		t.Fatalf("address snapshot not captured: %+v", record.Address)
	}
	if link.URL != "https://apostella.se/confirm-address/tok-fixed" {
		t.Fatalf("url = %q", link.URL)
	}
	if _, ok := fx.confirmations.records["tok-fixed"]; !ok {
		t.Fatal("record not inserted")
	}
	if len(fx.dispatcher.messages) != 1 {
		t.Fatalf("dispatched %d messages, want 1", len(fx.dispatcher.messages))
	}
	msg := fx.dispatcher.messages[0]
	if msg.To != "eva@example.se" || !strings.Contains(msg.HTMLBody, link.URL) {
		t.Fatalf("unexpected notification %+v", msg)
	}
	if !strings.Contains(msg.Subject, "AP-2026-0042") {
		t.Fatalf("subject should carry the order number: %q", msg.Subject)
	}
}

func TestCreateAddressConfirmationInputErrors(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	ctx := context.Background()

	if _, err := fx.service.CreateAddressConfirmation(ctx, CreateAddressConfirmationCommand{OrderID: "ord_001", Type: "billing"}); !errors.Is(err, ErrConfirmationInvalidInput) {
		t.Fatalf("unknown type err = %v", err)
	}
	// The fixture order has no return address.
	if _, err := fx.service.CreateAddressConfirmation(ctx, CreateAddressConfirmationCommand{OrderID: "ord_001", Type: domain.AddressTypeReturn}); !errors.Is(err, ErrConfirmationInvalidInput) {
		t.Fatalf("missing address err = %v", err)
	}
	if _, err := fx.service.CreateAddressConfirmation(ctx, CreateAddressConfirmationCommand{OrderID: "ord_404", Type: domain.AddressTypePickup}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("unknown order err = %v", err)
	}
}

func TestCreateEmbassyPriceConfirmation(t *testing.T) {
	fx := newConfirmationFixture(t, nil)

	link, err := fx.service.CreateEmbassyPriceConfirmation(context.Background(), CreateEmbassyPriceConfirmationCommand{
		OrderID:               "AP-2026-0042",
		ConfirmedEmbassyPrice: 1200,
		ConfirmedTotalPrice:   2350,
	})
	if err != nil {
		t.Fatalf("CreateEmbassyPriceConfirmation error: %v", err)
	}

	payload := link.Record.EmbassyPrice
	if payload == nil {
		t.Fatal("embassy payload missing")
	}
	if payload.OriginalTotalPrice != 1650 || payload.ConfirmedTotalPrice != 2350 {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if len(payload.OriginalBreakdown) != 1 {
		t.Fatalf("original breakdown not captured: %+v", payload.OriginalBreakdown)
	}
	if link.URL != "https://apostella.se/confirm-embassy-price/tok-fixed" {
		t.Fatalf("url = %q", link.URL)
	}

	if len(fx.orders.merges) != 1 {
		t.Fatalf("merged %d times, want 1", len(fx.orders.merges))
	}
	merge := fx.orders.merges[0]
	if merge.EmbassyPriceStatus == nil || *merge.EmbassyPriceStatus != domain.EmbassyPricePending {
		t.Fatalf("embassy status merge = %v", merge.EmbassyPriceStatus)
	}
	if merge.HasUnconfirmedPrices == nil || !*merge.HasUnconfirmedPrices {
		t.Fatal("hasUnconfirmedPrices not set")
	}
	if merge.PendingEmbassyPrice == nil || *merge.PendingEmbassyPrice != 1200 {
		t.Fatalf("pending embassy price merge = %v", merge.PendingEmbassyPrice)
	}
	if merge.PendingTotalPrice == nil || *merge.PendingTotalPrice != 2350 {
		t.Fatalf("pending total merge = %v", merge.PendingTotalPrice)
	}
}

func TestCreateEmbassyPriceConfirmationRejectsNonPositivePrices(t *testing.T) {
	fx := newConfirmationFixture(t, nil)

	_, err := fx.service.CreateEmbassyPriceConfirmation(context.Background(), CreateEmbassyPriceConfirmationCommand{
		OrderID:               "ord_001",
		ConfirmedEmbassyPrice: 0,
		ConfirmedTotalPrice:   2350,
	})
	if !errors.Is(err, ErrConfirmationInvalidInput) {
		t.Fatalf("err = %v, want ErrConfirmationInvalidInput", err)
	}
}

func TestSendQuote(t *testing.T) {
	fx := newConfirmationFixture(t, nil)

	link, err := fx.service.SendQuote(context.Background(), SendQuoteCommand{
		OrderID:     "ord_001",
		TotalAmount: 2375,
		Locale:      "sv",
		LineItems: []domain.QuoteLineItem{
			{Description: "Apostille", Quantity: 2, UnitPrice: 950},
		},
	})
	if err != nil {
		t.Fatalf("SendQuote error: %v", err)
	}

	if link.Record.ID != "quo_0001" {
		t.Fatalf("id = %q, want quo_0001", link.Record.ID)
	}
	if link.URL != "https://apostella.se/quote/tok-fixed" {
		t.Fatalf("url = %q", link.URL)
	}
	payload := link.Record.Quote
	if payload == nil || payload.CustomerType != domain.CustomerPrivate {
		t.Fatalf("customer type should default from the order: %+v", payload)
	}

	if len(fx.orders.merges) != 1 {
		t.Fatalf("merged %d times, want 1", len(fx.orders.merges))
	}
	quote := fx.orders.merges[0].Quote
	if quote == nil {
		t.Fatal("quote merge missing")
	}
	if quote.Status != domain.QuoteSent || quote.Token != "tok-fixed" {
		t.Fatalf("unexpected quote merge %+v", quote)
	}
	if quote.TotalExcl != 1900 || quote.VATAmount != 475 || quote.TotalIncl != 2375 {
		t.Fatalf("quote totals = %d/%d/%d, want 1900/475/2375", quote.TotalExcl, quote.VATAmount, quote.TotalIncl)
	}
	if quote.SentAt == nil || !quote.SentAt.Equal(testNow) {
		t.Fatalf("sentAt = %v", quote.SentAt)
	}
}

func TestGetConfirmation(t *testing.T) {
	expired := testNow.Add(-time.Hour)
	resolvedAt := testNow.Add(-2 * time.Hour)
	fx := newConfirmationFixture(t, nil)
	fx.confirmations.records["tok-pending"] = domain.ConfirmationRecord{
		Kind: domain.ConfirmationQuote, Token: "tok-pending", Status: domain.ConfirmationPending,
	}
	fx.confirmations.records["tok-expired"] = domain.ConfirmationRecord{
		Kind: domain.ConfirmationQuote, Token: "tok-expired", Status: domain.ConfirmationPending, ExpiresAt: &expired,
	}
	fx.confirmations.records["tok-resolved"] = domain.ConfirmationRecord{
		Kind: domain.ConfirmationQuote, Token: "tok-resolved", Status: domain.ConfirmationConfirmed,
		ExpiresAt: &expired, ResolvedAt: &resolvedAt,
	}
	ctx := context.Background()

	if _, err := fx.service.Get(ctx, domain.ConfirmationQuote, "tok-pending"); err != nil {
		t.Fatalf("pending Get error: %v", err)
	}
	if _, err := fx.service.Get(ctx, domain.ConfirmationQuote, "tok-expired"); !errors.Is(err, ErrConfirmationExpired) {
		t.Fatalf("expired Get err = %v", err)
	}
	// A resolved record stays readable past its deadline so the customer
	// sees the outcome instead of an expiry page.
	record, err := fx.service.Get(ctx, domain.ConfirmationQuote, "tok-resolved")
	if err != nil {
		t.Fatalf("resolved Get error: %v", err)
	}
	if record.Status != domain.ConfirmationConfirmed {
		t.Fatalf("status = %v", record.Status)
	}
	if _, err := fx.service.Get(ctx, domain.ConfirmationQuote, "tok-missing"); !errors.Is(err, ErrConfirmationNotFound) {
		t.Fatalf("missing Get err = %v", err)
	}
	if _, err := fx.service.Get(ctx, domain.ConfirmationAddress, "tok-pending"); !errors.Is(err, ErrConfirmationNotFound) {
		t.Fatalf("kind mismatch err = %v", err)
	}
}

func pendingAddressRecord() domain.ConfirmationRecord {
	order := testOrder()
	return domain.ConfirmationRecord{
		ID:            "cnf_seed",
		Kind:          domain.ConfirmationAddress,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.Customer.Email,
		Token:         "tok-addr",
		Status:        domain.ConfirmationPending,
		CreatedAt:     testNow.Add(-time.Hour),
		Address: &domain.AddressConfirmationPayload{
			Type:    domain.AddressTypePickup,
			Address: *order.PickupAddress,
		},
	}
}

func TestResolveAddressConfirm(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	fx.confirmations.records["tok-addr"] = pendingAddressRecord()

	resolved, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationAddress, Token: "tok-addr", Decision: domain.DecisionConfirm,
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if resolved.Status != domain.ConfirmationConfirmed {
		t.Fatalf("status = %v, want confirmed", resolved.Status)
	}
	if resolved.ResolvedAt == nil || !resolved.ResolvedAt.Equal(testNow) {
		t.Fatalf("resolvedAt = %v", resolved.ResolvedAt)
	}

	if len(fx.orders.merges) != 1 {
		t.Fatalf("merged %d times, want 1", len(fx.orders.merges))
	}
	merge := fx.orders.merges[0]
	if merge.PickupAddressConfirmed == nil || !*merge.PickupAddressConfirmed {
		t.Fatal("pickupAddressConfirmed not merged")
	}
	if merge.PickupAddress != nil {
		t.Fatal("confirm must not rewrite the address")
	}
	if len(fx.dispatcher.messages) != 1 {
		t.Fatalf("dispatched %d messages, want 1", len(fx.dispatcher.messages))
	}
}

func TestResolveAddressUpdate(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	fx.confirmations.records["tok-addr"] = pendingAddressRecord()

	updated := domain.AddressSnapshot{
		Name: "Eva Lind", Street: "Nya gatan 5", PostalCode: "222 33", City: "Uppsala", Country: "SE",
	}
	resolved, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationAddress, Token: "tok-addr", Decision: domain.DecisionUpdate, Address: &updated,
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if resolved.Address == nil || resolved.Address.Address.Street != "Nya gatan 5" {
		t.Fatalf("address patch not applied: %+v", resolved.Address)
	}
	if !resolved.Address.AddressUpdated {
		t.Fatal("addressUpdated flag not set")
	}

	merge := fx.orders.merges[0]
	if merge.PickupAddress == nil || merge.PickupAddress.Street != "Nya gatan 5" {
		t.Fatalf("merged address = %+v", merge.PickupAddress)
	}
	if merge.PickupAddressUpdated == nil || !*merge.PickupAddressUpdated {
		t.Fatal("pickupAddressUpdated not merged")
	}
}

func TestResolveReplayReturnsTerminalState(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	fx.confirmations.records["tok-addr"] = pendingAddressRecord()
	ctx := context.Background()
	cmd := ResolveConfirmationCommand{Kind: domain.ConfirmationAddress, Token: "tok-addr", Decision: domain.DecisionConfirm}

	if _, err := fx.service.Resolve(ctx, cmd); err != nil {
		t.Fatalf("first Resolve error: %v", err)
	}

	_, err := fx.service.Resolve(ctx, cmd)
	var already *AlreadyResolvedError
	if !errors.As(err, &already) {
		t.Fatalf("replay err = %v, want AlreadyResolvedError", err)
	}
	if already.Record.Status != domain.ConfirmationConfirmed {
		t.Fatalf("replay record status = %v", already.Record.Status)
	}
	if len(fx.orders.merges) != 1 {
		t.Fatalf("replay must not merge again, merges = %d", len(fx.orders.merges))
	}
}

func TestResolveLostRaceReturnsWinnersState(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	record := pendingAddressRecord()
	fx.confirmations.records["tok-addr"] = record
	fx.confirmations.resolveFn = func(_ context.Context, _ repositories.ConditionalResolveRequest) (domain.ConfirmationRecord, error) {
		// Another request resolved the record between our read and write.
		winner := record
		winner.Status = domain.ConfirmationDeclined
		fx.confirmations.records["tok-addr"] = winner
		return domain.ConfirmationRecord{}, &stubRepoError{conflict: true}
	}

	_, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationAddress, Token: "tok-addr", Decision: domain.DecisionConfirm,
	})
	var already *AlreadyResolvedError
	if !errors.As(err, &already) {
		t.Fatalf("err = %v, want AlreadyResolvedError", err)
	}
	if already.Record.Status != domain.ConfirmationDeclined {
		t.Fatalf("record status = %v, want the winner's declined", already.Record.Status)
	}
}

func TestResolveExpiryWinsOverReplay(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	record := pendingAddressRecord()
	expired := testNow.Add(-time.Minute)
	record.ExpiresAt = &expired
	record.Status = domain.ConfirmationConfirmed
	fx.confirmations.records["tok-addr"] = record

	_, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationAddress, Token: "tok-addr", Decision: domain.DecisionConfirm,
	})
	if !errors.Is(err, ErrConfirmationExpired) {
		t.Fatalf("err = %v, want ErrConfirmationExpired", err)
	}
}

func TestResolveDecisionValidation(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	ctx := context.Background()

	cases := []ResolveConfirmationCommand{
		{Kind: domain.ConfirmationAddress, Token: "t", Decision: domain.DecisionDecline},
		{Kind: domain.ConfirmationQuote, Token: "t", Decision: domain.DecisionUpdate},
		{Kind: domain.ConfirmationAddress, Token: "t", Decision: domain.DecisionUpdate},
		{Kind: domain.ConfirmationAddress, Token: "t", Decision: domain.DecisionUpdate, Address: &domain.AddressSnapshot{Street: "Gatan 1"}},
		{Kind: "payment", Token: "t", Decision: domain.DecisionConfirm},
		{Kind: domain.ConfirmationAddress, Token: "  ", Decision: domain.DecisionConfirm},
	}
	for _, cmd := range cases {
		if _, err := fx.service.Resolve(ctx, cmd); !errors.Is(err, ErrConfirmationInvalidInput) {
			t.Fatalf("Resolve(%+v) err = %v, want ErrConfirmationInvalidInput", cmd, err)
		}
	}
}

func pendingEmbassyRecord() domain.ConfirmationRecord {
	order := testOrder()
	return domain.ConfirmationRecord{
		ID:            "cnf_emb",
		Kind:          domain.ConfirmationEmbassyPrice,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.Customer.Email,
		Token:         "tok-emb",
		Status:        domain.ConfirmationPending,
		EmbassyPrice: &domain.EmbassyPricePayload{
			ConfirmedEmbassyPrice: 1200,
			ConfirmedTotalPrice:   2350,
			OriginalTotalPrice:    1650,
			OriginalBreakdown:     order.PricingBreakdown,
		},
	}
}

// seedEmbassyPendingOrder mirrors what CreateEmbassyPriceConfirmation leaves
// behind: the stored order awaits the customer's fee decision.
func seedEmbassyPendingOrder(fx confirmationFixture) {
	order := testOrder()
	order.EmbassyPriceStatus = domain.EmbassyPricePending
	fx.orders.orders[order.ID] = order
}

func TestResolveEmbassyPriceConfirm(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	seedEmbassyPendingOrder(fx)
	fx.confirmations.records["tok-emb"] = pendingEmbassyRecord()

	_, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationEmbassyPrice, Token: "tok-emb", Decision: domain.DecisionConfirm,
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	merge := fx.orders.merges[0]
	if merge.EmbassyPriceStatus == nil || *merge.EmbassyPriceStatus != domain.EmbassyPriceConfirmed {
		t.Fatalf("embassy status merge = %v", merge.EmbassyPriceStatus)
	}
	if merge.TotalPrice == nil || *merge.TotalPrice != 2350 {
		t.Fatalf("total price merge = %v", merge.TotalPrice)
	}
	if merge.HasUnconfirmedPrices == nil || *merge.HasUnconfirmedPrices {
		t.Fatal("hasUnconfirmedPrices should clear")
	}
	if merge.PendingEmbassyPrice == nil || *merge.PendingEmbassyPrice != 0 {
		t.Fatal("pending embassy price should zero")
	}

	if len(fx.orders.audits) != 1 {
		t.Fatalf("audits = %d, want 1", len(fx.orders.audits))
	}
	audit := fx.orders.audits[0]
	if audit.PreviousTotal != 1650 || audit.ConfirmedTotal != 2350 || audit.Delta != 700 {
		t.Fatalf("unexpected audit %+v", audit)
	}
}

func TestResolveEmbassyPriceDecline(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	seedEmbassyPendingOrder(fx)
	fx.confirmations.records["tok-emb"] = pendingEmbassyRecord()

	_, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationEmbassyPrice, Token: "tok-emb", Decision: domain.DecisionDecline,
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	merge := fx.orders.merges[0]
	if merge.Status == nil || *merge.Status != domain.OrderStatusCancelled {
		t.Fatalf("order status merge = %v", merge.Status)
	}
	if merge.CancellationReason == nil || *merge.CancellationReason != "embassy fee declined by customer" {
		t.Fatalf("cancellation reason merge = %v", merge.CancellationReason)
	}
	if merge.TotalPrice != nil {
		t.Fatal("decline must not overwrite the total")
	}
	if len(fx.orders.audits) != 0 {
		t.Fatal("decline must not record an audit entry")
	}
}

func TestResolveEmbassyPriceRejectsSettledOrder(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	order := testOrder()
	order.EmbassyPriceStatus = domain.EmbassyPriceConfirmed
	fx.orders.orders[order.ID] = order
	fx.confirmations.records["tok-emb"] = pendingEmbassyRecord()

	_, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationEmbassyPrice, Token: "tok-emb", Decision: domain.DecisionDecline,
	})
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	if len(fx.orders.merges) != 0 {
		t.Fatalf("settled order must not be merged, got %d merges", len(fx.orders.merges))
	}
}

func TestResolveQuoteDeclineCancelsOrder(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	order := testOrder()
	sentAt := testNow.Add(-24 * time.Hour)
	order.Quote = &domain.OrderQuote{
		Status: domain.QuoteSent, Token: "tok-quo", TotalExcl: 1900, VATAmount: 475, TotalIncl: 2375, SentAt: &sentAt,
	}
	fx.orders.orders[order.ID] = order
	fx.confirmations.records["tok-quo"] = domain.ConfirmationRecord{
		ID: "quo_seed", Kind: domain.ConfirmationQuote, OrderID: order.ID, OrderNumber: order.OrderNumber,
		CustomerEmail: order.Customer.Email, Token: "tok-quo", Status: domain.ConfirmationPending,
		Quote: &domain.QuotePayload{TotalAmount: 2375, CustomerType: domain.CustomerPrivate, Locale: "sv"},
	}

	_, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationQuote, Token: "tok-quo", Decision: domain.DecisionDecline,
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	merge := fx.orders.merges[0]
	if merge.Quote == nil || merge.Quote.Status != domain.QuoteDeclined {
		t.Fatalf("quote merge = %+v", merge.Quote)
	}
	if merge.Quote.ResolvedAt == nil || !merge.Quote.ResolvedAt.Equal(testNow) {
		t.Fatalf("resolvedAt = %v", merge.Quote.ResolvedAt)
	}
	if merge.Status == nil || *merge.Status != domain.OrderStatusCancelled {
		t.Fatalf("order status merge = %v", merge.Status)
	}
	if merge.CancellationReason == nil || *merge.CancellationReason != "quote declined by customer" {
		t.Fatalf("cancellation reason merge = %v", merge.CancellationReason)
	}
}

func TestResolveQuoteAcceptKeepsOrderStatus(t *testing.T) {
	fx := newConfirmationFixture(t, nil)
	order := testOrder()
	order.Quote = &domain.OrderQuote{Status: domain.QuoteSent, Token: "tok-quo"}
	fx.orders.orders[order.ID] = order
	fx.confirmations.records["tok-quo"] = domain.ConfirmationRecord{
		Kind: domain.ConfirmationQuote, OrderID: order.ID, Token: "tok-quo", Status: domain.ConfirmationPending,
		Quote: &domain.QuotePayload{TotalAmount: 2375},
	}

	_, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationQuote, Token: "tok-quo", Decision: domain.DecisionConfirm,
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}

	merge := fx.orders.merges[0]
	if merge.Quote == nil || merge.Quote.Status != domain.QuoteAccepted {
		t.Fatalf("quote merge = %+v", merge.Quote)
	}
	if merge.Status != nil {
		t.Fatal("accept must not change the order status")
	}
}

func TestResolveNotificationFailureDoesNotFail(t *testing.T) {
	var logged []string
	fx := newConfirmationFixture(t, func(deps *ConfirmationServiceDeps) {
		deps.Dispatcher = &fakeDispatcher{
			dispatchFn: func(context.Context, EmailJobMessage) error {
				return errors.New("topic unavailable")
			},
		}
		deps.Logger = func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		}
	})
	fx.confirmations.records["tok-addr"] = pendingAddressRecord()

	resolved, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationAddress, Token: "tok-addr", Decision: domain.DecisionConfirm,
	})
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if resolved.Status != domain.ConfirmationConfirmed {
		t.Fatalf("status = %v", resolved.Status)
	}
	if len(logged) != 1 || logged[0] != "notification_dispatch_failed" {
		t.Fatalf("logged = %v", logged)
	}
}

func TestResolutionNotificationRouting(t *testing.T) {
	fx := newConfirmationFixture(t, func(deps *ConfirmationServiceDeps) {
		deps.Policy.ContactEmail = "info@apostella.se"
	})
	fx.confirmations.records["tok-addr"] = pendingAddressRecord()

	if _, err := fx.service.Resolve(context.Background(), ResolveConfirmationCommand{
		Kind: domain.ConfirmationAddress, Token: "tok-addr", Decision: domain.DecisionConfirm,
	}); err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if fx.dispatcher.messages[0].To != "info@apostella.se" {
		t.Fatalf("resolution notice to = %q, want the back office", fx.dispatcher.messages[0].To)
	}
}
