package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	domain "github.com/apostella/api/internal/domain"
	"github.com/apostella/api/internal/repositories"
)

var (
	// ErrOrderNotFound signals an unknown order reference.
	ErrOrderNotFound = errors.New("confirmation: order not found")
	// ErrConfirmationNotFound signals an unknown token.
	ErrConfirmationNotFound = errors.New("confirmation: not found")
	// ErrConfirmationExpired signals a token past its deadline. Expiry wins
	// over every other outcome, including replays of resolved records.
	ErrConfirmationExpired = errors.New("confirmation: expired")
	// ErrConfirmationInvalidInput signals malformed workflow input.
	ErrConfirmationInvalidInput = errors.New("confirmation: invalid input")
)

// AlreadyResolvedError reports a replayed decision. Record carries the
// terminal state so callers can render "already confirmed" instead of an
// error page.
type AlreadyResolvedError struct {
	Record domain.ConfirmationRecord
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("confirmation: already resolved as %s", e.Record.Status)
}

// ConfirmationPolicy carries link and expiry policy. A zero TTL means
// tokens of that kind never expire.
type ConfirmationPolicy struct {
	PublicBaseURL string
	AddressTTL    time.Duration
	EmbassyTTL    time.Duration
	QuoteTTL      time.Duration
	ContactEmail  string
}

// ConfirmationService owns the confirmation token lifecycle: issuing
// pending records, reading them back, and resolving them exactly once.
type ConfirmationService struct {
	confirmations repositories.ConfirmationRepository
	orders        repositories.OrderRepository
	dispatcher    NotificationDispatcher
	composer      *QuoteComposer
	policy        ConfirmationPolicy
	clock         func() time.Time
	newToken      func() string
	newID         func() string
	logger        func(context.Context, string, map[string]any)
}

// ConfirmationServiceDeps bundles collaborators for NewConfirmationService.
type ConfirmationServiceDeps struct {
	Confirmations repositories.ConfirmationRepository
	Orders        repositories.OrderRepository
	Dispatcher    NotificationDispatcher
	Composer      *QuoteComposer
	Policy        ConfirmationPolicy
	Clock         func() time.Time
	TokenSource   func() string
	IDSource      func() string
	Logger        func(context.Context, string, map[string]any)
}

// NewConfirmationService constructs the confirmation service.
func NewConfirmationService(deps ConfirmationServiceDeps) (*ConfirmationService, error) {
	if deps.Confirmations == nil {
		return nil, errors.New("confirmation service: confirmation repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("confirmation service: order repository is required")
	}
	if strings.TrimSpace(deps.Policy.PublicBaseURL) == "" {
		return nil, errors.New("confirmation service: public base url is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newToken := deps.TokenSource
	if newToken == nil {
		newToken = uuid.NewString
	}
	newID := deps.IDSource
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	composer := deps.Composer
	if composer == nil {
		composer = NewQuoteComposer()
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &ConfirmationService{
		confirmations: deps.Confirmations,
		orders:        deps.Orders,
		dispatcher:    deps.Dispatcher,
		composer:      composer,
		policy:        deps.Policy,
		clock: func() time.Time {
			return clock().UTC()
		},
		newToken: newToken,
		newID:    newID,
		logger:   logger,
	}, nil
}

// ConfirmationLink is an issued confirmation together with its customer URL.
type ConfirmationLink struct {
	Record domain.ConfirmationRecord
	URL    string
}

// CreateAddressConfirmationCommand asks the customer to verify one of the
// order's addresses.
type CreateAddressConfirmationCommand struct {
	OrderID string
	Type    domain.AddressConfirmationType
}

// CreateAddressConfirmation issues a pending address confirmation for the
// order and queues the customer notification.
func (s *ConfirmationService) CreateAddressConfirmation(ctx context.Context, cmd CreateAddressConfirmationCommand) (ConfirmationLink, error) {
	if cmd.Type != domain.AddressTypePickup && cmd.Type != domain.AddressTypeReturn {
		return ConfirmationLink{}, fmt.Errorf("%w: unknown address type %q", ErrConfirmationInvalidInput, cmd.Type)
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return ConfirmationLink{}, err
	}

	snapshot := order.ReturnAddress
	if cmd.Type == domain.AddressTypePickup {
		snapshot = order.PickupAddress
	}
	if snapshot == nil {
		return ConfirmationLink{}, fmt.Errorf("%w: order %s has no %s address", ErrConfirmationInvalidInput, order.ID, cmd.Type)
	}

	now := s.clock()
	record := domain.ConfirmationRecord{
		ID:            "cnf_" + s.newID(),
		Kind:          domain.ConfirmationAddress,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.Customer.Email,
		Token:         s.newToken(),
		Status:        domain.ConfirmationPending,
		CreatedAt:     now,
		ExpiresAt:     expiryAt(now, s.policy.AddressTTL),
		Address: &domain.AddressConfirmationPayload{
			Type:    cmd.Type,
			Address: *snapshot,
		},
	}
	if err := s.confirmations.Insert(ctx, record); err != nil {
		return ConfirmationLink{}, err
	}

	link := ConfirmationLink{Record: record, URL: s.confirmationURL(record)}
	s.notify(ctx, EmailJobMessage{
		EmailID:  "eml_" + s.newID(),
		OrderID:  order.ID,
		Kind:     string(domain.ConfirmationAddress),
		To:       order.Customer.Email,
		Subject:  fmt.Sprintf("Bekräfta adress för order %s", orderReference(order)),
		HTMLBody: fmt.Sprintf(`<p>Bekräfta adressen för din order: <a href="%s">%s</a></p>`, link.URL, link.URL),
	})
	return link, nil
}

// CreateEmbassyPriceConfirmationCommand asks the customer to approve the
// embassy's confirmed fee and the resulting order total.
type CreateEmbassyPriceConfirmationCommand struct {
	OrderID               string
	ConfirmedEmbassyPrice int64
	ConfirmedTotalPrice   int64
}

// CreateEmbassyPriceConfirmation issues a pending embassy fee confirmation,
// flags the order as awaiting the decision, and queues the notification.
func (s *ConfirmationService) CreateEmbassyPriceConfirmation(ctx context.Context, cmd CreateEmbassyPriceConfirmationCommand) (ConfirmationLink, error) {
	if cmd.ConfirmedEmbassyPrice <= 0 || cmd.ConfirmedTotalPrice <= 0 {
		return ConfirmationLink{}, fmt.Errorf("%w: confirmed prices must be positive", ErrConfirmationInvalidInput)
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return ConfirmationLink{}, err
	}

	now := s.clock()
	record := domain.ConfirmationRecord{
		ID:            "cnf_" + s.newID(),
		Kind:          domain.ConfirmationEmbassyPrice,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.Customer.Email,
		Token:         s.newToken(),
		Status:        domain.ConfirmationPending,
		CreatedAt:     now,
		ExpiresAt:     expiryAt(now, s.policy.EmbassyTTL),
		EmbassyPrice: &domain.EmbassyPricePayload{
			ConfirmedEmbassyPrice: cmd.ConfirmedEmbassyPrice,
			ConfirmedTotalPrice:   cmd.ConfirmedTotalPrice,
			OriginalTotalPrice:    order.TotalPrice,
			OriginalBreakdown:     order.PricingBreakdown,
		},
	}
	if err := s.confirmations.Insert(ctx, record); err != nil {
		return ConfirmationLink{}, err
	}

	pendingStatus := domain.EmbassyPricePending
	hasUnconfirmed := true
	merge := repositories.OrderMergeUpdate{
		EmbassyPriceStatus:   &pendingStatus,
		HasUnconfirmedPrices: &hasUnconfirmed,
		PendingEmbassyPrice:  &cmd.ConfirmedEmbassyPrice,
		PendingTotalPrice:    &cmd.ConfirmedTotalPrice,
		UpdatedAt:            now,
	}
	if err := s.orders.Merge(ctx, order.ID, merge); err != nil {
		return ConfirmationLink{}, err
	}

	link := ConfirmationLink{Record: record, URL: s.confirmationURL(record)}
	s.notify(ctx, EmailJobMessage{
		EmailID:  "eml_" + s.newID(),
		OrderID:  order.ID,
		Kind:     string(domain.ConfirmationEmbassyPrice),
		To:       order.Customer.Email,
		Subject:  fmt.Sprintf("Bekräfta ambassadens avgift för order %s", orderReference(order)),
		HTMLBody: fmt.Sprintf(`<p>Ambassaden har bekräftat avgiften. Granska och godkänn här: <a href="%s">%s</a></p>`, link.URL, link.URL),
	})
	return link, nil
}

// SendQuoteCommand issues a quote for the customer to accept or decline.
// A resend issues a fresh token priced from the supplied line items.
type SendQuoteCommand struct {
	OrderID      string
	LineItems    []domain.QuoteLineItem
	TotalAmount  int64
	CustomerType domain.CustomerType
	Locale       string
	Message      string
}

// SendQuote composes and stores the quote, marks the order's quote as sent,
// and queues the customer notification.
func (s *ConfirmationService) SendQuote(ctx context.Context, cmd SendQuoteCommand) (ConfirmationLink, error) {
	if len(cmd.LineItems) == 0 {
		return ConfirmationLink{}, fmt.Errorf("%w: at least one line item is required", ErrConfirmationInvalidInput)
	}
	if cmd.TotalAmount < 0 {
		return ConfirmationLink{}, fmt.Errorf("%w: total amount cannot be negative", ErrConfirmationInvalidInput)
	}

	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return ConfirmationLink{}, err
	}

	customerType := cmd.CustomerType
	if customerType == "" {
		customerType = order.Customer.CustomerType
	}
	composed, err := s.composer.Compose(ComposeQuoteCommand{
		LineItems:    cmd.LineItems,
		CustomerType: customerType,
		Locale:       cmd.Locale,
		Message:      cmd.Message,
		Currency:     order.Currency,
	})
	if err != nil {
		return ConfirmationLink{}, fmt.Errorf("%w: %v", ErrConfirmationInvalidInput, err)
	}

	now := s.clock()
	record := domain.ConfirmationRecord{
		ID:            "quo_" + s.newID(),
		Kind:          domain.ConfirmationQuote,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.Customer.Email,
		Token:         s.newToken(),
		Status:        domain.ConfirmationPending,
		CreatedAt:     now,
		ExpiresAt:     expiryAt(now, s.policy.QuoteTTL),
		Quote: &domain.QuotePayload{
			LineItems:    cmd.LineItems,
			TotalAmount:  cmd.TotalAmount,
			CustomerType: composed.CustomerType,
			Locale:       composed.Locale,
			Message:      composed.Message,
		},
	}
	if err := s.confirmations.Insert(ctx, record); err != nil {
		return ConfirmationLink{}, err
	}

	sentAt := now
	quote := domain.OrderQuote{
		Status:    domain.QuoteSent,
		Token:     record.Token,
		TotalExcl: composed.SubtotalExcl,
		VATAmount: composed.VATAmount,
		TotalIncl: composed.TotalIncl,
		SentAt:    &sentAt,
	}
	if err := s.orders.Merge(ctx, order.ID, repositories.OrderMergeUpdate{Quote: &quote, UpdatedAt: now}); err != nil {
		return ConfirmationLink{}, err
	}

	link := ConfirmationLink{Record: record, URL: s.confirmationURL(record)}
	s.notify(ctx, EmailJobMessage{
		EmailID:  "eml_" + s.newID(),
		OrderID:  order.ID,
		Kind:     string(domain.ConfirmationQuote),
		To:       order.Customer.Email,
		Subject:  fmt.Sprintf("Offert för order %s", orderReference(order)),
		HTMLBody: fmt.Sprintf(`<p>Din offert är klar. Granska den här: <a href="%s">%s</a></p>`, link.URL, link.URL),
	})
	return link, nil
}

// Get loads a confirmation by token. Expired pending records yield
// ErrConfirmationExpired so callers can render the expired state.
func (s *ConfirmationService) Get(ctx context.Context, kind domain.ConfirmationKind, token string) (domain.ConfirmationRecord, error) {
	if strings.TrimSpace(token) == "" {
		return domain.ConfirmationRecord{}, fmt.Errorf("%w: token is required", ErrConfirmationInvalidInput)
	}

	record, err := s.confirmations.FindByToken(ctx, kind, token)
	if err != nil {
		if isNotFound(err) {
			return domain.ConfirmationRecord{}, ErrConfirmationNotFound
		}
		return domain.ConfirmationRecord{}, err
	}
	if !record.Resolved() && record.Expired(s.clock()) {
		return domain.ConfirmationRecord{}, ErrConfirmationExpired
	}
	return record, nil
}

// ResolveConfirmationCommand carries a customer's decision on a pending
// record. Address is required for the update decision and ignored otherwise.
type ResolveConfirmationCommand struct {
	Kind     domain.ConfirmationKind
	Token    string
	Decision domain.ConfirmationDecision
	Address  *domain.AddressSnapshot
}

// Resolve applies the decision at most once. A replay returns
// AlreadyResolvedError with the terminal record; an expired token is
// rejected before anything else is considered. On success the order is
// projected forward and the follow-up notification is queued best-effort.
func (s *ConfirmationService) Resolve(ctx context.Context, cmd ResolveConfirmationCommand) (domain.ConfirmationRecord, error) {
	if err := validateDecision(cmd); err != nil {
		return domain.ConfirmationRecord{}, err
	}

	record, err := s.confirmations.FindByToken(ctx, cmd.Kind, cmd.Token)
	if err != nil {
		if isNotFound(err) {
			return domain.ConfirmationRecord{}, ErrConfirmationNotFound
		}
		return domain.ConfirmationRecord{}, err
	}

	now := s.clock()
	if record.Expired(now) {
		return domain.ConfirmationRecord{}, ErrConfirmationExpired
	}
	if record.Resolved() {
		return domain.ConfirmationRecord{}, &AlreadyResolvedError{Record: record}
	}

	newStatus := domain.ConfirmationConfirmed
	if cmd.Decision == domain.DecisionDecline {
		newStatus = domain.ConfirmationDeclined
	}
	var patch *domain.AddressSnapshot
	if cmd.Decision == domain.DecisionUpdate {
		patch = cmd.Address
	}

	resolved, err := s.confirmations.ConditionalResolve(ctx, repositories.ConditionalResolveRequest{
		Kind:         cmd.Kind,
		Token:        record.Token,
		NewStatus:    newStatus,
		AddressPatch: patch,
		ResolvedAt:   now,
	})
	if err != nil {
		if isConflict(err) {
			// Lost the race: fetch the winner's terminal state.
			current, findErr := s.confirmations.FindByToken(ctx, cmd.Kind, cmd.Token)
			if findErr != nil {
				return domain.ConfirmationRecord{}, findErr
			}
			return domain.ConfirmationRecord{}, &AlreadyResolvedError{Record: current}
		}
		if isNotFound(err) {
			return domain.ConfirmationRecord{}, ErrConfirmationNotFound
		}
		return domain.ConfirmationRecord{}, err
	}

	if err := s.projectOrder(ctx, resolved, now); err != nil {
		return domain.ConfirmationRecord{}, err
	}

	s.notify(ctx, s.resolutionNotification(resolved))
	return resolved, nil
}

func (s *ConfirmationService) projectOrder(ctx context.Context, record domain.ConfirmationRecord, now time.Time) error {
	switch record.Kind {
	case domain.ConfirmationAddress:
		return s.projectAddress(ctx, record, now)
	case domain.ConfirmationEmbassyPrice:
		return s.projectEmbassyPrice(ctx, record, now)
	case domain.ConfirmationQuote:
		return s.projectQuote(ctx, record, now)
	default:
		return fmt.Errorf("%w: unknown confirmation kind %q", ErrConfirmationInvalidInput, record.Kind)
	}
}

func (s *ConfirmationService) projectAddress(ctx context.Context, record domain.ConfirmationRecord, now time.Time) error {
	payload := record.Address
	if payload == nil {
		return fmt.Errorf("%w: address confirmation without payload", ErrConfirmationInvalidInput)
	}

	confirmed := true
	merge := repositories.OrderMergeUpdate{UpdatedAt: now}
	if payload.Type == domain.AddressTypePickup {
		merge.PickupAddressConfirmed = &confirmed
		if payload.AddressUpdated {
			merge.PickupAddress = &payload.Address
			merge.PickupAddressUpdated = &payload.AddressUpdated
		}
	} else {
		merge.ReturnAddressConfirmed = &confirmed
		if payload.AddressUpdated {
			merge.ReturnAddress = &payload.Address
			merge.ReturnAddressUpdated = &payload.AddressUpdated
		}
	}
	return s.orders.Merge(ctx, record.OrderID, merge)
}

func (s *ConfirmationService) projectEmbassyPrice(ctx context.Context, record domain.ConfirmationRecord, now time.Time) error {
	payload := record.EmbassyPrice
	if payload == nil {
		return fmt.Errorf("%w: embassy confirmation without payload", ErrConfirmationInvalidInput)
	}

	order, err := s.findOrder(ctx, record.OrderID)
	if err != nil {
		return err
	}

	event := EmbassyPriceEventDeclined
	if record.Status == domain.ConfirmationConfirmed {
		event = EmbassyPriceEventConfirmed
	}
	nextStatus, err := NextEmbassyPriceStatus(order.EmbassyPriceStatus, event)
	if err != nil {
		return err
	}

	hasUnconfirmed := false
	var zero int64
	if record.Status == domain.ConfirmationConfirmed {
		merge := repositories.OrderMergeUpdate{
			EmbassyPriceStatus:   &nextStatus,
			TotalPrice:           &payload.ConfirmedTotalPrice,
			HasUnconfirmedPrices: &hasUnconfirmed,
			PendingEmbassyPrice:  &zero,
			PendingTotalPrice:    &zero,
			UpdatedAt:            now,
		}
		if err := s.orders.Merge(ctx, record.OrderID, merge); err != nil {
			return err
		}
		audit := EmbassyPriceAudit(payload.OriginalTotalPrice, payload.ConfirmedTotalPrice, now)
		return s.orders.AppendPriceAudit(ctx, record.OrderID, audit)
	}

	cancelled := domain.OrderStatusCancelled
	reason := "embassy fee declined by customer"
	merge := repositories.OrderMergeUpdate{
		EmbassyPriceStatus:   &nextStatus,
		Status:               &cancelled,
		CancellationReason:   &reason,
		HasUnconfirmedPrices: &hasUnconfirmed,
		PendingEmbassyPrice:  &zero,
		PendingTotalPrice:    &zero,
		UpdatedAt:            now,
	}
	return s.orders.Merge(ctx, record.OrderID, merge)
}

func (s *ConfirmationService) projectQuote(ctx context.Context, record domain.ConfirmationRecord, now time.Time) error {
	event := QuoteEventAccepted
	if record.Status == domain.ConfirmationDeclined {
		event = QuoteEventDeclined
	}

	order, err := s.findOrder(ctx, record.OrderID)
	if err != nil {
		return err
	}
	current := domain.QuoteSent
	quote := domain.OrderQuote{Status: current, Token: record.Token}
	if order.Quote != nil {
		quote = *order.Quote
		current = quote.Status
	}

	next, err := NextQuoteStatus(current, event)
	if err != nil {
		return err
	}
	quote.Status = next
	quote.ResolvedAt = &now

	merge := repositories.OrderMergeUpdate{Quote: &quote, UpdatedAt: now}
	if status, ok := OrderStatusAfterQuoteDecision(next); ok {
		reason := "quote declined by customer"
		merge.Status = &status
		merge.CancellationReason = &reason
	}
	return s.orders.Merge(ctx, order.ID, merge)
}

func (s *ConfirmationService) resolutionNotification(record domain.ConfirmationRecord) EmailJobMessage {
	to := s.policy.ContactEmail
	if to == "" {
		to = record.CustomerEmail
	}
	action := "bekräftad"
	if record.Status == domain.ConfirmationDeclined {
		action = "avböjd"
	}
	return EmailJobMessage{
		EmailID:  "eml_" + s.newID(),
		OrderID:  record.OrderID,
		Kind:     string(record.Kind),
		To:       to,
		Subject:  fmt.Sprintf("Order %s: %s %s", record.OrderNumber, record.Kind, action),
		HTMLBody: fmt.Sprintf("<p>Order %s: %s %s.</p>", record.OrderNumber, record.Kind, action),
	}
}

// notify dispatches best-effort: a failed enqueue is logged and never fails
// the operation that triggered it.
func (s *ConfirmationService) notify(ctx context.Context, message EmailJobMessage) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, message); err != nil {
		s.logger(ctx, "notification_dispatch_failed", map[string]any{
			"orderId": message.OrderID,
			"kind":    message.Kind,
			"error":   err.Error(),
		})
	}
}

func (s *ConfirmationService) findOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrConfirmationInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return domain.Order{}, ErrOrderNotFound
		}
		return domain.Order{}, err
	}
	return order, nil
}

func (s *ConfirmationService) confirmationURL(record domain.ConfirmationRecord) string {
	base := strings.TrimRight(s.policy.PublicBaseURL, "/")
	switch record.Kind {
	case domain.ConfirmationAddress:
		return fmt.Sprintf("%s/confirm-address/%s", base, record.Token)
	case domain.ConfirmationEmbassyPrice:
		return fmt.Sprintf("%s/confirm-embassy-price/%s", base, record.Token)
	default:
		return fmt.Sprintf("%s/quote/%s", base, record.Token)
	}
}

func validateDecision(cmd ResolveConfirmationCommand) error {
	if strings.TrimSpace(cmd.Token) == "" {
		return fmt.Errorf("%w: token is required", ErrConfirmationInvalidInput)
	}

	allowed := map[domain.ConfirmationKind][]domain.ConfirmationDecision{
		domain.ConfirmationAddress:      {domain.DecisionConfirm, domain.DecisionUpdate},
		domain.ConfirmationEmbassyPrice: {domain.DecisionConfirm, domain.DecisionDecline},
		domain.ConfirmationQuote:        {domain.DecisionConfirm, domain.DecisionDecline},
	}
	decisions, ok := allowed[cmd.Kind]
	if !ok {
		return fmt.Errorf("%w: unknown confirmation kind %q", ErrConfirmationInvalidInput, cmd.Kind)
	}
	valid := false
	for _, decision := range decisions {
		if decision == cmd.Decision {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: decision %q not allowed for %s confirmations", ErrConfirmationInvalidInput, cmd.Decision, cmd.Kind)
	}
	if cmd.Decision == domain.DecisionUpdate {
		if cmd.Address == nil {
			return fmt.Errorf("%w: update requires an address", ErrConfirmationInvalidInput)
		}
		if strings.TrimSpace(cmd.Address.Street) == "" || strings.TrimSpace(cmd.Address.City) == "" {
			return fmt.Errorf("%w: updated address requires street and city", ErrConfirmationInvalidInput)
		}
	}
	return nil
}

func expiryAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}

func orderReference(order domain.Order) string {
	if order.OrderNumber != "" {
		return order.OrderNumber
	}
	return order.ID
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
