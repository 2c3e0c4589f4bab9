package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
)

// Нарушения правил корзины: возвращаются клиенту до того, как заказ сохранён.
var (
	ErrEmptyCart           = errors.New("cart is empty")
	ErrPhoneRequired       = errors.New("phone is required")
	ErrTerminalNotFound    = errors.New("terminal not found")
	ErrTerminalAmbiguous   = errors.New("organization has several terminals, choose one")
	ErrPaymentTypeNotFound = errors.New("payment type not found")
	ErrProductNotFound     = errors.New("product not found")
	ErrProductUnavailable  = errors.New("product is temporarily unavailable")
	ErrModifierNotFound    = errors.New("modifier not found for product")
	ErrModifierQuantity    = errors.New("modifier quantity exceeds allowed maximum")
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotSubmitted      = errors.New("order has not been sent to iiko yet")
	ErrNotResubmittable  = errors.New("only unsent failed or unqueued orders can be resubmitted")
)

type Gateway interface {
	CreateDelivery(ctx context.Context, req *iiko.DeliveryRequest) (*iiko.CreateDeliveryResponse, error)
	CommandStatus(ctx context.Context, organizationID, correlationID string) (*iiko.CommandStatus, error)
	DeliveryByID(ctx context.Context, organizationID, orderID string) (iiko.Fields, error)
}

type GatewayFactory func(apiKey string) Gateway

type Directory interface {
	GetOrganization(ctx context.Context, id uuid.UUID) (*organization.Organization, error)
	GetTerminal(ctx context.Context, id uuid.UUID) (*organization.Terminal, error)
	ListTerminals(ctx context.Context, organizationID uuid.UUID) ([]organization.Terminal, error)
	GetPaymentType(ctx context.Context, id uuid.UUID) (*organization.PaymentType, error)
}

type Catalog interface {
	ProductByExternalID(ctx context.Context, organizationID uuid.UUID, externalID string) (*catalog.Product, error)
}

type StopList interface {
	IsStopped(ctx context.Context, productID, terminalID uuid.UUID) (bool, error)
}

// Enqueuer ставит заказ в очередь на отправку в iiko.
type Enqueuer interface {
	Enqueue(ctx context.Context, orderID uuid.UUID) error
}

type CartModifier struct {
	ModifierID uuid.UUID
	Quantity   int
}

type CartItem struct {
	ProductID string // productId iiko
	Quantity  int
	Modifiers []CartModifier
}

type PlaceOrderInput struct {
	OrganizationID     uuid.UUID
	UserID             uuid.UUID
	TerminalID         *uuid.UUID
	DeliveryAddressID  *uuid.UUID
	Latitude           *float64
	Longitude          *float64
	CustomerName       string
	Phone              string
	RemotePaymentPhone string
	PaymentTypeID      uuid.UUID
	DeliveryCost       *decimal.Decimal
	Comment            string
	Items              []CartItem
}

// SubmitResult описывает исход отправки; ошибки iiko и сборки здесь, а не в error.
type SubmitResult struct {
	Status  Status `json:"status"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

type Service interface {
	PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Order, error)
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	Submit(ctx context.Context, id uuid.UUID) (*SubmitResult, error)
	RefreshCreationStatus(ctx context.Context, id uuid.UUID) (*Order, error)
	RefreshDeliveryStatus(ctx context.Context, id uuid.UUID) (*Order, error)
	RefreshStatus(ctx context.Context, id uuid.UUID) (*Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*Order, error)
	Resubmit(ctx context.Context, id uuid.UUID) (*Order, error)
}

type service struct {
	repo     Repository
	dir      Directory
	catalog  Catalog
	stops    StopList
	gateway  GatewayFactory
	enqueuer Enqueuer
	now      func() time.Time
}

func NewService(repo Repository, dir Directory, cat Catalog, stops StopList, gateway GatewayFactory, enqueuer Enqueuer) Service {
	return &service{
		repo:     repo,
		dir:      dir,
		catalog:  cat,
		stops:    stops,
		gateway:  gateway,
		enqueuer: enqueuer,
		now:      time.Now,
	}
}

func (s *service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, ErrEmptyCart
	}
	phone := NormalizePhone(in.Phone)
	if phone == "" {
		return nil, ErrPhoneRequired
	}

	org, err := s.dir.GetOrganization(ctx, in.OrganizationID)
	if err != nil {
		if errors.Is(err, organization.ErrOrganizationNotFound) {
			return nil, organization.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("service: failed to get organization: %w", err)
	}

	terminal, err := s.chooseTerminal(ctx, org.ID, in.TerminalID)
	if err != nil {
		return nil, err
	}

	var address *Address
	if in.DeliveryAddressID != nil {
		address, err = s.repo.GetAddress(ctx, *in.DeliveryAddressID, in.UserID)
		if err != nil {
			if errors.Is(err, ErrAddressNotFound) {
				return nil, ErrAddressNotFound
			}
			return nil, fmt.Errorf("service: failed to get address: %w", err)
		}
	}

	payment, err := s.dir.GetPaymentType(ctx, in.PaymentTypeID)
	if err != nil {
		if errors.Is(err, organization.ErrPaymentTypeNotFound) {
			return nil, ErrPaymentTypeNotFound
		}
		return nil, fmt.Errorf("service: failed to get payment type: %w", err)
	}
	if payment.OrganizationID != org.ID || !payment.IsActive {
		return nil, ErrPaymentTypeNotFound
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order ID: %w", err)
	}

	billingPhone := NormalizePhone(in.RemotePaymentPhone)
	if billingPhone == "" {
		billingPhone = phone
	}
	if payment.SystemType != organization.SystemRemotePayment {
		billingPhone = ""
	}

	now := s.now().UTC()
	o := &Order{
		ID:             id,
		OrganizationID: org.ID,
		TerminalID:     &terminal.ID,
		UserID:         in.UserID,
		OrderNumber:    "#" + strings.ToUpper(id.String()[:8]),
		CustomerName:   strings.TrimSpace(in.CustomerName),
		Phone:          phone,
		BillingPhone:   billingPhone,
		PaymentTypeID:  &payment.ID,
		Latitude:       in.Latitude,
		Longitude:      in.Longitude,
		DeliveryCost:   in.DeliveryCost,
		Comment: RenderComment(CommentInput{
			PaymentName:     payment.Name,
			SystemType:      payment.SystemType,
			BillingPhone:    billingPhone,
			DeliveryCost:    in.DeliveryCost,
			CustomerComment: in.Comment,
		}),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Address:   address,
	}
	if address != nil {
		o.DeliveryAddressID = &address.ID
	}

	total := decimal.Zero
	for _, ci := range in.Items {
		item, err := s.cartItem(ctx, o, terminal, ci)
		if err != nil {
			return nil, err
		}
		total = total.Add(item.TotalPrice)
		o.Items = append(o.Items, *item)
	}
	o.TotalAmount = total

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}
	log.Info().Stringer("order_id", o.ID).Str("order_number", o.OrderNumber).Stringer("total", o.TotalAmount).
		Msg("service: order created")

	// Ставим в очередь только после коммита, иначе воркер может не увидеть заказ.
	if err := s.enqueuer.Enqueue(ctx, o.ID); err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to enqueue order submission, resubmit manually")
	}
	return o, nil
}

// chooseTerminal: явно выбранный терминал, иначе единственный терминал организации.
func (s *service) chooseTerminal(ctx context.Context, organizationID uuid.UUID, terminalID *uuid.UUID) (*organization.Terminal, error) {
	if terminalID != nil {
		t, err := s.dir.GetTerminal(ctx, *terminalID)
		if err != nil {
			if errors.Is(err, organization.ErrTerminalNotFound) {
				return nil, ErrTerminalNotFound
			}
			return nil, fmt.Errorf("service: failed to get terminal: %w", err)
		}
		if t.OrganizationID != organizationID || !t.IsActive {
			return nil, ErrTerminalNotFound
		}
		return t, nil
	}

	terminals, err := s.dir.ListTerminals(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list terminals: %w", err)
	}
	switch len(terminals) {
	case 0:
		return nil, ErrNoTerminal
	case 1:
		return &terminals[0], nil
	default:
		return nil, ErrTerminalAmbiguous
	}
}

func (s *service) cartItem(ctx context.Context, o *Order, terminal *organization.Terminal, ci CartItem) (*Item, error) {
	if ci.Quantity <= 0 {
		return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, ci.ProductID)
	}

	product, err := s.catalog.ProductByExternalID(ctx, o.OrganizationID, ci.ProductID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) || errors.Is(err, catalog.ErrNoActiveMenu) {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, ci.ProductID)
		}
		return nil, fmt.Errorf("service: failed to get product: %w", err)
	}
	if !product.IsAvailable {
		return nil, fmt.Errorf("%w: %q", ErrProductUnavailable, product.Name)
	}

	stopped, err := s.stops.IsStopped(ctx, product.ID, terminal.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to check stop-list: %w", err)
	}
	if stopped {
		return nil, fmt.Errorf("%w: %q at terminal %q", ErrProductUnavailable, product.Name, terminal.Name)
	}

	itemID, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate item ID: %w", err)
	}

	qty := decimal.NewFromInt(int64(ci.Quantity))
	item := &Item{
		ID:          itemID,
		OrderID:     o.ID,
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    ci.Quantity,
		Price:       product.Price,
		Product:     product,
	}
	total := product.Price.Mul(qty)

	for _, cm := range ci.Modifiers {
		def := findModifier(product, cm.ModifierID)
		if def == nil {
			return nil, fmt.Errorf("%w: %s of %q", ErrModifierNotFound, cm.ModifierID, product.Name)
		}
		if cm.Quantity <= 0 {
			return nil, fmt.Errorf("%w: modifier %q", ErrInvalidQuantity, def.Name)
		}
		if def.MaxAmount > 0 && cm.Quantity > def.MaxAmount {
			return nil, fmt.Errorf("%w: %q allows at most %d", ErrModifierQuantity, def.Name, def.MaxAmount)
		}

		modID, err := uuid.NewV4()
		if err != nil {
			return nil, fmt.Errorf("service: failed to generate item modifier ID: %w", err)
		}
		item.Modifiers = append(item.Modifiers, ItemModifier{
			ID:           modID,
			OrderItemID:  itemID,
			ModifierID:   &def.ID,
			ModifierName: def.Name,
			Quantity:     cm.Quantity,
			Price:        def.Price,
			Modifier:     def,
		})
		total = total.Add(def.Price.Mul(decimal.NewFromInt(int64(cm.Quantity))).Mul(qty))
	}
	item.TotalPrice = total
	return item, nil
}

func findModifier(p *catalog.Product, id uuid.UUID) *catalog.Modifier {
	for i := range p.Modifiers {
		if p.Modifiers[i].ID == id {
			return &p.Modifiers[i]
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to get order: %w", err)
	}
	return o, nil
}

// Submit отправляет заказ в iiko не более одного раза. Отказ iiko и ошибки сборки
// сохраняются в заказе со статусом error и не возвращаются как error: повтор
// того же тела не поможет. error возвращается только при сбоях инфраструктуры.
func (s *service) Submit(ctx context.Context, id uuid.UUID) (*SubmitResult, error) {
	o, err := s.repo.LoadForSubmission(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to load order: %w", err)
	}

	if o.SentAt != nil {
		log.Info().Stringer("order_id", o.ID).Msg("service: order already sent, skipping")
		return &SubmitResult{Status: o.Status, Skipped: true, Reason: "already sent"}, nil
	}
	switch o.Status {
	case StatusPending:
	case StatusCancelled:
		return &SubmitResult{Status: o.Status, Skipped: true, Reason: "cancelled"}, nil
	default:
		// error-заказ возвращается в очередь только через Resubmit
		log.Warn().Stringer("order_id", o.ID).Str("status", o.Status.String()).Msg("service: order is not pending, skipping")
		return &SubmitResult{Status: o.Status, Skipped: true, Reason: "status " + o.Status.String()}, nil
	}

	claimed, err := s.repo.ClaimSubmission(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to claim order: %w", err)
	}
	if !claimed {
		log.Warn().Stringer("order_id", o.ID).Msg("service: order is being submitted by another worker")
		return &SubmitResult{Status: o.Status, Skipped: true, Reason: "claimed by another worker"}, nil
	}

	org, err := s.dir.GetOrganization(ctx, o.OrganizationID)
	if err != nil {
		return nil, s.releaseAfter(ctx, o.ID, fmt.Errorf("service: failed to get organization: %w", err))
	}

	var terminal *organization.Terminal
	if o.TerminalID != nil {
		terminal, err = s.dir.GetTerminal(ctx, *o.TerminalID)
		if err != nil && !errors.Is(err, organization.ErrTerminalNotFound) {
			return nil, s.releaseAfter(ctx, o.ID, fmt.Errorf("service: failed to get terminal: %w", err))
		}
	}

	payload, err := BuildPayload(Submission{Order: o, Organization: org, Terminal: terminal})
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to build iiko payload")
		return s.fail(ctx, o.ID, err.Error(), nil)
	}

	query, err := json.Marshal(payload)
	if err != nil {
		return s.fail(ctx, o.ID, err.Error(), nil)
	}

	resp, err := s.gateway(org.APIKey).CreateDelivery(ctx, payload)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: iiko rejected order")
		return s.fail(ctx, o.ID, err.Error(), query)
	}

	status := creationStatus(resp.OrderInfo.CreationStatus)
	err = s.repo.MarkSent(ctx, o.ID, SentResult{
		IikoOrderID:   resp.OrderInfo.ID,
		CorrelationID: resp.CorrelationID,
		Status:        status,
		Query:         query,
		Response:      resp.Raw,
		SentAt:        s.now().UTC(),
	})
	if err != nil {
		// Заказ уже в iiko: отметку отправки не снимаем, чтобы повтор не создал дубль.
		return nil, fmt.Errorf("service: order %s accepted by iiko but not recorded: %w", o.ID, err)
	}

	log.Info().Stringer("order_id", o.ID).Str("iiko_order_id", resp.OrderInfo.ID).Str("correlation_id", resp.CorrelationID).
		Str("status", status.String()).Msg("service: order sent to iiko")
	return &SubmitResult{Status: status}, nil
}

func (s *service) fail(ctx context.Context, id uuid.UUID, message string, query json.RawMessage) (*SubmitResult, error) {
	if err := s.repo.MarkFailed(ctx, id, message, query); err != nil {
		return nil, fmt.Errorf("service: failed to record submission error: %w", err)
	}
	return &SubmitResult{Status: StatusError, Reason: message}, nil
}

// releaseAfter снимает отметку отправки, если до обращения к iiko не дошли: заказ остаётся pending для повтора.
func (s *service) releaseAfter(ctx context.Context, id uuid.UUID, cause error) error {
	if err := s.repo.ReleaseClaim(ctx, id); err != nil {
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to release submission claim")
	}
	return cause
}

func creationStatus(vendor string) Status {
	switch vendor {
	case iiko.CreationSuccess:
		return StatusSuccess
	case iiko.CreationError:
		return StatusError
	case "":
		return StatusInProgress
	default:
		return Status(vendor)
	}
}

func (s *service) organizationOf(ctx context.Context, o *Order) (*organization.Organization, error) {
	org, err := s.dir.GetOrganization(ctx, o.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get organization: %w", err)
	}
	return org, nil
}

func (s *service) RefreshCreationStatus(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.CorrelationID == nil || *o.CorrelationID == "" {
		return nil, ErrNotSubmitted
	}
	org, err := s.organizationOf(ctx, o)
	if err != nil {
		return nil, err
	}

	st, err := s.gateway(org.APIKey).CommandStatus(ctx, org.ExternalID, *o.CorrelationID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to poll creation status")
		return nil, fmt.Errorf("service: failed to poll creation status: %w", err)
	}

	var upd TrackingUpdate
	switch st.State {
	case iiko.CreationSuccess:
		upd.Status = StatusSuccess
		upd.DeliveryNumber = st.DeliveryNumber()
	case iiko.CreationError:
		upd.Status = StatusError
		upd.ErrorMessage = st.ErrorMessage()
	default:
		upd.Status = Status(st.State)
	}
	if upd.Status != o.Status && !CanTransition(o.Status, upd.Status) {
		log.Info().Stringer("order_id", o.ID).Str("from", o.Status.String()).Str("to", upd.Status.String()).
			Msg("service: creation status poll would move order backwards, ignored")
		upd.Status, upd.ErrorMessage = "", ""
	}
	return s.applyTracking(ctx, o, upd)
}

// deliveryStatuses: перевод статусов доставки iiko в локальные; применяется только вперёд по таблице переходов.
var deliveryStatuses = map[string]Status{
	"Unconfirmed":      StatusConfirmed,
	"WaitCooking":      StatusConfirmed,
	"ReadyForCooking":  StatusConfirmed,
	"CookingStarted":   StatusPreparing,
	"CookingCompleted": StatusPreparing,
	"Waiting":          StatusDelivering,
	"OnWay":            StatusDelivering,
	"Delivered":        StatusCompleted,
	"Closed":           StatusCompleted,
	"Cancelled":        StatusCancelled,
}

func (s *service) RefreshDeliveryStatus(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.IikoOrderID == nil || *o.IikoOrderID == "" {
		return nil, ErrNotSubmitted
	}
	org, err := s.organizationOf(ctx, o)
	if err != nil {
		return nil, err
	}

	resp, err := s.gateway(org.APIKey).DeliveryByID(ctx, org.ExternalID, *o.IikoOrderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to fetch delivery")
		return nil, fmt.Errorf("service: failed to fetch delivery: %w", err)
	}

	orders := resp.List("orders")
	if len(orders) == 0 {
		return o, nil
	}
	vendor := orders[0]
	details := vendor.Object("order")
	if details == nil {
		details = vendor
	}

	upd := TrackingUpdate{DeliveryNumber: details.String("number", "externalNumber")}
	if upd.DeliveryNumber == "" {
		upd.DeliveryNumber = vendor.String("number")
	}
	if mapped, ok := deliveryStatuses[details.String("status", "deliveryStatus")]; ok && CanTransition(o.Status, mapped) {
		upd.Status = mapped
	}
	return s.applyTracking(ctx, o, upd)
}

func (s *service) applyTracking(ctx context.Context, o *Order, upd TrackingUpdate) (*Order, error) {
	if upd == (TrackingUpdate{}) {
		return o, nil
	}
	updated, err := s.repo.ApplyTracking(ctx, o.ID, upd)
	if err != nil {
		return nil, fmt.Errorf("service: failed to save order status: %w", err)
	}
	if !updated {
		log.Info().Stringer("order_id", o.ID).Msg("service: order is cancelled, status poll ignored")
	}
	return s.Get(ctx, o.ID)
}

// RefreshStatus опрашивает статус создания, пока заказ не принят, и статус доставки после.
func (s *service) RefreshStatus(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.Status == StatusInProgress || o.IikoOrderID == nil || *o.IikoOrderID == "" {
		return s.RefreshCreationStatus(ctx, id)
	}
	return s.RefreshDeliveryStatus(ctx, id)
}

// Cancel отменяет заказ только локально; в iiko отмена не отправляется.
func (s *service) Cancel(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusCancelled)
	}

	ok, err := s.repo.CompareAndSetStatus(ctx, o.ID, o.Status, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("service: failed to cancel order: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: order status changed concurrently", ErrInvalidTransition)
	}
	log.Info().Stringer("order_id", o.ID).Str("from", o.Status.String()).Msg("service: order cancelled")
	return s.Get(ctx, id)
}

func (s *service) Resubmit(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.SentAt != nil || o.SubmittingAt != nil {
		return nil, ErrNotResubmittable
	}

	switch o.Status {
	case StatusPending:
		// заказ, не попавший в очередь после оформления, ставится в неё повторно как есть
	case StatusError:
		ok, err := s.repo.ResetForResubmit(ctx, o.ID)
		if err != nil {
			return nil, fmt.Errorf("service: failed to reset order: %w", err)
		}
		if !ok {
			return nil, ErrNotResubmittable
		}
	default:
		return nil, ErrNotResubmittable
	}
	if err := s.enqueuer.Enqueue(ctx, o.ID); err != nil {
		return nil, fmt.Errorf("service: failed to enqueue order: %w", err)
	}
	log.Info().Stringer("order_id", o.ID).Msg("service: order queued for resubmission")
	return s.Get(ctx, id)
}
