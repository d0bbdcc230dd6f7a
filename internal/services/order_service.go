package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"udensfiltri/internal/config"
	"udensfiltri/internal/metrics"
	"udensfiltri/internal/models"
	"udensfiltri/internal/payments"
	"udensfiltri/internal/repositories"
	"udensfiltri/internal/utils"
)

// CheckoutItem is one requested cart line. Client prices are not part of it.
type CheckoutItem struct {
	ProductID *int64
	ServiceID *int64
	Qty       *int // nil means 1
}

type CheckoutInput struct {
	UserID   *int64 // nil for guests
	Email    string
	Currency string
	Items    []CheckoutItem
}

type CheckoutResult struct {
	Order       *models.Order
	CheckoutURL string
}

// OrderService prices carts on the server, opens payment sessions and applies
// payment events.
type OrderService struct {
	orders   repositories.OrderRepository
	catalog  repositories.CatalogRepository
	users    repositories.UserRepository
	payments payments.Provider
	notifier PaidNotifier
	norm     *utils.ContactNormalizer
	cfg      config.OrdersConfig
	baseURL  string
	log      *zap.Logger
}

func NewOrderService(
	orders repositories.OrderRepository,
	catalog repositories.CatalogRepository,
	users repositories.UserRepository,
	provider payments.Provider,
	notifier PaidNotifier,
	norm *utils.ContactNormalizer,
	cfg config.OrdersConfig,
	frontendBaseURL string,
	log *zap.Logger,
) *OrderService {
	return &OrderService{
		orders:   orders,
		catalog:  catalog,
		users:    users,
		payments: provider,
		notifier: notifier,
		norm:     norm,
		cfg:      cfg,
		baseURL:  strings.TrimRight(frontendBaseURL, "/"),
		log:      log.With(zap.String("component", "orders")),
	}
}

// DiscountedUnitPrice is floor(base * (100 - pct) / 100).
func DiscountedUnitPrice(base int64, pct int) int64 {
	if pct <= 0 {
		return base
	}
	if pct >= 100 {
		return 0
	}
	return base * int64(100-pct) / 100
}

// PriceItems resolves the cart against the active catalog and returns the
// frozen line snapshots, their currency and the total.
func (s *OrderService) PriceItems(ctx context.Context, items []CheckoutItem, discount int) ([]models.OrderItem, string, int64, error) {
	if len(items) == 0 {
		return nil, "", 0, invalid("items", "this list may not be empty")
	}
	var productIDs, serviceIDs []int64
	for i, it := range items {
		if it.Qty != nil && *it.Qty <= 0 {
			return nil, "", 0, fmt.Errorf("%w: item %d: invalid quantity", ErrInvalidItem, i)
		}
		if (it.ProductID == nil) == (it.ServiceID == nil) {
			return nil, "", 0, fmt.Errorf("%w: item %d: exactly one of product_id or service_id is required", ErrInvalidItem, i)
		}
		if it.ProductID != nil {
			productIDs = append(productIDs, *it.ProductID)
		} else {
			serviceIDs = append(serviceIDs, *it.ServiceID)
		}
	}
	products, err := s.catalog.ActiveProducts(ctx, productIDs)
	if err != nil {
		return nil, "", 0, err
	}
	services, err := s.catalog.ActiveServices(ctx, serviceIDs)
	if err != nil {
		return nil, "", 0, err
	}

	var (
		lines    = make([]models.OrderItem, 0, len(items))
		currency string
		total    int64
	)
	for i, it := range items {
		qty := 1
		if it.Qty != nil {
			qty = *it.Qty
		}
		line := models.OrderItem{Qty: qty, DiscountPercent: discount}
		var itemCurrency string
		if it.ProductID != nil {
			p, ok := products[*it.ProductID]
			if !ok {
				return nil, "", 0, fmt.Errorf("%w: item %d: invalid product", ErrInvalidItem, i)
			}
			id := p.ID
			line.Type, line.ProductID, line.Name, line.BaseUnitPriceCents = models.ItemProduct, &id, p.Name, p.PriceCents
			itemCurrency = p.Currency
		} else {
			sv, ok := services[*it.ServiceID]
			if !ok {
				return nil, "", 0, fmt.Errorf("%w: item %d: invalid service", ErrInvalidItem, i)
			}
			id := sv.ID
			line.Type, line.ServiceID, line.Name, line.BaseUnitPriceCents = models.ItemService, &id, sv.Name, sv.BasePriceCents
			itemCurrency = sv.Currency
		}
		itemCurrency = strings.ToUpper(itemCurrency)
		if currency == "" {
			currency = itemCurrency
		} else if currency != itemCurrency {
			return nil, "", 0, fmt.Errorf("%w: all items must use the same currency", ErrCurrencyMismatch)
		}
		line.UnitPriceCents = DiscountedUnitPrice(line.BaseUnitPriceCents, discount)
		total += line.LineTotalCents()
		lines = append(lines, line)
	}
	return lines, currency, total, nil
}

// CreateCheckout persists a created order and opens a payment session for
// its exact total. On provider failure the order stays created.
func (s *OrderService) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	res, err := s.createCheckout(ctx, in)
	switch {
	case err == nil:
		metrics.OrdersCreated.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrPaymentProvider):
		metrics.OrdersCreated.WithLabelValues("provider_error").Inc()
	default:
		metrics.OrdersCreated.WithLabelValues("rejected").Inc()
	}
	return res, err
}

func (s *OrderService) createCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	var buyer *models.User
	if in.UserID != nil {
		u, err := s.users.GetByID(ctx, *in.UserID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, ErrUnauthorized
			}
			return nil, err
		}
		buyer = u
	} else if !s.cfg.AllowGuestCheckout {
		return nil, ErrUnauthorized
	}

	var email *string
	if strings.TrimSpace(in.Email) != "" {
		e, err := s.norm.Email(in.Email)
		if err != nil {
			return nil, invalid("email", "enter a valid email address")
		}
		email = &e
	} else if e := buyer.ContactEmail(); e != "" {
		email = &e
	}
	if buyer == nil && email == nil {
		return nil, invalid("email", "email is required for guest checkout")
	}

	discount := 0
	if buyer != nil {
		d, err := s.users.MaxActiveDiscount(ctx, buyer.ID)
		if err != nil {
			return nil, err
		}
		discount = d
	}

	lines, currency, total, err := s.PriceItems(ctx, in.Items, discount)
	if err != nil {
		return nil, err
	}
	if currency == "" {
		currency = strings.ToUpper(s.cfg.DefaultCurrency)
	}
	if req := strings.TrimSpace(in.Currency); req != "" && !strings.EqualFold(req, currency) {
		return nil, fmt.Errorf("%w: currency mismatch with selected catalog items", ErrCurrencyMismatch)
	}

	order := &models.Order{
		Email:      email,
		Currency:   currency,
		TotalCents: total,
		Items:      lines,
		Status:     models.OrderCreated,
	}
	if buyer != nil {
		id := buyer.ID
		order.UserID = &id
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	req := payments.CheckoutRequest{
		OrderID:    order.ID,
		Currency:   currency,
		Email:      order.RecipientEmail(),
		SuccessURL: fmt.Sprintf("%s/payment/status/%d?success=1", s.baseURL, order.ID),
		CancelURL:  s.baseURL + "/cart?cancel=1",
	}
	for _, l := range lines {
		req.Items = append(req.Items, payments.LineItem{Name: l.Name, UnitAmount: l.UnitPriceCents, Quantity: int64(l.Qty)})
	}
	sess, err := s.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		s.log.Error("checkout session failed", zap.Int64("order_id", order.ID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}
	if err := s.orders.SetStripeSession(ctx, order.ID, sess.ID); err != nil {
		return nil, err
	}
	order.StripeSessionID = sess.ID
	s.log.Info("order created", zap.Int64("order_id", order.ID), zap.Int64("total_cents", total), zap.String("currency", currency), zap.Int("discount", discount))
	return &CheckoutResult{Order: order, CheckoutURL: sess.URL}, nil
}

// HandlePaymentEvent authenticates and applies one webhook delivery.
// Irrelevant events and unknown orders are acknowledged.
func (s *OrderService) HandlePaymentEvent(ctx context.Context, payload []byte, signature string) error {
	ev, err := s.payments.ParseWebhook(payload, signature)
	if err != nil {
		metrics.PaymentEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		s.log.Warn("webhook rejected", zap.Error(err))
		return ErrInvalidSignature
	}
	var result string
	switch ev.Type {
	case payments.EventCheckoutCompleted:
		result, err = s.apply(ctx, ev, models.OrderPaid)
	case payments.EventCheckoutExpired:
		result, err = s.apply(ctx, ev, models.OrderCancelled)
	default:
		result = "ignored"
	}
	if err != nil {
		metrics.PaymentEvents.WithLabelValues(ev.Type, "error").Inc()
		return err
	}
	metrics.PaymentEvents.WithLabelValues(ev.Type, result).Inc()
	s.log.Info("webhook processed", zap.String("event_id", ev.ID), zap.String("type", ev.Type), zap.String("order_id", ev.OrderID), zap.String("result", result))
	return nil
}

func (s *OrderService) apply(ctx context.Context, ev *payments.Event, to models.OrderStatus) (string, error) {
	id, err := strconv.ParseInt(ev.OrderID, 10, 64)
	if err != nil || id <= 0 {
		return "no_order", nil
	}
	order, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return "no_order", nil
		}
		return "", err
	}
	if order.Status == to {
		return "duplicate", nil
	}
	if !canTransition(order.Status, to) {
		s.log.Warn("order transition refused", zap.Int64("order_id", id), zap.String("from", string(order.Status)), zap.String("to", string(to)))
		return "refused", nil
	}

	changed, err := s.orders.Transition(ctx, id, order.Status, to, ev.SessionID, ev.PaymentIntentID)
	if err != nil {
		return "", err
	}
	if !changed {
		// параллельная доставка того же события уже применила переход
		return "duplicate", nil
	}
	if to == models.OrderPaid && s.notifier != nil {
		paid, err := s.orders.GetByID(ctx, id)
		if err != nil {
			s.log.Error("reload paid order", zap.Int64("order_id", id), zap.Error(err))
			paid = order
			paid.Status = models.OrderPaid
		}
		s.notifier.OrderPaid(paid)
	}
	return string(to), nil
}

// List returns the caller's orders, or all orders for staff.
func (s *OrderService) List(ctx context.Context, userID int64, staff bool) ([]*models.Order, error) {
	if staff {
		return s.orders.ListAll(ctx)
	}
	return s.orders.ListByUser(ctx, userID)
}

// Get returns one order visible to the caller.
func (s *OrderService) Get(ctx context.Context, id, userID int64, staff bool) (*models.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !staff && (o.UserID == nil || *o.UserID != userID) {
		return nil, ErrNotFound
	}
	return o, nil
}
