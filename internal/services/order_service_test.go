package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udensfiltri/internal/config"
	"udensfiltri/internal/models"
	"udensfiltri/internal/payments"
	"udensfiltri/internal/repositories/memory"
	"udensfiltri/internal/utils"
)

type orderFixture struct {
	users    *memory.UserRepo
	catalog  *memory.CatalogRepo
	orders   *memory.OrderRepo
	provider *fakeProvider
	notifier *countingNotifier
	svc      *OrderService
}

func newOrderFixture(guest bool) *orderFixture {
	f := &orderFixture{
		users:    memory.NewUserRepo(),
		catalog:  memory.NewCatalogRepo(),
		orders:   memory.NewOrderRepo(),
		provider: &fakeProvider{events: map[string]*payments.Event{}},
		notifier: &countingNotifier{},
	}
	f.catalog.PutProduct(models.Product{ID: 1, Name: "Filter", Slug: "filter", PriceCents: 1000, Currency: "eur", IsActive: true})
	f.catalog.PutProduct(models.Product{ID: 2, Name: "Pump", Slug: "pump", PriceCents: 2000, Currency: "EUR", IsActive: true})
	f.catalog.PutProduct(models.Product{ID: 3, Name: "Old", Slug: "old", PriceCents: 500, Currency: "EUR", IsActive: false})
	f.catalog.PutService(models.Service{ID: 1, Name: "Install", Slug: "install", BasePriceCents: 5000, Currency: "USD", IsActive: true})
	cfg := config.OrdersConfig{DefaultCurrency: "EUR", AllowGuestCheckout: guest}
	f.svc = NewOrderService(f.orders, f.catalog, f.users, f.provider, f.notifier, utils.NewContactNormalizer("LV"), cfg, "https://shop.test/", zap.NewNop())
	return f
}

func ptr[T any](v T) *T { return &v }

func TestPriceItems_IgnoresClientPrices(t *testing.T) {
	f := newOrderFixture(false)
	u := seedUser(t, f.users, "a@example.com")

	res, err := f.svc.CreateCheckout(context.Background(), CheckoutInput{
		UserID: &u.ID,
		Items:  []CheckoutItem{{ProductID: ptr(int64(1))}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Order.TotalCents)
	assert.Equal(t, "EUR", res.Order.Currency)
	assert.Equal(t, 1, res.Order.Items[0].Qty, "missing qty means 1")
	assert.Equal(t, "https://pay.test/cs_test", res.CheckoutURL)

	require.Len(t, f.provider.requests, 1)
	req := f.provider.requests[0]
	assert.Equal(t, res.Order.ID, req.OrderID)
	assert.Equal(t, int64(1000), req.Items[0].UnitAmount)
	assert.Equal(t, "a@example.com", req.Email)
	assert.Equal(t, "https://shop.test/cart?cancel=1", req.CancelURL)
	assert.Contains(t, req.SuccessURL, "https://shop.test/payment/status/")

	stored, err := f.orders.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCreated, stored.Status)
	assert.Equal(t, "cs_test", stored.StripeSessionID)
}

func TestPriceItems_GroupDiscount(t *testing.T) {
	f := newOrderFixture(false)
	u := seedUser(t, f.users, "a@example.com")
	ctx := context.Background()
	f.users.SetGroupDiscount("partners", 15, true)
	f.users.SetGroupDiscount("inactive_promo", 50, false)
	require.NoError(t, f.users.AddToGroup(ctx, u.ID, models.GroupRegularUsers))
	require.NoError(t, f.users.AddToGroup(ctx, u.ID, "partners"))
	require.NoError(t, f.users.AddToGroup(ctx, u.ID, "inactive_promo"))

	res, err := f.svc.CreateCheckout(ctx, CheckoutInput{
		UserID:   &u.ID,
		Currency: "eur",
		Items:    []CheckoutItem{{ProductID: ptr(int64(2)), Qty: ptr(2)}},
	})
	require.NoError(t, err)
	line := res.Order.Items[0]
	assert.Equal(t, int64(2000), line.BaseUnitPriceCents)
	assert.Equal(t, 15, line.DiscountPercent)
	assert.Equal(t, int64(1700), line.UnitPriceCents)
	assert.Equal(t, int64(3400), res.Order.TotalCents)
}

func TestDiscountedUnitPrice_Floors(t *testing.T) {
	assert.Equal(t, int64(849), DiscountedUnitPrice(999, 15))
	assert.Equal(t, int64(999), DiscountedUnitPrice(999, 0))
	assert.Equal(t, int64(0), DiscountedUnitPrice(999, 100))
}

func TestPriceItems_Rejections(t *testing.T) {
	f := newOrderFixture(false)
	ctx := context.Background()

	cases := []struct {
		name  string
		items []CheckoutItem
		want  error
	}{
		{"inactive product", []CheckoutItem{{ProductID: ptr(int64(3))}}, ErrInvalidItem},
		{"unknown product", []CheckoutItem{{ProductID: ptr(int64(42))}}, ErrInvalidItem},
		{"zero qty", []CheckoutItem{{ProductID: ptr(int64(1)), Qty: ptr(0)}}, ErrInvalidItem},
		{"both refs", []CheckoutItem{{ProductID: ptr(int64(1)), ServiceID: ptr(int64(1))}}, ErrInvalidItem},
		{"no refs", []CheckoutItem{{}}, ErrInvalidItem},
		{"mixed currency", []CheckoutItem{{ProductID: ptr(int64(1))}, {ServiceID: ptr(int64(1))}}, ErrCurrencyMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, _, err := f.svc.PriceItems(ctx, tc.items, 0)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, _, _, err := f.svc.PriceItems(ctx, nil, 0)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCreateCheckout_RequestedCurrencyMismatch(t *testing.T) {
	f := newOrderFixture(false)
	u := seedUser(t, f.users, "a@example.com")

	_, err := f.svc.CreateCheckout(context.Background(), CheckoutInput{
		UserID:   &u.ID,
		Currency: "USD",
		Items:    []CheckoutItem{{ProductID: ptr(int64(1))}},
	})
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
	assert.Empty(t, f.provider.requests)
}

func TestCreateCheckout_Guest(t *testing.T) {
	items := []CheckoutItem{{ProductID: ptr(int64(1))}}

	closed := newOrderFixture(false)
	_, err := closed.svc.CreateCheckout(context.Background(), CheckoutInput{Email: "g@example.com", Items: items})
	assert.ErrorIs(t, err, ErrUnauthorized)

	open := newOrderFixture(true)
	_, err = open.svc.CreateCheckout(context.Background(), CheckoutInput{Items: items})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr, "guest needs an email")

	res, err := open.svc.CreateCheckout(context.Background(), CheckoutInput{Email: "G@Example.com", Items: items})
	require.NoError(t, err)
	assert.Nil(t, res.Order.UserID)
	assert.Equal(t, "g@example.com", res.Order.RecipientEmail())
}

func TestCreateCheckout_ProviderFailureKeepsOrder(t *testing.T) {
	f := newOrderFixture(false)
	u := seedUser(t, f.users, "a@example.com")
	f.provider.err = errors.New("stripe down")

	_, err := f.svc.CreateCheckout(context.Background(), CheckoutInput{UserID: &u.ID, Items: []CheckoutItem{{ProductID: ptr(int64(1))}}})
	assert.ErrorIs(t, err, ErrPaymentProvider)

	all, err := f.orders.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.OrderCreated, all[0].Status)
}

func (f *orderFixture) createOrder(t *testing.T) *models.Order {
	t.Helper()
	u := seedUser(t, f.users, "buyer@example.com")
	res, err := f.svc.CreateCheckout(context.Background(), CheckoutInput{UserID: &u.ID, Items: []CheckoutItem{{ProductID: ptr(int64(1))}}})
	require.NoError(t, err)
	return res.Order
}

func TestHandlePaymentEvent_ReplayNotifiesOnce(t *testing.T) {
	f := newOrderFixture(false)
	o := f.createOrder(t)
	f.provider.events["sig"] = &payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, OrderID: "1", SessionID: "cs_test", PaymentIntentID: "pi_1"}
	ctx := context.Background()

	require.NoError(t, f.svc.HandlePaymentEvent(ctx, []byte("{}"), "sig"))
	require.NoError(t, f.svc.HandlePaymentEvent(ctx, []byte("{}"), "sig"))

	stored, err := f.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, stored.Status)
	assert.Equal(t, "pi_1", stored.StripePaymentIntentID)
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandlePaymentEvent_ConcurrentDeliveries(t *testing.T) {
	f := newOrderFixture(false)
	f.createOrder(t)
	f.provider.events["sig"] = &payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, OrderID: "1"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.HandlePaymentEvent(context.Background(), nil, "sig"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, f.notifier.count())
}

func TestHandlePaymentEvent_ExpiredThenPaidIsRefused(t *testing.T) {
	f := newOrderFixture(false)
	o := f.createOrder(t)
	f.provider.events["exp"] = &payments.Event{ID: "evt_1", Type: payments.EventCheckoutExpired, OrderID: "1"}
	f.provider.events["paid"] = &payments.Event{ID: "evt_2", Type: payments.EventCheckoutCompleted, OrderID: "1"}
	ctx := context.Background()

	require.NoError(t, f.svc.HandlePaymentEvent(ctx, nil, "exp"))
	require.NoError(t, f.svc.HandlePaymentEvent(ctx, nil, "paid"))

	stored, err := f.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, stored.Status)
	assert.Zero(t, f.notifier.count())
}

func TestHandlePaymentEvent_AcksIrrelevant(t *testing.T) {
	f := newOrderFixture(false)
	f.provider.events["other"] = &payments.Event{ID: "evt_1", Type: "invoice.paid"}
	f.provider.events["ghost"] = &payments.Event{ID: "evt_2", Type: payments.EventCheckoutCompleted, OrderID: "777"}
	f.provider.events["noid"] = &payments.Event{ID: "evt_3", Type: payments.EventCheckoutCompleted}
	ctx := context.Background()

	assert.NoError(t, f.svc.HandlePaymentEvent(ctx, nil, "other"))
	assert.NoError(t, f.svc.HandlePaymentEvent(ctx, nil, "ghost"))
	assert.NoError(t, f.svc.HandlePaymentEvent(ctx, nil, "noid"))
	assert.ErrorIs(t, f.svc.HandlePaymentEvent(ctx, nil, "forged"), ErrInvalidSignature)
	assert.Zero(t, f.notifier.count())
}

func TestOrderVisibility(t *testing.T) {
	f := newOrderFixture(false)
	o := f.createOrder(t)
	other := seedUser(t, f.users, "other@example.com")
	ctx := context.Background()

	got, err := f.svc.Get(ctx, o.ID, *o.UserID, false)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.Get(ctx, o.ID, other.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.Get(ctx, o.ID, other.ID, true)
	assert.NoError(t, err, "staff sees every order")

	mine, err := f.svc.List(ctx, other.ID, false)
	require.NoError(t, err)
	assert.Empty(t, mine)
	all, err := f.svc.List(ctx, other.ID, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
