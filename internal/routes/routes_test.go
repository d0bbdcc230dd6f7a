package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udensfiltri/internal/config"
	"udensfiltri/internal/handlers"
	"udensfiltri/internal/models"
	"udensfiltri/internal/payments"
	"udensfiltri/internal/repositories/memory"
	"udensfiltri/internal/services"
	"udensfiltri/internal/throttle"
	"udensfiltri/internal/utils"
)

func init() { gin.SetMode(gin.TestMode) }

type captureDelivery struct {
	mu    sync.Mutex
	codes map[string]string
}

func (d *captureDelivery) Deliver(_ context.Context, to utils.Contact, _ models.CodePurpose, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes[to.Value] = code
	return nil
}

func (d *captureDelivery) code(identifier string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.codes[identifier]
}

type stubProvider struct {
	mu     sync.Mutex
	events map[string]*payments.Event
	last   payments.CheckoutRequest
}

func (p *stubProvider) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (*payments.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = req
	return &payments.Session{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil
}

func (p *stubProvider) ParseWebhook(_ []byte, sig string) (*payments.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev, ok := p.events[sig]; ok {
		return ev, nil
	}
	return nil, payments.ErrInvalidSignature
}

type paidCounter struct {
	mu sync.Mutex
	n  int
}

func (c *paidCounter) OrderPaid(*models.Order) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *paidCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type env struct {
	router   *gin.Engine
	delivery *captureDelivery
	users    *memory.UserRepo
	orders   *memory.OrderRepo
	provider *stubProvider
	paid     *paidCounter
}

func newEnv(t *testing.T, opts ...func(*config.Config)) *env {
	t.Helper()
	log := zap.NewNop()
	cfg := config.Default()
	cfg.Session.Secret = "test-secret"
	for _, opt := range opts {
		opt(cfg)
	}

	e := &env{
		delivery: &captureDelivery{codes: map[string]string{}},
		users:    memory.NewUserRepo(),
		orders:   memory.NewOrderRepo(),
		provider: &stubProvider{events: map[string]*payments.Event{}},
		paid:     &paidCounter{},
	}
	catalog := memory.NewCatalogRepo()
	catalog.PutProduct(models.Product{ID: 1, Name: "Filter", Slug: "filter", PriceCents: 1000, Currency: "EUR", IsActive: true})

	norm := utils.NewContactNormalizer(cfg.Codes.HomeRegion)
	gate := throttle.NewMemoryGate(cfg.Throttle.Rules)
	codes := services.NewCodeService(memory.NewCodeRepo(), e.delivery, cfg.Codes, cfg.Delivery, log)
	accounts := services.NewAccountService(e.users, codes, norm, log)
	sessions := services.NewSessionService(cfg.Session, e.users, services.NewMemoryRevocationStore(), log)
	orders := services.NewOrderService(e.orders, catalog, e.users, e.provider, e.paid, norm, cfg.Orders, "https://shop.test", log)

	e.router = SetupRoutes(gin.New(), Deps{
		Auth:         handlers.NewAuthHandler(accounts, sessions, gate, handlers.NewCookieWriter(cfg.Cookies), log),
		Orders:       handlers.NewOrderHandler(orders, log),
		Parser:       sessions,
		AccessCookie: cfg.Cookies.AccessName,
		Gate:         gate,
		Log:          log,
	})
	return e
}

func (e *env) do(method, path string, body any, cookies []*http.Cookie, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func cookieMap(w *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range w.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func (e *env) register(t *testing.T, identifier, password string) []*http.Cookie {
	t.Helper()
	w := e.do(http.MethodPost, "/auth/request-code/", gin.H{"purpose": "register", "identifier": identifier}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(http.MethodPost, "/auth/register/", gin.H{"identifier": identifier, "password": password, "code": e.delivery.code(identifier)}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return w.Result().Cookies()
}

func TestRegisterScenario(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/auth/request-code/", gin.H{"purpose": "register", "identifier": "new@example.com"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	code := e.delivery.code("new@example.com")
	require.Len(t, code, 6)

	body := gin.H{"identifier": "new@example.com", "password": "secret123", "code": code, "first_name": "Anna"}
	w = e.do(http.MethodPost, "/auth/register/", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cookies := cookieMap(w)
	require.Contains(t, cookies, "access")
	require.Contains(t, cookies, "refresh")
	assert.True(t, cookies["access"].HttpOnly)
	assert.Equal(t, "/", cookies["refresh"].Path)

	var resp struct {
		User models.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "new@example.com", resp.User.ContactEmail())
	assert.Equal(t, "Anna", resp.User.FirstName)
	assert.NotContains(t, w.Body.String(), "password")

	w = e.do(http.MethodPost, "/auth/register/", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Invalid or expired code"}`, w.Body.String())
}

func TestRequestCode_RateLimited(t *testing.T) {
	e := newEnv(t)
	body := gin.H{"purpose": "register", "identifier": "a@example.com"}

	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/auth/request-code/", body, nil).Code)
	w := e.do(http.MethodPost, "/auth/request-code/", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = e.do(http.MethodPost, "/auth/request-code/", gin.H{"purpose": "bogus", "identifier": "a@example.com"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestCode_AuthOnlyPurpose(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodPost, "/auth/request-code/", gin.H{"purpose": "change_email", "identifier": "b@example.com"}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	cookies := e.register(t, "a@example.com", "secret123")
	w = e.do(http.MethodPost, "/auth/request-code/", gin.H{"purpose": "change_email", "identifier": "b@example.com"}, cookies)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(http.MethodPost, "/auth/change-email/", gin.H{"email": "b@example.com", "code": e.delivery.code("b@example.com")}, cookies)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"email":"b@example.com"`)
}

func TestRegister_LockoutOverHTTP(t *testing.T) {
	e := newEnv(t)
	id := "lock@example.com"
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/auth/request-code/", gin.H{"purpose": "register", "identifier": id}, nil).Code)
	code := e.delivery.code(id)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 5; i++ {
		w := e.do(http.MethodPost, "/auth/register/", gin.H{"identifier": id, "password": "secret123", "code": wrong}, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	}
	w := e.do(http.MethodPost, "/auth/register/", gin.H{"identifier": id, "password": "secret123", "code": code}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"detail":"Invalid or expired code"}`, w.Body.String())
}

func TestRefresh(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodPost, "/auth/refresh/", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"detail":"No refresh cookie"}`, w.Body.String())

	w = e.do(http.MethodPost, "/auth/refresh/", nil, []*http.Cookie{{Name: "refresh", Value: "garbage"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"detail":"Invalid refresh"}`, w.Body.String())
	assert.Empty(t, w.Result().Cookies())

	cookies := e.register(t, "a@example.com", "secret123")
	w = e.do(http.MethodPost, "/auth/refresh/", nil, cookies)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, cookieMap(w), "access")
	assert.Contains(t, cookieMap(w), "refresh")
}

func TestLoginMeLogout(t *testing.T) {
	e := newEnv(t)
	e.register(t, "+37122000000", "secret123")

	w := e.do(http.MethodPost, "/auth/login/", gin.H{"identifier": "22000000", "password": "bad-password"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"Invalid credentials"}`, w.Body.String())

	w = e.do(http.MethodPost, "/auth/login/", gin.H{"identifier": "22000000", "password": "secret123"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/auth/me/", nil, nil).Code)
	w = e.do(http.MethodGet, "/auth/me/", nil, cookies)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"phone":"+37122000000"`)

	w = e.do(http.MethodPatch, "/auth/profile/", gin.H{"last_name": "Ozola"}, cookies)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"last_name":"Ozola"`)

	w = e.do(http.MethodPost, "/auth/logout/", nil, cookies)
	require.Equal(t, http.StatusOK, w.Code)
	for _, c := range w.Result().Cookies() {
		assert.Equal(t, "", c.Value)
		assert.True(t, c.MaxAge < 0, c.Name)
	}
}

func TestCheckoutAndWebhook(t *testing.T) {
	e := newEnv(t)
	cookies := e.register(t, "buyer@example.com", "secret123")

	items := []gin.H{{"product_id": 1, "qty": 1, "unit_price_cents": 1}}
	assert.Equal(t, http.StatusUnauthorized,
		e.do(http.MethodPost, "/orders/payments/create-checkout-session/", gin.H{"items": items}, nil).Code)

	w := e.do(http.MethodPost, "/orders/payments/create-checkout-session/", gin.H{"items": items, "currency": "eur"}, cookies)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out handlers.CheckoutResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "https://checkout.test/cs_1", out.CheckoutURL)

	order, err := e.orders.GetByID(context.Background(), out.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), order.TotalCents, "client price is ignored")
	assert.Equal(t, models.OrderCreated, order.Status)

	w = e.do(http.MethodPost, "/orders/payments/create-checkout-session/", gin.H{"items": []gin.H{{"product_id": 99}}}, cookies)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/orders/payments/webhook/", gin.H{"id": "evt"}, nil, "Stripe-Signature", "forged")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"detail":"invalid"}`, w.Body.String())

	e.provider.events["good"] = &payments.Event{ID: "evt_1", Type: payments.EventCheckoutCompleted, OrderID: "1", SessionID: "cs_1", PaymentIntentID: "pi_1"}
	for i := 0; i < 2; i++ {
		w = e.do(http.MethodPost, "/orders/payments/webhook/", gin.H{"id": "evt_1"}, nil, "Stripe-Signature", "good")
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"ok":true}`, w.Body.String())
	}
	order, err = e.orders.GetByID(context.Background(), out.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, order.Status)
	assert.Equal(t, 1, e.paid.count())

	w = e.do(http.MethodGet, "/orders/", nil, cookies)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	other := e.register(t, "other@example.com", "secret123")
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/orders/1/", nil, other).Code)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/orders/1/", nil, cookies).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/orders/abc/", nil, cookies).Code)

	w = e.do(http.MethodGet, "/orders/", nil, other)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	w := e.do(http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestCheckoutThrottledPerUser(t *testing.T) {
	e := newEnv(t)
	cookies := e.register(t, "buyer@example.com", "secret123")
	body := gin.H{"items": []gin.H{{"product_id": 1}}}

	limit := config.Default().Throttle.Rules[throttle.ScopeCheckoutUser].Limit
	for i := 0; i < limit; i++ {
		require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/orders/payments/create-checkout-session/", body, cookies).Code)
	}
	w := e.do(http.MethodPost, "/orders/payments/create-checkout-session/", body, cookies)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestGuestCheckoutThrottledPerIP(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Orders.AllowGuestCheckout = true })
	body := gin.H{"items": []gin.H{{"product_id": 1}}, "email": "guest@example.com"}

	limit := config.Default().Throttle.Rules[throttle.ScopeCheckoutUser].Limit
	for i := 0; i < limit; i++ {
		w := e.do(http.MethodPost, "/orders/payments/create-checkout-session/", body, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w := e.do(http.MethodPost, "/orders/payments/create-checkout-session/", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
