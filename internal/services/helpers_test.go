package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"udensfiltri/internal/config"
	"udensfiltri/internal/models"
	"udensfiltri/internal/payments"
	"udensfiltri/internal/repositories/memory"
	"udensfiltri/internal/utils"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type sentCode struct {
	To      utils.Contact
	Purpose models.CodePurpose
	Code    string
}

type fakeDelivery struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (d *fakeDelivery) Deliver(_ context.Context, to utils.Contact, purpose models.CodePurpose, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentCode{To: to, Purpose: purpose, Code: code})
	return nil
}

func (d *fakeDelivery) last() sentCode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[len(d.sent)-1]
}

var codesCfg = config.CodesConfig{
	TTL:         10 * time.Minute,
	MinInterval: 60 * time.Second,
	MaxAttempts: 5,
	Lockout:     15 * time.Minute,
	HomeRegion:  "LV",
}

func newCodeService(repo *memory.CodeRepo, d CodeDelivery, clock *fakeClock) *CodeService {
	return NewCodeService(repo, d, codesCfg, config.DeliveryConfig{Mandatory: true, Timeout: time.Second}, zap.NewNop()).
		WithClock(clock.Now)
}

type fakeProvider struct {
	mu       sync.Mutex
	requests []payments.CheckoutRequest
	err      error
	events   map[string]*payments.Event // signature -> event
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (*payments.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	return &payments.Session{ID: "cs_test", URL: "https://pay.test/cs_test"}, nil
}

func (p *fakeProvider) ParseWebhook(_ []byte, sig string) (*payments.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ev, ok := p.events[sig]
	if !ok {
		return nil, payments.ErrInvalidSignature
	}
	return ev, nil
}

type countingNotifier struct {
	mu    sync.Mutex
	calls []int64
}

func (n *countingNotifier) OrderPaid(o *models.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, o.ID)
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}
