// Package payments wraps the Stripe checkout and webhook APIs.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type LineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

type CheckoutRequest struct {
	OrderID    int64
	Currency   string
	Email      string
	Items      []LineItem
	SuccessURL string
	CancelURL  string
}

type Session struct {
	ID  string
	URL string
}

// Event is the subset of a webhook event the order flow needs.
type Event struct {
	ID              string
	Type            string
	OrderID         string
	SessionID       string
	PaymentIntentID string
}

// Provider creates hosted checkout sessions and authenticates webhooks.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	ParseWebhook(payload []byte, signatureHeader string) (*Event, error)
}

type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider builds a client for secretKey. apiURL overrides the API
// base URL and may be empty.
func NewStripeProvider(secretKey, webhookSecret, apiURL string) *StripeProvider {
	var backends *stripe.Backends
	if apiURL != "" {
		backends = &stripe.Backends{
			API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
				URL:               stripe.String(apiURL),
				MaxNetworkRetries: stripe.Int64(0),
			}),
		}
	}
	return &StripeProvider{api: client.New(secretKey, backends), webhookSecret: webhookSecret}
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
	}
	params.Context = ctx
	for _, it := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(strings.ToLower(req.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(it.Name),
				},
				UnitAmount: stripe.Int64(it.UnitAmount),
			},
			Quantity: stripe.Int64(it.Quantity),
		})
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.ClientReferenceID = stripe.String(fmt.Sprint(req.OrderID))
	params.AddMetadata("order_id", fmt.Sprint(req.OrderID))

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (p *StripeProvider) ParseWebhook(payload []byte, signatureHeader string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	if !strings.HasPrefix(out.Type, "checkout.session.") || ev.Data == nil {
		return out, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
		// подпись верна, но объект не разобрать, подтверждаем без изменений
		return out, nil
	}
	out.SessionID = sess.ID
	out.OrderID = sess.Metadata["order_id"]
	if out.OrderID == "" {
		out.OrderID = sess.ClientReferenceID
	}
	if sess.PaymentIntent != nil {
		out.PaymentIntentID = sess.PaymentIntent.ID
	}
	return out, nil
}
