package models

import "time"

type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

type ItemType string

const (
	ItemProduct ItemType = "product"
	ItemService ItemType = "service"
)

// OrderItem is a frozen pricing snapshot of one cart line.
type OrderItem struct {
	Type               ItemType `json:"type"`
	ProductID          *int64   `json:"product_id,omitempty"`
	ServiceID          *int64   `json:"service_id,omitempty"`
	Name               string   `json:"name"`
	Qty                int      `json:"qty"`
	BaseUnitPriceCents int64    `json:"base_unit_price_cents"`
	DiscountPercent    int      `json:"discount_percent"`
	UnitPriceCents     int64    `json:"unit_price_cents"`
}

func (it OrderItem) LineTotalCents() int64 {
	return int64(it.Qty) * it.UnitPriceCents
}

type Order struct {
	ID                    int64       `json:"id"`
	UserID                *int64      `json:"user_id,omitempty"`
	Email                 *string     `json:"email,omitempty"`
	Currency              string      `json:"currency"`
	TotalCents            int64       `json:"total_cents"`
	Items                 []OrderItem `json:"items"`
	Status                OrderStatus `json:"status"`
	StripeSessionID       string      `json:"-"`
	StripePaymentIntentID string      `json:"-"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// RecipientEmail is where paid notifications go.
func (o *Order) RecipientEmail() string {
	if o.Email == nil {
		return ""
	}
	return *o.Email
}
