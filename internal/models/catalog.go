package models

type Product struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	PriceCents int64  `json:"price_cents"`
	Currency   string `json:"currency"`
	IsActive   bool   `json:"is_active"`
}

type Service struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	BasePriceCents int64  `json:"base_price_cents"`
	Currency       string `json:"currency"`
	IsActive       bool   `json:"is_active"`
}
