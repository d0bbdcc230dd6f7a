package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"udensfiltri/internal/models"
)

// CatalogRepository resolves cart references to active catalog entries.
// Inactive or unknown ids are simply absent from the result.
type CatalogRepository interface {
	ActiveProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error)
	ActiveServices(ctx context.Context, ids []int64) (map[int64]*models.Service, error)
}

type catalogRepository struct {
	DB *sql.DB
}

func NewCatalogRepository(db *sql.DB) CatalogRepository {
	return &catalogRepository{DB: db}
}

func (r *catalogRepository) ActiveProducts(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	out := make(map[int64]*models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const q = `
		SELECT id, name, slug, price_cents, currency, is_active
		FROM products
		WHERE id = ANY($1) AND is_active
	`
	rows, err := r.DB.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("active products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p := &models.Product{}
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.PriceCents, &p.Currency, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *catalogRepository) ActiveServices(ctx context.Context, ids []int64) (map[int64]*models.Service, error) {
	out := make(map[int64]*models.Service, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	const q = `
		SELECT id, name, slug, base_price_cents, currency, is_active
		FROM services
		WHERE id = ANY($1) AND is_active
	`
	rows, err := r.DB.QueryContext(ctx, q, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("active services: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s := &models.Service{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Slug, &s.BasePriceCents, &s.Currency, &s.IsActive); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}
