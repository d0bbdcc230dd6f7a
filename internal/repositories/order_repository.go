package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"udensfiltri/internal/models"
)

type OrderRepository interface {
	Create(ctx context.Context, o *models.Order) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Order, error)
	ListAll(ctx context.Context) ([]*models.Order, error)
	SetStripeSession(ctx context.Context, id int64, sessionID string) error
	// Transition moves the order from -> to only if its status is still from.
	// Empty session/intent ids keep the stored values. It reports whether a
	// row changed.
	Transition(ctx context.Context, id int64, from, to models.OrderStatus, sessionID, intentID string) (bool, error)
}

type orderRepository struct {
	DB *sql.DB
}

func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{DB: db}
}

const orderColumns = `id, user_id, email, currency, total_cents, items, status, stripe_session_id, stripe_payment_intent_id, created_at, updated_at`

func (r *orderRepository) Create(ctx context.Context, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode order items: %w", err)
	}
	const q = `
		INSERT INTO orders (user_id, email, currency, total_cents, items, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	if err := r.DB.QueryRowContext(ctx, q,
		nullInt64(o.UserID), nullString(o.Email), o.Currency, o.TotalCents, items, string(o.Status),
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	o, err := scanOrder(r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (r *orderRepository) ListByUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (r *orderRepository) ListAll(ctx context.Context) ([]*models.Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC`)
}

func (r *orderRepository) list(ctx context.Context, q string, args ...any) ([]*models.Order, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var res []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r *orderRepository) SetStripeSession(ctx context.Context, id int64, sessionID string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE orders SET stripe_session_id = $1, updated_at = NOW() WHERE id = $2`, sessionID, id)
	if err != nil {
		return fmt.Errorf("set stripe session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *orderRepository) Transition(ctx context.Context, id int64, from, to models.OrderStatus, sessionID, intentID string) (bool, error) {
	const q = `
		UPDATE orders
		SET status = $1,
			stripe_session_id = COALESCE(NULLIF($2, ''), stripe_session_id),
			stripe_payment_intent_id = COALESCE(NULLIF($3, ''), stripe_payment_intent_id),
			updated_at = NOW()
		WHERE id = $4 AND status = $5
	`
	res, err := r.DB.ExecContext(ctx, q, string(to), sessionID, intentID, id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition order rows: %w", err)
	}
	return n == 1, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o      models.Order
		userID sql.NullInt64
		email  sql.NullString
		items  []byte
		status string
	)
	if err := row.Scan(
		&o.ID, &userID, &email, &o.Currency, &o.TotalCents, &items, &status,
		&o.StripeSessionID, &o.StripePaymentIntentID, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if userID.Valid {
		id := userID.Int64
		o.UserID = &id
	}
	o.Email = stringPtr(email)
	o.Status = models.OrderStatus(status)
	if len(items) > 0 {
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode order items: %w", err)
		}
	}
	return &o, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
