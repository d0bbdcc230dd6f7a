package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"udensfiltri/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	UpdateProfile(ctx context.Context, id int64, firstName, lastName string) error
	UpdateEmail(ctx context.Context, id int64, email *string) error
	UpdatePhone(ctx context.Context, id int64, phone *string) error
	UpdatePassword(ctx context.Context, id int64, hash string) error

	// groups / discounts
	AddToGroup(ctx context.Context, userID int64, groupName string) error
	MaxActiveDiscount(ctx context.Context, userID int64) (int, error)
}

type userRepository struct {
	DB *sql.DB
}

func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{DB: db}
}

const userColumns = `id, phone, email, first_name, last_name, password_hash, is_active, is_staff, date_joined`

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	const q = `
		INSERT INTO users (phone, email, first_name, last_name, password_hash, is_active, is_staff)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, date_joined
	`
	err := r.DB.QueryRowContext(ctx, q,
		nullString(user.Phone),
		nullString(user.Email),
		user.FirstName,
		user.LastName,
		user.PasswordHash,
		user.IsActive,
		user.IsStaff,
	).Scan(&user.ID, &user.DateJoined)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) ORDER BY id LIMIT 1`, email)
}

func (r *userRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
}

func (r *userRepository) getOne(ctx context.Context, q string, arg any) (*models.User, error) {
	var (
		u     models.User
		phone sql.NullString
		email sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, q, arg).Scan(
		&u.ID, &phone, &email, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.IsActive, &u.IsStaff, &u.DateJoined,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Phone = stringPtr(phone)
	u.Email = stringPtr(email)
	return &u, nil
}

func (r *userRepository) UpdateProfile(ctx context.Context, id int64, firstName, lastName string) error {
	return r.exec(ctx, `UPDATE users SET first_name = $1, last_name = $2 WHERE id = $3`, firstName, lastName, id)
}

func (r *userRepository) UpdateEmail(ctx context.Context, id int64, email *string) error {
	return r.exec(ctx, `UPDATE users SET email = $1 WHERE id = $2`, nullString(email), id)
}

func (r *userRepository) UpdatePhone(ctx context.Context, id int64, phone *string) error {
	return r.exec(ctx, `UPDATE users SET phone = $1 WHERE id = $2`, nullString(phone), id)
}

func (r *userRepository) UpdatePassword(ctx context.Context, id int64, hash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, id)
}

func (r *userRepository) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepository) AddToGroup(ctx context.Context, userID int64, groupName string) error {
	const q = `
		INSERT INTO user_groups (user_id, group_id)
		SELECT $1, g.id FROM groups g WHERE g.name = $2
		ON CONFLICT DO NOTHING
	`
	if _, err := r.DB.ExecContext(ctx, q, userID, groupName); err != nil {
		return fmt.Errorf("add user to group: %w", err)
	}
	return nil
}

// MaxActiveDiscount: максимальная активная скидка по группам пользователя.
func (r *userRepository) MaxActiveDiscount(ctx context.Context, userID int64) (int, error) {
	const q = `
		SELECT COALESCE(MAX(gd.percentage), 0)
		FROM group_discounts gd
		JOIN user_groups ug ON ug.group_id = gd.group_id
		WHERE ug.user_id = $1 AND gd.is_active
	`
	var pct int
	if err := r.DB.QueryRowContext(ctx, q, userID).Scan(&pct); err != nil {
		return 0, fmt.Errorf("max discount: %w", err)
	}
	return pct, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
