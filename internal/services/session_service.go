package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"udensfiltri/internal/config"
	"udensfiltri/internal/metrics"
	"udensfiltri/internal/models"
	"udensfiltri/internal/repositories"
)

const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

type Claims struct {
	UserID  int64  `json:"user_id"`
	IsStaff bool   `json:"is_staff,omitempty"`
	Type    string `json:"typ"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	Access         string
	Refresh        string
	AccessExpires  time.Time
	RefreshExpires time.Time
}

// SessionService mints and rotates HS256 access/refresh pairs.
type SessionService struct {
	cfg     config.SessionConfig
	key     []byte
	users   repositories.UserRepository
	revoked RevocationStore // nil unless blacklist_after_rotation
	now     func() time.Time
	log     *zap.Logger
}

func NewSessionService(cfg config.SessionConfig, users repositories.UserRepository, revoked RevocationStore, log *zap.Logger) *SessionService {
	if !cfg.BlacklistAfterRotation {
		revoked = nil
	}
	return &SessionService{
		cfg:     cfg,
		key:     []byte(cfg.Secret),
		users:   users,
		revoked: revoked,
		now:     time.Now,
		log:     log.With(zap.String("component", "session")),
	}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

// IssueFor mints a fresh pair for user.
func (s *SessionService) IssueFor(user *models.User, reason string) (*TokenPair, error) {
	now := s.now()
	pair := &TokenPair{
		AccessExpires:  now.Add(s.cfg.AccessTTL),
		RefreshExpires: now.Add(s.cfg.RefreshTTL),
	}
	var err error
	if pair.Access, err = s.sign(user, TokenAccess, now, pair.AccessExpires); err != nil {
		return nil, err
	}
	if pair.Refresh, err = s.sign(user, TokenRefresh, now, pair.RefreshExpires); err != nil {
		return nil, err
	}
	metrics.SessionsIssued.WithLabelValues(reason).Inc()
	return pair, nil
}

func (s *SessionService) sign(user *models.User, typ string, now, exp time.Time) (string, error) {
	claims := &Claims{
		UserID:  user.ID,
		IsStaff: user.IsStaff,
		Type:    typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, nil
}

func (s *SessionService) parse(token, typ string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Type != typ || claims.UserID == 0 {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// ParseAccess validates an access token.
func (s *SessionService) ParseAccess(token string) (*Claims, error) {
	return s.parse(token, TokenAccess)
}

// Refresh validates the presented refresh token and rotates it into a new
// pair. Every failure is ErrUnauthorized.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, *models.User, error) {
	claims, err := s.parse(refreshToken, TokenRefresh)
	if err != nil {
		return nil, nil, ErrUnauthorized
	}
	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			s.log.Error("refresh: load user", zap.Int64("user_id", claims.UserID), zap.Error(err))
		}
		return nil, nil, ErrUnauthorized
	}
	if !user.IsActive {
		return nil, nil, ErrUnauthorized
	}
	if s.revoked != nil {
		// SETNX делает повторное использование одного refresh невозможным даже при гонке
		fresh, err := s.revoked.Revoke(ctx, claims.ID, s.remaining(claims))
		if err != nil {
			s.log.Error("refresh: revocation store", zap.Error(err))
			return nil, nil, ErrUnauthorized
		}
		if !fresh {
			s.log.Warn("refresh token reuse", zap.Int64("user_id", user.ID))
			return nil, nil, ErrUnauthorized
		}
	}
	pair, err := s.IssueFor(user, "refresh")
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// RevokeRefresh blacklists a refresh token when revocation is enabled.
// Invalid tokens are ignored.
func (s *SessionService) RevokeRefresh(ctx context.Context, refreshToken string) {
	if s.revoked == nil || refreshToken == "" {
		return
	}
	claims, err := s.parse(refreshToken, TokenRefresh)
	if err != nil {
		return
	}
	if _, err := s.revoked.Revoke(ctx, claims.ID, s.remaining(claims)); err != nil {
		s.log.Warn("revoke refresh failed", zap.Error(err))
	}
}

func (s *SessionService) remaining(c *Claims) time.Duration {
	if c.ExpiresAt == nil {
		return s.cfg.RefreshTTL
	}
	return c.ExpiresAt.Time.Sub(s.now())
}
