package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"udensfiltri/internal/config"
	"udensfiltri/internal/models"
	"udensfiltri/internal/repositories/memory"
)

var sessionCfg = config.SessionConfig{
	Secret:     "test-secret",
	Issuer:     "udensfiltri",
	AccessTTL:  time.Minute,
	RefreshTTL: 3 * time.Minute,
}

func seedUser(t *testing.T, users *memory.UserRepo, email string) *models.User {
	t.Helper()
	u := &models.User{Email: &email, PasswordHash: "x", IsActive: true}
	require.NoError(t, users.Create(context.Background(), u))
	return u
}

func newSessions(users *memory.UserRepo, blacklist bool, clock *fakeClock) *SessionService {
	cfg := sessionCfg
	cfg.BlacklistAfterRotation = blacklist
	return NewSessionService(cfg, users, NewMemoryRevocationStore(), zap.NewNop()).WithClock(clock.Now)
}

func TestSession_IssueAndParse(t *testing.T) {
	clock := newClock()
	users := memory.NewUserRepo()
	u := seedUser(t, users, "a@example.com")
	s := newSessions(users, false, clock)

	pair, err := s.IssueFor(u, "login")
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(time.Minute), pair.AccessExpires)
	assert.Equal(t, clock.Now().Add(3*time.Minute), pair.RefreshExpires)

	claims, err := s.ParseAccess(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, TokenAccess, claims.Type)
	assert.NotEmpty(t, claims.ID)

	_, err = s.ParseAccess(pair.Refresh)
	assert.ErrorIs(t, err, ErrUnauthorized, "refresh token is not an access token")

	clock.Advance(time.Minute + time.Second)
	_, err = s.ParseAccess(pair.Access)
	assert.ErrorIs(t, err, ErrUnauthorized, "expired")
}

func TestSession_RejectsForeignTokens(t *testing.T) {
	clock := newClock()
	users := memory.NewUserRepo()
	u := seedUser(t, users, "a@example.com")
	s := newSessions(users, false, clock)

	other := NewSessionService(config.SessionConfig{Secret: "other", Issuer: "udensfiltri", AccessTTL: time.Minute, RefreshTTL: 2 * time.Minute}, users, nil, zap.NewNop()).WithClock(clock.Now)
	pair, err := other.IssueFor(u, "login")
	require.NoError(t, err)
	_, err = s.ParseAccess(pair.Access)
	assert.ErrorIs(t, err, ErrUnauthorized, "wrong key")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: u.ID, Type: TokenAccess, RegisteredClaims: jwt.RegisteredClaims{
		Issuer: "udensfiltri", ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Minute)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = s.ParseAccess(unsigned)
	assert.ErrorIs(t, err, ErrUnauthorized, "alg none")

	_, _, err = s.Refresh(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSession_RefreshRotates(t *testing.T) {
	clock := newClock()
	users := memory.NewUserRepo()
	u := seedUser(t, users, "a@example.com")
	s := newSessions(users, false, clock)

	pair, err := s.IssueFor(u, "login")
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	_, _, err = s.Refresh(context.Background(), pair.Access)
	assert.ErrorIs(t, err, ErrUnauthorized, "access token presented as refresh")

	next, got, err := s.Refresh(context.Background(), pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.NotEqual(t, pair.Refresh, next.Refresh)
	assert.Equal(t, clock.Now().Add(3*time.Minute), next.RefreshExpires)

	// без blacklist старый refresh остаётся валидным до истечения
	_, _, err = s.Refresh(context.Background(), pair.Refresh)
	assert.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, _, err = s.Refresh(context.Background(), pair.Refresh)
	assert.ErrorIs(t, err, ErrUnauthorized, "expired refresh")
}

func TestSession_BlacklistAfterRotation(t *testing.T) {
	clock := newClock()
	users := memory.NewUserRepo()
	u := seedUser(t, users, "a@example.com")
	s := newSessions(users, true, clock)

	pair, err := s.IssueFor(u, "login")
	require.NoError(t, err)

	next, _, err := s.Refresh(context.Background(), pair.Refresh)
	require.NoError(t, err)

	_, _, err = s.Refresh(context.Background(), pair.Refresh)
	assert.ErrorIs(t, err, ErrUnauthorized, "reused refresh")

	s.RevokeRefresh(context.Background(), next.Refresh)
	_, _, err = s.Refresh(context.Background(), next.Refresh)
	assert.ErrorIs(t, err, ErrUnauthorized, "revoked on logout")
}

func TestSession_RefreshRequiresActiveUser(t *testing.T) {
	clock := newClock()
	users := memory.NewUserRepo()
	u := seedUser(t, users, "a@example.com")
	s := newSessions(users, false, clock)

	pair, err := s.IssueFor(u, "login")
	require.NoError(t, err)
	users.SetActive(u.ID, false)

	_, _, err = s.Refresh(context.Background(), pair.Refresh)
	assert.ErrorIs(t, err, ErrUnauthorized)

	ghost := &models.User{ID: 999}
	pair, err = s.IssueFor(ghost, "login")
	require.NoError(t, err)
	_, _, err = s.Refresh(context.Background(), pair.Refresh)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
