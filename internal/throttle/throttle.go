// Package throttle limits request rates per scope and key (client IP,
// identifier, user id).
package throttle

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"udensfiltri/internal/config"
)

// Scopes used by the HTTP layer.
const (
	ScopeCodeIP         = "code_ip"
	ScopeCodeIdentifier = "code_identifier"
	ScopeCheckoutUser   = "checkout_user"
)

// Gate admits or denies one request for (scope, key). Unknown scopes are
// always admitted.
type Gate interface {
	Allow(ctx context.Context, scope, key string) (bool, error)
}

// RedisGate is a fixed-window counter shared by every instance.
// Redis errors fail open.
type RedisGate struct {
	rdb    *redis.Client
	rules  map[string]config.ThrottleRule
	prefix string
	log    *zap.Logger
}

// incrWindow counts a hit and arms the window TTL in one step. A key left
// without a TTL gets one on its next hit.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

func NewRedisGate(rdb *redis.Client, rules map[string]config.ThrottleRule, log *zap.Logger) *RedisGate {
	return &RedisGate{rdb: rdb, rules: rules, prefix: "throttle", log: log}
}

func (g *RedisGate) Allow(ctx context.Context, scope, key string) (bool, error) {
	rule, ok := g.rules[scope]
	if !ok {
		return true, nil
	}
	k := g.prefix + ":" + scope + ":" + strings.ToLower(key)

	count, err := incrWindow.Run(ctx, g.rdb, []string{k}, rule.Window.Milliseconds()).Int64()
	if err != nil {
		g.log.Warn("throttle: redis incr failed, admitting", zap.String("scope", scope), zap.Error(err))
		return true, nil
	}
	return count <= int64(rule.Limit), nil
}

// MemoryGate keeps a token bucket per key in process memory. Buckets refill
// Limit tokens per Window with a burst of Limit.
type MemoryGate struct {
	mu      sync.Mutex
	rules   map[string]config.ThrottleRule
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewMemoryGate(rules map[string]config.ThrottleRule) *MemoryGate {
	return &MemoryGate{rules: rules, buckets: make(map[string]*bucket), now: time.Now}
}

func (g *MemoryGate) Allow(_ context.Context, scope, key string) (bool, error) {
	rule, ok := g.rules[scope]
	if !ok {
		return true, nil
	}
	now := g.now()
	k := scope + ":" + strings.ToLower(key)

	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[k]
	if !ok {
		every := rate.Every(rule.Window / time.Duration(rule.Limit))
		b = &bucket{lim: rate.NewLimiter(every, rule.Limit)}
		g.buckets[k] = b
	}
	b.seen = now
	allowed := b.lim.AllowN(now, 1)
	g.sweep(now)
	return allowed, nil
}

// sweep drops buckets idle for longer than an hour; the caller holds mu.
func (g *MemoryGate) sweep(now time.Time) {
	if len(g.buckets) < 10000 {
		return
	}
	for k, b := range g.buckets {
		if now.Sub(b.seen) > time.Hour {
			delete(g.buckets, k)
		}
	}
}
