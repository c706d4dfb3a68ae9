package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdentityKind orders the priority rate limiting resolves an identity by
// (spec §4.H): trusted-proxy IP first, then authenticated user id, then
// an anonymous session cookie.
type IdentityKind string

const (
	IdentityIP        IdentityKind = "ip"
	IdentityUser       IdentityKind = "user"
	IdentityAnonymous IdentityKind = "anon"
)

// Identity is a resolved rate-limit key component.
type Identity struct {
	Kind  IdentityKind
	Value string
}

// String renders the Redis key component "<kind>:<value>" so different
// identities never interfere with each other's buckets.
func (id Identity) String() string { return fmt.Sprintf("%s:%s", id.Kind, id.Value) }

// AnonCookieName is the HttpOnly cookie the middleware issues on first
// anonymous request when no trusted IP or user id is available.
const AnonCookieName = "ocx_anon"

// ResolveIdentity implements the §4.H priority order. trustedProxyIP is
// the value already extracted from trusted proxy headers by upstream
// middleware (never read directly from a header the core doesn't
// control) — empty if the request didn't come through a trusted proxy.
func ResolveIdentity(r *http.Request, trustedProxyIP, userID string) Identity {
	if trustedProxyIP != "" {
		return Identity{Kind: IdentityIP, Value: trustedProxyIP}
	}
	if userID != "" {
		return Identity{Kind: IdentityUser, Value: userID}
	}
	if c, err := r.Cookie(AnonCookieName); err == nil && c.Value != "" {
		return Identity{Kind: IdentityAnonymous, Value: c.Value}
	}
	return Identity{Kind: IdentityAnonymous, Value: ""}
}

// Limits configures the short-term soft bucket and the long-term hard
// block bucket.
type Limits struct {
	Window        time.Duration // short-term fixed window, started by the first hit
	SoftThreshold int           // exceeding this injects Decision.Delay
	HardThreshold int           // exceeding this blocks for BlockDuration
	BlockDuration time.Duration
}

// DefaultLimits mirrors a conservative per-identity API budget.
var DefaultLimits = Limits{
	Window:        time.Minute,
	SoftThreshold: 60,
	HardThreshold: 120,
	BlockDuration: 5 * time.Minute,
}

// Decision is the outcome of a rate-limit check.
type Decision struct {
	Allowed      bool
	Delay        time.Duration // non-zero when the soft threshold was hit
	BlockedUntil time.Time     // non-zero when the hard threshold was hit
}

// Limiter is a Redis-backed fixed-window counter with a soft-threshold
// delay bucket and a hard-threshold block bucket, keyed per Identity so
// different identity kinds/values never interfere (spec §4.H, key
// prefix rl:<kind>:<id>, spec §9). The first hit in a window sets the
// counter's expiry to Limits.Window, and the count starts again from
// zero once the key expires; hits are not weighted across window
// boundaries, so this is not a sliding window.
type Limiter struct {
	rdb    *redis.Client
	limits Limits
}

// NewLimiter builds a Limiter over rdb with the given limits.
func NewLimiter(rdb *redis.Client, limits Limits) *Limiter {
	return &Limiter{rdb: rdb, limits: limits}
}

func blockKey(id Identity) string  { return "rl:block:" + id.String() }
func windowKey(id Identity) string { return "rl:" + id.String() }

// Allow increments id's window counter and evaluates it against the
// configured thresholds.
func (l *Limiter) Allow(ctx context.Context, id Identity) (Decision, error) {
	blockedUntil, err := l.rdb.Get(ctx, blockKey(id)).Int64()
	if err == nil && blockedUntil > time.Now().Unix() {
		return Decision{Allowed: false, BlockedUntil: time.Unix(blockedUntil, 0)}, nil
	}
	if err != nil && err != redis.Nil {
		return Decision{}, err
	}

	count, err := l.rdb.Incr(ctx, windowKey(id)).Result()
	if err != nil {
		return Decision{}, err
	}
	if count == 1 {
		if err := l.rdb.Expire(ctx, windowKey(id), l.limits.Window).Err(); err != nil {
			return Decision{}, err
		}
	}

	if int(count) > l.limits.HardThreshold {
		until := time.Now().Add(l.limits.BlockDuration)
		if err := l.rdb.Set(ctx, blockKey(id), until.Unix(), l.limits.BlockDuration).Err(); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: false, BlockedUntil: until}, nil
	}
	if int(count) > l.limits.SoftThreshold {
		return Decision{Allowed: true, Delay: 250 * time.Millisecond}, nil
	}
	return Decision{Allowed: true}, nil
}

// TrustedProxyIP extracts the client IP from X-Forwarded-For, but only
// when the immediate peer (remoteAddr) is in trustedProxies — otherwise
// the header is attacker-controlled and must not be trusted for rate
// limiting identity.
func TrustedProxyIP(remoteAddr, forwardedFor string, trustedProxies map[string]bool) string {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	if !trustedProxies[host] || forwardedFor == "" {
		return ""
	}
	parts := strings.Split(forwardedFor, ",")
	return strings.TrimSpace(parts[0])
}
