// Package security holds the shell subsystem's gates: the process-wide CSRF
// token and the sliding-window rate limiter.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// CSRF is a single shared-secret token minted at startup. Both the request
// header and the cookie must match it exactly.
type CSRF struct {
	token string
}

// CookieName is the cookie carrying the CSRF token.
const CookieName = "reviewd_csrf_token"

// HeaderName is the request header carrying the CSRF token.
const HeaderName = "X-CSRF-Token"

// NewCSRF mints a fresh random token.
func NewCSRF() (*CSRF, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return &CSRF{token: hex.EncodeToString(buf)}, nil
}

// Token returns the token for issuance to clients.
func (c *CSRF) Token() string { return c.token }

// Verify checks that both presented values match the server token. Empty
// values never match.
func (c *CSRF) Verify(headerToken, cookieToken string) bool {
	return headerToken != "" && headerToken == c.token && cookieToken == c.token
}

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter bounds calls per key per fixed window. Expired entries are
// overwritten on next use, never proactively swept.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*window
	limit   int
	span    time.Duration
	now     func() time.Time
}

// NewRateLimiter allows limit calls per span for each distinct key.
func NewRateLimiter(limit int, span time.Duration) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*window),
		limit:   limit,
		span:    span,
		now:     time.Now,
	}
}

// Allow records one call for key. When the limit is exceeded it reports the
// time at which the window resets instead of permitting the call.
func (r *RateLimiter) Allow(key string) (allowed bool, resetAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	w, ok := r.buckets[key]
	if !ok || w.resetAt.Before(now) {
		r.buckets[key] = &window{count: 1, resetAt: now.Add(r.span)}
		return true, time.Time{}
	}
	if w.count >= r.limit {
		return false, w.resetAt
	}
	w.count++
	return true, time.Time{}
}
