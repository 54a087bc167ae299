// Package ratelimit tracks failed login attempts per account in a fixed
// window. Once an account exhausts its attempts, further logins are rejected
// for the remainder of the window regardless of credential validity.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/schedulo/access-control/internal/cache"
)

const keyPrefix = "login_attempts:"

// LoginLimiter counts consecutive failed logins per account
type LoginLimiter struct {
	cache       cache.Cache
	maxAttempts int64
	window      time.Duration
}

// NewLoginLimiter creates a limiter allowing maxAttempts failures per window
func NewLoginLimiter(c cache.Cache, maxAttempts int64, window time.Duration) *LoginLimiter {
	return &LoginLimiter{
		cache:       c,
		maxAttempts: maxAttempts,
		window:      window,
	}
}

// Window returns the configured window length, used for Retry-After hints
func (l *LoginLimiter) Window() time.Duration {
	return l.window
}

// Blocked reports whether the account has exhausted its attempts for the
// current window and how many attempts remain. A counter-store failure fails
// open: blocking every login because the counter store is down would turn a
// cache outage into a full login outage.
func (l *LoginLimiter) Blocked(ctx context.Context, account string) (blocked bool, remaining int64) {
	n, err := l.cache.Count(ctx, l.key(account))
	if err != nil {
		if err != cache.ErrCacheMiss {
			log.Warn().Err(err).Msg("Failed to read login attempt counter")
		}
		return false, l.maxAttempts
	}
	remaining = l.maxAttempts - n
	if remaining < 0 {
		remaining = 0
	}
	return n >= l.maxAttempts, remaining
}

// RecordFailure counts one failed attempt and returns how many remain
func (l *LoginLimiter) RecordFailure(ctx context.Context, account string) (remaining int64) {
	n, err := l.cache.Increment(ctx, l.key(account), l.window)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to record login attempt")
		return l.maxAttempts
	}
	remaining = l.maxAttempts - n
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset clears the account's counter after a successful login
func (l *LoginLimiter) Reset(ctx context.Context, account string) {
	if err := l.cache.Delete(ctx, l.key(account)); err != nil {
		log.Warn().Err(err).Msg("Failed to reset login attempt counter")
	}
}

func (l *LoginLimiter) key(account string) string {
	return keyPrefix + strings.ToLower(account)
}
