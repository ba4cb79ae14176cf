package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net/http"
	"time"

	"github.com/JakeFAU/bssid-geolocator/internal/wloc"
)

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy with sane defaults.
func NewExponentialRetryPolicy() *ExponentialRetryPolicy {
	return &ExponentialRetryPolicy{
		maxAttempts: 3,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// NewRetryPolicy builds a policy from cfg, falling back to the defaults for
// non-positive delays. MaxRetries 0 disables in-line retries.
func NewRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	p := NewExponentialRetryPolicy()
	if cfg.MaxRetries >= 0 {
		p.maxAttempts = cfg.MaxRetries
	}
	if cfg.BaseDelay > 0 {
		p.baseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.maxDelay = cfg.MaxDelay
	}
	return p
}

// ShouldRetry decides whether the error is retryable. Only transient
// location service failures qualify: TLS failures and client errors other
// than 429 will not improve on a second try.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, wloc.ErrBodyTooLarge) {
		return false
	}
	var netErr *wloc.NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	switch netErr.Kind {
	case wloc.KindTLS:
		return false
	case wloc.KindStatus:
		return netErr.StatusCode == http.StatusTooManyRequests || netErr.StatusCode >= 500
	default:
		return true
	}
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
