package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bssid-geolocator/internal/wloc"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy()
	status := func(code int) error {
		return &wloc.NetworkError{Kind: wloc.KindStatus, StatusCode: code}
	}

	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "timeout", err: &wloc.NetworkError{Kind: wloc.KindTimeout}, want: true},
		{name: "connection", err: &wloc.NetworkError{Kind: wloc.KindConnection}, want: true},
		{name: "wrapped connection", err: fmt.Errorf("send: %w", &wloc.NetworkError{Kind: wloc.KindRead}), want: true},
		{name: "tls", err: &wloc.NetworkError{Kind: wloc.KindTLS}, want: false},
		{name: "oversized body", err: &wloc.NetworkError{Kind: wloc.KindRead, Err: wloc.ErrBodyTooLarge}, want: false},
		{name: "server error", err: status(http.StatusBadGateway), want: true},
		{name: "too many requests", err: status(http.StatusTooManyRequests), want: true},
		{name: "client error", err: status(http.StatusForbidden), want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "unrelated", err: errors.New("boom"), want: false},
		{name: "budget spent", err: &wloc.NetworkError{Kind: wloc.KindTimeout}, attempt: 3, want: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestExponentialRetryPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(RetryConfig{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second})
	for attempt := 0; attempt < 8; attempt++ {
		d := p.Backoff(attempt)
		full := 100 * time.Millisecond << attempt
		if full > time.Second {
			full = time.Second
		}
		require.GreaterOrEqual(t, d, full/2)
		require.LessOrEqual(t, d, full)
	}
}

func TestNewRetryPolicyZeroRetries(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(RetryConfig{MaxRetries: 0})
	require.False(t, p.ShouldRetry(&wloc.NetworkError{Kind: wloc.KindTimeout}, 0))
}
