package wloc

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bssid-geolocator/internal/metrics"
)

const (
	// DefaultEndpoint is the location service URL.
	DefaultEndpoint = "https://gs-loc.apple.com/clls/wloc"
	// DefaultUserAgent mimics the system location daemon.
	DefaultUserAgent = "locationd/1753.17 CFNetwork/711.1.12 Darwin/14.0.0"
	// DefaultTimeout bounds a single exchange.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxResponseBytes caps the body read from the service. Larger
	// bodies fail with ErrBodyTooLarge.
	DefaultMaxResponseBytes int64 = 4 << 20
)

// ClientConfig controls the HTTP exchange.
type ClientConfig struct {
	Endpoint         string
	UserAgent        string
	Timeout          time.Duration
	MaxResponseBytes int64
	// InsecureSkipVerify disables certificate validation for this client only.
	InsecureSkipVerify bool
}

// Client posts encoded requests to the location service.
type Client struct {
	cfg    ClientConfig
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a Client with its own transport.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in workaround for this endpoint
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("certificate validation disabled for location service", zap.String("endpoint", cfg.Endpoint))
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger: logger,
	}
}

// NewClientWithHTTP wires a caller-supplied http.Client (primarily for testing).
func NewClientWithHTTP(cfg ClientConfig, httpClient *http.Client, logger *zap.Logger) *Client {
	c := NewClient(cfg, logger)
	if httpClient != nil {
		c.http = httpClient
	}
	return c
}

// Send performs one POST and returns the raw response body. Every failure is
// a *NetworkError.
func (c *Client) Send(ctx context.Context, body []byte) ([]byte, error) {
	start := time.Now()
	raw, err := c.send(ctx, body)
	outcome := "ok"
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		outcome = string(netErr.Kind)
	}
	metrics.ObserveServiceRequest(outcome, time.Since(start))
	return raw, err
}

func (c *Client) send(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Kind: KindConnection, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Charset", "utf-8")
	req.Header.Set("Accept-Language", "en-us")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &NetworkError{Kind: KindStatus, StatusCode: resp.StatusCode}
	}
	// One byte past the cap tells an oversized body from an exact fit.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxResponseBytes+1))
	if err != nil {
		nerr := classify(err)
		if nerr.Kind == KindConnection {
			nerr.Kind = KindRead
		}
		return nil, nerr
	}
	if int64(len(raw)) > c.cfg.MaxResponseBytes {
		return nil, &NetworkError{
			Kind: KindRead,
			Err:  fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.cfg.MaxResponseBytes),
		}
	}
	return raw, nil
}

func classify(err error) *NetworkError {
	var (
		certErr     *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostErr     x509.HostnameError
		invalidErr  x509.CertificateInvalidError
		recordErr   tls.RecordHeaderError
		netErr      net.Error
	)
	switch {
	case errors.As(err, &certErr),
		errors.As(err, &unknownAuth),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr),
		errors.As(err, &recordErr):
		return &NetworkError{Kind: KindTLS, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &NetworkError{Kind: KindTimeout, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &NetworkError{Kind: KindTimeout, Err: err}
	default:
		return &NetworkError{Kind: KindConnection, Err: err}
	}
}
