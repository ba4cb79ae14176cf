// Package enrich resolves access point manufacturers from a MAC vendor
// lookup service and stores them beside each record.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnknown reports that the lookup service has no vendor for a MAC.
var ErrUnknown = errors.New("vendor unknown")

// StatusError is returned for responses other than 200 and 404.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vendor lookup returned http %d", e.StatusCode)
}

// ClientConfig configures the lookup client.
type ClientConfig struct {
	// Endpoint is the lookup prefix; the MAC is appended verbatim.
	Endpoint  string
	Timeout   time.Duration
	UserAgent string
}

// Client queries a macvendors-style API: GET {endpoint}{mac} answers 200
// with the vendor name as plain text or 404 when unknown.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient builds a Client with its own http.Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Lookup returns the vendor name for mac.
func (c *Client) Lookup(ctx context.Context, mac string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+mac, nil)
	if err != nil {
		return "", fmt.Errorf("build vendor request: %w", err)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("vendor lookup %s: %w", mac, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrUnknown
	default:
		return "", &StatusError{StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return "", fmt.Errorf("read vendor response: %w", err)
	}
	name := strings.TrimSpace(string(body))
	if name == "" {
		return "", ErrUnknown
	}
	return name, nil
}
