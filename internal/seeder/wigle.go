// Package seeder imports access points from the WiGLE network search API
// into the frontier as already-located, unprocessed records.
package seeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrMissingCredentials is returned when the username or API key is empty.
var ErrMissingCredentials = errors.New("wigle username and api key are required")

// APIError reports a non-200 status or an unsuccessful search response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wigle api http %d: %s", e.StatusCode, e.Message)
	}
	return "wigle api: " + e.Message
}

// BBox is a latitude/longitude search rectangle.
type BBox struct {
	LatMin float64
	LatMax float64
	LonMin float64
	LonMax float64
}

// Validate rejects inverted or out-of-range boxes.
func (b BBox) Validate() error {
	if b.LatMin < -90 || b.LatMax > 90 || b.LatMin >= b.LatMax {
		return fmt.Errorf("latitude range %v..%v is invalid", b.LatMin, b.LatMax)
	}
	if b.LonMin < -180 || b.LonMax > 180 || b.LonMin >= b.LonMax {
		return fmt.Errorf("longitude range %v..%v is invalid", b.LonMin, b.LonMax)
	}
	return nil
}

// Network is one search result.
type Network struct {
	NetID   string  `json:"netid"`
	SSID    string  `json:"ssid"`
	TriLat  float64 `json:"trilat"`
	TriLong float64 `json:"trilong"`
}

// Page is one page of search results.
type Page struct {
	Success      bool      `json:"success"`
	Message      string    `json:"message"`
	TotalResults int       `json:"totalResults"`
	SearchAfter  string    `json:"searchAfter"`
	Results      []Network `json:"results"`
}

// Cursor positions a page request.
type Cursor struct {
	First       int
	SearchAfter string
}

// ClientConfig configures the WiGLE client. Credentials come from
// configuration or the environment, never from source.
type ClientConfig struct {
	Endpoint string
	Username string
	APIKey   string
	PageSize int
	Timeout  time.Duration
}

// Client performs authenticated network searches.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

// NewClient validates credentials and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Username == "" || cfg.APIKey == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}, nil
}

// Search fetches the page at cur inside box.
func (c *Client) Search(ctx context.Context, box BBox, cur Cursor) (Page, error) {
	q := url.Values{}
	q.Set("latrange1", strconv.FormatFloat(box.LatMin, 'f', -1, 64))
	q.Set("latrange2", strconv.FormatFloat(box.LatMax, 'f', -1, 64))
	q.Set("longrange1", strconv.FormatFloat(box.LonMin, 'f', -1, 64))
	q.Set("longrange2", strconv.FormatFloat(box.LonMax, 'f', -1, 64))
	q.Set("resultsPerPage", strconv.Itoa(c.cfg.PageSize))
	q.Set("freenet", "false")
	q.Set("paynet", "false")
	q.Set("first", strconv.Itoa(cur.First))
	if cur.SearchAfter != "" {
		q.Set("searchAfter", cur.SearchAfter)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("build wigle request: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("wigle search: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return Page{}, fmt.Errorf("read wigle response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Page{}, &APIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}
	var page Page
	if err := json.Unmarshal(body, &page); err != nil {
		return Page{}, fmt.Errorf("decode wigle response: %w", err)
	}
	if !page.Success && page.Message != "" {
		return Page{}, &APIError{Message: page.Message}
	}
	return page, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
