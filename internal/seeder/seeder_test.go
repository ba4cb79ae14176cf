package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bssid-geolocator/internal/frontier/memory"
)

var pakistan = BBox{LatMin: 23.5, LatMax: 37.3, LonMin: 60.9, LonMax: 77.0}

func TestSeederPagesAndCanonicalizes(t *testing.T) {
	t.Parallel()

	api := newFakeWigle(250)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientConfig{Endpoint: srv.URL, Username: "user", APIKey: "key", PageSize: 100, Timeout: time.Second})
	require.NoError(t, err)
	store := memory.New()

	sum, err := New(client, store, nil, srv.URL, nil).Run(context.Background(), pakistan, 230)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Pages)
	require.Equal(t, 230, sum.Fetched)
	require.Equal(t, int64(230), sum.Inserted)
	require.Equal(t, []int{0, 100, 200}, api.Firsts())

	rec, err := store.Get(context.Background(), "0a:00:00:00:00:05")
	require.NoError(t, err)
	require.False(t, rec.Processed)
	require.NotNil(t, rec.Location)
	require.InDelta(t, 30.05, rec.Location.Lat, 1e-9)

	q := api.LastQuery()
	require.Equal(t, "23.5", q.Get("latrange1"))
	require.Equal(t, "37.3", q.Get("latrange2"))
	require.Equal(t, "60.9", q.Get("longrange1"))
	require.Equal(t, "77", q.Get("longrange2"))
	require.Equal(t, "100", q.Get("resultsPerPage"))
	require.Equal(t, "false", q.Get("freenet"))
	require.Equal(t, "false", q.Get("paynet"))
	require.Equal(t, "cursor-200", q.Get("searchAfter"))
}

func TestSeederStopsOnEmptyPageAndIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	api := newFakeWigle(120)
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{Endpoint: srv.URL, Username: "user", APIKey: "key"})
	require.NoError(t, err)

	store := memory.New()
	_, err = store.Seed(context.Background(), "0a:00:00:00:00:00")
	require.NoError(t, err)

	sum, err := New(client, store, nil, "", nil).Run(context.Background(), pakistan, 1000)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Pages)
	require.Equal(t, 120, sum.Fetched)
	require.Equal(t, int64(119), sum.Inserted)
}

func TestSeederSkipsInvalidNetIDs(t *testing.T) {
	t.Parallel()

	search := staticSearcher{pages: []Page{{Success: true, Results: []Network{
		{NetID: "AA:BB:CC:DD:EE:F", TriLat: 24, TriLong: 67},
		{NetID: "not a mac", TriLat: 24, TriLong: 67},
	}}}}
	store := memory.New()

	sum, err := New(search, store, nil, "", nil).Run(context.Background(), pakistan, 10)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Invalid)
	require.Equal(t, int64(1), sum.Inserted)

	_, err = store.Get(context.Background(), "aa:bb:cc:dd:ee:0f")
	require.NoError(t, err)
}

func TestSeederKeepsImportedPagesOnAPIError(t *testing.T) {
	t.Parallel()

	api := newFakeWigle(300)
	api.failAt = 100
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{Endpoint: srv.URL, Username: "user", APIKey: "key"})
	require.NoError(t, err)
	store := memory.New()

	sum, err := New(client, store, nil, "", nil).Run(context.Background(), pakistan, 300)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Equal(t, int64(100), sum.Inserted)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(100), stats.Total)
}

func TestClientRejectsBadCredentials(t *testing.T) {
	t.Parallel()

	_, err := NewClient(ClientConfig{Endpoint: "http://example.invalid", Username: "user"})
	require.ErrorIs(t, err, ErrMissingCredentials)

	srv := httptest.NewServer(newFakeWigle(10))
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{Endpoint: srv.URL, Username: "user", APIKey: "wrong"})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), pakistan, Cursor{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestClientReportsUnsuccessfulSearch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"too many queries today"}`))
	}))
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientConfig{Endpoint: srv.URL, Username: "user", APIKey: "key"})
	require.NoError(t, err)

	_, err = client.Search(context.Background(), pakistan, Cursor{})
	require.ErrorContains(t, err, "too many queries today")
}

func TestBBoxValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, pakistan.Validate())
	require.Error(t, BBox{LatMin: 10, LatMax: 5, LonMin: 0, LonMax: 1}.Validate())
	require.Error(t, BBox{LatMin: 0, LatMax: 1, LonMin: -200, LonMax: 1}.Validate())

	_, err := New(staticSearcher{}, memory.New(), nil, "", nil).Run(context.Background(), BBox{}, 10)
	require.Error(t, err)
}

// fakeWigle serves total synthetic networks, paged by the first parameter.
type fakeWigle struct {
	total  int
	failAt int

	mu     sync.Mutex
	firsts []int
	last   url.Values
}

func newFakeWigle(total int) *fakeWigle {
	return &fakeWigle{total: total, failAt: -1}
}

func (f *fakeWigle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "user" || pass != "key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	first, _ := strconv.Atoi(q.Get("first"))
	perPage, _ := strconv.Atoi(q.Get("resultsPerPage"))

	f.mu.Lock()
	f.firsts = append(f.firsts, first)
	f.last = q
	f.mu.Unlock()

	if first == f.failAt {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
		return
	}

	page := Page{Success: true, TotalResults: f.total}
	for i := first; i < f.total && i < first+perPage; i++ {
		page.Results = append(page.Results, Network{
			NetID:   fmt.Sprintf("A:0:0:0:0:%X", i),
			TriLat:  30 + float64(i)/100,
			TriLong: 70,
		})
	}
	if len(page.Results) > 0 {
		page.SearchAfter = fmt.Sprintf("cursor-%d", first+len(page.Results))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page)
}

func (f *fakeWigle) Firsts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.firsts...)
}

func (f *fakeWigle) LastQuery() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type staticSearcher struct {
	pages []Page
}

func (s staticSearcher) Search(_ context.Context, _ BBox, cur Cursor) (Page, error) {
	if len(s.pages) == 0 || cur.First > 0 {
		return Page{Success: true}, nil
	}
	return s.pages[0], nil
}
