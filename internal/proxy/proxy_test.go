package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/dentflow/offgate/internal/cache"
	"github.com/dentflow/offgate/internal/offgate"
	"github.com/dentflow/offgate/internal/store"
	"github.com/pkg/errors"
)

// unplugged simulates a lost network.
type unplugged struct{}

func (unplugged) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func testConfig(origin string) offgate.Config {
	return offgate.Config{
		VersionToken:        "v1",
		CachePrefix:         "dentflow",
		Origin:              origin,
		APIPathPrefix:       "/api/",
		OfflineFallbackPath: "/offline.html",
		ReportEndpoint:      "/api/reports",
		PortalRoot:          "/portal/",
	}
}

// newTestFetcher builds a fetcher with a fresh cache and in-memory store.
// The returned cache and config are shared so tests can build a second,
// unplugged fetcher over the same state.
func newTestFetcher(t *testing.T, origin string, transport http.RoundTripper) (*Fetcher, *cache.Cache, *store.Store, offgate.Config) {
	t.Helper()

	cfg := testConfig(origin)
	c, err := cache.New(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}

	st := store.New(":memory:")
	t.Cleanup(func() { st.Close() })

	f, err := New(cfg, c, st, transport)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f, c, st, cfg
}

func unpluggedFetcher(t *testing.T, cfg offgate.Config, c *cache.Cache, st *store.Store) *Fetcher {
	t.Helper()

	f, err := New(cfg, c, st, unplugged{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func get(t *testing.T, f *Fetcher, url string, header http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if header != nil {
		req.Header = header
	}

	resp, err := f.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip %s: %v", url, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	return string(body)
}

func TestCacheFirstPrecedence(t *testing.T) {
	var hits int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.Write([]byte("the jobs page"))
	}))
	defer upstream.Close()

	f, c, _, _ := newTestFetcher(t, upstream.URL, nil)

	resp := get(t, f, upstream.URL+"/jobs", nil)
	if body := readBody(t, resp); body != "the jobs page" {
		t.Errorf("body = %q", body)
	}

	k := offgate.KeyFor(http.MethodGet, upstream.URL+"/jobs")
	if !c.Has(cache.Dynamic, k) {
		t.Error("successful same-origin 200 must be captured into the dynamic partition")
	}

	resp = get(t, f, upstream.URL+"/jobs", nil)
	if body := readBody(t, resp); body != "the jobs page" {
		t.Errorf("cached body = %q", body)
	}
	if n := atomic.LoadInt64(&hits); n != 1 {
		t.Errorf("upstream hit %d times, cached entry must answer without the network", n)
	}
}

func TestCacheFirstDoesNotCacheNon200(t *testing.T) {
	var hits int64
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	f, c, _, _ := newTestFetcher(t, upstream.URL, nil)

	resp := get(t, f, upstream.URL+"/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	k := offgate.KeyFor(http.MethodGet, upstream.URL+"/nope")
	if c.Has(cache.Dynamic, k) {
		t.Error("non-200 responses must not be cached")
	}

	resp = get(t, f, upstream.URL+"/nope", nil)
	_ = resp.Body.Close()
	if n := atomic.LoadInt64(&hits); n != 2 {
		t.Errorf("upstream hit %d times, want 2", n)
	}
}

func TestCacheFirstOfflineDocument(t *testing.T) {
	f, c, _, cfg := newTestFetcher(t, "http://portal.local", unplugged{})

	// Precached offline page, as install would leave it.
	fallback := &offgate.CapturedResponse{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte("<html>you are offline</html>"),
	}
	fk := offgate.KeyFor(http.MethodGet, cfg.Origin+cfg.OfflineFallbackPath)
	if err := c.Store(cache.Static, fk, fallback); err != nil {
		t.Fatalf("Store: %v", err)
	}

	header := http.Header{}
	header.Set("Sec-Fetch-Dest", "document")
	resp := get(t, f, cfg.Origin+"/portal/jobs", header)
	if body := readBody(t, resp); body != "<html>you are offline</html>" {
		t.Errorf("document fetch should fall back to the offline page, got %q", body)
	}

	// A subresource gets an empty 503 instead.
	resp = get(t, f, cfg.Origin+"/static/js/app.js", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "" {
		t.Errorf("subresource fallback body = %q, want empty", body)
	}
}

func TestNetworkFirstCachesSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jobs":[1,2,3]}`))
	}))
	defer upstream.Close()

	f, c, st, cfg := newTestFetcher(t, upstream.URL, nil)

	resp := get(t, f, upstream.URL+"/api/jobs", nil)
	if body := readBody(t, resp); body != `{"jobs":[1,2,3]}` {
		t.Errorf("body = %q", body)
	}
	if resp.Header.Get(offgate.HeaderFromCache) != "" {
		t.Error("live responses must not carry the provenance header")
	}

	k := offgate.KeyFor(http.MethodGet, upstream.URL+"/api/jobs")
	if !c.Has(cache.API, k) {
		t.Fatal("successful API response must be captured into the API partition")
	}

	// Same request with the network gone: same status and body, plus the
	// provenance header.
	off := unpluggedFetcher(t, cfg, c, st)
	resp = get(t, off, upstream.URL+"/api/jobs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want cached 200", resp.StatusCode)
	}
	if resp.Header.Get(offgate.HeaderFromCache) != "true" {
		t.Error("cached fallback must carry X-From-Cache: true")
	}
	if body := readBody(t, resp); body != `{"jobs":[1,2,3]}` {
		t.Errorf("cached body = %q", body)
	}
}

func TestNetworkFirstMiss(t *testing.T) {
	f, _, _, _ := newTestFetcher(t, "http://portal.local", unplugged{})

	resp := get(t, f, "http://portal.local/api/storms", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &envelope); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if envelope["error"] != "Offline" {
		t.Errorf("error = %v", envelope["error"])
	}
	if _, ok := envelope["message"].(string); !ok {
		t.Errorf("message = %v", envelope["message"])
	}
	if envelope["offline"] != true {
		t.Errorf("offline = %v", envelope["offline"])
	}
}

func TestPartitionIsolation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	f, c, _, _ := newTestFetcher(t, upstream.URL, nil)

	resp := get(t, f, upstream.URL+"/api/jobs", nil)
	_ = resp.Body.Close()
	ak := offgate.KeyFor(http.MethodGet, upstream.URL+"/api/jobs")
	if !c.Has(cache.API, ak) {
		t.Error("API response missing from API partition")
	}
	if c.Has(cache.Dynamic, ak) || c.Has(cache.Static, ak) {
		t.Error("API response leaked into a page partition")
	}

	resp = get(t, f, upstream.URL+"/jobs", nil)
	_ = resp.Body.Close()
	pk := offgate.KeyFor(http.MethodGet, upstream.URL+"/jobs")
	if !c.Has(cache.Dynamic, pk) {
		t.Error("page response missing from dynamic partition")
	}
	if c.Has(cache.API, pk) || c.Has(cache.Static, pk) {
		t.Error("page response leaked into the API or static partition")
	}
}

func TestMutationQueueOptIn(t *testing.T) {
	f, _, st, cfg := newTestFetcher(t, "http://portal.local", unplugged{})

	body := []byte(`{"claim":"C-100"}`)
	req, err := http.NewRequest(http.MethodPost, cfg.Origin+"/api/claims", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(offgate.HeaderQueueOffline, "true")
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.RoundTrip(req)
	if err != nil {
		t.Fatalf("opted-in mutation should be queued, not failed: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	var ack offgate.QueuedAck
	if err := json.Unmarshal([]byte(readBody(t, resp)), &ack); err != nil {
		t.Fatalf("ack is not JSON: %v", err)
	}
	if !ack.Queued || ack.ID == 0 {
		t.Errorf("ack = %+v", ack)
	}

	actions, err := st.PendingActions(req.Context())
	if err != nil {
		t.Fatalf("PendingActions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("expected 1 queued action, got %d", len(actions))
	}
	if actions[0].Method != http.MethodPost || string(actions[0].Body) != string(body) {
		t.Errorf("queued action = %+v", actions[0])
	}
}

func TestOfflineReportQueuedSeparately(t *testing.T) {
	f, _, st, cfg := newTestFetcher(t, "http://portal.local", unplugged{})

	body := []byte(`{"vehicle":"F-150","dents":42}`)
	req, err := http.NewRequest(http.MethodPost, cfg.Origin+cfg.ReportEndpoint, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(offgate.HeaderQueueOffline, "true")

	resp, err := f.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
	_ = resp.Body.Close()

	reports, err := st.OfflineReports(req.Context())
	if err != nil {
		t.Fatalf("OfflineReports: %v", err)
	}
	if len(reports) != 1 || string(reports[0].Data) != string(body) {
		t.Fatalf("reports = %+v", reports)
	}

	n, err := st.PendingActionCount(req.Context())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("report must not land in the pending-action queue, depth = %d", n)
	}
}

func TestMutationWithoutOptInFails(t *testing.T) {
	f, _, st, cfg := newTestFetcher(t, "http://portal.local", unplugged{})

	req, err := http.NewRequest(http.MethodDelete, cfg.Origin+"/api/jobs/7", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.RoundTrip(req); err == nil {
		t.Error("without the opt-in header the failure must surface")
	}

	n, err := st.PendingActionCount(req.Context())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("queue depth = %d, want 0", n)
	}
}

func TestNonHTTPSchemePassesThrough(t *testing.T) {
	var seen string
	recorder := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = req.URL.String()
		return &http.Response{
			StatusCode: http.StatusOK,
			Status:     "200 OK",
			Header:     http.Header{},
			Body:       io.NopCloser(bytes.NewReader(nil)),
		}, nil
	})

	f, c, _, _ := newTestFetcher(t, "http://portal.local", recorder)

	req, err := http.NewRequest(http.MethodGet, "chrome-extension://abcdef/state.json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if seen != "chrome-extension://abcdef/state.json" {
		t.Errorf("request was rewritten: %q", seen)
	}
	k := offgate.KeyFor(http.MethodGet, seen)
	if c.Has(cache.Dynamic, k) {
		t.Error("non-http schemes must never be cached")
	}
}

func TestHandlerFront(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello from origin"))
	}))
	defer upstream.Close()

	f, _, _, cfg := newTestFetcher(t, upstream.URL, nil)

	front, err := NewHandler(f, cfg.Origin)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	rec := httptest.NewRecorder()
	front.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/portal/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Body.String() != "hello from origin" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
