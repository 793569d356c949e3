package cache

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/dentflow/offgate/internal/offgate"
)

func testConfig() offgate.Config {
	return offgate.Config{VersionToken: "v2", CachePrefix: "dentflow"}
}

func newTestCache(t *testing.T) (*Cache, string) {
	t.Helper()

	base := t.TempDir()
	c, err := New(base, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, base
}

func testResponse(body string) *offgate.CapturedResponse {
	header := http.Header{}
	header.Set("Content-Type", "text/html")
	return &offgate.CapturedResponse{
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     header,
		Body:       []byte(body),
	}
}

func TestStoreLoadRoundtrip(t *testing.T) {
	c, _ := newTestCache(t)
	k := offgate.KeyFor(http.MethodGet, "https://portal.dentflow.app/jobs")

	if err := c.Store(Dynamic, k, testResponse("<html>jobs</html>")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	cr, err := c.Load(Dynamic, k)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cr.StatusCode != http.StatusOK || cr.Status != "200 OK" {
		t.Errorf("status not preserved: %d %q", cr.StatusCode, cr.Status)
	}
	if got := cr.Header.Get("Content-Type"); got != "text/html" {
		t.Errorf("header not preserved: %q", got)
	}
	if string(cr.Body) != "<html>jobs</html>" {
		t.Errorf("body not preserved: %q", cr.Body)
	}
}

func TestLoadMissing(t *testing.T) {
	c, _ := newTestCache(t)
	k := offgate.KeyFor(http.MethodGet, "/missing")

	if _, err := c.Load(Static, k); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if c.Has(Static, k) {
		t.Error("Has should be false for a missing entry")
	}
}

func TestMatchPartitionOrder(t *testing.T) {
	c, _ := newTestCache(t)
	k := offgate.KeyFor(http.MethodGet, "/page")

	if err := c.Store(API, k, testResponse("from api")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	cr, p, ok := c.Match(k)
	if !ok || p != API {
		t.Fatalf("Match = %v partition %v", ok, p)
	}
	if string(cr.Body) != "from api" {
		t.Errorf("body = %q", cr.Body)
	}

	if err := c.Store(Static, k, testResponse("from static")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	cr, p, ok = c.Match(k)
	if !ok || p != Static {
		t.Fatalf("static entry should win, got partition %v", p)
	}
	if string(cr.Body) != "from static" {
		t.Errorf("body = %q", cr.Body)
	}
}

func TestRemove(t *testing.T) {
	c, _ := newTestCache(t)
	k := offgate.KeyFor(http.MethodGet, "/page")

	if err := c.Remove(Dynamic, k); err != nil {
		t.Errorf("removing a missing entry should not fail: %v", err)
	}

	if err := c.Store(Dynamic, k, testResponse("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := c.Remove(Dynamic, k); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if c.Has(Dynamic, k) {
		t.Error("entry should be gone")
	}
}

func TestSweep(t *testing.T) {
	c, base := newTestCache(t)

	k := offgate.KeyFor(http.MethodGet, "/")
	if err := c.Store(Static, k, testResponse("shell")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	// Partitions from an older version and an unrelated application.
	for _, dir := range []string{"dentflow-v1-static", "dentflow-v1-api", "other-app-cache"} {
		if err := os.MkdirAll(filepath.Join(base, dir), 0700); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := c.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %v, want the two v1 partitions", removed)
	}

	if _, err := os.Stat(filepath.Join(base, "other-app-cache")); err != nil {
		t.Error("foreign directory must survive the sweep")
	}
	if _, err := os.Stat(filepath.Join(base, "dentflow-v1-static")); !os.IsNotExist(err) {
		t.Error("stale partition must be deleted")
	}

	// Activating twice with the same version must be a no-op on contents.
	removed, err = c.Sweep()
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if len(removed) != 0 {
		t.Errorf("second sweep removed %v", removed)
	}
	if !c.Has(Static, k) {
		t.Error("current partition contents must survive activation")
	}
}
