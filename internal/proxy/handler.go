package proxy

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/dentflow/offgate/internal/cache"
	"github.com/dentflow/offgate/internal/offgate"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NewHandler builds the HTTP front portal pages talk to. Incoming requests
// are rewritten onto origin and answered through rt, which is either a
// Fetcher or the worker dispatching Fetch events.
func NewHandler(rt http.RoundTripper, origin string) (http.Handler, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return nil, errors.Wrap(err, "url.Parse")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		out := r.Clone(r.Context())
		out.URL.Scheme = u.Scheme
		out.URL.Host = u.Host
		out.Host = u.Host
		out.RequestURI = ""

		resp, err := rt.RoundTrip(out)
		if err != nil {
			log.Warnf("fetch %s %s: %v", r.Method, r.URL.Path, err)
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		for name, values := range resp.Header {
			for _, v := range values {
				w.Header().Add(name, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			log.Debugf("copy response for %s: %v", r.URL.Path, err)
		}
	}), nil
}

// PrecacheAsset fetches one app-shell asset from the origin and stores it in
// the STATIC partition. Non-200 answers are treated as a failed fetch.
func (f *Fetcher) PrecacheAsset(ctx context.Context, path string) error {
	target := f.cfg.Origin + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, "http.NewRequest")
	}

	resp, err := f.transport.RoundTrip(req)
	if err != nil {
		return errors.Wrap(err, "fetch asset")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return errors.Errorf("fetch asset %s: status %d", path, resp.StatusCode)
	}

	cr, err := offgate.Capture(resp)
	if err != nil {
		return err
	}
	return f.cache.Store(cache.Static, offgate.KeyFor(http.MethodGet, target), cr)
}

// RefreshAPI fetches an API GET from the network and, on success, replaces
// the entry in the API partition. This is the read-refresh path used by the
// periodic trigger; it never touches the mutation queues.
func (f *Fetcher) RefreshAPI(ctx context.Context, path string) (*offgate.CapturedResponse, error) {
	target := f.cfg.Origin + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, "http.NewRequest")
	}

	resp, err := f.transport.RoundTrip(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, errors.Errorf("refresh %s: status %d", path, resp.StatusCode)
	}

	cr, err := offgate.Capture(resp)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Store(cache.API, offgate.KeyFor(http.MethodGet, target), cr); err != nil {
		return nil, err
	}
	return cr, nil
}
