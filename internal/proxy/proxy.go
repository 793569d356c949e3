// Package proxy implements the gateway's request handling: every outbound
// request is classified and answered cache-first, network-first or passed
// through untouched, mirroring the strategy split of the portal's offline
// layer.
package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dentflow/offgate/internal/cache"
	"github.com/dentflow/offgate/internal/offgate"
	"github.com/dentflow/offgate/internal/store"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Fetcher answers requests from cache and network according to the
// per-request-class policy. It implements http.RoundTripper so it can stand
// in for a transport wherever portal traffic originates.
type Fetcher struct {
	cfg        offgate.Config
	cache      *cache.Cache
	store      *store.Store
	transport  http.RoundTripper
	origin     *url.URL
	originHost string
}

// New returns a Fetcher forwarding cache misses through transport. A nil
// transport selects http.DefaultTransport.
func New(cfg offgate.Config, c *cache.Cache, s *store.Store, transport http.RoundTripper) (*Fetcher, error) {
	if transport == nil {
		transport = http.DefaultTransport
	}

	origin, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, errors.Wrap(err, "url.Parse")
	}

	return &Fetcher{
		cfg:        cfg,
		cache:      c,
		store:      s,
		transport:  transport,
		origin:     origin,
		originHost: origin.Host,
	}, nil
}

// RoundTrip classifies req and applies the matching strategy:
//
//   - non-http(s) schemes are never intercepted
//   - non-GET requests pass straight through (queued on failure when the
//     caller opted into deferred delivery)
//   - GETs below the API prefix are handled network-first
//   - every other GET is handled cache-first
func (f *Fetcher) RoundTrip(req *http.Request) (*http.Response, error) {
	if s := req.URL.Scheme; s != "" && s != "http" && s != "https" {
		return f.transport.RoundTrip(req)
	}

	if req.Method != http.MethodGet {
		return f.passThrough(req)
	}

	if f.cfg.IsAPIPath(req.URL.Path) {
		return f.networkFirst(req)
	}

	return f.cacheFirst(req)
}

// cacheFirst serves a cached entry from any partition when present; only a
// miss reaches the network. Successful same-origin 200s are captured into
// the DYNAMIC partition on the way back.
func (f *Fetcher) cacheFirst(req *http.Request) (*http.Response, error) {
	k := offgate.KeyFor(req.Method, req.URL.String())

	if cr, p, ok := f.cache.Match(k); ok {
		log.Debugf("cache hit for %v in %v partition", k.Str(), p)
		return cr.Response(req), nil
	}

	resp, err := f.transport.RoundTrip(req)
	if err != nil {
		log.Infof("network failure for %s %s: %v", req.Method, req.URL, err)
		return f.offlineFallback(req), nil
	}

	if resp.StatusCode != http.StatusOK || !f.sameOrigin(req.URL) {
		return resp, nil
	}

	cr, err := offgate.Capture(resp)
	if err != nil {
		return nil, err
	}
	if err := f.cache.Store(cache.Dynamic, k, cr); err != nil {
		log.Warnf("cannot cache %v: %v", k.Str(), err)
	}
	return cr.Response(req), nil
}

// networkFirst prefers live data and degrades to the last captured API
// response, flagged with the provenance header, when the network fails.
func (f *Fetcher) networkFirst(req *http.Request) (*http.Response, error) {
	k := offgate.KeyFor(req.Method, req.URL.String())

	resp, err := f.transport.RoundTrip(req)
	if err == nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp, nil
		}

		cr, err := offgate.Capture(resp)
		if err != nil {
			return nil, err
		}
		if err := f.cache.Store(cache.API, k, cr); err != nil {
			log.Warnf("cannot cache %v: %v", k.Str(), err)
		}
		return cr.Response(req), nil
	}

	log.Infof("network failure for %s %s: %v", req.Method, req.URL, err)

	cr, lerr := f.cache.Load(cache.API, k)
	if lerr == nil {
		resp := cr.Response(req)
		resp.Header.Set(offgate.HeaderFromCache, "true")
		return resp, nil
	}

	return offlineJSON(req), nil
}

// passThrough forwards a non-GET request unmodified. When the caller opted
// into deferred delivery and the network is down, the request is queued as a
// pending action instead and acknowledged with 202.
func (f *Fetcher) passThrough(req *http.Request) (*http.Response, error) {
	deferrable := strings.EqualFold(req.Header.Get(offgate.HeaderQueueOffline), "true")

	var body []byte
	if deferrable && req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "read request body")
		}
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
	}

	resp, err := f.transport.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if !deferrable {
		return nil, err
	}

	// Report submissions go into their own queue: replay always targets the
	// fixed report endpoint and confirms delivery with a notification.
	if req.Method == http.MethodPost && req.URL.Path == f.cfg.ReportEndpoint {
		id, qerr := f.store.AddOfflineReport(req.Context(), offgate.OfflineReport{Data: body})
		if qerr != nil {
			log.Warnf("cannot queue report: %v", qerr)
			return nil, err
		}
		log.Infof("queued offline report %d", id)
		return queuedResponse(req, id), nil
	}

	id, qerr := f.store.AddPendingAction(req.Context(), offgate.PendingAction{
		URL:    req.URL.String(),
		Method: req.Method,
		Header: req.Header.Clone(),
		Body:   body,
	})
	if qerr != nil {
		log.Warnf("cannot queue %s %s: %v", req.Method, req.URL, qerr)
		return nil, err
	}

	log.Infof("queued %s %s as pending action %d", req.Method, req.URL, id)
	return queuedResponse(req, id), nil
}

// offlineFallback answers a failed page fetch: the cached offline page for
// document requests, an empty 503 for everything else.
func (f *Fetcher) offlineFallback(req *http.Request) *http.Response {
	if isDocument(req) {
		fk := offgate.KeyFor(http.MethodGet, f.cfg.Origin+f.cfg.OfflineFallbackPath)
		if cr, _, ok := f.cache.Match(fk); ok {
			return cr.Response(req)
		}
	}
	return emptyUnavailable(req)
}

func (f *Fetcher) sameOrigin(u *url.URL) bool {
	return u.Host == "" || u.Host == f.originHost
}

// isDocument reports whether the request asks for a full page rather than a
// subresource.
func isDocument(req *http.Request) bool {
	if dest := req.Header.Get("Sec-Fetch-Dest"); dest != "" {
		return dest == "document"
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
