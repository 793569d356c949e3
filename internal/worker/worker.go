// Package worker dispatches the gateway's event set over one set of
// components. Dispatch is the single entry point: every handler runs inside
// the worker's wait group, so Shutdown cannot complete while any handler's
// work is still settling. That is the "extend my lifetime until this
// resolves" contract, made structural.
package worker

import (
	"context"
	"net/http"
	"sync"

	"github.com/dentflow/offgate/internal/cache"
	"github.com/dentflow/offgate/internal/offgate"
	"github.com/dentflow/offgate/internal/proxy"
	"github.com/dentflow/offgate/internal/push"
	"github.com/dentflow/offgate/internal/syncer"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// installWorkers bounds how many manifest assets are fetched concurrently.
const installWorkers = 4

// Worker owns the components and dispatches events onto them.
type Worker struct {
	cfg      offgate.Config
	cache    *cache.Cache
	fetcher  *proxy.Fetcher
	syncer   *syncer.Syncer
	notifier push.Notifier
	router   *push.Router

	wg sync.WaitGroup
}

// New assembles a Worker. notifier and router may be nil when push handling
// is disabled; the corresponding events then fail at dispatch.
func New(cfg offgate.Config, c *cache.Cache, f *proxy.Fetcher, s *syncer.Syncer, notifier push.Notifier, router *push.Router) *Worker {
	return &Worker{
		cfg:      cfg,
		cache:    c,
		fetcher:  f,
		syncer:   s,
		notifier: notifier,
		router:   router,
	}
}

// Dispatch runs the handler for ev to completion. Only Fetch produces a
// response; every other event answers with an error or nil.
func (w *Worker) Dispatch(ctx context.Context, ev Event) (*http.Response, error) {
	w.wg.Add(1)
	defer w.wg.Done()

	switch ev := ev.(type) {
	case Install:
		return nil, w.install(ctx)
	case Activate:
		return nil, w.activate()
	case Fetch:
		return w.fetcher.RoundTrip(ev.Req)
	case Sync:
		return nil, w.syncer.Sync(ctx, ev.Tag)
	case PeriodicSync:
		log.Infof("periodic sync %q triggered", ev.Tag)
		return nil, w.syncer.RefreshEvents(ctx, w.fetcher)
	case Push:
		return nil, w.push(ctx, ev.Payload)
	case NotificationClick:
		if w.router == nil {
			return nil, errors.New("no click router configured")
		}
		return nil, w.router.HandleClick(ctx, ev.Click)
	default:
		return nil, errors.Errorf("unknown event type %T", ev)
	}
}

// RoundTrip dispatches req as a Fetch event, letting the worker stand in as
// the transport behind the HTTP front.
func (w *Worker) RoundTrip(req *http.Request) (*http.Response, error) {
	return w.Dispatch(req.Context(), Fetch{Req: req})
}

// Shutdown waits until every in-flight handler has settled or ctx expires.
func (w *Worker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// install fetches every manifest asset into the STATIC partition. Assets are
// attempted independently; a failed asset is logged and skipped so install
// always completes.
func (w *Worker) install(ctx context.Context) error {
	log.Infof("installing version %s, %d assets", w.cfg.VersionToken, len(w.cfg.Manifest))

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.SetLimit(installWorkers)

	for _, path := range w.cfg.Manifest {
		path := path
		wg.Go(func() error {
			if err := w.fetcher.PrecacheAsset(wgCtx, path); err != nil {
				log.Warnf("cannot precache %s: %v", path, err)
			}
			return nil
		})
	}

	// Workers never return errors, the wait is for completion only.
	_ = wg.Wait()
	log.Infof("install complete")
	return nil
}

// activate sweeps partitions from older versions. Running it again with the
// same version is a no-op.
func (w *Worker) activate() error {
	removed, err := w.cache.Sweep()
	if err != nil {
		return err
	}
	log.Infof("activated version %s, removed %d stale partitions", w.cfg.VersionToken, len(removed))
	return nil
}

// push resolves the payload into an intent and displays it.
func (w *Worker) push(ctx context.Context, payload []byte) error {
	if w.notifier == nil {
		return errors.New("no notifier configured")
	}

	intent := push.ParsePayload(payload, w.cfg)
	log.Debugf("push notification %q, requireInteraction=%v", intent.Title, intent.RequireInteraction)
	return w.notifier.Notify(ctx, intent)
}
