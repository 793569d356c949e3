// Package syncer replays queued work once connectivity returns and keeps the
// locally mirrored events listing fresh. Replay is deliberately simple: every
// trigger re-attempts all queued items, one failure never blocks the rest,
// and there is no backoff or retry ceiling.
package syncer

import (
	"bytes"
	"context"
	"net/http"

	"github.com/dentflow/offgate/internal/offgate"
	"github.com/dentflow/offgate/internal/push"
	"github.com/dentflow/offgate/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Doer issues replayed requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Syncer drains the two durable queues.
type Syncer struct {
	cfg      offgate.Config
	store    *store.Store
	client   Doer
	notifier push.Notifier
}

// New returns a Syncer replaying through client. A nil client selects
// http.DefaultClient.
func New(cfg offgate.Config, s *store.Store, client Doer, notifier push.Notifier) *Syncer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Syncer{cfg: cfg, store: s, client: client, notifier: notifier}
}

// Sync drains both queues. The queues run concurrently with each other;
// within a queue items are replayed sequentially.
func (s *Syncer) Sync(ctx context.Context, tag string) error {
	actions, _ := s.store.PendingActionCount(ctx)
	reports, _ := s.store.OfflineReportCount(ctx)
	log.Infof("sync %q triggered, queue depth: %d actions, %d reports", tag, actions, reports)

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.Go(func() error { return s.ReplayPendingActions(wgCtx) })
	wg.Go(func() error { return s.ReplayOfflineReports(wgCtx) })
	return wg.Wait()
}

// ReplayPendingActions re-issues every queued mutating request. Delivered
// items are deleted; failures stay queued for the next trigger. Store errors
// on one item do not abort the rest of the batch.
func (s *Syncer) ReplayPendingActions(ctx context.Context) error {
	actions, err := s.store.PendingActions(ctx)
	if err != nil {
		return err
	}

	for _, a := range actions {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !s.replayAction(ctx, a) {
			continue
		}
		if err := s.store.DeletePendingAction(ctx, a.ID); err != nil {
			log.Warnf("delivered action %d but cannot delete it: %v", a.ID, err)
			continue
		}
		log.Infof("replayed pending action %d: %s %s", a.ID, a.Method, a.URL)
	}
	return nil
}

func (s *Syncer) replayAction(ctx context.Context, a offgate.PendingAction) bool {
	req, err := http.NewRequestWithContext(ctx, a.Method, a.URL, bytes.NewReader(a.Body))
	if err != nil {
		log.Warnf("cannot rebuild pending action %d: %v", a.ID, err)
		return false
	}
	req.Header = a.Header.Clone()

	resp, err := s.client.Do(req)
	if err != nil {
		log.Infof("replay of action %d failed: %v", a.ID, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Infof("replay of action %d rejected with status %d", a.ID, resp.StatusCode)
		return false
	}
	return true
}

// ReplayOfflineReports posts every queued report to the report endpoint and
// raises a confirmation notification for each delivery.
func (s *Syncer) ReplayOfflineReports(ctx context.Context) error {
	reports, err := s.store.OfflineReports(ctx)
	if err != nil {
		return err
	}

	target := s.cfg.Origin + s.cfg.ReportEndpoint

	for _, r := range reports {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(r.Data))
		if err != nil {
			log.Warnf("cannot rebuild report %d: %v", r.ID, err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			log.Infof("replay of report %d failed: %v", r.ID, err)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			log.Infof("replay of report %d rejected with status %d", r.ID, resp.StatusCode)
			continue
		}

		if err := s.store.DeleteOfflineReport(ctx, r.ID); err != nil {
			log.Warnf("delivered report %d but cannot delete it: %v", r.ID, err)
			continue
		}
		log.Infof("synced offline report %d", r.ID)
		s.notifySynced(ctx)
	}
	return nil
}

func (s *Syncer) notifySynced(ctx context.Context) {
	if s.notifier == nil {
		return
	}

	intent := push.ParsePayload(nil, s.cfg)
	intent.Title = "Report synced"
	intent.Body = "Your offline report was submitted."
	intent.Tag = "offline-report-synced"

	if err := s.notifier.Notify(ctx, intent); err != nil {
		log.Warnf("cannot raise sync notification: %v", err)
	}
}
