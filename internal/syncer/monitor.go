package syncer

import (
	"context"
	"net/http"
	"time"

	"github.com/dentflow/offgate/internal/offgate"
	log "github.com/sirupsen/logrus"
)

// Monitor probes the backend health endpoint and reports offline→online
// transitions. It stands in for the platform's connectivity-restored sync
// event: when the backend becomes reachable again, OnOnline fires once.
type Monitor struct {
	client   Doer
	url      string
	interval time.Duration

	// OnOnline is called after each offline→online transition.
	OnOnline func(ctx context.Context)

	online bool
}

// NewMonitor returns a Monitor probing cfg's health endpoint.
func NewMonitor(cfg offgate.Config, client Doer, interval time.Duration) *Monitor {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Monitor{
		client:   client,
		url:      cfg.Origin + cfg.HealthPath,
		interval: interval,
	}
}

// Run probes until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.probe(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.url, nil)
	if err != nil {
		return
	}

	resp, err := m.client.Do(req)
	reachable := err == nil
	if resp != nil {
		_ = resp.Body.Close()
	}

	if reachable && !m.online {
		log.Infof("connectivity restored")
		if m.OnOnline != nil {
			m.OnOnline(ctx)
		}
	} else if !reachable && m.online {
		log.Warnf("connectivity lost: %v", err)
	}
	m.online = reachable
}
