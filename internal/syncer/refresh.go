package syncer

import (
	"context"
	"encoding/json"

	"github.com/dentflow/offgate/internal/offgate"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Refresher re-fetches an API GET into the API partition. The proxy's
// Fetcher satisfies it.
type Refresher interface {
	RefreshAPI(ctx context.Context, path string) (*offgate.CapturedResponse, error)
}

// RefreshEvents is the periodic read-refresh path: it re-fetches the events
// listing into the API partition and mirrors the entries into the durable
// cached_events table. It never touches the mutation queues.
func (s *Syncer) RefreshEvents(ctx context.Context, refresher Refresher) error {
	cr, err := refresher.RefreshAPI(ctx, s.cfg.EventsPath)
	if err != nil {
		return errors.Wrap(err, "refresh events listing")
	}

	events, err := parseEvents(cr.Body)
	if err != nil {
		// The partition was refreshed either way; mirroring is best effort.
		log.Warnf("cannot mirror events listing: %v", err)
		return nil
	}

	if err := s.store.PutEvents(ctx, events); err != nil {
		return err
	}
	log.Infof("refreshed events listing, %d events mirrored", len(events))
	return nil
}

// parseEvents accepts both a bare array and an {"events": [...]} wrapper.
func parseEvents(body []byte) ([]offgate.Event, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		var wrapper struct {
			Events []json.RawMessage `json:"events"`
		}
		if werr := json.Unmarshal(body, &wrapper); werr != nil {
			return nil, errors.Wrap(err, "json.Unmarshal")
		}
		raw = wrapper.Events
	}

	events := make([]offgate.Event, 0, len(raw))
	for _, item := range raw {
		var head struct {
			ID   string `json:"id"`
			Date string `json:"date"`
		}
		if err := json.Unmarshal(item, &head); err != nil || head.ID == "" {
			continue
		}
		events = append(events, offgate.Event{ID: head.ID, Date: head.Date, Payload: item})
	}
	return events, nil
}
