package store

import (
	"context"

	"github.com/dentflow/offgate/internal/offgate"
	"github.com/pkg/errors"
)

// PutEvents upserts the events from a refreshed listing. Events already
// present are overwritten, so repeated refreshes converge on the latest
// server state.
func (s *Store) PutEvents(ctx context.Context, events []offgate.Event) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	for _, ev := range events {
		_, err := db.ExecContext(ctx,
			`INSERT INTO cached_events (id, date, payload) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET date = excluded.date, payload = excluded.payload`,
			ev.ID, ev.Date, string(ev.Payload))
		if err != nil {
			return errors.Wrap(err, "upsert event")
		}
	}
	return nil
}

// EventsByDate returns locally mirrored events with the given date, using
// the date index.
func (s *Store) EventsByDate(ctx context.Context, date string) ([]offgate.Event, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, date, payload FROM cached_events WHERE date = ? ORDER BY id`, date)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var events []offgate.Event
	for rows.Next() {
		var (
			ev      offgate.Event
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.Date, &payload); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		ev.Payload = []byte(payload)
		events = append(events, ev)
	}
	return events, rows.Err()
}
