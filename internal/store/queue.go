package store

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dentflow/offgate/internal/offgate"
	"github.com/pkg/errors"
)

// AddPendingAction queues a failed mutating request for replay and returns
// the store-assigned id.
func (s *Store) AddPendingAction(ctx context.Context, a offgate.PendingAction) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	header, err := json.Marshal(a.Header)
	if err != nil {
		return 0, errors.Wrap(err, "json.Marshal")
	}

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO pending_actions (url, method, header, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.URL, a.Method, string(header), a.Body, created.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "insert pending action")
	}
	return res.LastInsertId()
}

// PendingActions returns all queued actions in insertion order.
func (s *Store) PendingActions(ctx context.Context) ([]offgate.PendingAction, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, url, method, header, body, created_at FROM pending_actions ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query pending actions")
	}
	defer rows.Close()

	var actions []offgate.PendingAction
	for rows.Next() {
		var (
			a       offgate.PendingAction
			header  string
			created int64
		)
		if err := rows.Scan(&a.ID, &a.URL, &a.Method, &header, &a.Body, &created); err != nil {
			return nil, errors.Wrap(err, "scan pending action")
		}
		a.Header = http.Header{}
		if err := json.Unmarshal([]byte(header), &a.Header); err != nil {
			return nil, errors.Wrap(err, "json.Unmarshal")
		}
		a.CreatedAt = time.Unix(created, 0)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// DeletePendingAction removes one delivered action.
func (s *Store) DeletePendingAction(ctx context.Context, id int64) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, id)
	return errors.Wrap(err, "delete pending action")
}

// PendingActionCount returns the queue depth.
func (s *Store) PendingActionCount(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_actions`).Scan(&n)
	return n, errors.Wrap(err, "count pending actions")
}

// AddOfflineReport queues a report submitted while offline.
func (s *Store) AddOfflineReport(ctx context.Context, r offgate.OfflineReport) (int64, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	created := r.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := db.ExecContext(ctx,
		`INSERT INTO offline_reports (data, created_at) VALUES (?, ?)`,
		string(r.Data), created.Unix())
	if err != nil {
		return 0, errors.Wrap(err, "insert offline report")
	}
	return res.LastInsertId()
}

// OfflineReports returns all queued reports in insertion order.
func (s *Store) OfflineReports(ctx context.Context) ([]offgate.OfflineReport, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, data, created_at FROM offline_reports ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query offline reports")
	}
	defer rows.Close()

	var reports []offgate.OfflineReport
	for rows.Next() {
		var (
			r       offgate.OfflineReport
			data    string
			created int64
		)
		if err := rows.Scan(&r.ID, &data, &created); err != nil {
			return nil, errors.Wrap(err, "scan offline report")
		}
		r.Data = json.RawMessage(data)
		r.CreatedAt = time.Unix(created, 0)
		reports = append(reports, r)
	}
	return reports, rows.Err()
}

// DeleteOfflineReport removes one delivered report.
func (s *Store) DeleteOfflineReport(ctx context.Context, id int64) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM offline_reports WHERE id = ?`, id)
	return errors.Wrap(err, "delete offline report")
}

// OfflineReportCount returns the queue depth.
func (s *Store) OfflineReportCount(ctx context.Context) (int, error) {
	db, err := s.conn()
	if err != nil {
		return 0, err
	}
	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM offline_reports`).Scan(&n)
	return n, errors.Wrap(err, "count offline reports")
}
