package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/good-yellow-bee/origami/internal/models"
)

type notificationRepo struct {
	q querier
	d dialect
}

const notificationColumns = `id, alert_id, domain_id, contact_id, channel, attempt, outcome, error, attempted_at, resolved_at`

func (r *notificationRepo) Save(ctx context.Context, n models.Notification) error {
	return saveNotification(ctx, r.q, r.d, n)
}

// saveNotification inserts a notification or updates its resolution.
// Identity fields never change once written.
func saveNotification(ctx context.Context, q querier, d dialect, n models.Notification) error {
	query := `
		INSERT INTO notifications (` + notificationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			outcome = excluded.outcome,
			error = excluded.error,
			resolved_at = excluded.resolved_at
	`
	_, err := q.ExecContext(ctx, d.rebind(query),
		n.ID, n.AlertID, n.DomainID, n.ContactID, string(n.Channel), n.Attempt,
		string(n.Outcome), n.Error, toNanos(n.AttemptedAt), toNanos(n.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert notification: %w", err)
	}
	return nil
}

func (r *notificationRepo) GetByID(ctx context.Context, id string) (models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`
	n, err := scanNotification(r.q.QueryRowContext(ctx, r.d.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, err
}

func (r *notificationRepo) ListByAlert(ctx context.Context, alertID string) ([]models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE alert_id = ? ORDER BY attempt`
	return queryNotifications(ctx, r.q, r.d.rebind(query), alertID)
}

func (r *notificationRepo) CountByOutcome(ctx context.Context, domainID string) (map[models.Outcome]int64, error) {
	query := "SELECT outcome, COUNT(*) FROM notifications"
	var args []any
	if domainID != "" {
		query += " WHERE domain_id = ?"
		args = append(args, domainID)
	}
	query += " GROUP BY outcome"

	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	defer rows.Close()

	out := make(map[models.Outcome]int64)
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[models.Outcome(outcome)] = n
	}
	return out, rows.Err()
}

func queryNotifications(ctx context.Context, q querier, query string, args ...any) ([]models.Notification, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row scanner) (models.Notification, error) {
	var (
		n                     models.Notification
		channel, outcome      string
		attemptedAt, resolved int64
	)
	err := row.Scan(&n.ID, &n.AlertID, &n.DomainID, &n.ContactID, &channel, &n.Attempt,
		&outcome, &n.Error, &attemptedAt, &resolved)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Notification{}, err
		}
		return models.Notification{}, fmt.Errorf("scan notification: %w", err)
	}
	n.Channel = models.Channel(channel)
	n.Outcome = models.Outcome(outcome)
	n.AttemptedAt = fromNanos(attemptedAt)
	n.ResolvedAt = fromNanos(resolved)
	return n, nil
}
