package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/origami/internal/models"
)

type alertRepo struct {
	q querier
	d dialect
}

const alertColumns = `id, domain_id, subject_id, category, severity, message, score, context_json, packet_id, created_at`

func (r *alertRepo) Save(ctx context.Context, a models.Alert) error {
	ctxJSON, err := marshalContext(a.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = r.q.ExecContext(ctx, r.d.rebind(query),
		a.ID, a.DomainID, a.SubjectID, a.Category, string(a.Severity), a.Message,
		a.Score, ctxJSON, a.PacketID, toNanos(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *alertRepo) GetByID(ctx context.Context, id string) (models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	a, err := scanAlert(r.q.QueryRowContext(ctx, r.d.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return a, err
}

func (r *alertRepo) List(ctx context.Context, f AlertFilter) ([]models.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.DomainID != "" {
		where = append(where, "domain_id = ?")
		args = append(args, f.DomainID)
	}
	if f.SubjectID != "" {
		where = append(where, "subject_id = ?")
		args = append(args, f.SubjectID)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.Until.UnixNano())
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.q.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *alertRepo) Count(ctx context.Context, domainID string) (int64, error) {
	query := "SELECT COUNT(*) FROM alerts"
	var args []any
	if domainID != "" {
		query += " WHERE domain_id = ?"
		args = append(args, domainID)
	}
	var n int64
	if err := r.q.QueryRowContext(ctx, r.d.rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}

func scanAlert(row scanner) (models.Alert, error) {
	var (
		a         models.Alert
		severity  string
		ctxJSON   sql.NullString
		createdAt int64
	)
	err := row.Scan(&a.ID, &a.DomainID, &a.SubjectID, &a.Category, &severity, &a.Message,
		&a.Score, &ctxJSON, &a.PacketID, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Alert{}, err
		}
		return models.Alert{}, fmt.Errorf("scan alert: %w", err)
	}
	a.Severity = models.Severity(severity)
	a.CreatedAt = fromNanos(createdAt)
	if a.Context, err = unmarshalContext(ctxJSON); err != nil {
		return models.Alert{}, err
	}
	return a, nil
}
