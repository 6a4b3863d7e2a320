package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/good-yellow-bee/origami/internal/models"
)

type chainRepo struct {
	store *sqlStore
	q     querier
}

// Save stores the chain state and its notifications atomically. The alert
// must already be stored.
func (r *chainRepo) Save(ctx context.Context, c models.Chain) error {
	return r.store.withTx(ctx, func(q querier) error {
		return saveChain(ctx, q, r.store.d, c)
	})
}

func saveChain(ctx context.Context, q querier, d dialect, c models.Chain) error {
	query := `
		INSERT INTO chains (alert_id, domain_id, subject_id, state, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (alert_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at
	`
	_, err := q.ExecContext(ctx, d.rebind(query),
		c.AlertID, c.DomainID, c.SubjectID, string(c.State), toNanos(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert chain %s: %w", c.AlertID, err)
	}
	for _, n := range c.Notifications {
		if err := saveNotification(ctx, q, d, n); err != nil {
			return err
		}
	}
	return nil
}

func (r *chainRepo) Get(ctx context.Context, alertID string) (models.Chain, error) {
	d := r.store.d
	query := `SELECT alert_id, domain_id, subject_id, state, updated_at FROM chains WHERE alert_id = ?`
	c, err := scanChain(r.q.QueryRowContext(ctx, d.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chain{}, fmt.Errorf("chain %s: %w", alertID, ErrNotFound)
	}
	if err != nil {
		return models.Chain{}, err
	}

	nq := `SELECT ` + notificationColumns + ` FROM notifications WHERE alert_id = ? ORDER BY attempt`
	c.Notifications, err = queryNotifications(ctx, r.q, d.rebind(nq), alertID)
	if err != nil {
		return models.Chain{}, err
	}
	return c, nil
}

func (r *chainRepo) ListByDomain(ctx context.Context, domainID string) ([]models.Chain, error) {
	return r.list(ctx, "domain_id", domainID)
}

func (r *chainRepo) ListByState(ctx context.Context, state models.ChainState) ([]models.Chain, error) {
	return r.list(ctx, "state", string(state))
}

// list loads chains matching column = value along with their notifications.
func (r *chainRepo) list(ctx context.Context, column, value string) ([]models.Chain, error) {
	d := r.store.d
	query := `SELECT alert_id, domain_id, subject_id, state, updated_at FROM chains WHERE ` + column + ` = ? ORDER BY alert_id`
	rows, err := r.q.QueryContext(ctx, d.rebind(query), value)
	if err != nil {
		return nil, fmt.Errorf("list chains: %w", err)
	}
	defer rows.Close()

	var chains []models.Chain
	index := make(map[string]int)
	for rows.Next() {
		c, err := scanChain(rows)
		if err != nil {
			return nil, err
		}
		index[c.AlertID] = len(chains)
		chains = append(chains, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chains) == 0 {
		return nil, nil
	}

	nq := `
		SELECT n.id, n.alert_id, n.domain_id, n.contact_id, n.channel, n.attempt, n.outcome, n.error, n.attempted_at, n.resolved_at
		FROM notifications n JOIN chains c ON c.alert_id = n.alert_id
		WHERE c.` + column + ` = ?
		ORDER BY n.alert_id, n.attempt
	`
	notes, err := queryNotifications(ctx, r.q, d.rebind(nq), value)
	if err != nil {
		return nil, err
	}
	for _, n := range notes {
		if i, ok := index[n.AlertID]; ok {
			chains[i].Notifications = append(chains[i].Notifications, n)
		}
	}
	return chains, nil
}

func scanChain(row scanner) (models.Chain, error) {
	var (
		c         models.Chain
		state     string
		updatedAt int64
	)
	if err := row.Scan(&c.AlertID, &c.DomainID, &c.SubjectID, &state, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Chain{}, err
		}
		return models.Chain{}, fmt.Errorf("scan chain: %w", err)
	}
	c.State = models.ChainState(state)
	c.UpdatedAt = fromNanos(updatedAt)
	return c, nil
}
