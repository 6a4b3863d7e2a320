package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/origami/internal/metrics"
	"github.com/good-yellow-bee/origami/internal/models"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name   string
	dollar bool // $1 placeholders instead of ?
}

// rebind rewrites ? placeholders for the dialect.
func (d dialect) rebind(query string) string {
	if !d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore implements everything but Open on top of database/sql.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) observe(op string, start time.Time, err error) {
	metrics.StorageQueryDuration.WithLabelValues(op, s.d.name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StorageErrors.WithLabelValues(op, s.d.name).Inc()
	}
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *sqlStore) Migrate() error {
	if s.db == nil {
		return fmt.Errorf("storage is not open")
	}
	return runMigrations(context.Background(), s.db, s.d)
}

// Alerts returns the alert repository.
func (s *sqlStore) Alerts() AlertRepository {
	return &alertRepo{q: s.db, d: s.d}
}

// Notifications returns the notification repository.
func (s *sqlStore) Notifications() NotificationRepository {
	return &notificationRepo{q: s.db, d: s.d}
}

// Chains returns the chain repository.
func (s *sqlStore) Chains() ChainRepository {
	return &chainRepo{store: s, q: s.db}
}

func (s *sqlStore) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RecordChain stores an alert and the current state of its chain.
func (s *sqlStore) RecordChain(ctx context.Context, alert models.Alert, chain models.Chain) (err error) {
	defer func(start time.Time) { s.observe("record_chain", start, err) }(time.Now())
	return s.withTx(ctx, func(q querier) error {
		if err := (&alertRepo{q: q, d: s.d}).Save(ctx, alert); err != nil {
			return err
		}
		return saveChain(ctx, q, s.d, chain)
	})
}

// SaveSnapshot writes every alert and chain of a domain in one transaction.
func (s *sqlStore) SaveSnapshot(ctx context.Context, snap DomainSnapshot) (err error) {
	defer func(start time.Time) { s.observe("save_snapshot", start, err) }(time.Now())
	return s.withTx(ctx, func(q querier) error {
		alerts := &alertRepo{q: q, d: s.d}
		for _, a := range snap.Alerts {
			if a.DomainID != snap.DomainID {
				return fmt.Errorf("alert %s belongs to domain %q, not %q", a.ID, a.DomainID, snap.DomainID)
			}
			if err := alerts.Save(ctx, a); err != nil {
				return err
			}
		}
		for _, c := range snap.Chains {
			if c.DomainID != snap.DomainID {
				return fmt.Errorf("chain %s belongs to domain %q, not %q", c.AlertID, c.DomainID, snap.DomainID)
			}
			if err := saveChain(ctx, q, s.d, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadSnapshot returns the stored alerts and chains of a domain.
func (s *sqlStore) LoadSnapshot(ctx context.Context, domainID string) (snap DomainSnapshot, err error) {
	defer func(start time.Time) { s.observe("load_snapshot", start, err) }(time.Now())

	snap.DomainID = domainID
	snap.Alerts, err = s.Alerts().List(ctx, AlertFilter{DomainID: domainID})
	if err != nil {
		return DomainSnapshot{}, err
	}
	snap.Chains, err = s.Chains().ListByDomain(ctx, domainID)
	if err != nil {
		return DomainSnapshot{}, err
	}
	return snap, nil
}

// Domains lists domain ids that have stored alerts.
func (s *sqlStore) Domains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT domain_id FROM alerts ORDER BY domain_id")
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// toNanos stores the zero time as 0 so it round-trips.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func marshalContext(ctx map[string]string) (sql.NullString, error) {
	if len(ctx) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal context: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalContext(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
