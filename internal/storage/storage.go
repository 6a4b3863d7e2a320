// Package storage persists alerts, notifications and escalation chains.
// Storage is write-behind and read-through: it never assigns identities.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/origami/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// SaveSnapshot writes every alert and chain of a domain in one transaction.
	SaveSnapshot(ctx context.Context, snap DomainSnapshot) error
	// LoadSnapshot returns what SaveSnapshot and RecordChain stored for a domain.
	LoadSnapshot(ctx context.Context, domainID string) (DomainSnapshot, error)
	// RecordChain stores an alert and the current state of its chain.
	RecordChain(ctx context.Context, alert models.Alert, chain models.Chain) error
	// Domains lists domain ids that have stored alerts.
	Domains(ctx context.Context) ([]string, error)

	// Repository accessors
	Alerts() AlertRepository
	Notifications() NotificationRepository
	Chains() ChainRepository
}

// DomainSnapshot is the accumulated alert history of one domain.
type DomainSnapshot struct {
	DomainID string
	Alerts   []models.Alert
	Chains   []models.Chain
}

// AlertFilter narrows alert listings. Empty fields match anything.
type AlertFilter struct {
	DomainID  string
	SubjectID string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// AlertRepository defines operations on alerts. Alerts are immutable, so
// saving an existing id is a no-op.
type AlertRepository interface {
	Save(ctx context.Context, alert models.Alert) error
	GetByID(ctx context.Context, id string) (models.Alert, error)
	List(ctx context.Context, filter AlertFilter) ([]models.Alert, error)
	Count(ctx context.Context, domainID string) (int64, error)
}

// NotificationRepository defines operations on notifications.
type NotificationRepository interface {
	Save(ctx context.Context, n models.Notification) error
	GetByID(ctx context.Context, id string) (models.Notification, error)
	ListByAlert(ctx context.Context, alertID string) ([]models.Notification, error)
	CountByOutcome(ctx context.Context, domainID string) (map[models.Outcome]int64, error)
}

// ChainRepository defines operations on escalation chains, including their
// notifications.
type ChainRepository interface {
	Save(ctx context.Context, chain models.Chain) error
	Get(ctx context.Context, alertID string) (models.Chain, error)
	ListByDomain(ctx context.Context, domainID string) ([]models.Chain, error)
	ListByState(ctx context.Context, state models.ChainState) ([]models.Chain, error)
}

// Config selects and configures a backend.
type Config struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`    // file path for sqlite, connection string for postgres
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("storage dsn is required")
	}
	return nil
}

// New returns an unopened storage for the configured driver.
func New(cfg Config) (Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case "postgres":
		return NewPostgresStorage(cfg.DSN), nil
	default:
		return NewSQLiteStorage(cfg.DSN), nil
	}
}
