//go:build integration

package storage

import (
	"context"
	"os"
	"reflect"
	"testing"

	"github.com/good-yellow-bee/origami/internal/models"
)

// Integration tests require a running PostgreSQL.
// Run with: ORIGAMI_TEST_POSTGRES_DSN=postgres://... go test -tags=integration ./internal/storage/...

func setupPostgresTest(t *testing.T) *PostgresStorage {
	t.Helper()

	dsn := os.Getenv("ORIGAMI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ORIGAMI_TEST_POSTGRES_DSN not set")
	}

	store := NewPostgresStorage(dsn)
	if err := store.Open(); err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		store.db.Exec("TRUNCATE notifications, chains, alerts")
		store.Close()
	})
	return store
}

func TestPostgres_SnapshotRoundTrip(t *testing.T) {
	store := setupPostgresTest(t)
	ctx := context.Background()

	a := testAlert("pg-a1", "elderly_care", "p1", 0)
	snap := DomainSnapshot{
		DomainID: "elderly_care",
		Alerts:   []models.Alert{a},
		Chains:   []models.Chain{testChain(a)},
	}
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := store.LoadSnapshot(ctx, "elderly_care")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, snap)
	}
}
