// README: Postgres fixtures for DB-backed tests; skipped unless MAAT_TEST_DSN is set.
package pgtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"maat/internal/infra"
)

// Open migrates the test database, empties every table except the seeded pricing
// profile and returns a pool closed at test cleanup.
func Open(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("MAAT_TEST_DSN")
	if dsn == "" {
		t.Skip("MAAT_TEST_DSN not set; skipping DB-backed tests")
	}
	if err := infra.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	db, err := infra.NewDB(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)

	if _, err := db.Exec(ctx, `
		TRUNCATE TABLE scanners, ledger_entries, trips, cards, riders,
			fares, pricing_coefficients, route_stops, stations`); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return db
}

func SeedStation(t *testing.T, db *pgxpool.Pool, id string, baseFare int64) {
	t.Helper()
	if _, err := db.Exec(context.Background(), `
		INSERT INTO stations (id, name_en, base_fare, is_active)
		VALUES ($1, $1, $2, TRUE)`, id, baseFare); err != nil {
		t.Fatalf("seed station %s: %v", id, err)
	}
}

func SeedFare(t *testing.T, db *pgxpool.Pool, from, to string, price int64) {
	t.Helper()
	if _, err := db.Exec(context.Background(), `
		INSERT INTO fares (profile_id, from_station_id, to_station_id, price)
		VALUES ('default', $1, $2, $3)`, from, to, price); err != nil {
		t.Fatalf("seed fare %s-%s: %v", from, to, err)
	}
}

// SeedRider creates a rider with an active card whose uid is "card-" + id.
func SeedRider(t *testing.T, db *pgxpool.Pool, id string, balance int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := db.Exec(ctx, `
		INSERT INTO riders (id, full_name, balance)
		VALUES ($1, $1, $2)`, id, balance); err != nil {
		t.Fatalf("seed rider %s: %v", id, err)
	}
	if _, err := db.Exec(ctx, `
		INSERT INTO cards (uid, rider_id, status)
		VALUES ($1, $2, 'active')`, "card-"+id, id); err != nil {
		t.Fatalf("seed card for %s: %v", id, err)
	}
}

func Balance(t *testing.T, db *pgxpool.Pool, riderID string) int64 {
	t.Helper()
	var balance int64
	if err := db.QueryRow(context.Background(), `SELECT balance FROM riders WHERE id = $1`, riderID).Scan(&balance); err != nil {
		t.Fatalf("read balance: %v", err)
	}
	return balance
}
