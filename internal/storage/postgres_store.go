package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	_ "github.com/lib/pq"

	"github.com/example/ride-client/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate runs the embedded migrations in file-name order. They are
// idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := p.db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

const upsertRide = `
INSERT INTO rides (id, driver_id, vehicle_class, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, fare, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (id) DO UPDATE SET
    driver_id     = COALESCE(NULLIF(EXCLUDED.driver_id, ''), rides.driver_id),
    vehicle_class = COALESCE(NULLIF(EXCLUDED.vehicle_class, ''), rides.vehicle_class),
    fare          = CASE WHEN EXCLUDED.fare <> 0 THEN EXCLUDED.fare ELSE rides.fare END,
    status        = EXCLUDED.status,
    updated_at    = EXCLUDED.updated_at
WHERE rides.updated_at <= EXCLUDED.updated_at`

const insertEvent = `
INSERT INTO ride_events (ride_id, from_state, to_state, occurred_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`

func (p *PostgresStore) Apply(ctx context.Context, ev models.RideEvent) error {
	if ev.RideID == "" || ev.To == "" {
		return ErrInvalidEvent
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, upsertRide,
		ev.RideID, ev.DriverID, string(ev.VehicleClass),
		ev.Pickup.Lat, ev.Pickup.Lon, ev.Dropoff.Lat, ev.Dropoff.Lon,
		ev.Fare, ev.To, ev.At); err != nil {
		return fmt.Errorf("upsert ride %s: %w", ev.RideID, err)
	}
	if _, err := tx.ExecContext(ctx, insertEvent, ev.RideID, ev.From, ev.To, ev.At); err != nil {
		return fmt.Errorf("insert ride event %s: %w", ev.RideID, err)
	}
	return tx.Commit()
}

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *PostgresStore) Close() error { return p.db.Close() }
