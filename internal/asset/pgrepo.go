package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const recordColumns = `id, make, model, model_url, default_color, vehicle_category, is_active, created_at`

// PgRepository is a PostgreSQL-backed Repository over the vehicle_models
// table using pgx/v5.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewPgRepository creates a new PostgreSQL asset repository.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Resolve implements Repository.
func (r *PgRepository) Resolve(ctx context.Context, vehicleMake, vehicleModel string) (*Record, error) {
	rec, err := r.queryOne(ctx, `
		SELECT `+recordColumns+`
		FROM vehicle_models
		WHERE is_active
		  AND lower(trim(make)) = $1
		  AND lower(trim(model)) = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		normalize(vehicleMake), normalize(vehicleModel),
	)
	if err != nil || rec != nil {
		return rec, err
	}

	return r.queryOne(ctx, `
		SELECT `+recordColumns+`
		FROM vehicle_models
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT 1`)
}

func (r *PgRepository) queryOne(ctx context.Context, sql string, args ...any) (*Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&rec.ID, &rec.Make, &rec.Model, &rec.ModelURL, &rec.DefaultColor,
		&rec.VehicleCategory, &rec.IsActive, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query vehicle model: %w", err)
	}
	return &rec, nil
}

// Put inserts or updates a record by ID.
func (r *PgRepository) Put(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO vehicle_models (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
		ON CONFLICT (id) DO UPDATE SET
			make = EXCLUDED.make,
			model = EXCLUDED.model,
			model_url = EXCLUDED.model_url,
			default_color = EXCLUDED.default_color,
			vehicle_category = EXCLUDED.vehicle_category,
			is_active = EXCLUDED.is_active`,
		rec.ID, rec.Make, rec.Model, rec.ModelURL, rec.DefaultColor,
		rec.VehicleCategory, rec.IsActive, nullTime(rec),
	)
	if err != nil {
		return Record{}, fmt.Errorf("upsert vehicle model: %w", err)
	}
	return rec, nil
}

func nullTime(rec Record) any {
	if rec.CreatedAt.IsZero() {
		return nil
	}
	return rec.CreatedAt
}

// HealthCheck implements observability.HealthChecker.
func (r *PgRepository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
