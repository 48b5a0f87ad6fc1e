package jobzone

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/detailhub/zoneconfigurator/model"
)

// Writer stores the zones of a job.
type Writer interface {
	// ReplaceZones replaces every zone of the job with records, atomically.
	ReplaceZones(ctx context.Context, tenantID, jobID string, records []model.JobZoneRecord) error
}

// --- MemoryWriter ---

// MemoryWriter keeps job zones in memory. Suitable for testing and local
// runs.
type MemoryWriter struct {
	mu   sync.RWMutex
	jobs map[string][]model.JobZoneRecord // key: tenant/job
}

// NewMemoryWriter creates an empty memory writer.
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{jobs: make(map[string][]model.JobZoneRecord)}
}

func jobKey(tenantID, jobID string) string {
	return tenantID + "/" + jobID
}

// ReplaceZones implements Writer.
func (w *MemoryWriter) ReplaceZones(_ context.Context, tenantID, jobID string, records []model.JobZoneRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs[jobKey(tenantID, jobID)] = slices.Clone(records)
	return nil
}

// Zones returns the stored zones of a job.
func (w *MemoryWriter) Zones(tenantID, jobID string) ([]model.JobZoneRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	records, ok := w.jobs[jobKey(tenantID, jobID)]
	return slices.Clone(records), ok
}

// HealthCheck always succeeds.
func (w *MemoryWriter) HealthCheck(context.Context) error { return nil }

// --- PgWriter ---

// PgWriter writes job zones to the job_zones table using pgx/v5.
type PgWriter struct {
	pool *pgxpool.Pool
}

// NewPgWriter creates a new PostgreSQL job zone writer.
func NewPgWriter(pool *pgxpool.Pool) *PgWriter {
	return &PgWriter{pool: pool}
}

// ReplaceZones deletes the job's zones and inserts records in one
// transaction.
func (w *PgWriter) ReplaceZones(ctx context.Context, tenantID, jobID string, records []model.JobZoneRecord) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin job zone transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM job_zones
		WHERE tenant_id = $1 AND job_id = $2`,
		tenantID, jobID,
	); err != nil {
		return fmt.Errorf("delete job zones: %w", err)
	}

	if len(records) > 0 {
		batch := &pgx.Batch{}
		for i, r := range records {
			batch.Queue(`
				INSERT INTO job_zones (
					id, tenant_id, job_id, position,
					zone_name, zone_type, services, price
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				uuid.New().String(), tenantID, jobID, i,
				r.ZoneName, r.ZoneType, r.Services, r.Price,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert job zones: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit job zones: %w", err)
	}
	return nil
}

// HealthCheck pings the database.
func (w *PgWriter) HealthCheck(ctx context.Context) error {
	return w.pool.Ping(ctx)
}
