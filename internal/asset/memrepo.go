package asset

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryRepository creates a repository holding the given records.
func NewMemoryRepository(records ...Record) *MemoryRepository {
	r := &MemoryRepository{}
	for _, rec := range records {
		r.Put(rec)
	}
	return r
}

type seedFile struct {
	Models []Record `yaml:"models"`
}

// LoadSeedFile reads a YAML file with a top-level "models" list.
func LoadSeedFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("asset: reading seed file %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("asset: parsing seed file %s: %w", path, err)
	}
	for i, rec := range f.Models {
		if rec.ModelURL == "" {
			return nil, fmt.Errorf("asset: seed file %s: models[%d] has no model_url", path, i)
		}
	}
	return f.Models, nil
}

// Put inserts or replaces a record by ID. Records without an ID get one.
func (r *MemoryRepository) Put(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.records {
		if r.records[i].ID == rec.ID {
			r.records[i] = rec
			return rec
		}
	}
	r.records = append(r.records, rec)
	sortByCreated(r.records)
	return rec
}

// Resolve implements Repository.
func (r *MemoryRepository) Resolve(_ context.Context, vehicleMake, vehicleModel string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return selectRecord(r.records, vehicleMake, vehicleModel), nil
}

// HealthCheck implements observability.HealthChecker.
func (r *MemoryRepository) HealthCheck(context.Context) error {
	return nil
}
