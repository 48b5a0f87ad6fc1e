// Package asset resolves vehicle make/model pairs to 3D model records and
// loads the referenced glTF files.
package asset

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Record describes one vehicle model file.
type Record struct {
	ID              string    `json:"id" yaml:"id"`
	Make            string    `json:"make" yaml:"make"`
	Model           string    `json:"model" yaml:"model"`
	ModelURL        string    `json:"model_url" yaml:"model_url"`
	DefaultColor    *string   `json:"default_color,omitempty" yaml:"default_color"`
	VehicleCategory string    `json:"vehicle_category,omitempty" yaml:"vehicle_category"`
	IsActive        bool      `json:"is_active" yaml:"is_active"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
}

// Repository resolves a make/model pair to an active Record. A nil record
// with a nil error means no active records exist.
type Repository interface {
	Resolve(ctx context.Context, vehicleMake, vehicleModel string) (*Record, error)
}

// Key returns the normalized lookup key for a make/model pair.
func Key(vehicleMake, vehicleModel string) string {
	return normalize(vehicleMake) + ":" + normalize(vehicleModel)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// selectRecord applies the resolution policy: an exact case-insensitive
// match among active records, else the most recently created active record.
func selectRecord(records []Record, vehicleMake, vehicleModel string) *Record {
	want := Key(vehicleMake, vehicleModel)

	var exact, latest *Record
	for i := range records {
		r := &records[i]
		if !r.IsActive {
			continue
		}
		if Key(r.Make, r.Model) == want {
			if exact == nil || r.CreatedAt.After(exact.CreatedAt) {
				exact = r
			}
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}

	switch {
	case exact != nil:
		return exact.clone()
	case latest != nil:
		return latest.clone()
	default:
		return nil
	}
}

func (r *Record) clone() *Record {
	c := *r
	if r.DefaultColor != nil {
		color := *r.DefaultColor
		c.DefaultColor = &color
	}
	return &c
}

// sortByCreated orders records newest first.
func sortByCreated(records []Record) {
	slices.SortStableFunc(records, func(a, b Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
