package model

import (
	"slices"
	"time"
)

// AssetStatus is the lifecycle state of a session's 3D asset.
type AssetStatus string

const (
	AssetNone    AssetStatus = "none"
	AssetLoading AssetStatus = "loading"
	AssetLoaded  AssetStatus = "loaded"
	AssetFailed  AssetStatus = "failed"
)

// Session event names, mirroring the callbacks the enclosing workflow
// listens for.
const (
	EventDialogOpened    = "dialog_opened"
	EventDialogCancelled = "dialog_cancelled"
	EventZoneSaved       = "zone_saved"
	EventZoneRemoved     = "zone_removed"
	EventColorChanged    = "color_changed"
	EventVehicleSwitched = "vehicle_switched"
	EventZonesPruned     = "zones_pruned"
	EventAssetLoaded     = "asset_loaded"
	EventAssetFailed     = "asset_failed"
)

// SelectedZone is a user-confirmed zone configuration.
type SelectedZone struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ZoneType ZoneType `json:"zone_type"`
	Services []string `json:"services"`
	Price    int      `json:"price"`
}

// EditBuffer holds the in-progress edits of an open service dialog. It is
// discarded unless saved.
type EditBuffer struct {
	ZoneID        string   `json:"zone_id"`
	ZoneName      string   `json:"zone_name"`
	ZoneType      ZoneType `json:"zone_type"`
	Services      []string `json:"services"`
	PriceOverride string   `json:"price_override"`
}

// Bounds is a normalized asset bounding box.
type Bounds struct {
	Size   Vec3    `json:"size"`
	Center Vec3    `json:"center"`
	Scale  float64 `json:"scale"`
	Scaled Vec3    `json:"scaled"`
}

// AssetBinding ties a session to the 3D asset resolved for its vehicle.
// LoadID is unique per load across every replica sharing the session
// store; only the load it names may apply its result.
type AssetBinding struct {
	Status       AssetStatus `json:"status"`
	LoadID       string      `json:"load_id,omitempty"`
	RecordID     string      `json:"record_id,omitempty"`
	ModelURL     string      `json:"model_url,omitempty"`
	DefaultColor string      `json:"default_color,omitempty"`
	Category     string      `json:"category,omitempty"`
	Bounds       *Bounds     `json:"bounds,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// Session is one configurator interaction owned by an enclosing job
// workflow.
type Session struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	SubjectID    string          `json:"subject_id"`
	Mode         Mode            `json:"mode"`
	Category     VehicleCategory `json:"category"`
	ViewAngle    ViewAngle       `json:"view_angle,omitempty"`
	VehicleMake  string          `json:"vehicle_make,omitempty"`
	VehicleModel string          `json:"vehicle_model,omitempty"`
	Color        string          `json:"color,omitempty"`
	ReadOnly     bool            `json:"read_only"`
	Zones        []SelectedZone  `json:"zones"`
	Active       *EditBuffer     `json:"active,omitempty"`
	Asset        AssetBinding    `json:"asset"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
}

// Editing reports whether the service dialog is open.
func (s *Session) Editing() bool {
	return s.Active != nil
}

// ZoneIndex returns the position of the selected zone with the given id, or
// -1.
func (s *Session) ZoneIndex(id string) int {
	return slices.IndexFunc(s.Zones, func(z SelectedZone) bool { return z.ID == id })
}

// IsSelected reports whether a hotspot id is in the selected collection.
func (s *Session) IsSelected(id string) bool {
	return s.ZoneIndex(id) >= 0
}

// TotalPrice sums the price of every selected zone.
func (s *Session) TotalPrice() int {
	total := 0
	for _, z := range s.Zones {
		total += z.Price
	}
	return total
}

// Expired reports whether the session has passed its expiry time.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.Zones = make([]SelectedZone, len(s.Zones))
	for i, z := range s.Zones {
		z.Services = slices.Clone(z.Services)
		c.Zones[i] = z
	}
	if s.Active != nil {
		a := *s.Active
		a.Services = slices.Clone(s.Active.Services)
		c.Active = &a
	}
	if s.Asset.Bounds != nil {
		b := *s.Asset.Bounds
		c.Asset.Bounds = &b
	}
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// SessionEvent is an audit trail entry for a session.
type SessionEvent struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Event     string         `json:"event"`
	ZoneID    string         `json:"zone_id,omitempty"`
	ActorID   string         `json:"actor_id"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// JobZoneRecord is the persisted shape of one selected zone on a job.
type JobZoneRecord struct {
	ZoneName string   `json:"zone_name"`
	ZoneType string   `json:"zone_type"`
	Services []string `json:"services"`
	Price    int      `json:"price"`
}
