package selection

import (
	"time"

	"github.com/detailhub/zoneconfigurator/internal/geometry"
	"github.com/detailhub/zoneconfigurator/model"
)

// HotspotView is a resolved hotspot as rendered by the UI.
type HotspotView struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	ZoneType model.ZoneType `json:"zone_type"`
	Position model.Vec3     `json:"position"`
	Space    string         `json:"space"`
	Selected bool           `json:"selected"`
}

// AssetView describes the model a 3D session renders.
type AssetView struct {
	Status      model.AssetStatus `json:"status"`
	RecordID    string            `json:"record_id,omitempty"`
	ModelURL    string            `json:"model_url,omitempty"`
	Category    string            `json:"category,omitempty"`
	Bounds      *model.Bounds     `json:"bounds,omitempty"`
	Placeholder bool              `json:"placeholder"`
	Error       string            `json:"error,omitempty"`
}

// SessionView is the full render state of a session.
type SessionView struct {
	ID         string                `json:"id"`
	Mode       model.Mode            `json:"mode"`
	Category   model.VehicleCategory `json:"category"`
	View       model.ViewAngle       `json:"view,omitempty"`
	Make       string                `json:"vehicle_make,omitempty"`
	Model      string                `json:"vehicle_model,omitempty"`
	Color      string                `json:"color,omitempty"`
	ReadOnly   bool                  `json:"read_only"`
	Hotspots   []HotspotView         `json:"hotspots"`
	Zones      []model.SelectedZone  `json:"zones"`
	TotalPrice int                   `json:"total_price"`
	Dialog     *DialogView           `json:"dialog,omitempty"`
	Asset      *AssetView            `json:"asset,omitempty"`
	Orphaned   []string              `json:"orphaned,omitempty"`
	Version    int                   `json:"version"`
	ExpiresAt  *time.Time            `json:"expires_at,omitempty"`
}

// View derives the render state of s. Selection flags, the total and the
// orphan list are computed here on every call and never stored.
func (e *Engine) View(s *model.Session) SessionView {
	vc := geometry.ViewContext{View: s.ViewAngle}
	if s.Asset.Status == model.AssetLoaded {
		vc.Bounds = s.Asset.Bounds
	}

	resolved := geometry.NewResolver(s.Mode, e.catalog).Resolve(s.Category, vc)
	hotspots := make([]HotspotView, 0, len(resolved))
	for _, h := range resolved {
		hotspots = append(hotspots, HotspotView{
			ID:       h.Definition.ID,
			Name:     h.Definition.Name,
			ZoneType: h.Definition.ZoneType,
			Position: h.Position,
			Space:    h.Space,
			Selected: s.IsSelected(h.Definition.ID),
		})
	}

	zones := s.Zones
	if zones == nil {
		zones = []model.SelectedZone{}
	}

	v := SessionView{
		ID:         s.ID,
		Mode:       s.Mode,
		Category:   s.Category,
		View:       s.ViewAngle,
		Make:       s.VehicleMake,
		Model:      s.VehicleModel,
		Color:      EffectiveColor(s),
		ReadOnly:   s.ReadOnly,
		Hotspots:   hotspots,
		Zones:      zones,
		TotalPrice: e.ctrl.Total(s),
		Dialog:     e.ctrl.Dialog(s),
		Orphaned:   e.ctrl.Orphans(s),
		Version:    s.Version,
		ExpiresAt:  s.ExpiresAt,
	}
	if s.Mode == model.Mode3D {
		v.Asset = &AssetView{
			Status:      s.Asset.Status,
			RecordID:    s.Asset.RecordID,
			ModelURL:    s.Asset.ModelURL,
			Category:    s.Asset.Category,
			Bounds:      vc.Bounds,
			Placeholder: s.Asset.Status != model.AssetLoaded,
			Error:       s.Asset.Error,
		}
	}
	return v
}
