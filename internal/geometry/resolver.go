// Package geometry places zone hotspots in 2D schematic or 3D scene space
// and applies paint colors to loaded vehicle models.
package geometry

import (
	"github.com/detailhub/zoneconfigurator/model"
)

// Coordinate spaces of a resolved hotspot.
const (
	SpacePercent = "percent"
	SpaceScene   = "scene"
)

// DefaultScaledBounds is used for 3D placement while no asset bounds are
// known, so hotspots stay usable against the placeholder model.
var DefaultScaledBounds = model.Vec3{X: 2, Y: 1.5, Z: 2}

// ResolvedHotspot is a zone definition with its position in a concrete
// coordinate space.
type ResolvedHotspot struct {
	Definition model.ZoneDefinition `json:"definition"`
	Position   model.Vec3           `json:"position"`
	Space      string               `json:"space"`
}

// ViewContext carries what a resolver needs beyond the category: the view
// angle for 2D, the measured bounds for 3D.
type ViewContext struct {
	View   model.ViewAngle
	Bounds *model.Bounds
}

// ZoneSource provides zone tables.
type ZoneSource interface {
	ZoneDefinitions(mode model.Mode, category model.VehicleCategory, view model.ViewAngle) []model.ZoneDefinition
}

// Resolver computes hotspot positions for a vehicle category.
type Resolver interface {
	Resolve(category model.VehicleCategory, vc ViewContext) []ResolvedHotspot
}

// NewResolver returns the resolver for a mode.
func NewResolver(mode model.Mode, zones ZoneSource) Resolver {
	if mode == model.Mode3D {
		return NewResolver3D(zones)
	}
	return NewResolver2D(zones)
}

// Resolver2D returns author-placed schematic positions unchanged.
type Resolver2D struct {
	zones ZoneSource
}

// NewResolver2D creates a Resolver2D.
func NewResolver2D(zones ZoneSource) *Resolver2D {
	return &Resolver2D{zones: zones}
}

// Resolve returns the percentage positions of the category's table for the
// view angle.
func (r *Resolver2D) Resolve(category model.VehicleCategory, vc ViewContext) []ResolvedHotspot {
	defs := r.zones.ZoneDefinitions(model.Mode2D, category, vc.View)
	out := make([]ResolvedHotspot, 0, len(defs))
	for _, d := range defs {
		var pos model.Vec3
		if d.Position2D != nil {
			pos = model.Vec3{X: d.Position2D.X, Y: d.Position2D.Y}
		}
		out = append(out, ResolvedHotspot{Definition: d, Position: pos, Space: SpacePercent})
	}
	return out
}

// Resolver3D scales unit-relative positions by the model's normalized
// bounds.
type Resolver3D struct {
	zones ZoneSource
}

// NewResolver3D creates a Resolver3D.
func NewResolver3D(zones ZoneSource) *Resolver3D {
	return &Resolver3D{zones: zones}
}

// Resolve multiplies each relative position component-wise by the scaled
// bounds, or by DefaultScaledBounds when vc.Bounds is nil.
func (r *Resolver3D) Resolve(category model.VehicleCategory, vc ViewContext) []ResolvedHotspot {
	scaled := DefaultScaledBounds
	if vc.Bounds != nil {
		scaled = vc.Bounds.Scaled
	}
	defs := r.zones.ZoneDefinitions(model.Mode3D, category, "")
	out := make([]ResolvedHotspot, 0, len(defs))
	for _, d := range defs {
		var pos model.Vec3
		if d.Position3D != nil {
			pos = d.Position3D.Mul(scaled)
		}
		out = append(out, ResolvedHotspot{Definition: d, Position: pos, Space: SpaceScene})
	}
	return out
}
