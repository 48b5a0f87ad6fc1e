package catalog

import (
	"slices"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/detailhub/zoneconfigurator/model"
)

// snapshot is an immutable view of the catalog tables.
type snapshot struct {
	zones2D  map[model.VehicleCategory]map[model.ViewAngle][]model.ZoneDefinition
	zones3D  map[model.VehicleCategory][]model.ZoneDefinition
	services map[model.ZoneType][]model.ServiceCatalogEntry
	checksum string
	source   string
}

// Stats counts the entries of the current snapshot.
type Stats struct {
	Zones2D  int
	Zones3D  int
	Services int
}

// Registry is a read-optimized, thread-safe catalog. Lookups never fail:
// unknown categories, views and zone types fall back to defaults.
type Registry struct {
	snap   atomic.Pointer[snapshot]
	logger *zap.Logger
}

// NewRegistry creates a Registry from the given tables. A nil logger
// disables fallback logging.
func NewRegistry(t *Tables, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger}
	r.Replace(t)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given tables.
func (r *Registry) Replace(t *Tables) {
	s := &snapshot{
		zones2D:  make(map[model.VehicleCategory]map[model.ViewAngle][]model.ZoneDefinition, len(t.Zones2D)),
		zones3D:  make(map[model.VehicleCategory][]model.ZoneDefinition, len(t.Zones3D)),
		services: make(map[model.ZoneType][]model.ServiceCatalogEntry, len(t.Services)),
		checksum: t.Checksum,
		source:   t.Source,
	}

	for cat, views := range t.Zones2D {
		byView := make(map[model.ViewAngle][]model.ZoneDefinition, len(views))
		for view, entries := range views {
			defs := make([]model.ZoneDefinition, 0, len(entries))
			for _, e := range entries {
				defs = append(defs, model.ZoneDefinition{
					ID:         e.ID,
					Name:       e.Name,
					ZoneType:   model.ZoneType(e.ZoneType),
					Position2D: &model.Vec2{X: e.X, Y: e.Y},
				})
			}
			byView[model.ViewAngle(view)] = defs
		}
		s.zones2D[model.VehicleCategory(cat)] = byView
	}

	for cat, entries := range t.Zones3D {
		defs := make([]model.ZoneDefinition, 0, len(entries))
		for _, e := range entries {
			defs = append(defs, model.ZoneDefinition{
				ID:         e.ID,
				Name:       e.Name,
				ZoneType:   model.ZoneType(e.ZoneType),
				Position3D: &model.Vec3{X: e.X, Y: e.Y, Z: e.Z},
			})
		}
		s.zones3D[model.VehicleCategory(cat)] = defs
	}

	for zt, entries := range t.Services {
		svc := make([]model.ServiceCatalogEntry, 0, len(entries))
		for _, e := range entries {
			svc = append(svc, model.ServiceCatalogEntry{Name: e.Name, Price: e.Price})
		}
		s.services[model.ZoneType(zt)] = svc
	}

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// ResolveCategory maps category onto a category that has a table in the
// given mode. Unknown categories become sedan (2D) or car (3D).
func (r *Registry) ResolveCategory(mode model.Mode, category model.VehicleCategory) model.VehicleCategory {
	s := r.current()
	if mode == model.Mode3D {
		if _, ok := s.zones3D[category]; ok {
			return category
		}
		r.logger.Debug("catalog: unknown 3D category, using fallback",
			zap.String("category", string(category)))
		return model.Categories3D[0]
	}
	if _, ok := s.zones2D[category]; ok {
		return category
	}
	r.logger.Debug("catalog: unknown 2D category, using fallback",
		zap.String("category", string(category)))
	return model.Categories2D[0]
}

// ResolveView maps view onto a known view angle, defaulting to side.
func (r *Registry) ResolveView(view model.ViewAngle) model.ViewAngle {
	if slices.Contains(model.ViewAngles, view) {
		return view
	}
	if view != "" {
		r.logger.Debug("catalog: unknown view angle, using fallback",
			zap.String("view", string(view)))
	}
	return model.DefaultViewAngle
}

// ZoneDefinitions returns the ordered zone table for the category and view
// (view is ignored in 3D mode). The returned slice is a copy.
func (r *Registry) ZoneDefinitions(mode model.Mode, category model.VehicleCategory, view model.ViewAngle) []model.ZoneDefinition {
	return cloneDefs(r.table(mode, category, view))
}

// ZoneByID returns the zone with the given id in the resolved table.
func (r *Registry) ZoneByID(mode model.Mode, category model.VehicleCategory, view model.ViewAngle, id string) (model.ZoneDefinition, bool) {
	for _, d := range r.table(mode, category, view) {
		if d.ID == id {
			return cloneDef(d), true
		}
	}
	return model.ZoneDefinition{}, false
}

func (r *Registry) table(mode model.Mode, category model.VehicleCategory, view model.ViewAngle) []model.ZoneDefinition {
	s := r.current()
	cat := r.ResolveCategory(mode, category)
	if mode == model.Mode3D {
		return s.zones3D[cat]
	}
	return s.zones2D[cat][r.ResolveView(view)]
}

// ServiceCatalog returns the service menu for a zone type, falling back to
// the exterior menu when the type has none. The returned slice is a copy.
func (r *Registry) ServiceCatalog(zoneType model.ZoneType) []model.ServiceCatalogEntry {
	s := r.current()
	if svc := s.services[zoneType]; len(svc) > 0 {
		return slices.Clone(svc)
	}
	r.logger.Debug("catalog: no services for zone type, using exterior",
		zap.String("zone_type", string(zoneType)))
	return slices.Clone(s.services[model.ZoneExterior])
}

// Categories lists the categories of a mode in display order.
func (r *Registry) Categories(mode model.Mode) []model.VehicleCategory {
	if mode == model.Mode3D {
		return slices.Clone(model.Categories3D)
	}
	return slices.Clone(model.Categories2D)
}

// ViewAngles lists the 2D view angles in display order.
func (r *Registry) ViewAngles() []model.ViewAngle {
	return slices.Clone(model.ViewAngles)
}

// Checksum returns the checksum of the loaded catalog files.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

// Source names where the current tables were loaded from.
func (r *Registry) Source() string {
	return r.current().source
}

// Stats counts zones and services in the current snapshot.
func (r *Registry) Stats() Stats {
	s := r.current()
	var st Stats
	for _, views := range s.zones2D {
		for _, defs := range views {
			st.Zones2D += len(defs)
		}
	}
	for _, defs := range s.zones3D {
		st.Zones3D += len(defs)
	}
	for _, svc := range s.services {
		st.Services += len(svc)
	}
	return st
}

func cloneDefs(defs []model.ZoneDefinition) []model.ZoneDefinition {
	out := make([]model.ZoneDefinition, len(defs))
	for i, d := range defs {
		out[i] = cloneDef(d)
	}
	return out
}

func cloneDef(d model.ZoneDefinition) model.ZoneDefinition {
	if d.Position2D != nil {
		p := *d.Position2D
		d.Position2D = &p
	}
	if d.Position3D != nil {
		p := *d.Position3D
		d.Position3D = &p
	}
	return d
}
