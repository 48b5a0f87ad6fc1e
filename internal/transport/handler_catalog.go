package transport

import (
	"errors"
	"net/http"

	"github.com/detailhub/zoneconfigurator/internal/asset"
	"github.com/detailhub/zoneconfigurator/internal/catalog"
	"github.com/detailhub/zoneconfigurator/internal/geometry"
	"github.com/detailhub/zoneconfigurator/model"
)

type categoriesResponse struct {
	Mode       model.Mode              `json:"mode"`
	Categories []model.VehicleCategory `json:"categories"`
	Default    model.VehicleCategory   `json:"default"`
	ViewAngles []model.ViewAngle       `json:"view_angles,omitempty"`
}

type zoneEntry struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	ZoneType model.ZoneType `json:"zone_type"`
	Position model.Vec3     `json:"position"`
	Space    string         `json:"space"`
}

type zonesResponse struct {
	Mode     model.Mode            `json:"mode"`
	Category model.VehicleCategory `json:"category"`
	View     model.ViewAngle       `json:"view,omitempty"`
	Zones    []zoneEntry           `json:"zones"`
}

type servicesResponse struct {
	ZoneType model.ZoneType              `json:"zone_type"`
	Services []model.ServiceCatalogEntry `json:"services"`
}

func queryMode(r *http.Request) (model.Mode, error) {
	mode := model.Mode(r.URL.Query().Get("mode"))
	if !mode.Valid() {
		return "", model.NewBadRequestError("mode must be 2d or 3d")
	}
	return mode, nil
}

func handleCategories(reg *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, err := queryMode(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		resp := categoriesResponse{
			Mode:       mode,
			Categories: reg.Categories(mode),
			Default:    reg.ResolveCategory(mode, ""),
		}
		if mode == model.Mode2D {
			resp.ViewAngles = reg.ViewAngles()
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

// handleZones returns the zone table of a mode, category and view with
// hotspot positions resolved. 3D positions use the default scene bounds.
func handleZones(reg *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mode, err := queryMode(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		q := r.URL.Query()
		category := reg.ResolveCategory(mode, model.VehicleCategory(q.Get("category")))
		var view model.ViewAngle
		if mode == model.Mode2D {
			view = reg.ResolveView(model.ViewAngle(q.Get("view")))
		}

		resolved := geometry.NewResolver(mode, reg).Resolve(category, geometry.ViewContext{View: view})
		zones := make([]zoneEntry, 0, len(resolved))
		for _, h := range resolved {
			zones = append(zones, zoneEntry{
				ID:       h.Definition.ID,
				Name:     h.Definition.Name,
				ZoneType: h.Definition.ZoneType,
				Position: h.Position,
				Space:    h.Space,
			})
		}

		WriteJSON(w, http.StatusOK, zonesResponse{
			Mode:     mode,
			Category: category,
			View:     view,
			Zones:    zones,
		})
	}
}

func handleServices(reg *catalog.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		zoneType := model.ZoneType(r.URL.Query().Get("zone_type"))
		services := reg.ServiceCatalog(zoneType)
		if services == nil {
			services = []model.ServiceCatalogEntry{}
		}
		WriteJSON(w, http.StatusOK, servicesResponse{ZoneType: zoneType, Services: services})
	}
}

func handleResolveAsset(loader *asset.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if loader == nil {
			WriteNotFound(w, "vehicle models are not configured")
			return
		}
		q := r.URL.Query()
		rec, err := loader.Resolve(r.Context(), q.Get("make"), q.Get("model"))
		if errors.Is(err, asset.ErrNoModel) {
			WriteNotFound(w, "no active vehicle model")
			return
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}
