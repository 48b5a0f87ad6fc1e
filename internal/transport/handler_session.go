package transport

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/detailhub/zoneconfigurator/internal/geometry"
	"github.com/detailhub/zoneconfigurator/internal/jobzone"
	"github.com/detailhub/zoneconfigurator/internal/selection"
	"github.com/detailhub/zoneconfigurator/model"
)

// actionResponse is returned by every session mutation: the new render
// state plus what the action did.
type actionResponse struct {
	Session   selection.SessionView   `json:"session"`
	Saved     *model.SelectedZone     `json:"saved,omitempty"`
	Removed   *model.SelectedZone     `json:"removed,omitempty"`
	Switch    *selection.SwitchResult `json:"switch,omitempty"`
	Cancelled *bool                   `json:"cancelled,omitempty"`
}

type jobZonesResponse struct {
	SessionID  string                `json:"session_id"`
	Zones      []model.JobZoneRecord `json:"zones"`
	TotalPrice int                   `json:"total_price"`
}

// requestContext returns the caller's RequestContext, writing a 401 when
// it is missing.
func requestContext(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	return rctx, true
}

func handleCreateSession(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}

		var body createSessionRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		// Read-only sessions only need view access.
		required := model.CapSessionsEdit
		if body.ReadOnly {
			required = model.CapSessionsView
		}
		if !CapabilitiesFrom(r.Context()).Has(required) {
			WriteForbidden(w, "missing capability "+required)
			return
		}

		s, err := engine.Create(r.Context(), rctx, body.input())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, engine.View(s))
	}
}

func handleGetSession(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		s, err := engine.Get(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, engine.View(s))
	}
}

func handleDeleteSession(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		if err := engine.Delete(r.Context(), rctx, chi.URLParam(r, "id")); err != nil {
			WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSessionEvents(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		events, err := engine.Events(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		if events == nil {
			events = []model.SessionEvent{}
		}
		WriteJSON(w, http.StatusOK, map[string]any{"data": events})
	}
}

func handleOpenHotspot(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		s, err := engine.OpenHotspot(r.Context(), rctx, chi.URLParam(r, "id"), chi.URLParam(r, "zoneId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionResponse{Session: engine.View(s)})
	}
}

func handleToggleService(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var body toggleServiceRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		s, err := engine.ToggleService(r.Context(), rctx, chi.URLParam(r, "id"), body.Service)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionResponse{Session: engine.View(s)})
	}
}

func handleSetPriceOverride(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var body priceOverrideRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		s, err := engine.SetPriceOverride(r.Context(), rctx, chi.URLParam(r, "id"), body.PriceOverride)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionResponse{Session: engine.View(s)})
	}
}

func handleSaveDialog(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		s, zone, err := engine.SaveDialog(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionResponse{Session: engine.View(s), Saved: &zone})
	}
}

func handleCancelDialog(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		s, cancelled, err := engine.CancelDialog(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionResponse{Session: engine.View(s), Cancelled: &cancelled})
	}
}

func handleRemoveZone(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		s, zone, err := engine.RemoveZone(r.Context(), rctx, chi.URLParam(r, "id"), chi.URLParam(r, "zoneId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionResponse{Session: engine.View(s), Removed: &zone})
	}
}

func handleSwitchVehicle(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var body switchVehicleRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		s, result, err := engine.SwitchVehicle(r.Context(), rctx, chi.URLParam(r, "id"), body.change())
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionResponse{Session: engine.View(s), Switch: &result})
	}
}

func handleSetColor(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var body colorRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		s, err := engine.SetColor(r.Context(), rctx, chi.URLParam(r, "id"), body.Color)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, actionResponse{Session: engine.View(s)})
	}
}

func handleJobZones(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		s, err := engine.Get(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		records := jobzone.ToRecords(s.Zones)
		WriteJSON(w, http.StatusOK, jobZonesResponse{
			SessionID:  s.ID,
			Zones:      records,
			TotalPrice: jobzone.Total(records),
		})
	}
}

// handleModel streams the session's vehicle model as binary glTF, painted
// with the session color.
func handleModel(engine *selection.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		doc, report, err := engine.Model(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}

		var buf bytes.Buffer
		if err := geometry.EncodeGLB(&buf, doc); err != nil {
			WriteError(w, err)
			return
		}

		w.Header().Set("Content-Type", "model/gltf-binary")
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		if report.Color != "" {
			w.Header().Set("X-Model-Color", report.Color)
			w.Header().Set("X-Model-Painted", strconv.Itoa(len(report.Painted)))
		}
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func handleCommit(engine *selection.Engine, committer *jobzone.Committer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := requestContext(w, r)
		if !ok {
			return
		}
		var body commitRequest
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}

		// Allow idempotency key from header as fallback.
		if body.IdempotencyKey == "" {
			body.IdempotencyKey = r.Header.Get("X-Idempotency-Key")
		}

		s, err := engine.Get(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		result, err := committer.Commit(r.Context(), rctx, s, body.JobID, body.IdempotencyKey)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	}
}
