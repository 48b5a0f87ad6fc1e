package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/detailhub/zoneconfigurator/internal/catalog"
	"github.com/detailhub/zoneconfigurator/internal/config"
	"github.com/detailhub/zoneconfigurator/internal/jobzone"
	"github.com/detailhub/zoneconfigurator/internal/openapi"
	"github.com/detailhub/zoneconfigurator/internal/selection"
	"github.com/detailhub/zoneconfigurator/model"
)

// --- Test helpers ---

// claimsAuth stands in for JWT verification. Subject and tenant come from
// X-Test-Subject and X-Test-Tenant, defaulting to user-1 / tenant-1.
func claimsAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub := r.Header.Get("X-Test-Subject")
		if sub == "" {
			sub = "user-1"
		}
		tenant := r.Header.Get("X-Test-Tenant")
		if tenant == "" {
			tenant = "tenant-1"
		}
		claims := map[string]any{"sub": sub, "tenant_id": tenant, "email": "user@example.com"}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

type stubCapResolver struct {
	caps model.CapabilitySet
}

func (s *stubCapResolver) Resolve(_ *model.RequestContext) (model.CapabilitySet, error) {
	return s.caps, nil
}
func (s *stubCapResolver) Invalidate(_, _ string) {}

func allCaps() model.CapabilitySet {
	return model.CapabilitySet{"configurator:*": true, "jobs:zones:write": true}
}

type testServer struct {
	router chi.Router
	writer *jobzone.MemoryWriter
}

func newTestServer(t *testing.T, caps model.CapabilitySet) *testServer {
	t.Helper()

	tables, err := catalog.NewLoader().LoadEmbedded()
	if err != nil {
		t.Fatalf("LoadEmbedded: %v", err)
	}
	reg := catalog.NewRegistry(tables, nil)

	api, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load: %v", err)
	}

	engine := selection.NewEngine(
		selection.NewController(reg, config.OrphanPreserve),
		reg,
		selection.NewMemorySessionStore(),
		nil, nil,
		time.Hour,
		nil, nil,
	)
	writer := jobzone.NewMemoryWriter()

	deps := testDeps()
	deps.Authenticate = claimsAuth
	deps.CapabilityResolver = &stubCapResolver{caps: caps}
	deps.Catalog = reg
	deps.Sessions = engine
	deps.Committer = jobzone.NewCommitter(writer, jobzone.NewMemoryIdempotencyStore(), time.Hour, nil, nil)
	deps.API = api

	return &testServer{router: NewRouter(deps), writer: writer}
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

const sessionsPath = "/ui/configurator/sessions"

func (ts *testServer) createSession(t *testing.T, body string) selection.SessionView {
	t.Helper()
	w := ts.do("POST", sessionsPath, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	return decodeJSON[selection.SessionView](t, w)
}

// --- Session flow ---

func TestSessionFlow_sedanScenario(t *testing.T) {
	ts := newTestServer(t, allCaps())
	sv := ts.createSession(t, `{"mode":"2d","category":"sedan","view":"side"}`)
	base := sessionsPath + "/" + sv.ID

	if len(sv.Hotspots) == 0 {
		t.Fatal("session should render hotspots")
	}

	w := ts.do("POST", base+"/hotspots/hood/open", "")
	if w.Code != 200 {
		t.Fatalf("open status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[actionResponse](t, w)
	if resp.Session.Dialog == nil || resp.Session.Dialog.ZoneID != "hood" {
		t.Fatalf("dialog = %+v, want hood", resp.Session.Dialog)
	}
	if resp.Session.Dialog.CanSave {
		t.Error("dialog without services should not be savable")
	}

	ts.do("POST", base+"/dialog/services", `{"service":"Wash & Dry"}`)
	w = ts.do("POST", base+"/dialog/services", `{"service":"Wax Coating"}`)
	resp = decodeJSON[actionResponse](t, w)
	if got := resp.Session.Dialog.DisplayedPrice; got != 2000 {
		t.Errorf("displayed price = %d, want 2000", got)
	}

	w = ts.do("PUT", base+"/dialog/price", `{"price_override":"3500"}`)
	resp = decodeJSON[actionResponse](t, w)
	if got := resp.Session.Dialog.DisplayedPrice; got != 3500 {
		t.Errorf("displayed price = %d, want 3500", got)
	}

	w = ts.do("POST", base+"/dialog/save", "")
	if w.Code != 200 {
		t.Fatalf("save status = %d, body = %s", w.Code, w.Body.String())
	}
	resp = decodeJSON[actionResponse](t, w)
	if resp.Saved == nil || resp.Saved.Price != 3500 {
		t.Fatalf("saved = %+v, want price 3500", resp.Saved)
	}
	if resp.Session.TotalPrice != 3500 {
		t.Errorf("total = %d, want 3500", resp.Session.TotalPrice)
	}
	if resp.Session.Dialog != nil {
		t.Error("dialog should close on save")
	}
	selected := false
	for _, h := range resp.Session.Hotspots {
		if h.ID == "hood" {
			selected = h.Selected
		}
	}
	if !selected {
		t.Error("hood hotspot should be marked selected")
	}

	// Reopening pre-fills the stored override.
	w = ts.do("POST", base+"/hotspots/hood/open", "")
	resp = decodeJSON[actionResponse](t, w)
	if resp.Session.Dialog.PriceOverride != "3500" {
		t.Errorf("prefilled override = %q, want 3500", resp.Session.Dialog.PriceOverride)
	}
	w = ts.do("POST", base+"/dialog/cancel", "")
	resp = decodeJSON[actionResponse](t, w)
	if resp.Cancelled == nil || !*resp.Cancelled {
		t.Error("cancel should report an open dialog was closed")
	}

	w = ts.do("GET", base+"/job-zones", "")
	jz := decodeJSON[jobZonesResponse](t, w)
	if len(jz.Zones) != 1 || jz.Zones[0].ZoneName != "Hood" || jz.TotalPrice != 3500 {
		t.Errorf("job zones = %+v", jz)
	}

	w = ts.do("POST", base+"/commit", `{"job_id":"job-1"}`)
	if w.Code != 200 {
		t.Fatalf("commit status = %d, body = %s", w.Code, w.Body.String())
	}
	stored, ok := ts.writer.Zones("tenant-1", "job-1")
	if !ok || len(stored) != 1 || stored[0].Price != 3500 {
		t.Errorf("stored zones = %+v", stored)
	}

	w = ts.do("GET", base+"/events", "")
	events := decodeJSON[struct {
		Data []model.SessionEvent `json:"data"`
	}](t, w)
	if len(events.Data) == 0 {
		t.Error("session should have audit events")
	}
}

func TestSessionFlow_removeAndSwitch(t *testing.T) {
	ts := newTestServer(t, allCaps())
	sv := ts.createSession(t, `{"mode":"2d","category":"sedan","zones":[{"id":"hood","name":"Hood","zone_type":"exterior","services":["Wash & Dry"],"price":500}]}`)
	base := sessionsPath + "/" + sv.ID

	if sv.TotalPrice != 500 {
		t.Errorf("initial total = %d, want 500", sv.TotalPrice)
	}

	w := ts.do("PUT", base+"/vehicle", `{"category":"bike"}`)
	if w.Code != 200 {
		t.Fatalf("switch status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeJSON[actionResponse](t, w)
	if resp.Switch == nil || resp.Switch.Category != model.CategoryBike {
		t.Fatalf("switch = %+v", resp.Switch)
	}

	w = ts.do("DELETE", base+"/zones/hood", "")
	if w.Code != 200 {
		t.Fatalf("remove status = %d, body = %s", w.Code, w.Body.String())
	}
	resp = decodeJSON[actionResponse](t, w)
	if resp.Removed == nil || resp.Removed.ID != "hood" {
		t.Errorf("removed = %+v", resp.Removed)
	}
	if resp.Session.TotalPrice != 0 {
		t.Errorf("total = %d, want 0", resp.Session.TotalPrice)
	}

	w = ts.do("DELETE", base+"/zones/hood", "")
	if w.Code != 404 || errorCode(t, w) != model.ErrZoneNotFound {
		t.Errorf("second remove status = %d, want 404 ZONE_NOT_FOUND", w.Code)
	}
}

func TestSessionFlow_seededZones(t *testing.T) {
	ts := newTestServer(t, allCaps())

	w := ts.do("POST", sessionsPath, `{"mode":"2d","zones":[{"id":"front_door","services":[]}]}`)
	if w.Code != 422 {
		t.Errorf("empty services status = %d, want 422", w.Code)
	}
	w = ts.do("POST", sessionsPath, `{"mode":"2d","zones":[{"id":"spoiler","services":["Wash & Dry"]}]}`)
	if w.Code != 422 || errorCode(t, w) != model.ErrValidationError {
		t.Errorf("unknown zone without name status = %d, want 422", w.Code)
	}

	sv := ts.createSession(t, `{"mode":"2d","category":"sedan","view":"side","zones":[{"id":"front_door","services":["Wash & Dry"]}]}`)
	w = ts.do("GET", sessionsPath+"/"+sv.ID+"/job-zones", "")
	jz := decodeJSON[jobZonesResponse](t, w)
	if len(jz.Zones) != 1 {
		t.Fatalf("job zones = %+v", jz)
	}
	z := jz.Zones[0]
	if z.ZoneName != "Front Door" || z.ZoneType != "exterior" || z.Price != 500 || len(z.Services) != 1 {
		t.Errorf("seeded job zone = %+v", z)
	}
}

func TestSessionFlow_errors(t *testing.T) {
	ts := newTestServer(t, allCaps())
	sv := ts.createSession(t, `{"mode":"2d"}`)
	base := sessionsPath + "/" + sv.ID

	w := ts.do("POST", base+"/dialog/services", `{"service":"Wash & Dry"}`)
	if w.Code != 409 || errorCode(t, w) != model.ErrInvalidTransition {
		t.Errorf("toggle while idle status = %d, want 409", w.Code)
	}

	ts.do("POST", base+"/hotspots/hood/open", "")
	w = ts.do("POST", base+"/dialog/save", "")
	if w.Code != 422 || errorCode(t, w) != model.ErrValidationError {
		t.Errorf("empty save status = %d, want 422", w.Code)
	}

	w = ts.do("POST", base+"/dialog/services", `{"service":""}`)
	if w.Code != 422 {
		t.Errorf("empty service status = %d, want 422", w.Code)
	}

	w = ts.do("POST", base+"/hotspots/sunroof_of_doom/open", "")
	if w.Code != 404 || errorCode(t, w) != model.ErrZoneNotFound {
		t.Errorf("unknown hotspot status = %d, want 404", w.Code)
	}

	w = ts.do("PUT", base+"/color", `{"color":"blue-ish"}`)
	if w.Code != 422 {
		t.Errorf("invalid color status = %d, want 422", w.Code)
	}

	w = ts.do("POST", sessionsPath, `{"mode":"4d"}`)
	if w.Code != 422 {
		t.Errorf("invalid mode status = %d, want 422", w.Code)
	}

	w = ts.do("POST", sessionsPath, `{not json`)
	if w.Code != 400 && w.Code != 422 {
		t.Errorf("malformed body status = %d, want 400 or 422", w.Code)
	}
}

func TestSession_notFoundAndTenantScoped(t *testing.T) {
	ts := newTestServer(t, allCaps())
	sv := ts.createSession(t, `{"mode":"2d"}`)

	w := ts.do("GET", sessionsPath+"/missing", "")
	if w.Code != 404 || errorCode(t, w) != model.ErrSessionNotFound {
		t.Errorf("missing session status = %d, want 404", w.Code)
	}

	w = ts.do("GET", sessionsPath+"/"+sv.ID, "", "X-Test-Tenant", "tenant-2")
	if w.Code != 404 {
		t.Errorf("other tenant status = %d, want 404", w.Code)
	}
}

func TestSession_delete(t *testing.T) {
	ts := newTestServer(t, allCaps())
	sv := ts.createSession(t, `{"mode":"2d"}`)

	w := ts.do("DELETE", sessionsPath+"/"+sv.ID, "")
	if w.Code != 204 {
		t.Fatalf("delete status = %d, want 204", w.Code)
	}
	w = ts.do("GET", sessionsPath+"/"+sv.ID, "")
	if w.Code != 404 {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestSession_readOnly(t *testing.T) {
	viewOnly := model.CapabilitySet{
		model.CapSessionsView: true,
		model.CapCatalogView:  true,
	}
	ts := newTestServer(t, viewOnly)

	w := ts.do("POST", sessionsPath, `{"mode":"2d"}`)
	if w.Code != 403 {
		t.Errorf("editable create with view access status = %d, want 403", w.Code)
	}

	sv := ts.createSession(t, `{"mode":"2d","read_only":true}`)
	if !sv.ReadOnly {
		t.Error("session should be read-only")
	}

	w = ts.do("POST", sessionsPath+"/"+sv.ID+"/hotspots/hood/open", "")
	if w.Code != 403 {
		t.Errorf("open without edit access status = %d, want 403", w.Code)
	}

	w = ts.do("GET", sessionsPath+"/"+sv.ID, "")
	if w.Code != 200 {
		t.Errorf("get status = %d, want 200", w.Code)
	}
}

func TestSession_readOnlyRejectsEdits(t *testing.T) {
	ts := newTestServer(t, allCaps())
	sv := ts.createSession(t, `{"mode":"2d","read_only":true}`)

	w := ts.do("POST", sessionsPath+"/"+sv.ID+"/hotspots/hood/open", "")
	if w.Code != 403 || errorCode(t, w) != model.ErrReadOnly {
		t.Errorf("open on read-only session status = %d, want 403 READ_ONLY", w.Code)
	}

	w = ts.do("POST", sessionsPath+"/"+sv.ID+"/commit", `{"job_id":"job-1"}`)
	if w.Code != 403 || errorCode(t, w) != model.ErrReadOnly {
		t.Errorf("commit of read-only session status = %d, want 403 READ_ONLY", w.Code)
	}
}

func TestCommit_requiresJobCapability(t *testing.T) {
	ts := newTestServer(t, model.CapabilitySet{"configurator:*": true})
	sv := ts.createSession(t, `{"mode":"2d"}`)

	w := ts.do("POST", sessionsPath+"/"+sv.ID+"/commit", `{"job_id":"job-1"}`)
	if w.Code != 403 {
		t.Errorf("commit status = %d, want 403", w.Code)
	}
}

func TestCommit_idempotencyKeyFromHeader(t *testing.T) {
	ts := newTestServer(t, allCaps())
	sv := ts.createSession(t, `{"mode":"2d","zones":[{"id":"hood","name":"Hood","zone_type":"exterior","services":["Wash & Dry"],"price":500}]}`)
	path := sessionsPath + "/" + sv.ID + "/commit"

	w := ts.do("POST", path, `{"job_id":"job-1"}`, "X-Idempotency-Key", "attempt-1")
	first := decodeJSON[jobzone.CommitResult](t, w)
	if first.Replayed {
		t.Error("first commit should not be a replay")
	}

	w = ts.do("POST", path, `{"job_id":"job-1"}`, "X-Idempotency-Key", "attempt-1")
	second := decodeJSON[jobzone.CommitResult](t, w)
	if !second.Replayed {
		t.Error("second commit with the same key should be a replay")
	}
	if second.TotalPrice != 500 {
		t.Errorf("total = %d, want 500", second.TotalPrice)
	}

	w = ts.do("POST", path, `{"job_id":""}`)
	if w.Code != 422 {
		t.Errorf("empty job id status = %d, want 422", w.Code)
	}
}

func TestModel_placeholderPainted(t *testing.T) {
	ts := newTestServer(t, allCaps())
	sv := ts.createSession(t, `{"mode":"3d","category":"suv","color":"#FF0000"}`)

	if sv.Asset == nil || !sv.Asset.Placeholder {
		t.Fatalf("asset = %+v, want placeholder", sv.Asset)
	}

	w := ts.do("GET", sessionsPath+"/"+sv.ID+"/model.glb", "")
	if w.Code != 200 {
		t.Fatalf("model status = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "model/gltf-binary" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Model-Color") == "" {
		t.Error("X-Model-Color should be set for a colored session")
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("glTF")) {
		t.Error("body should be binary glTF")
	}
}

// --- Catalog ---

func TestCatalog_categories(t *testing.T) {
	ts := newTestServer(t, allCaps())

	w := ts.do("GET", "/ui/configurator/catalog/categories?mode=2d", "")
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decodeJSON[categoriesResponse](t, w)
	if resp.Default != model.CategorySedan {
		t.Errorf("default = %q, want sedan", resp.Default)
	}
	if len(resp.ViewAngles) != 4 {
		t.Errorf("view angles = %v, want 4", resp.ViewAngles)
	}

	w = ts.do("GET", "/ui/configurator/catalog/categories?mode=3d", "")
	resp = decodeJSON[categoriesResponse](t, w)
	if resp.Default != model.CategoryCar || resp.ViewAngles != nil {
		t.Errorf("3d categories = %+v", resp)
	}

	w = ts.do("GET", "/ui/configurator/catalog/categories?mode=4d", "")
	if w.Code != 422 {
		t.Errorf("invalid mode status = %d, want 422", w.Code)
	}
}

func TestCatalog_zones(t *testing.T) {
	ts := newTestServer(t, allCaps())

	w := ts.do("GET", "/ui/configurator/catalog/zones?mode=2d&category=spaceship&view=diagonal", "")
	resp := decodeJSON[zonesResponse](t, w)
	if resp.Category != model.CategorySedan || resp.View != model.ViewSide {
		t.Errorf("fallbacks = %s/%s, want sedan/side", resp.Category, resp.View)
	}
	if len(resp.Zones) == 0 {
		t.Fatal("zones should not be empty")
	}

	w = ts.do("GET", "/ui/configurator/catalog/zones?mode=3d&category=suv", "")
	resp = decodeJSON[zonesResponse](t, w)
	if resp.View != "" {
		t.Errorf("3d view = %q, want empty", resp.View)
	}
	for _, z := range resp.Zones {
		if z.Space != "scene" {
			t.Errorf("zone %s space = %q, want scene", z.ID, z.Space)
		}
	}
}

func TestCatalog_services(t *testing.T) {
	ts := newTestServer(t, allCaps())

	w := ts.do("GET", "/ui/configurator/catalog/services?zone_type=exterior", "")
	resp := decodeJSON[servicesResponse](t, w)
	if len(resp.Services) == 0 || resp.Services[0].Name != "Wash & Dry" {
		t.Errorf("services = %+v", resp.Services)
	}

	w = ts.do("GET", "/ui/configurator/catalog/services?zone_type=roof", "")
	if w.Code != 422 {
		t.Errorf("unknown zone type status = %d, want 422", w.Code)
	}
}

func TestCatalog_requiresCapability(t *testing.T) {
	ts := newTestServer(t, model.CapabilitySet{model.CapSessionsView: true})

	w := ts.do("GET", "/ui/configurator/catalog/categories?mode=2d", "")
	if w.Code != 403 {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestResolveAsset_notConfigured(t *testing.T) {
	ts := newTestServer(t, allCaps())

	w := ts.do("GET", "/ui/configurator/assets/resolve?make=Honda&model=Civic", "")
	if w.Code != 404 {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAPIDocument_public(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do("GET", "/ui/configurator/openapi.json", "")
	if w.Code != 200 {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "createSession") {
		t.Error("document should list createSession")
	}
}

func TestMissingTenant_unauthorized(t *testing.T) {
	deps := testDeps()
	deps.Authenticate = func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), map[string]any{"sub": "user-1"})))
		})
	}
	r := NewRouter(deps)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/ui/configurator/catalog/categories?mode=2d", nil))
	if rec.Code != 401 {
		t.Errorf("status = %d, want 401 without tenant claim", rec.Code)
	}
}
