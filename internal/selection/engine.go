package selection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/gltf"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/detailhub/zoneconfigurator/internal/asset"
	"github.com/detailhub/zoneconfigurator/internal/geometry"
	"github.com/detailhub/zoneconfigurator/internal/observability"
	"github.com/detailhub/zoneconfigurator/model"
)

const (
	maxUpdateAttempts       = 3
	maxSystemUpdateAttempts = 10
	systemRetryBackoff      = 20 * time.Millisecond
	systemActor             = "system"
	defaultSessionTTL       = 2 * time.Hour
)

// errUnchanged aborts a mutation without writing; the loaded session is
// returned as is.
var errUnchanged = errors.New("selection: session unchanged")

// CreateInput is the data an enclosing workflow opens a session with.
type CreateInput struct {
	Mode     model.Mode
	Category model.VehicleCategory
	View     model.ViewAngle
	Make     string
	Model    string
	Color    string
	ReadOnly bool
	Zones    []model.SelectedZone
}

// Engine manages the lifecycle of configurator sessions: it loads a
// session, applies a controller action, stores it with optimistic locking
// and records the matching audit events. 3D sessions load their vehicle
// model in the background.
type Engine struct {
	ctrl       *Controller
	catalog    Catalog
	store      SessionStore
	loader     *asset.Loader
	tracker    *asset.Tracker
	classifier geometry.Classifier
	logger     *zap.Logger
	metrics    *observability.Metrics
	ttl        time.Duration
	now        func() time.Time

	loads sync.WaitGroup
}

// NewEngine creates a session engine. loader and tracker may be nil, in
// which case 3D sessions stay on the placeholder model.
func NewEngine(
	ctrl *Controller,
	catalog Catalog,
	store SessionStore,
	loader *asset.Loader,
	tracker *asset.Tracker,
	ttl time.Duration,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	if loader == nil {
		tracker = nil
	}
	return &Engine{
		ctrl:       ctrl,
		catalog:    catalog,
		store:      store,
		loader:     loader,
		tracker:    tracker,
		classifier: geometry.NewKeywordClassifier(),
		logger:     logger,
		metrics:    metrics,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Controller returns the controller the engine applies actions with.
func (e *Engine) Controller() *Controller {
	return e.ctrl
}

// Create opens a new session. The category and view fall back to the
// mode's defaults when unknown; an invalid initial color is ignored.
func (e *Engine) Create(ctx context.Context, rctx *model.RequestContext, in CreateInput) (_ *model.Session, err error) {
	ctx, span := observability.StartSpan(ctx, "selection.create",
		observability.AttrMode.String(string(in.Mode)),
		observability.AttrTenantID.String(rctx.TenantID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	logger := observability.RequestLogger(ctx, e.logger)

	if !in.Mode.Valid() {
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown mode %q", in.Mode))
	}

	category := e.catalog.ResolveCategory(in.Mode, in.Category)
	if category != in.Category {
		logger.Debug("vehicle category fell back to default",
			zap.String("requested", string(in.Category)),
			zap.String("category", string(category)),
		)
	}
	var view model.ViewAngle
	if in.Mode == model.Mode2D {
		view = e.catalog.ResolveView(in.View)
	}

	now := e.now().UTC()
	expiresAt := now.Add(e.ttl)
	s := &model.Session{
		ID:           uuid.New().String(),
		TenantID:     rctx.TenantID,
		SubjectID:    rctx.SubjectID,
		Mode:         in.Mode,
		Category:     category,
		ViewAngle:    view,
		VehicleMake:  in.Make,
		VehicleModel: in.Model,
		ReadOnly:     in.ReadOnly,
		Asset:        model.AssetBinding{Status: model.AssetNone},
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    &expiresAt,
	}
	if err := e.ctrl.Seed(s, in.Zones); err != nil {
		return nil, err
	}
	if in.Color != "" {
		if c, err := geometry.ParseColor(in.Color); err != nil {
			logger.Warn("ignoring invalid initial color", zap.String("color", in.Color))
		} else {
			s.Color = c.Hex
		}
	}

	load := e.beginLoad(s)
	if err := e.store.Create(ctx, s); err != nil {
		load.abandon()
		return nil, err
	}
	load.start()

	e.metrics.RecordSessionCreated(string(s.Mode))
	logger.Info("configurator session created", observability.SessionFields(s)...)
	return s, nil
}

// Get returns a session owned by the caller's tenant.
func (e *Engine) Get(ctx context.Context, rctx *model.RequestContext, sessionID string) (*model.Session, error) {
	return e.get(ctx, rctx.TenantID, sessionID)
}

func (e *Engine) get(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	s, err := e.store.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Expired(e.now()) {
		return nil, model.NewSessionExpiredError(sessionID)
	}
	return s, nil
}

// Delete discards a session. An in-flight asset load is cancelled and its
// result dropped.
func (e *Engine) Delete(ctx context.Context, rctx *model.RequestContext, sessionID string) error {
	if err := e.store.Delete(ctx, rctx.TenantID, sessionID); err != nil {
		return err
	}
	if e.tracker != nil {
		e.tracker.Forget(sessionID)
	}
	e.metrics.RecordSessionDeleted()
	observability.RequestLogger(ctx, e.logger).Info("configurator session discarded",
		zap.String("session_id", sessionID),
	)
	return nil
}

// Events returns the session's audit trail.
func (e *Engine) Events(ctx context.Context, rctx *model.RequestContext, sessionID string) ([]model.SessionEvent, error) {
	return e.store.GetEvents(ctx, rctx.TenantID, sessionID)
}

// OpenHotspot opens the service dialog for a zone.
func (e *Engine) OpenHotspot(ctx context.Context, rctx *model.RequestContext, sessionID, zoneID string) (*model.Session, error) {
	return e.mutate(ctx, rctx, sessionID, "open_hotspot", func(s *model.Session) ([]model.SessionEvent, error) {
		if err := e.ctrl.Open(s, zoneID); err != nil {
			return nil, err
		}
		return []model.SessionEvent{{Event: model.EventDialogOpened, ZoneID: zoneID}}, nil
	})
}

// ToggleService flips a service in the open dialog.
func (e *Engine) ToggleService(ctx context.Context, rctx *model.RequestContext, sessionID, service string) (*model.Session, error) {
	return e.mutate(ctx, rctx, sessionID, "toggle_service", func(s *model.Session) ([]model.SessionEvent, error) {
		return nil, e.ctrl.ToggleService(s, service)
	})
}

// SetPriceOverride stores the override text of the open dialog.
func (e *Engine) SetPriceOverride(ctx context.Context, rctx *model.RequestContext, sessionID, text string) (*model.Session, error) {
	return e.mutate(ctx, rctx, sessionID, "set_price_override", func(s *model.Session) ([]model.SessionEvent, error) {
		return nil, e.ctrl.SetPriceOverride(s, text)
	})
}

// SaveDialog commits the open dialog and returns the saved zone.
func (e *Engine) SaveDialog(ctx context.Context, rctx *model.RequestContext, sessionID string) (*model.Session, model.SelectedZone, error) {
	var saved model.SelectedZone
	s, err := e.mutate(ctx, rctx, sessionID, "save_dialog", func(s *model.Session) ([]model.SessionEvent, error) {
		zone, err := e.ctrl.Save(s)
		if err != nil {
			return nil, err
		}
		saved = zone
		return []model.SessionEvent{{
			Event:  model.EventZoneSaved,
			ZoneID: zone.ID,
			Data: map[string]any{
				"services": zone.Services,
				"price":    zone.Price,
				"total":    s.TotalPrice(),
			},
		}}, nil
	})
	if err != nil {
		return nil, model.SelectedZone{}, err
	}

	e.metrics.RecordZoneSave(string(saved.ZoneType))
	observability.RequestLogger(ctx, e.logger).Info("zone saved",
		append(observability.SessionFields(s),
			zap.String("zone_id", saved.ID),
			zap.Int("price", saved.Price),
			zap.Int("total", s.TotalPrice()),
		)...,
	)
	return s, saved, nil
}

// CancelDialog discards the open dialog. cancelled is false when no dialog
// was open, in which case nothing is written.
func (e *Engine) CancelDialog(ctx context.Context, rctx *model.RequestContext, sessionID string) (_ *model.Session, cancelled bool, _ error) {
	s, err := e.mutate(ctx, rctx, sessionID, "cancel_dialog", func(s *model.Session) ([]model.SessionEvent, error) {
		var zoneID string
		if s.Active != nil {
			zoneID = s.Active.ZoneID
		}
		if !e.ctrl.Cancel(s) {
			return nil, errUnchanged
		}
		cancelled = true
		return []model.SessionEvent{{Event: model.EventDialogCancelled, ZoneID: zoneID}}, nil
	})
	if err != nil {
		return nil, false, err
	}
	return s, cancelled, nil
}

// RemoveZone deletes a selected zone.
func (e *Engine) RemoveZone(ctx context.Context, rctx *model.RequestContext, sessionID, zoneID string) (*model.Session, model.SelectedZone, error) {
	var removed model.SelectedZone
	s, err := e.mutate(ctx, rctx, sessionID, "remove_zone", func(s *model.Session) ([]model.SessionEvent, error) {
		zone, err := e.ctrl.Remove(s, zoneID)
		if err != nil {
			return nil, err
		}
		removed = zone
		return []model.SessionEvent{{
			Event:  model.EventZoneRemoved,
			ZoneID: zone.ID,
			Data:   map[string]any{"price": zone.Price, "total": s.TotalPrice()},
		}}, nil
	})
	if err != nil {
		return nil, model.SelectedZone{}, err
	}

	e.metrics.RecordZoneRemoval(string(removed.ZoneType))
	observability.RequestLogger(ctx, e.logger).Info("zone removed",
		append(observability.SessionFields(s), zap.String("zone_id", removed.ID))...,
	)
	return s, removed, nil
}

// SwitchVehicle changes the category, view or vehicle of a session. A new
// make or model on a 3D session supersedes any in-flight model load.
func (e *Engine) SwitchVehicle(ctx context.Context, rctx *model.RequestContext, sessionID string, change VehicleChange) (*model.Session, SwitchResult, error) {
	var (
		res  SwitchResult
		load *pendingLoad
	)
	s, err := e.mutate(ctx, rctx, sessionID, "switch_vehicle", func(s *model.Session) ([]model.SessionEvent, error) {
		r, err := e.ctrl.SwitchVehicle(s, change)
		if err != nil {
			return nil, err
		}
		res = r

		load.abandon()
		load = nil
		if r.VehicleChanged {
			load = e.beginLoad(s)
		}

		events := []model.SessionEvent{{
			Event: model.EventVehicleSwitched,
			Data: map[string]any{
				"category": string(s.Category),
				"view":     string(s.ViewAngle),
				"make":     s.VehicleMake,
				"model":    s.VehicleModel,
			},
		}}
		if len(r.Pruned) > 0 {
			ids := make([]string, len(r.Pruned))
			for i, z := range r.Pruned {
				ids[i] = z.ID
			}
			events = append(events, model.SessionEvent{
				Event: model.EventZonesPruned,
				Data:  map[string]any{"zone_ids": ids, "total": s.TotalPrice()},
			})
		}
		return events, nil
	})
	if err != nil {
		load.abandon()
		return nil, SwitchResult{}, err
	}
	load.start()

	e.metrics.RecordVehicleSwitch(string(s.Mode), len(res.Pruned))
	observability.RequestLogger(ctx, e.logger).Info("vehicle switched",
		append(observability.SessionFields(s),
			zap.Int("orphaned", len(res.Orphaned)),
			zap.Int("pruned", len(res.Pruned)),
			zap.Bool("reload", res.VehicleChanged),
		)...,
	)
	return s, res, nil
}

// SetColor changes the paint color of the session.
func (e *Engine) SetColor(ctx context.Context, rctx *model.RequestContext, sessionID, hex string) (*model.Session, error) {
	return e.mutate(ctx, rctx, sessionID, "set_color", func(s *model.Session) ([]model.SessionEvent, error) {
		color, err := e.ctrl.SetColor(s, hex)
		if err != nil {
			return nil, err
		}
		return []model.SessionEvent{{Event: model.EventColorChanged, Data: map[string]any{"color": color}}}, nil
	})
}

// Model returns the session's vehicle model painted in its current color.
// The placeholder model is returned while no asset is loaded or when the
// loaded document is no longer cached.
func (e *Engine) Model(ctx context.Context, rctx *model.RequestContext, sessionID string) (*gltf.Document, geometry.RecolorReport, error) {
	s, err := e.Get(ctx, rctx, sessionID)
	if err != nil {
		return nil, geometry.RecolorReport{}, err
	}

	doc := geometry.PlaceholderModel()
	if s.Asset.Status == model.AssetLoaded && e.loader != nil {
		if d, ok := e.loader.Document(s.Asset.ModelURL); ok {
			doc = d
		} else {
			observability.RequestLogger(ctx, e.logger).Warn("loaded model evicted, serving placeholder",
				zap.String("session_id", s.ID),
				zap.String("url", s.Asset.ModelURL),
			)
		}
	}

	hex := EffectiveColor(s)
	if hex == "" {
		return doc, geometry.RecolorReport{}, nil
	}
	color, err := geometry.ParseColor(hex)
	if err != nil {
		return doc, geometry.RecolorReport{}, nil
	}
	painted, report := geometry.Recolor(doc, color, e.classifier)
	return painted, report, nil
}

// EffectiveColor is the session's chosen color, or the asset's default
// color when none was chosen.
func EffectiveColor(s *model.Session) string {
	if s.Color != "" {
		return s.Color
	}
	return s.Asset.DefaultColor
}

// Sweep deletes sessions that have expired and returns how many were
// removed.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	expired, err := e.store.FindExpired(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}

	n := 0
	for _, s := range expired {
		if err := e.store.Delete(ctx, s.TenantID, s.ID); err != nil {
			if model.HasCode(err, model.ErrSessionNotFound) {
				continue
			}
			return n, fmt.Errorf("delete expired session %q: %w", s.ID, err)
		}
		if e.tracker != nil {
			e.tracker.Forget(s.ID)
		}
		n++
	}

	e.metrics.RecordSessionsExpired(n)
	if n > 0 {
		e.logger.Info("expired configurator sessions removed", zap.Int("count", n))
	}
	return n, nil
}

// Wait blocks until all background model loads have finished.
func (e *Engine) Wait() {
	e.loads.Wait()
}

// mutate loads a session, applies fn and stores the result, retrying on
// version conflicts. Events returned by fn are appended after a successful
// write.
func (e *Engine) mutate(
	ctx context.Context,
	rctx *model.RequestContext,
	sessionID, op string,
	fn func(s *model.Session) ([]model.SessionEvent, error),
) (*model.Session, error) {
	return e.update(ctx, rctx.TenantID, rctx.SubjectID, sessionID, op, fn)
}

func (e *Engine) update(
	ctx context.Context,
	tenantID, actorID, sessionID, op string,
	fn func(s *model.Session) ([]model.SessionEvent, error),
) (_ *model.Session, err error) {
	ctx, span := observability.StartSpan(ctx, "selection."+op,
		observability.AttrSessionID.String(sessionID),
		observability.AttrTenantID.String(tenantID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// The system actor retries longer and backs off between attempts.
	limit := maxUpdateAttempts
	if actorID == systemActor {
		limit = maxSystemUpdateAttempts
	}

	for attempt := 1; ; attempt++ {
		s, err := e.get(ctx, tenantID, sessionID)
		if err != nil {
			return nil, err
		}

		events, err := fn(s)
		if errors.Is(err, errUnchanged) {
			return s, nil
		}
		if err != nil {
			return nil, err
		}

		if actorID != systemActor {
			exp := e.now().UTC().Add(e.ttl)
			s.ExpiresAt = &exp
		}

		err = e.store.Update(ctx, s)
		if model.HasCode(err, model.ErrConflict) && attempt < limit {
			e.metrics.RecordSessionConflict()
			if actorID == systemActor {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(time.Duration(attempt) * systemRetryBackoff):
				}
			}
			continue
		}
		if err != nil {
			if model.HasCode(err, model.ErrConflict) {
				e.metrics.RecordSessionConflict()
			}
			return nil, err
		}

		span.SetAttributes(
			observability.AttrCategory.String(string(s.Category)),
			observability.AttrView.String(string(s.ViewAngle)),
			attribute.Int("configurator.version", s.Version),
		)
		e.appendEvents(ctx, s, actorID, events)
		return s, nil
	}
}

func (e *Engine) appendEvents(ctx context.Context, s *model.Session, actorID string, events []model.SessionEvent) {
	now := e.now().UTC()
	for _, ev := range events {
		ev.ID = uuid.New().String()
		ev.SessionID = s.ID
		ev.ActorID = actorID
		ev.Timestamp = now
		if err := e.store.AppendEvent(ctx, ev); err != nil {
			e.logger.Warn("failed to append session event",
				zap.String("session_id", s.ID),
				zap.String("event", ev.Event),
				zap.Error(err),
			)
		}
	}
}

// pendingLoad is a model load registered with the tracker whose goroutine
// starts only once the session carrying its load id is stored.
type pendingLoad struct {
	e         *Engine
	ctx       context.Context
	gen       uint64
	loadID    string
	tenantID  string
	sessionID string
	vehicle   [2]string
}

// beginLoad marks a 3D session's asset as loading under a new load id.
// The tracker generation only orders loads within this process; the load
// id is what the stored session is checked against.
// It returns nil when the session does not load models.
func (e *Engine) beginLoad(s *model.Session) *pendingLoad {
	if e.tracker == nil || s.Mode != model.Mode3D {
		return nil
	}
	gen, ctx := e.tracker.Begin(s.ID)
	loadID := uuid.New().String()
	s.Asset = model.AssetBinding{Status: model.AssetLoading, LoadID: loadID}
	return &pendingLoad{
		e:         e,
		ctx:       ctx,
		gen:       gen,
		loadID:    loadID,
		tenantID:  s.TenantID,
		sessionID: s.ID,
		vehicle:   [2]string{s.VehicleMake, s.VehicleModel},
	}
}

// current reports whether s still waits for this load.
func (p *pendingLoad) current(s *model.Session) bool {
	return s.Asset.LoadID == p.loadID &&
		s.VehicleMake == p.vehicle[0] &&
		s.VehicleModel == p.vehicle[1]
}

func (p *pendingLoad) start() {
	if p == nil {
		return
	}
	p.e.loads.Add(1)
	go func() {
		defer p.e.loads.Done()
		p.e.runLoad(p)
	}()
}

func (p *pendingLoad) abandon() {
	if p == nil {
		return
	}
	p.e.tracker.Finish(p.sessionID, p.gen)
}

// runLoad loads the model and applies the result to the session if the
// load is still the newest one for it.
func (e *Engine) runLoad(p *pendingLoad) {
	defer e.tracker.Finish(p.sessionID, p.gen)

	logger := e.logger.With(
		zap.String("session_id", p.sessionID),
		zap.String("load_id", p.loadID),
	)

	loaded, loadErr := e.loader.Load(p.ctx, p.vehicle[0], p.vehicle[1])
	if !e.tracker.Commit(p.sessionID, p.gen) {
		e.metrics.RecordAssetLoad("stale")
		logger.Debug("dropping superseded model load")
		return
	}

	outcome := "loaded"
	if loadErr != nil {
		outcome = "failed"
		logger.Warn("vehicle model load failed, using placeholder",
			zap.String("make", p.vehicle[0]),
			zap.String("model", p.vehicle[1]),
			zap.Error(loadErr),
		)
	}

	applied := false
	ctx := context.WithoutCancel(p.ctx)
	_, err := e.update(ctx, p.tenantID, systemActor, p.sessionID, "apply_asset", func(s *model.Session) ([]model.SessionEvent, error) {
		if !p.current(s) {
			return nil, errUnchanged
		}
		applied = true
		if loadErr != nil {
			s.Asset = model.AssetBinding{
				Status: model.AssetFailed,
				LoadID: p.loadID,
				Error:  loadErr.Error(),
			}
			return []model.SessionEvent{{Event: model.EventAssetFailed, Data: map[string]any{"error": loadErr.Error()}}}, nil
		}

		rec := loaded.Record
		bounds := loaded.Bounds
		binding := model.AssetBinding{
			Status:   model.AssetLoaded,
			LoadID:   p.loadID,
			RecordID: rec.ID,
			ModelURL: rec.ModelURL,
			Category: rec.VehicleCategory,
			Bounds:   &bounds,
		}
		if rec.DefaultColor != nil {
			if c, err := geometry.ParseColor(*rec.DefaultColor); err == nil {
				binding.DefaultColor = c.Hex
			}
		}
		s.Asset = binding
		return []model.SessionEvent{{
			Event: model.EventAssetLoaded,
			Data:  map[string]any{"record_id": rec.ID, "model_url": rec.ModelURL, "scale": bounds.Scale},
		}}, nil
	})
	gone := model.HasCode(err, model.ErrSessionNotFound) || model.HasCode(err, model.ErrSessionExpired)
	if err != nil && !gone {
		logger.Warn("failed to store model load result", zap.Error(err))
		e.metrics.RecordAssetLoad("failed")
		return
	}
	if err != nil || !applied {
		// The session may have been discarded, expired or switched meanwhile.
		logger.Debug("model load result not applied", zap.Error(err))
		e.metrics.RecordAssetLoad("stale")
		return
	}
	e.metrics.RecordAssetLoad(outcome)
}
