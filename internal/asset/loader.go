package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/detailhub/zoneconfigurator/internal/geometry"
	"github.com/detailhub/zoneconfigurator/internal/observability"
	"github.com/detailhub/zoneconfigurator/model"
)

// ErrNoModel is returned when no active vehicle model exists.
var ErrNoModel = errors.New("asset: no active vehicle model")

const defaultMaxDocuments = 16

// Source retrieves raw model bytes. *Fetcher implements it.
type Source interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// LoadedAsset is the result of a successful load. Document is shared
// between callers and must be treated as read-only.
type LoadedAsset struct {
	Record   *Record
	Document *gltf.Document
	Bounds   model.Bounds
}

type parsedModel struct {
	doc    *gltf.Document
	bounds model.Bounds
}

// Loader resolves, downloads and measures vehicle models. Parsed documents
// are kept per URL; concurrent loads of one URL share a single download.
type Loader struct {
	repo    Repository
	source  Source
	logger  *zap.Logger
	metrics *observability.Metrics
	group   singleflight.Group

	mu      sync.Mutex
	docs    map[string]*parsedModel
	order   []string
	maxDocs int
}

// NewLoader creates a loader. maxDocs <= 0 uses a default of 16 parsed
// documents. logger and metrics may be nil.
func NewLoader(repo Repository, source Source, maxDocs int, logger *zap.Logger, metrics *observability.Metrics) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxDocs <= 0 {
		maxDocs = defaultMaxDocuments
	}
	return &Loader{
		repo:    repo,
		source:  source,
		logger:  logger,
		metrics: metrics,
		docs:    make(map[string]*parsedModel),
		maxDocs: maxDocs,
	}
}

// Resolve returns the record a make/model pair maps to without loading it.
func (l *Loader) Resolve(ctx context.Context, vehicleMake, vehicleModel string) (*Record, error) {
	rec, err := l.repo.Resolve(ctx, vehicleMake, vehicleModel)
	if err != nil {
		return nil, fmt.Errorf("asset: resolve %q %q: %w", vehicleMake, vehicleModel, err)
	}
	if rec == nil {
		return nil, ErrNoModel
	}
	return rec, nil
}

// Load resolves the record for a make/model pair, then downloads, decodes
// and measures its model.
func (l *Loader) Load(ctx context.Context, vehicleMake, vehicleModel string) (_ *LoadedAsset, err error) {
	ctx, span := observability.StartSpan(ctx, "asset.load")
	defer func() { observability.EndSpanWithError(span, err) }()

	rec, err := l.Resolve(ctx, vehicleMake, vehicleModel)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(observability.AttrAssetID.String(rec.ID))

	pm, err := l.model(ctx, rec.ModelURL)
	if err != nil {
		return nil, err
	}
	return &LoadedAsset{Record: rec, Document: pm.doc, Bounds: pm.bounds}, nil
}

func (l *Loader) model(ctx context.Context, rawURL string) (*parsedModel, error) {
	l.mu.Lock()
	pm, ok := l.docs[rawURL]
	l.mu.Unlock()
	if ok {
		l.metrics.RecordAssetCacheHit("document")
		return pm, nil
	}
	l.metrics.RecordAssetCacheMiss("document")

	ch := l.group.DoChan(rawURL, func() (any, error) {
		// Detached so one caller giving up does not fail the others.
		return l.parse(context.WithoutCancel(ctx), rawURL)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*parsedModel), nil
	}
}

func (l *Loader) parse(ctx context.Context, rawURL string) (*parsedModel, error) {
	data, err := l.source.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := geometry.DecodeModel(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	box, err := geometry.ComputeAABB(doc)
	if err != nil {
		return nil, err
	}
	bounds, err := geometry.NormalizeBounds(box)
	if err != nil {
		return nil, err
	}

	pm := &parsedModel{doc: doc, bounds: bounds}
	l.store(rawURL, pm)
	l.logger.Debug("vehicle model parsed",
		zap.String("url", rawURL),
		zap.Int("bytes", len(data)),
		zap.Float64("scale", bounds.Scale),
	)
	return pm, nil
}

func (l *Loader) store(rawURL string, pm *parsedModel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.docs[rawURL]; !ok {
		l.order = append(l.order, rawURL)
	}
	l.docs[rawURL] = pm
	for len(l.order) > l.maxDocs {
		delete(l.docs, l.order[0])
		l.order = l.order[1:]
	}
}

// Document returns a parsed model previously loaded from rawURL.
func (l *Loader) Document(rawURL string) (*gltf.Document, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pm, ok := l.docs[rawURL]
	if !ok {
		return nil, false
	}
	return pm.doc, true
}
