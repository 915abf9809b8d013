package orchestrate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabwise/datadeck/internal/backend"
	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/count"
	"github.com/tabwise/datadeck/internal/observability"
	"github.com/tabwise/datadeck/internal/paginate"
	"github.com/tabwise/datadeck/internal/source"
	"github.com/tabwise/datadeck/internal/staticdata"
	"github.com/tabwise/datadeck/internal/translate"
	"github.com/tabwise/datadeck/model"
)

// Recorder receives load-cycle outcomes. Implemented by
// observability.Metrics; nil disables recording.
type Recorder interface {
	RecordPageLoad(section, result string, appended bool, duration time.Duration)
	RecordStaleLoad(section string)
}

// Engine holds the shared machinery behind every view: source resolution,
// translation, transport, static data, and counting. Views are created per
// session and section and reuse the engine's clients and breakers.
type Engine struct {
	cfg        *config.Config
	translator *translate.Registry
	sources    *source.Registry
	fetcher    *backend.Fetcher
	static     *staticdata.Store
	counts     *count.Aggregator
	logger     *zap.Logger
	emitter    *Emitter
	recorder   Recorder

	mu    sync.Mutex
	views map[string]*View
}

// NewEngine wires an engine over the shared parts. The endpoints registry's
// reload callback is hooked up so a hot reload invalidates in-flight loads
// and notifies renderers.
func NewEngine(
	cfg *config.Config,
	translator *translate.Registry,
	sources *source.Registry,
	fetcher *backend.Fetcher,
	static *staticdata.Store,
	counts *count.Aggregator,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:        cfg,
		translator: translator,
		sources:    sources,
		fetcher:    fetcher,
		static:     static,
		counts:     counts,
		logger:     logger,
		emitter:    &Emitter{},
		views:      make(map[string]*View),
	}
	sources.OnReload(e.onSourceReload)
	return e
}

// SetRecorder installs the load-cycle metrics recorder.
func (e *Engine) SetRecorder(rec Recorder) {
	e.recorder = rec
}

// Subscribe registers a renderer callback for orchestrator events.
func (e *Engine) Subscribe(fn func(model.Event)) {
	e.emitter.Subscribe(fn)
}

// Sections returns the configured section names, sorted.
func (e *Engine) Sections() []string {
	return e.translator.Sections()
}

// SectionConfig returns the configuration of a section.
func (e *Engine) SectionConfig(section model.Section) (config.SectionConfig, bool) {
	return e.translator.Config(section)
}

// View returns the view for a session and section, creating it on first
// use. One session holds at most one view per section.
func (e *Engine) View(sess model.Session, section model.Section) (*View, error) {
	cfg, ok := e.translator.Config(section)
	if !ok {
		return nil, &model.NotFoundError{Section: section}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	key := sess.ID + "\x00" + section.String()
	if v, ok := e.views[key]; ok {
		return v, nil
	}

	v := &View{
		engine:  e,
		sess:    sess,
		section: section,
		cfg:     cfg,
		filters: model.FilterSet{},
		cursor:  paginate.NewCursor(cfg.EffectivePageSize()),
	}
	e.views[key] = v
	return v, nil
}

// onSourceReload invalidates every view's in-flight loads and notifies
// renderers. The views keep their rows; the renderer decides when to
// refresh against the new endpoints.
func (e *Engine) onSourceReload(checksum string) {
	e.mu.Lock()
	views := make([]*View, 0, len(e.views))
	for _, v := range e.views {
		views = append(views, v)
	}
	e.mu.Unlock()

	for _, v := range views {
		v.invalidate()
	}

	e.logger.Info("endpoints document reloaded", zap.String("checksum", checksum))
	e.emitter.emit(model.SourceReloaded{Checksum: checksum})
}

// fetchPage runs one listing fetch against the resolved source and
// normalizes the response into a Page.
func (e *Engine) fetchPage(
	ctx context.Context,
	sess model.Session,
	section model.Section,
	cfg config.SectionConfig,
	filters model.FilterSet,
	params paginate.Params,
) (page model.Page, err error) {
	ctx, span := observability.StartSpan(ctx, "backend.fetch",
		observability.AttrSection.String(section.String()),
		observability.AttrRegime.String(params.Mode.String()),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	res, err := e.sources.Resolve(section, sess.Environment)
	if err != nil {
		return model.Page{}, err
	}
	span.SetAttributes(observability.AttrSource.String(res.Mode.String()))

	if res.Mode == source.ModeStatic {
		return e.static.List(section, filters, e.translator.SchemaFor(section), params.Limit, params.Offset)
	}

	shape, _, err := e.translator.Translate(sess, section, filters, &params)
	if err != nil {
		return model.Page{}, err
	}

	client := e.fetcher.ClientFor(section, e.cfg.TransportFor(cfg))
	body, err := client.Fetch(ctx, res.URL, shape)
	if err != nil {
		return model.Page{}, err
	}

	return paginate.ParseListing(body, params.Limit, params.Offset)
}
