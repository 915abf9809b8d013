// Package count resolves total record counts for sections and their tabs.
// Counts come from a dedicated count endpoint, from an exact scan of the
// static dataset, or not at all when the listing response already carries
// an inline total.
package count

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tabwise/datadeck/internal/backend"
	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/observability"
	"github.com/tabwise/datadeck/internal/paginate"
	"github.com/tabwise/datadeck/internal/source"
	"github.com/tabwise/datadeck/internal/staticdata"
	"github.com/tabwise/datadeck/internal/translate"
	"github.com/tabwise/datadeck/model"
)

// maxConcurrentTabs bounds the fan-out of one tab count pass.
const maxConcurrentTabs = 8

// Recorder receives count outcomes. Implemented by observability.Metrics;
// nil disables recording.
type Recorder interface {
	RecordCount(section, result string)
	RecordTabCountFailure(section, tab string)
}

// Aggregator resolves counts across the three count regimes.
type Aggregator struct {
	cfg        *config.Config
	translator *translate.Registry
	sources    *source.Registry
	fetcher    *backend.Fetcher
	static     *staticdata.Store
	logger     *zap.Logger
	recorder   Recorder
}

// SetRecorder installs the count metrics recorder.
func (a *Aggregator) SetRecorder(rec Recorder) {
	a.recorder = rec
}

// NewAggregator wires a count aggregator over the shared engine parts.
func NewAggregator(
	cfg *config.Config,
	translator *translate.Registry,
	sources *source.Registry,
	fetcher *backend.Fetcher,
	static *staticdata.Store,
	logger *zap.Logger,
) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		cfg:        cfg,
		translator: translator,
		sources:    sources,
		fetcher:    fetcher,
		static:     static,
		logger:     logger,
	}
}

// Count returns the total for a section under the given filters. A nil
// count with a nil error means the section has no separate count source:
// either its listing carries an inline total, or its backend advertises no
// count endpoint. Callers must treat nil as "unknown", never as zero.
func (a *Aggregator) Count(ctx context.Context, sess model.Session, section model.Section, filters model.FilterSet) (n *int, err error) {
	ctx, span := observability.StartSpan(ctx, "count.resolve",
		observability.AttrSection.String(section.String()),
	)
	defer func() {
		observability.EndSpanWithError(span, err)
		if a.recorder == nil {
			return
		}
		if err != nil {
			a.recorder.RecordCount(section.Base(), "error")
		} else if n != nil {
			a.recorder.RecordCount(section.Base(), "success")
		}
	}()

	sectionCfg, ok := a.translator.Config(section)
	if !ok {
		return nil, &model.NotFoundError{Section: section}
	}
	if sectionCfg.InlineTotal {
		return nil, nil
	}

	res, err := a.sources.Resolve(section, sess.Environment)
	if err != nil {
		return nil, err
	}

	if res.Mode == source.ModeStatic {
		n, err := a.static.Count(section, filters, a.translator.SchemaFor(section))
		if err != nil {
			return nil, err
		}
		return model.IntPtr(n), nil
	}

	if sectionCfg.CountEndpoint == "" {
		return nil, nil
	}

	shape, _, err := a.translator.TranslateCount(sess, section, filters)
	if err != nil {
		return nil, err
	}
	shape.PathTemplate = sectionCfg.CountEndpoint

	client := a.fetcher.ClientFor(section, a.cfg.TransportFor(sectionCfg))
	body, err := client.Fetch(ctx, res.URL, shape)
	if err != nil {
		return nil, err
	}

	total, err := paginate.ParseCount(body)
	if err != nil {
		return nil, err
	}
	return model.IntPtr(total), nil
}

// TabCounts fans out one count per counted tab, each under the section
// filters merged with the tab override. Tab failures are isolated: a
// failed tab reports zero and a warning, and never fails the others or
// the view. Tabs whose section resolves no count source are omitted.
func (a *Aggregator) TabCounts(ctx context.Context, sess model.Session, section model.Section, filters model.FilterSet, tabs []model.TabSpec) map[string]int {
	counted := make([]model.TabSpec, 0, len(tabs))
	for _, tab := range tabs {
		if tab.Count {
			counted = append(counted, tab)
		}
	}
	if len(counted) == 0 {
		return nil
	}

	var mu sync.Mutex
	results := make(map[string]int, len(counted))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTabs)

	for _, tab := range counted {
		g.Go(func() error {
			n, err := a.Count(gctx, sess, section, filters.Merge(tab.Override))
			if err != nil {
				a.logger.Warn("tab count failed",
					zap.String("section", section.String()),
					zap.String("tab", tab.ID),
					zap.Error(err),
				)
				if a.recorder != nil {
					a.recorder.RecordTabCountFailure(section.Base(), tab.ID)
				}
				mu.Lock()
				results[tab.ID] = 0
				mu.Unlock()
				return nil
			}
			if n == nil {
				return nil
			}
			mu.Lock()
			results[tab.ID] = *n
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	if len(results) == 0 {
		return nil
	}
	return results
}
