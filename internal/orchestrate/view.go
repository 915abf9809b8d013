package orchestrate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/observability"
	"github.com/tabwise/datadeck/internal/paginate"
	"github.com/tabwise/datadeck/model"
)

// View is the orchestrator for one section in one session. It owns the
// filter set, the active tab, the pagination cursor, and the accumulated
// rows. All mutations go through load cycles guarded by a generation
// counter: whichever mutation bumps the counter last wins, and older loads
// finish without effect.
type View struct {
	engine *Engine

	mu        sync.Mutex
	sess      model.Session
	section   model.Section
	cfg       config.SectionConfig
	filters   model.FilterSet
	activeTab string
	cursor    *paginate.Cursor
	items     []model.Item
	total     *int
	tabCounts map[string]int
	state     State
	lastErr   error
	gen       uint64
}

// Snapshot is an immutable copy of the view for rendering.
type Snapshot struct {
	Section     model.Section   `json:"section"`
	Title       string          `json:"title"`
	Environment string          `json:"environment"`
	State       string          `json:"state"`
	Items       []model.Item    `json:"items"`
	Total       *int            `json:"total,omitempty"`
	HasMore     bool            `json:"hasMore"`
	Filters     model.FilterSet `json:"filters,omitempty"`
	Tabs        []model.TabSpec `json:"tabs,omitempty"`
	ActiveTab   string          `json:"activeTab,omitempty"`
	TabCounts   map[string]int  `json:"tabCounts,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// loadOpts selects the variant of one load cycle.
type loadOpts struct {
	appendPage bool // keep rows and fetch the next window
	recount    bool // recompute tab counts after the listing settles
}

// Load runs the initial load: page one under the current filters, the
// total count, and, for tab-aware sections, the tab counts.
func (v *View) Load(ctx context.Context) error {
	return v.load(ctx, loadOpts{recount: true})
}

// LoadMore appends the next page. Tab counts are not recomputed; a failed
// append leaves already-loaded rows intact.
func (v *View) LoadMore(ctx context.Context) error {
	v.mu.Lock()
	if v.state == StateLoading {
		v.mu.Unlock()
		return ErrLoadInFlight
	}
	if v.state != StateReady || !v.cursor.HasMore() {
		v.mu.Unlock()
		return fmt.Errorf("orchestrate: section %q has no further page", v.section)
	}
	v.mu.Unlock()
	return v.load(ctx, loadOpts{appendPage: true})
}

// ApplyFilters replaces the filter set and reloads from page one. The
// pagination session restarts in offset regime regardless of the regime
// the previous filter session had reached.
func (v *View) ApplyFilters(ctx context.Context, filters model.FilterSet) error {
	v.mu.Lock()
	if filters == nil {
		filters = model.FilterSet{}
	}
	v.filters = filters.Clone()
	v.mu.Unlock()
	return v.load(ctx, loadOpts{recount: true})
}

// SelectTab activates a tab and reloads from page one under the tab's
// filter override. Tab counts are kept; only initial loads and filter
// changes recompute them.
func (v *View) SelectTab(ctx context.Context, tabID string) error {
	v.mu.Lock()
	found := false
	for _, tab := range v.cfg.Tabs {
		if tab.ID == tabID {
			found = true
			break
		}
	}
	if !found {
		v.mu.Unlock()
		return fmt.Errorf("orchestrate: section %q has no tab %q", v.section, tabID)
	}
	v.activeTab = tabID
	v.mu.Unlock()
	return v.load(ctx, loadOpts{})
}

// SetEnvironment points the view at a different environment and reloads
// everything. Filters and the active tab survive the switch; rows, counts,
// and pagination do not.
func (v *View) SetEnvironment(ctx context.Context, env string) error {
	if !model.KnownEnvironment(env) {
		return fmt.Errorf("orchestrate: unknown environment %q", env)
	}
	v.mu.Lock()
	v.sess = v.sess.WithEnvironment(env)
	v.mu.Unlock()
	return v.load(ctx, loadOpts{recount: true})
}

// Refresh re-runs the initial load under the current filters and tab.
func (v *View) Refresh(ctx context.Context) error {
	return v.load(ctx, loadOpts{recount: true})
}

// Snapshot returns a copy of the current view state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	snap := Snapshot{
		Section:     v.section,
		Title:       v.cfg.Title,
		Environment: v.sess.Environment,
		State:       v.state.String(),
		Items:       append([]model.Item(nil), v.items...),
		Total:       v.total,
		HasMore:     v.cursor.HasMore(),
		Filters:     v.filters.Clone(),
		Tabs:        v.tabSpecsLocked(),
		ActiveTab:   v.activeTab,
	}
	if len(v.tabCounts) > 0 {
		snap.TabCounts = make(map[string]int, len(v.tabCounts))
		for k, n := range v.tabCounts {
			snap.TabCounts[k] = n
		}
	}
	if v.lastErr != nil {
		snap.Error = v.lastErr.Error()
	}
	return snap
}

func (v *View) tabSpecsLocked() []model.TabSpec {
	if len(v.cfg.Tabs) == 0 {
		return nil
	}
	specs := make([]model.TabSpec, 0, len(v.cfg.Tabs))
	for _, tab := range v.cfg.Tabs {
		specs = append(specs, model.TabSpec{
			ID:       tab.ID,
			Label:    tab.Label,
			Override: model.FilterSet(tab.Override),
			Count:    true,
		})
	}
	return specs
}

// effectiveFiltersLocked merges the active tab's override on top of the
// view filters.
func (v *View) effectiveFiltersLocked() model.FilterSet {
	if v.activeTab == "" {
		return v.filters.Clone()
	}
	for _, tab := range v.cfg.Tabs {
		if tab.ID == v.activeTab {
			return v.filters.Merge(model.FilterSet(tab.Override))
		}
	}
	return v.filters.Clone()
}

// invalidate bumps the generation so any in-flight load is dropped on
// settle, and resets pagination to page one. An append superseded here
// already advanced the cursor; without the reset the next append would
// skip the window the dropped load had claimed. Rows and counts are kept
// until the renderer reloads.
func (v *View) invalidate() {
	v.mu.Lock()
	v.gen++
	v.cursor.Reset()
	if v.state == StateLoading {
		v.state = StateReady
	}
	v.mu.Unlock()
}

// load runs one full render cycle. The listing fetch and the count fetch
// run concurrently; the cycle settles only once both have finished, and
// commits only if no newer mutation claimed the view meanwhile.
func (v *View) load(ctx context.Context, opts loadOpts) error {
	start := time.Now()

	v.mu.Lock()
	v.gen++
	gen := v.gen
	if opts.appendPage {
		v.cursor.Advance()
	} else {
		v.cursor.Reset()
	}
	params := v.cursor.Params()
	sess := v.sess
	filters := v.effectiveFiltersLocked()
	v.state = StateLoading
	v.mu.Unlock()

	e := v.engine

	ctx, span := observability.StartSpan(ctx, "page.load",
		observability.AttrSection.String(v.section.String()),
		observability.AttrEnvironment.String(sess.Environment),
		observability.AttrAppended.Bool(opts.appendPage),
	)
	logger := observability.SessionLogger(ctx, e.logger, sess)

	var (
		wg       sync.WaitGroup
		page     model.Page
		pageErr  error
		countVal *int
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		page, pageErr = e.fetchPage(ctx, sess, v.section, v.cfg, filters, params)
	}()

	// The count runs alongside the listing on every fresh load. Appends
	// keep the total they already have. A count failure never fails the
	// view; the total degrades to whatever the listing reports inline.
	if !opts.appendPage && !v.cfg.InlineTotal {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := e.counts.Count(ctx, sess, v.section, filters)
			if err != nil {
				logger.Warn("count failed",
					zap.String("section", v.section.String()),
					zap.Error(err),
				)
				return
			}
			countVal = n
		}()
	}
	wg.Wait()

	var tabCounts map[string]int
	if opts.recount && pageErr == nil && len(v.cfg.Tabs) > 0 {
		v.mu.Lock()
		specs := v.tabSpecsLocked()
		base := v.filters.Clone()
		v.mu.Unlock()
		tabCounts = e.counts.TabCounts(ctx, sess, v.section, base, specs)
	}

	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		span.End()
		if e.recorder != nil {
			e.recorder.RecordStaleLoad(v.section.Base())
		}
		return ErrSuperseded
	}

	if pageErr != nil {
		v.lastErr = pageErr
		if opts.appendPage {
			// Rows already on screen survive a failed append, and the
			// cursor rolls back so a retry requests the same window.
			v.cursor.Retreat()
			v.state = StateReady
		} else {
			v.state = StateErrored
			v.items = nil
			v.total = nil
		}
		v.mu.Unlock()

		logger.Error("load failed",
			zap.String("section", v.section.String()),
			zap.Bool("appended", opts.appendPage),
			zap.Error(pageErr),
		)
		e.emitter.emit(model.LoadFailed{
			Section:  v.section,
			Appended: opts.appendPage,
			Err:      pageErr,
		})
		observability.EndSpanWithError(span, pageErr)
		if e.recorder != nil {
			e.recorder.RecordPageLoad(v.section.Base(), "error", opts.appendPage, time.Since(start))
		}
		return pageErr
	}

	v.cursor.Observe(page)
	if opts.appendPage {
		v.items = append(v.items, page.Items...)
	} else {
		v.items = page.Items
	}

	switch {
	case countVal != nil:
		v.total = countVal
	case page.Total != nil:
		v.total = page.Total
	case !opts.appendPage:
		v.total = nil
	}
	if tabCounts != nil {
		v.tabCounts = tabCounts
	}
	v.state = StateReady
	v.lastErr = nil

	settled := model.PageSettled{
		Section:   v.section,
		Items:     append([]model.Item(nil), v.items...),
		Total:     v.total,
		HasMore:   v.cursor.HasMore(),
		TabCounts: v.tabCounts,
		Appended:  opts.appendPage,
	}
	v.mu.Unlock()

	e.emitter.emit(settled)
	span.End()
	if e.recorder != nil {
		e.recorder.RecordPageLoad(v.section.Base(), "success", opts.appendPage, time.Since(start))
	}
	return nil
}
