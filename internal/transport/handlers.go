package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/orchestrate"
	"github.com/tabwise/datadeck/model"
)

// handlers carries the shared dependencies of the renderer-facing API.
type handlers struct {
	engine     *orchestrate.Engine
	logger     *zap.Logger
	defaultEnv string
}

// sectionSummary is one entry of the section catalogue.
type sectionSummary struct {
	Section  string          `json:"section"`
	Title    string          `json:"title"`
	PageSize int             `json:"pageSize"`
	Filters  []filterSummary `json:"filters,omitempty"`
	Tabs     []tabSummary    `json:"tabs,omitempty"`
}

type filterSummary struct {
	Key    string   `json:"key"`
	Type   string   `json:"type,omitempty"`
	Values []string `json:"values,omitempty"`
}

type tabSummary struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// handleSections lists the configured sections with their filter and tab
// shapes so a renderer can build its chrome without further round trips.
func (h *handlers) handleSections(w http.ResponseWriter, _ *http.Request) {
	names := h.engine.Sections()
	out := make([]sectionSummary, 0, len(names))
	for _, name := range names {
		cfg, ok := h.engine.SectionConfig(model.Section(name))
		if !ok {
			continue
		}
		out = append(out, summarize(name, cfg))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"sections": out})
}

func summarize(name string, cfg config.SectionConfig) sectionSummary {
	s := sectionSummary{
		Section:  name,
		Title:    cfg.Title,
		PageSize: cfg.EffectivePageSize(),
	}
	for _, f := range cfg.Filters {
		s.Filters = append(s.Filters, filterSummary{Key: f.Key, Type: f.Type, Values: f.Values})
	}
	for _, tab := range cfg.Tabs {
		s.Tabs = append(s.Tabs, tabSummary{ID: tab.ID, Label: tab.Label})
	}
	return s
}

// handleView returns the current snapshot of a view, running the initial
// load first when the view has never loaded.
func (h *handlers) handleView(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	if v.Snapshot().State == orchestrate.StateIdle.String() {
		if err := v.Load(r.Context()); err != nil && !errors.Is(err, orchestrate.ErrSuperseded) {
			WriteError(w, err)
			return
		}
	}
	WriteJSON(w, http.StatusOK, v.Snapshot())
}

// handleLoadMore appends the next page to a view.
func (h *handlers) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	snap := v.Snapshot()
	if snap.State == orchestrate.StateReady.String() && !snap.HasMore {
		WriteJSON(w, http.StatusConflict, errorResponse{Error: errorDetail{
			Code:    "no_more_pages",
			Message: "all rows are already loaded",
		}})
		return
	}
	h.settle(w, v, v.LoadMore(r.Context()))
}

// handleFilters replaces a view's filter set and reloads from page one.
func (h *handlers) handleFilters(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	var body struct {
		Filters map[string]any `json:"filters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "request body must be JSON with a filters object")
		return
	}
	h.settle(w, v, v.ApplyFilters(r.Context(), model.FilterSet(body.Filters)))
}

// handleTab activates a tab on a view.
func (h *handlers) handleTab(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	var body struct {
		Tab string `json:"tab"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Tab == "" {
		WriteBadRequest(w, "request body must be JSON with a tab id")
		return
	}
	if !h.knownTab(v, body.Tab) {
		WriteBadRequest(w, "unknown tab "+body.Tab)
		return
	}
	h.settle(w, v, v.SelectTab(r.Context(), body.Tab))
}

// handleEnvironment switches a view to another environment.
func (h *handlers) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	var body struct {
		Environment string `json:"environment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "request body must be JSON with an environment")
		return
	}
	if !model.KnownEnvironment(body.Environment) {
		WriteBadRequest(w, "unknown environment "+body.Environment)
		return
	}
	h.settle(w, v, v.SetEnvironment(r.Context(), body.Environment))
}

// handleRefresh re-runs the initial load of a view.
func (h *handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	v, ok := h.view(w, r)
	if !ok {
		return
	}
	h.settle(w, v, v.Refresh(r.Context()))
}

// view resolves the request's session and section into a view. On failure it
// writes the error response and returns ok=false.
func (h *handlers) view(w http.ResponseWriter, r *http.Request) (*orchestrate.View, bool) {
	raw := chi.URLParam(r, "section")
	section, err := url.PathUnescape(raw)
	if err != nil || section == "" {
		WriteBadRequest(w, "invalid section name")
		return nil, false
	}

	v, err := h.engine.View(h.session(r), model.Section(section))
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	return v, true
}

// settle writes the view snapshot after a load cycle. A superseded load
// means a newer mutation won the race; the fresh snapshot is the answer
// either way. Load failures on an established view keep rendering the
// snapshot so the renderer can show rows alongside the error.
func (h *handlers) settle(w http.ResponseWriter, v *orchestrate.View, err error) {
	if err != nil && !errors.Is(err, orchestrate.ErrSuperseded) {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, v.Snapshot())
}

func (h *handlers) knownTab(v *orchestrate.View, tabID string) bool {
	for _, tab := range v.Snapshot().Tabs {
		if tab.ID == tabID {
			return true
		}
	}
	return false
}

// session derives the engine session from the request. Renderers identify
// themselves with X-Session-Id; requests without one share a default
// session. The environment a view runs in is view state, so the header
// environment only seeds newly created views.
func (h *handlers) session(r *http.Request) model.Session {
	id := r.Header.Get("X-Session-Id")
	if id == "" {
		id = "default"
	}
	env := r.Header.Get("X-Environment")
	if !model.KnownEnvironment(env) {
		env = h.defaultEnv
	}
	return model.Session{
		ID:            id,
		Environment:   env,
		CorrelationID: CorrelationIDFrom(r.Context()),
	}
}
