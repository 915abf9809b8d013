package count

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabwise/datadeck/internal/backend"
	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/source"
	"github.com/tabwise/datadeck/internal/staticdata"
	"github.com/tabwise/datadeck/internal/translate"
	"github.com/tabwise/datadeck/model"
)

func testSession() model.Session {
	return model.Session{ID: "sess-1", Environment: "dev"}
}

func requestsSection() config.SectionConfig {
	return config.SectionConfig{
		Title:         "Requests",
		Style:         "query",
		PathTemplate:  "/v1/requests",
		CountEndpoint: "/v1/requests/count",
		Filters: []config.FilterField{
			{Key: "status", Type: "string"},
		},
	}
}

func newTestAggregator(t *testing.T, sections map[string]config.SectionConfig, doc source.Document, static *staticdata.Store) *Aggregator {
	t.Helper()

	cfg := config.Defaults()
	cfg.Sections = sections
	cfg.Transport.Retry.MaxAttempts = 1

	translator, err := translate.NewRegistry(sections, nil, nil)
	require.NoError(t, err)

	if static == nil {
		static = staticdata.NewStore()
	}

	return NewAggregator(
		cfg,
		translator,
		source.NewRegistryFromDocument(doc),
		backend.NewFetcher(cfg.Transport, nil),
		static,
		nil,
	)
}

func TestCount_remoteCountEndpoint(t *testing.T) {
	var gotPath, gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotStatus = r.URL.Query().Get("status")
		fmt.Fprint(w, `{"count": 42}`)
	}))
	defer srv.Close()

	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": requestsSection()},
		source.Document{"requests": {"dev": {Endpoint: srv.URL}}},
		nil,
	)

	n, err := a.Count(context.Background(), testSession(), "requests", model.FilterSet{"status": "pending"})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, 42, *n)
	assert.Equal(t, "/v1/requests/count", gotPath, "count must hit the count endpoint, not the listing path")
	assert.Equal(t, "pending", gotStatus, "count must carry the same translated filters as the listing")
}

func TestCount_inlineTotalSectionHasNoCountSource(t *testing.T) {
	sc := requestsSection()
	sc.InlineTotal = true

	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": sc},
		source.Document{"requests": {"dev": {Endpoint: "http://unused.invalid"}}},
		nil,
	)

	n, err := a.Count(context.Background(), testSession(), "requests", nil)
	require.NoError(t, err)
	assert.Nil(t, n, "inline-total sections must report no separate count, not zero")
}

func TestCount_remoteWithoutCountEndpoint(t *testing.T) {
	sc := requestsSection()
	sc.CountEndpoint = ""

	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": sc},
		source.Document{"requests": {"dev": {Endpoint: "http://unused.invalid"}}},
		nil,
	)

	n, err := a.Count(context.Background(), testSession(), "requests", nil)
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestCount_staticSectionCountsExactly(t *testing.T) {
	static := staticdata.NewStore()
	static.Register("requests", []model.Item{
		{"id": "a", "status": "pending"},
		{"id": "b", "status": "pending"},
		{"id": "c", "status": "approved"},
	})

	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": requestsSection()},
		source.Document{"requests": {"dev": {Endpoint: "  "}}},
		static,
	)

	n, err := a.Count(context.Background(), testSession(), "requests", model.FilterSet{"status": "pending"})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, 2, *n)
}

func TestCount_unknownSection(t *testing.T) {
	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": requestsSection()},
		source.Document{"requests": {"dev": {Endpoint: "http://unused.invalid"}}},
		nil,
	)

	var notFound *model.NotFoundError
	_, err := a.Count(context.Background(), testSession(), "ghosts", nil)
	require.ErrorAs(t, err, &notFound)
}

func TestCount_missingEnvironmentFailsFast(t *testing.T) {
	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": requestsSection()},
		source.Document{"requests": {"prod": {Endpoint: "http://unused.invalid"}}},
		nil,
	)

	var missing *model.ConfigurationMissingError
	_, err := a.Count(context.Background(), testSession(), "requests", nil)
	require.ErrorAs(t, err, &missing)
}

func TestTabCounts_fansOutWithIsolatedFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("status") {
		case "":
			fmt.Fprint(w, `{"count": 100}`)
		case "approved":
			fmt.Fprint(w, `{"count": 40}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	sc := requestsSection()
	sc.Tabs = []config.TabConfig{
		{ID: "all", Label: "All"},
		{ID: "approved", Label: "Approved", Override: map[string]any{"status": "approved"}},
		{ID: "broken", Label: "Broken", Override: map[string]any{"status": "boom"}},
	}

	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": sc},
		source.Document{"requests": {"dev": {Endpoint: srv.URL}}},
		nil,
	)

	tabs := []model.TabSpec{
		{ID: "all", Count: true},
		{ID: "approved", Override: model.FilterSet{"status": "approved"}, Count: true},
		{ID: "broken", Override: model.FilterSet{"status": "boom"}, Count: true},
	}

	counts := a.TabCounts(context.Background(), testSession(), "requests", nil, tabs)
	require.Len(t, counts, 3)
	assert.Equal(t, 100, counts["all"])
	assert.Equal(t, 40, counts["approved"])
	assert.Equal(t, 0, counts["broken"], "a failed tab reports zero, not an error")
}

func TestTabCounts_tabOverrideWinsOverSectionFilters(t *testing.T) {
	var gotStatus string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStatus = r.URL.Query().Get("status")
		fmt.Fprint(w, `{"count": 7}`)
	}))
	defer srv.Close()

	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": requestsSection()},
		source.Document{"requests": {"dev": {Endpoint: srv.URL}}},
		nil,
	)

	tabs := []model.TabSpec{
		{ID: "rejected", Override: model.FilterSet{"status": "rejected"}, Count: true},
	}
	counts := a.TabCounts(context.Background(), testSession(), "requests",
		model.FilterSet{"status": "pending"}, tabs)

	assert.Equal(t, map[string]int{"rejected": 7}, counts)
	assert.Equal(t, "rejected", gotStatus)
}

func TestTabCounts_skipsUncountedTabs(t *testing.T) {
	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": requestsSection()},
		source.Document{"requests": {"dev": {Endpoint: "http://unused.invalid"}}},
		nil,
	)

	counts := a.TabCounts(context.Background(), testSession(), "requests", nil, []model.TabSpec{
		{ID: "all", Count: false},
	})
	assert.Nil(t, counts)
}

func TestTabCounts_inlineTotalSectionProducesNoCounts(t *testing.T) {
	sc := requestsSection()
	sc.InlineTotal = true

	a := newTestAggregator(t,
		map[string]config.SectionConfig{"requests": sc},
		source.Document{"requests": {"dev": {Endpoint: "http://unused.invalid"}}},
		nil,
	)

	counts := a.TabCounts(context.Background(), testSession(), "requests", nil, []model.TabSpec{
		{ID: "all", Count: true},
	})
	assert.Nil(t, counts)
}
