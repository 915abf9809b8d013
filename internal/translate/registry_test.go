package translate

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/openapi"
	"github.com/tabwise/datadeck/internal/paginate"
	"github.com/tabwise/datadeck/model"
)

func testSections() map[string]config.SectionConfig {
	return map[string]config.SectionConfig{
		"products": {
			Style: "query",
			Filters: []config.FilterField{
				{Key: "status", Type: "enum", Values: []string{"approved", "rejected", "pending"}},
				{Key: "category", Type: "string"},
				{Key: "minPrice", Type: "int", Param: "min_price"},
			},
		},
		"sessions": {
			Style:       "body",
			InlineTotal: true,
			Query: &config.QueryRouting{
				Key:           "q",
				RefPrefix:     "ref-",
				RefParam:      "referenceId",
				FallbackParam: "userId",
			},
		},
		"user-sessions": {
			Style:        "query",
			PathTemplate: "/users/{userId}/sessions",
			Filters: []config.FilterField{
				{Key: "userId", Type: "id", In: "path"},
				{Key: "status", Type: "string"},
			},
		},
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testSections(), nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func offsetParams(limit, offset int) *paginate.Params {
	return &paginate.Params{Mode: paginate.ModeOffset, Limit: limit, Offset: offset}
}

var testSession = model.Session{ID: "s-1", Environment: "dev"}

func TestTranslate_queryRoundTrip(t *testing.T) {
	r := newTestRegistry(t)

	filters := model.FilterSet{
		"status":   "approved",
		"category": "books",
		"minPrice": 10,
	}
	shape, dropped, err := r.Translate(testSession, "products", filters, offsetParams(20, 0))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if len(dropped) != 0 {
		t.Fatalf("dropped = %v, want none", dropped)
	}

	// Exactly the given keys plus pagination, no extras, no omissions.
	want := url.Values{
		"status":    {"approved"},
		"category":  {"books"},
		"min_price": {"10"},
		"limit":     {"20"},
		"offset":    {"0"},
	}
	if len(shape.Query) != len(want) {
		t.Fatalf("query = %v, want %v", shape.Query, want)
	}
	for k, v := range want {
		if shape.Query.Get(k) != v[0] {
			t.Errorf("query[%s] = %q, want %q", k, shape.Query.Get(k), v[0])
		}
	}
	if shape.Method != "GET" {
		t.Errorf("Method = %q, want GET", shape.Method)
	}
}

func TestTranslate_sentinelsNeverForwarded(t *testing.T) {
	r := newTestRegistry(t)

	filters := model.FilterSet{
		"status":   "Any",
		"category": "",
		"minPrice": nil,
	}
	shape, _, err := r.Translate(testSession, "products", filters, offsetParams(20, 0))
	if err != nil {
		t.Fatal(err)
	}

	for _, k := range []string{"status", "category", "min_price"} {
		if shape.Query.Has(k) {
			t.Errorf("sentinel filter %q was forwarded as %q", k, shape.Query.Get(k))
		}
	}
}

func TestTranslate_unadvertisedFilterDropped(t *testing.T) {
	r := newTestRegistry(t)

	filters := model.FilterSet{"status": "approved", "email": "x@example.com"}
	shape, dropped, err := r.Translate(testSession, "products", filters, offsetParams(20, 0))
	if err != nil {
		t.Fatal(err)
	}
	if shape.Query.Has("email") {
		t.Error("unadvertised filter must not reach the backend")
	}
	if len(dropped) != 1 || dropped[0].Filter != "email" {
		t.Errorf("dropped = %v, want the email filter", dropped)
	}
	// The advertised filter still went through.
	if shape.Query.Get("status") != "approved" {
		t.Error("advertised filter was lost alongside the dropped one")
	}
}

func TestTranslate_enumCoercionFailureDropped(t *testing.T) {
	r := newTestRegistry(t)

	filters := model.FilterSet{"status": "bogus"}
	shape, dropped, err := r.Translate(testSession, "products", filters, offsetParams(20, 0))
	if err != nil {
		t.Fatal(err)
	}
	if shape.Query.Has("status") {
		t.Error("invalid enum value must not be forwarded")
	}
	if len(dropped) != 1 {
		t.Errorf("dropped = %v, want one entry", dropped)
	}
}

func TestTranslate_bodyStyle(t *testing.T) {
	r := newTestRegistry(t)

	shape, _, err := r.Translate(testSession, "sessions", model.FilterSet{}, offsetParams(50, 0))
	if err != nil {
		t.Fatal(err)
	}

	if shape.Method != "POST" {
		t.Errorf("Method = %q, want POST", shape.Method)
	}
	if shape.Body["env"] != "dev" || shape.Body["section"] != "sessions" {
		t.Errorf("body = %v, want env and section", shape.Body)
	}
	pg, ok := shape.Body["pagination"].(map[string]any)
	if !ok {
		t.Fatalf("pagination = %v", shape.Body["pagination"])
	}
	if pg["limit"] != 50 || pg["offset"] != 0 {
		t.Errorf("pagination = %v", pg)
	}
}

func TestTranslate_searchDisambiguation(t *testing.T) {
	r := newTestRegistry(t)

	// Reference-shaped query routes to referenceId.
	shape, _, err := r.Translate(testSession, "sessions",
		model.FilterSet{"q": "ref-0042"}, offsetParams(50, 0))
	if err != nil {
		t.Fatal(err)
	}
	if shape.Body["referenceId"] != "ref-0042" {
		t.Errorf("referenceId = %v", shape.Body["referenceId"])
	}
	if _, ok := shape.Body["userId"]; ok {
		t.Error("search value routed to both parameters")
	}

	// Anything else routes to userId.
	shape, _, err = r.Translate(testSession, "sessions",
		model.FilterSet{"q": "alice"}, offsetParams(50, 0))
	if err != nil {
		t.Fatal(err)
	}
	if shape.Body["userId"] != "alice" {
		t.Errorf("userId = %v", shape.Body["userId"])
	}
	if _, ok := shape.Body["referenceId"]; ok {
		t.Error("search value routed to both parameters")
	}
}

func TestTranslate_tokenRegimeOmitsOffset(t *testing.T) {
	r := newTestRegistry(t)

	tok := &paginate.Params{Mode: paginate.ModeToken, Limit: 50, Token: "abc"}
	shape, _, err := r.Translate(testSession, "sessions", model.FilterSet{}, tok)
	if err != nil {
		t.Fatal(err)
	}
	if shape.Body["nextToken"] != "abc" {
		t.Errorf("nextToken = %v, want abc", shape.Body["nextToken"])
	}
	pg := shape.Body["pagination"].(map[string]any)
	if _, ok := pg["offset"]; ok {
		t.Error("token regime must not send a numeric offset")
	}

	// Query style too.
	qshape, _, err := r.Translate(testSession, "products", model.FilterSet{}, tok)
	if err != nil {
		t.Fatal(err)
	}
	if qshape.Query.Get("nextToken") != "abc" {
		t.Errorf("nextToken = %q", qshape.Query.Get("nextToken"))
	}
	if qshape.Query.Has("offset") {
		t.Error("token regime must not send offset in the query string")
	}
}

func TestTranslate_pathParameterExtraction(t *testing.T) {
	r := newTestRegistry(t)

	filters := model.FilterSet{"userId": "u-7", "status": "active"}
	shape, _, err := r.Translate(testSession, "user-sessions", filters, offsetParams(20, 0))
	if err != nil {
		t.Fatal(err)
	}

	if shape.PathParams["userId"] != "u-7" {
		t.Errorf("PathParams = %v", shape.PathParams)
	}
	if shape.Query.Has("userId") {
		t.Error("path parameter must be removed from the query string")
	}
	if shape.Query.Get("status") != "active" {
		t.Error("non-path filter missing from query")
	}

	// Missing path parameter is a hard error: the URL cannot be built.
	_, _, err = r.Translate(testSession, "user-sessions",
		model.FilterSet{"status": "active"}, offsetParams(20, 0))
	if err == nil {
		t.Error("missing path parameter should fail translation")
	}
}

func TestTranslateCount_stripsPagination(t *testing.T) {
	r := newTestRegistry(t)

	shape, _, err := r.TranslateCount(testSession, "products", model.FilterSet{"status": "approved"})
	if err != nil {
		t.Fatal(err)
	}
	if shape.Query.Has("limit") || shape.Query.Has("offset") || shape.Query.Has("nextToken") {
		t.Errorf("count translation carries pagination: %v", shape.Query)
	}
	if shape.Query.Get("status") != "approved" {
		t.Error("count translation lost the filter")
	}
}

func TestTranslate_baseNameDispatch(t *testing.T) {
	r := newTestRegistry(t)

	shape, _, err := r.Translate(testSession, "developer/products",
		model.FilterSet{"status": "approved"}, offsetParams(20, 0))
	if err != nil {
		t.Fatalf("hierarchical section should dispatch by base name: %v", err)
	}
	if shape.Query.Get("status") != "approved" {
		t.Error("base-name dispatch lost the filter")
	}

	_, _, err = r.Translate(testSession, "unknown", model.FilterSet{}, offsetParams(20, 0))
	if err == nil {
		t.Error("unknown section should fail")
	}
}

func TestNewRegistry_validatesBindings(t *testing.T) {
	sections := map[string]config.SectionConfig{
		"bound": {Binding: &config.OperationBinding{ServiceID: "admin", OperationID: "nope"}},
	}

	if _, err := NewRegistry(sections, openapi.NewIndex(), nil); err == nil {
		t.Error("unknown operation binding must fail at startup, not call time")
	}
	if _, err := NewRegistry(sections, nil, nil); err == nil {
		t.Error("binding without an index must fail at startup")
	}
}

func TestTranslate_openAPIBinding(t *testing.T) {
	spec := `openapi: "3.0.3"
info: {title: T, version: "1"}
paths:
  /tenants/{tenantId}/audit:
    get:
      operationId: listAudit
      parameters:
        - {name: tenantId, in: path, required: true, schema: {type: string}}
        - {name: action, in: query, schema: {type: string}}
      responses:
        "200": {description: OK}
`
	path := filepath.Join(t.TempDir(), "spec.yaml")
	if err := os.WriteFile(path, []byte(spec), 0o600); err != nil {
		t.Fatal(err)
	}
	idx := openapi.NewIndex()
	if err := idx.Load([]openapi.SpecSource{{ServiceID: "admin", SpecPath: path}}); err != nil {
		t.Fatal(err)
	}

	sections := map[string]config.SectionConfig{
		"audit": {
			Binding: &config.OperationBinding{ServiceID: "admin", OperationID: "listAudit"},
			Filters: []config.FilterField{
				{Key: "tenantId", Type: "id"},
				{Key: "action", Type: "string"},
			},
		},
	}
	r, err := NewRegistry(sections, idx, nil)
	if err != nil {
		t.Fatal(err)
	}

	shape, _, err := r.Translate(testSession, "audit",
		model.FilterSet{"tenantId": "t-1", "action": "delete"}, offsetParams(20, 0))
	if err != nil {
		t.Fatal(err)
	}
	if shape.PathTemplate != "/tenants/{tenantId}/audit" {
		t.Errorf("PathTemplate = %q", shape.PathTemplate)
	}
	// The operation declares tenantId in the path even though the config
	// did not pin a location.
	if shape.PathParams["tenantId"] != "t-1" {
		t.Errorf("PathParams = %v", shape.PathParams)
	}
	if shape.Query.Get("action") != "delete" {
		t.Errorf("query = %v", shape.Query)
	}
}

func TestRegisterBuilder_dedicatedBuilder(t *testing.T) {
	RegisterBuilder("special", func(bc *BuildContext) (RequestShape, error) {
		return RequestShape{Method: "GET", Query: url.Values{"marker": {"yes"}}}, nil
	})
	t.Cleanup(func() { delete(builderTable, "special") })

	r, err := NewRegistry(map[string]config.SectionConfig{"special": {}}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	shape, _, err := r.Translate(testSession, "special", model.FilterSet{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if shape.Query.Get("marker") != "yes" {
		t.Error("dedicated builder was not dispatched")
	}
}
