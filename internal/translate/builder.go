package translate

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/openapi"
	"github.com/tabwise/datadeck/internal/paginate"
	"github.com/tabwise/datadeck/model"
)

// RequestShape is the backend-ready request produced by a builder. The
// transport layer combines it with the resolved endpoint URL.
type RequestShape struct {
	Method       string
	PathTemplate string
	PathParams   map[string]string
	Query        url.Values
	Body         map[string]any
}

// BuildContext carries everything a builder needs for one translation.
type BuildContext struct {
	Session    model.Session
	Section    model.Section
	Config     config.SectionConfig
	Schema     Schema
	Filters    model.FilterSet  // sentinel-cleaned
	Pagination *paginate.Params // nil strips pagination (count calls)
	Operation  *openapi.Operation

	// Dropped collects filters the builder could not map. The view keeps
	// rendering; the orchestrator logs these.
	Dropped []*model.TranslationError
}

// BuilderFn translates one section's filter state into a request shape.
type BuilderFn func(bc *BuildContext) (RequestShape, error)

// GenericBuilder handles any section without a dedicated builder. Filters
// spread verbatim (schema-coerced when the section declares fields), the
// environment and section ride along, and pagination follows the active
// regime. Keys with unset sentinel values never become constraints.
func GenericBuilder(bc *BuildContext) (RequestShape, error) {
	shape := RequestShape{
		Method:       bc.Config.EffectiveMethod(),
		PathTemplate: bc.pathTemplate(),
		PathParams:   make(map[string]string),
		Query:        url.Values{},
	}

	bodyStyle := bc.Config.Style == "body"
	if bodyStyle {
		shape.Body = map[string]any{
			"env":     bc.Session.Environment,
			"section": bc.Section.String(),
		}
	}

	for key, raw := range bc.Filters {
		if handled, err := bc.routeSearchValue(&shape, key, raw); err != nil {
			bc.drop(key, err)
			continue
		} else if handled {
			continue
		}

		param, loc, value, err := bc.mapField(key, raw)
		if err != nil {
			bc.drop(key, err)
			continue
		}

		switch loc {
		case InPath:
			shape.PathParams[param] = fmt.Sprint(value)
		case InBody:
			shape.Body = ensureBody(shape.Body, bc)
			shape.Body[param] = value
		default:
			addQueryValue(shape.Query, param, value)
		}
	}

	if err := checkPathParams(&shape); err != nil {
		return RequestShape{}, err
	}

	applyPagination(&shape, bc.Pagination, bodyStyle)
	return shape, nil
}

// pathTemplate prefers the bound OpenAPI operation's template over the
// configured one.
func (bc *BuildContext) pathTemplate() string {
	if bc.Operation != nil && bc.Operation.PathTemplate != "" {
		return bc.Operation.PathTemplate
	}
	return bc.Config.PathTemplate
}

// routeSearchValue applies the section's prefix-based disambiguation rule:
// a free-text value routes to exactly one backend parameter, never both.
func (bc *BuildContext) routeSearchValue(shape *RequestShape, key string, raw any) (bool, error) {
	qr := bc.Config.Query
	if qr == nil || key != qr.Key {
		return false, nil
	}

	s, ok := raw.(string)
	if !ok {
		return false, fmt.Errorf("search value %v (%T) is not a string", raw, raw)
	}
	s = strings.TrimSpace(s)

	param := qr.FallbackParam
	if qr.RefPrefix != "" && strings.HasPrefix(s, qr.RefPrefix) {
		param = qr.RefParam
	}
	if param == "" {
		return false, fmt.Errorf("search routing for %q has no target parameter", key)
	}

	if bc.Config.Style == "body" {
		shape.Body = ensureBody(shape.Body, bc)
		shape.Body[param] = s
	} else {
		shape.Query.Set(param, s)
	}
	return true, nil
}

// mapField resolves the backend parameter name, location, and coerced value
// for one filter key. Sections without a schema pass filters through
// verbatim; sections with a schema reject unadvertised keys so a backend is
// never asked to honor a filter it does not support.
func (bc *BuildContext) mapField(key string, raw any) (string, Location, any, error) {
	defaultLoc := InQuery
	if bc.Config.Style == "body" {
		defaultLoc = InBody
	}

	if bc.Schema == nil {
		return key, bc.locationFor(key, defaultLoc), raw, nil
	}

	field, ok := bc.Schema[key]
	if !ok {
		return "", "", nil, fmt.Errorf("filter is not advertised by this section")
	}

	value, err := coerceValue(field, raw)
	if err != nil {
		return "", "", nil, err
	}
	return field.Param, bc.locationFor(field.Param, field.In), value, nil
}

// locationFor promotes a parameter to the path when the bound operation
// declares it there, regardless of the configured location.
func (bc *BuildContext) locationFor(param string, configured Location) Location {
	if bc.Operation != nil && bc.Operation.HasPathParam(param) {
		return InPath
	}
	if configured == InPath {
		return InPath
	}
	tmpl := bc.pathTemplate()
	if tmpl != "" && strings.Contains(tmpl, "{"+param+"}") {
		return InPath
	}
	return configured
}

// coerceValue applies field coercion element-wise for slice values.
func coerceValue(field Field, raw any) (any, error) {
	switch vals := raw.(type) {
	case []string:
		out := make([]any, 0, len(vals))
		for _, v := range vals {
			c, err := field.Coerce(v)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	case []any:
		out := make([]any, 0, len(vals))
		for _, v := range vals {
			c, err := field.Coerce(v)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, nil
	}
	return field.Coerce(raw)
}

func ensureBody(body map[string]any, bc *BuildContext) map[string]any {
	if body != nil {
		return body
	}
	return map[string]any{
		"env":     bc.Session.Environment,
		"section": bc.Section.String(),
	}
}

func addQueryValue(q url.Values, param string, value any) {
	switch vals := value.(type) {
	case []any:
		for _, v := range vals {
			q.Add(param, fmt.Sprint(v))
		}
	case []string:
		for _, v := range vals {
			q.Add(param, v)
		}
	default:
		q.Set(param, fmt.Sprint(value))
	}
}

// checkPathParams verifies every placeholder in the path template received
// a value. A missing path parameter makes the URL unbuildable, so this is a
// hard error rather than a droppable one.
func checkPathParams(shape *RequestShape) error {
	tmpl := shape.PathTemplate
	for {
		start := strings.IndexByte(tmpl, '{')
		if start < 0 {
			return nil
		}
		end := strings.IndexByte(tmpl[start:], '}')
		if end < 0 {
			return fmt.Errorf("translate: unterminated placeholder in path template %q", shape.PathTemplate)
		}
		name := tmpl[start+1 : start+end]
		if _, ok := shape.PathParams[name]; !ok {
			return fmt.Errorf("translate: path parameter %q has no value", name)
		}
		tmpl = tmpl[start+end+1:]
	}
}

// applyPagination attaches pagination under the active regime. Token and
// offset parameters are mutually exclusive by construction: token regime
// sends nextToken and no offset, offset regime the reverse.
func applyPagination(shape *RequestShape, p *paginate.Params, bodyStyle bool) {
	if p == nil {
		return
	}

	if bodyStyle {
		if shape.Body == nil {
			shape.Body = map[string]any{}
		}
		if p.Mode == paginate.ModeToken {
			shape.Body["pagination"] = map[string]any{"limit": p.Limit}
			if p.Token != "" {
				shape.Body["nextToken"] = p.Token
			}
			return
		}
		shape.Body["pagination"] = map[string]any{"limit": p.Limit, "offset": p.Offset}
		return
	}

	shape.Query.Set("limit", fmt.Sprint(p.Limit))
	if p.Mode == paginate.ModeToken {
		if p.Token != "" {
			shape.Query.Set("nextToken", p.Token)
		}
		return
	}
	shape.Query.Set("offset", fmt.Sprint(p.Offset))
}

func (bc *BuildContext) drop(key string, err error) {
	bc.Dropped = append(bc.Dropped, &model.TranslationError{
		Section: bc.Section,
		Filter:  key,
		Reason:  err.Error(),
	})
}
