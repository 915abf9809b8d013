package translate

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/tabwise/datadeck/internal/config"
	"github.com/tabwise/datadeck/internal/openapi"
	"github.com/tabwise/datadeck/internal/paginate"
	"github.com/tabwise/datadeck/model"
)

// builderTable holds dedicated builders by section base name. Sections not
// listed here are bound to GenericBuilder at registry construction; the
// binding is explicit and exhaustive, never a call-time property lookup.
var builderTable = map[string]BuilderFn{}

// RegisterBuilder installs a dedicated builder for a section base name.
// Must be called before NewRegistry; later calls have no effect on
// registries already built.
func RegisterBuilder(baseName string, fn BuilderFn) {
	builderTable[baseName] = fn
}

// binding is one section's resolved translation rule.
type binding struct {
	cfg    config.SectionConfig
	schema Schema
	build  BuilderFn
	op     *openapi.Operation
}

// Registry resolves sections to their builders. Construction validates
// every configured section: OpenAPI bindings must resolve, and every
// section ends up with exactly one builder.
type Registry struct {
	bindings map[string]binding
	logger   *zap.Logger
}

// NewRegistry builds and validates the translation registry for all
// configured sections.
func NewRegistry(sections map[string]config.SectionConfig, idx *openapi.Index, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		bindings: make(map[string]binding, len(sections)),
		logger:   logger,
	}

	// Deterministic validation order keeps error output stable.
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		cfg := sections[name]
		b := binding{cfg: cfg}

		defaultIn := InQuery
		if cfg.Style == "body" {
			defaultIn = InBody
		}
		b.schema = SchemaFromConfig(cfg.Filters, defaultIn)

		if cfg.Binding != nil {
			if idx == nil {
				return nil, fmt.Errorf("translate: section %q binds %s/%s but no OpenAPI index was loaded",
					name, cfg.Binding.ServiceID, cfg.Binding.OperationID)
			}
			op, ok := idx.GetOperation(cfg.Binding.ServiceID, cfg.Binding.OperationID)
			if !ok {
				return nil, fmt.Errorf("translate: section %q binds unknown operation %s/%s",
					name, cfg.Binding.ServiceID, cfg.Binding.OperationID)
			}
			b.op = &op
		}

		if fn, ok := builderTable[model.Section(name).Base()]; ok {
			b.build = fn
		} else {
			b.build = GenericBuilder
		}

		r.bindings[name] = b
	}

	return r, nil
}

// Sections returns the configured section names, sorted.
func (r *Registry) Sections() []string {
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config returns the section configuration, honoring base-name fallback for
// hierarchical names.
func (r *Registry) Config(section model.Section) (config.SectionConfig, bool) {
	b, ok := r.lookup(section)
	return b.cfg, ok
}

// SchemaFor returns the field-type schema for a section, or nil when the
// section advertises no fields.
func (r *Registry) SchemaFor(section model.Section) Schema {
	if b, ok := r.lookup(section); ok {
		return b.schema
	}
	return nil
}

func (r *Registry) lookup(section model.Section) (binding, bool) {
	if b, ok := r.bindings[section.String()]; ok {
		return b, true
	}
	b, ok := r.bindings[section.Base()]
	return b, ok
}

// Translate builds the request shape for a listing call. Unmappable
// filters are dropped, logged, and returned so callers can surface them;
// they never fail the view.
func (r *Registry) Translate(
	sess model.Session,
	section model.Section,
	filters model.FilterSet,
	pg *paginate.Params,
) (RequestShape, []*model.TranslationError, error) {
	b, ok := r.lookup(section)
	if !ok {
		return RequestShape{}, nil, &model.NotFoundError{Section: section}
	}

	bc := &BuildContext{
		Session:    sess,
		Section:    section,
		Config:     b.cfg,
		Schema:     b.schema,
		Filters:    filters.Clean(),
		Pagination: pg,
		Operation:  b.op,
	}

	shape, err := b.build(bc)
	if err != nil {
		return RequestShape{}, bc.Dropped, err
	}

	for _, dropped := range bc.Dropped {
		r.logger.Warn("dropped untranslatable filter",
			zap.String("section", section.String()),
			zap.String("filter", dropped.Filter),
			zap.String("reason", dropped.Reason),
		)
	}

	return shape, bc.Dropped, nil
}

// TranslateCount builds the request shape for a count call: identical
// filter translation with pagination stripped.
func (r *Registry) TranslateCount(
	sess model.Session,
	section model.Section,
	filters model.FilterSet,
) (RequestShape, []*model.TranslationError, error) {
	return r.Translate(sess, section, filters, nil)
}
