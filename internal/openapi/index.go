// Package openapi loads and indexes OpenAPI specifications for sections
// bound to backend operations. The index supplies the path template and
// declared parameter locations the request translator needs to split
// filters into path and query parameters.
package openapi

import (
	"context"
	"fmt"
	"sort"

	"github.com/getkin/kin-openapi/openapi3"
)

// SpecSource describes an OpenAPI spec file to load.
type SpecSource struct {
	ServiceID string
	SpecPath  string
}

// Operation holds a resolved OpenAPI operation with the pieces the
// translator consumes.
type Operation struct {
	ServiceID    string
	OperationID  string
	Method       string
	PathTemplate string
	PathParams   []string
	QueryParams  []string
}

// HasPathParam reports whether the operation declares name as a path
// parameter.
func (op Operation) HasPathParam(name string) bool {
	for _, p := range op.PathParams {
		if p == name {
			return true
		}
	}
	return false
}

// Index is an in-memory index of OpenAPI operations keyed by
// (serviceID, operationID).
type Index struct {
	operations map[string]Operation
	byService  map[string][]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		operations: make(map[string]Operation),
		byService:  make(map[string][]string),
	}
}

func operationKey(serviceID, operationID string) string {
	return serviceID + ":" + operationID
}

// Load parses OpenAPI specs from the given sources and indexes every
// operation carrying an operationId.
func (idx *Index) Load(specs []SpecSource) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	for _, src := range specs {
		doc, err := loader.LoadFromFile(src.SpecPath)
		if err != nil {
			return fmt.Errorf("openapi: loading %s (%s): %w", src.ServiceID, src.SpecPath, err)
		}
		if err := doc.Validate(context.Background()); err != nil {
			return fmt.Errorf("openapi: validating %s: %w", src.ServiceID, err)
		}

		for path, pathItem := range doc.Paths.Map() {
			for method, op := range pathItem.Operations() {
				if op.OperationID == "" {
					continue
				}

				indexed := Operation{
					ServiceID:    src.ServiceID,
					OperationID:  op.OperationID,
					Method:       method,
					PathTemplate: path,
				}

				// Path-level parameters apply to every operation under the path.
				for _, ref := range pathItem.Parameters {
					indexed.addParam(ref.Value)
				}
				for _, ref := range op.Parameters {
					indexed.addParam(ref.Value)
				}

				key := operationKey(src.ServiceID, op.OperationID)
				idx.operations[key] = indexed
				idx.byService[src.ServiceID] = append(idx.byService[src.ServiceID], op.OperationID)
			}
		}
	}

	return nil
}

func (op *Operation) addParam(p *openapi3.Parameter) {
	if p == nil {
		return
	}
	switch p.In {
	case openapi3.ParameterInPath:
		op.PathParams = append(op.PathParams, p.Name)
	case openapi3.ParameterInQuery:
		op.QueryParams = append(op.QueryParams, p.Name)
	}
}

// GetOperation returns the indexed operation for the given service and
// operation ID.
func (idx *Index) GetOperation(serviceID, operationID string) (Operation, bool) {
	op, ok := idx.operations[operationKey(serviceID, operationID)]
	return op, ok
}

// AllOperationIDs returns all operation IDs for the given service, sorted.
func (idx *Index) AllOperationIDs(serviceID string) []string {
	ids := make([]string, len(idx.byService[serviceID]))
	copy(ids, idx.byService[serviceID])
	sort.Strings(ids)
	return ids
}
