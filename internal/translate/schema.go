// Package translate maps a section's filter state into the request shape
// its backend expects. Each section resolves to exactly one builder through
// a closed registry validated at startup; sections without a dedicated
// builder are explicitly bound to the generic builder, never resolved by
// optional lookup at call time.
package translate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tabwise/datadeck/internal/config"
)

// Location says where a translated parameter goes.
type Location string

const (
	// InQuery puts the parameter in the query string.
	InQuery Location = "query"
	// InPath substitutes the parameter into the URL template.
	InPath Location = "path"
	// InBody puts the parameter in the JSON request body.
	InBody Location = "body"
)

// FieldType is the declared type of a filter field. Declarative typing
// replaces per-call-site name sniffing: the same table drives translation
// coercion and static-dataset matching.
type FieldType int

const (
	TypeString FieldType = iota
	TypeInt
	TypeBool
	TypeDate
	TypeID
	TypeEnum
)

var fieldTypeNames = map[string]FieldType{
	"":       TypeString,
	"string": TypeString,
	"int":    TypeInt,
	"bool":   TypeBool,
	"date":   TypeDate,
	"id":     TypeID,
	"enum":   TypeEnum,
}

// Field describes one advertised filter of a section.
type Field struct {
	Key    string
	Type   FieldType
	Param  string
	In     Location
	Values []string // allowed values for enum fields
}

// Schema is the field-type table for one section, keyed by filter key. A
// nil schema means the section advertises no particular fields and accepts
// any filter verbatim.
type Schema map[string]Field

// SchemaFromConfig builds a schema from the section's filter declarations.
// defaultIn applies to fields that do not pin a location.
func SchemaFromConfig(fields []config.FilterField, defaultIn Location) Schema {
	if len(fields) == 0 {
		return nil
	}
	schema := make(Schema, len(fields))
	for _, f := range fields {
		field := Field{
			Key:    f.Key,
			Type:   fieldTypeNames[f.Type],
			Param:  f.Param,
			In:     Location(f.In),
			Values: f.Values,
		}
		if field.Param == "" {
			field.Param = f.Key
		}
		if field.In == "" {
			field.In = defaultIn
		}
		schema[f.Key] = field
	}
	return schema
}

// Coerce validates and normalizes a filter value against the field type.
// The returned value is what gets sent to the backend.
func (f Field) Coerce(v any) (any, error) {
	switch f.Type {
	case TypeInt:
		switch val := v.(type) {
		case int:
			return val, nil
		case int64:
			return int(val), nil
		case float64:
			if val != float64(int(val)) {
				return nil, fmt.Errorf("value %v is not an integer", val)
			}
			return int(val), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("value %q is not an integer", val)
			}
			return n, nil
		}
		return nil, fmt.Errorf("value %v (%T) is not an integer", v, v)

	case TypeBool:
		switch val := v.(type) {
		case bool:
			return val, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(val))
			if err != nil {
				return nil, fmt.Errorf("value %q is not a boolean", val)
			}
			return b, nil
		}
		return nil, fmt.Errorf("value %v (%T) is not a boolean", v, v)

	case TypeDate:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value %v (%T) is not a date", v, v)
		}
		s = strings.TrimSpace(s)
		if _, err := time.Parse("2006-01-02", s); err != nil {
			return nil, fmt.Errorf("value %q is not a YYYY-MM-DD date", s)
		}
		return s, nil

	case TypeEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value %v (%T) is not a string", v, v)
		}
		for _, allowed := range f.Values {
			if strings.EqualFold(s, allowed) {
				return allowed, nil
			}
		}
		return nil, fmt.Errorf("value %q is not one of %v", s, f.Values)

	default: // TypeString, TypeID
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	}
}
