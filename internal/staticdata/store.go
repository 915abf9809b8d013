// Package staticdata serves sections whose endpoint is intentionally
// blank from pre-shipped in-memory datasets. Filtering is a full pass over
// the dataset with the same field-type schema the translator uses, so the
// counts it produces are exact, not approximate.
package staticdata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tabwise/datadeck/internal/translate"
	"github.com/tabwise/datadeck/model"
)

// Store holds the static datasets keyed by section base name.
type Store struct {
	mu       sync.RWMutex
	datasets map[string][]model.Item
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{datasets: make(map[string][]model.Item)}
}

// Load scans a directory for <section>.json files, each containing a JSON
// array of records, and registers them. A missing directory is not an
// error; it simply means no sections have static data.
func Load(dir string) (*Store, error) {
	s := NewStore()
	if dir == "" {
		return s, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("staticdata: reading %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("staticdata: reading %s: %w", path, err)
		}

		var items []model.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("staticdata: parsing %s: %w", path, err)
		}

		section := strings.TrimSuffix(entry.Name(), ".json")
		s.Register(section, items)
	}

	return s, nil
}

// Register installs a dataset for a section, replacing any existing one.
// Dataset order is preserved; listing windows are deterministic.
func (s *Store) Register(section string, items []model.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[section] = items
}

// Len returns the number of registered datasets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.datasets)
}

// Has reports whether a dataset exists for the section.
func (s *Store) Has(section model.Section) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.datasets[section.Base()]
	return ok
}

// List filters the section's dataset and returns the requested offset
// window as a Page with an exact total. Static datasets always page by
// offset; they never issue continuation tokens.
func (s *Store) List(section model.Section, filters model.FilterSet, schema translate.Schema, limit, offset int) (model.Page, error) {
	matched, err := s.filter(section, filters, schema)
	if err != nil {
		return model.Page{}, err
	}

	total := len(matched)
	if limit <= 0 {
		limit = total
	}
	if offset < 0 {
		offset = 0
	}

	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := model.Page{
		Items:   matched[start:end],
		Total:   model.IntPtr(total),
		HasMore: end < total,
	}
	if page.HasMore {
		page.NextCursor = model.IntPtr(end)
	}
	if offset > 0 {
		prev := offset - limit
		if prev < 0 {
			prev = 0
		}
		page.PrevCursor = model.IntPtr(prev)
	}
	return page, nil
}

// Count returns the exact number of records matching the filters: by
// construction the same number a full listing scan would return.
func (s *Store) Count(section model.Section, filters model.FilterSet, schema translate.Schema) (int, error) {
	matched, err := s.filter(section, filters, schema)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Store) filter(section model.Section, filters model.FilterSet, schema translate.Schema) ([]model.Item, error) {
	s.mu.RLock()
	items, ok := s.datasets[section.Base()]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("staticdata: no dataset for section %q", section)
	}

	constraints := filters.Clean()
	if len(constraints) == 0 {
		return items, nil
	}

	matched := make([]model.Item, 0, len(items))
	for _, item := range items {
		if matchesAll(item, constraints, schema) {
			matched = append(matched, item)
		}
	}
	return matched, nil
}

// matchesAll applies every constraint conjunctively. The "q" key is a
// case-insensitive substring search across all string fields; other keys
// match the identically named record field under the schema's type rules.
func matchesAll(item model.Item, constraints model.FilterSet, schema translate.Schema) bool {
	for key, want := range constraints {
		if key == "q" {
			s, ok := want.(string)
			if !ok || !searchMatch(item, s) {
				return false
			}
			continue
		}
		if !fieldMatch(item[key], want, schema[key]) {
			return false
		}
	}
	return true
}

func searchMatch(item model.Item, query string) bool {
	needle := strings.ToLower(strings.TrimSpace(query))
	for _, v := range item {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// fieldMatch compares one record field against a constraint. Slice
// constraints are any-of.
func fieldMatch(have any, want any, field translate.Field) bool {
	switch wants := want.(type) {
	case []string:
		for _, w := range wants {
			if scalarMatch(have, w, field) {
				return true
			}
		}
		return false
	case []any:
		for _, w := range wants {
			if scalarMatch(have, w, field) {
				return true
			}
		}
		return false
	}
	return scalarMatch(have, want, field)
}

func scalarMatch(have any, want any, field translate.Field) bool {
	if have == nil {
		return false
	}

	switch field.Type {
	case translate.TypeInt:
		h, w := asFloat(have), asFloat(want)
		return h != nil && w != nil && *h == *w
	case translate.TypeBool:
		hb, hok := asBool(have)
		wb, wok := asBool(want)
		return hok && wok && hb == wb
	case translate.TypeDate:
		// Date constraints match on day prefix so timestamp fields compare
		// against YYYY-MM-DD filters.
		hs, ok := have.(string)
		ws, wok := want.(string)
		return ok && wok && strings.HasPrefix(hs, ws)
	case translate.TypeEnum:
		return strings.EqualFold(fmt.Sprint(have), fmt.Sprint(want))
	default:
		return fmt.Sprint(have) == fmt.Sprint(want)
	}
}

func asFloat(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%g", &f); err == nil {
			return &f
		}
	}
	return nil
}

func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		}
	}
	return false, false
}
