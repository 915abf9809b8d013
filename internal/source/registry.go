// Package source resolves which data source serves a section: a configured
// remote endpoint or the embedded static dataset. The endpoints document is
// held in an immutable snapshot swapped atomically, so resolution is a
// lock-free read and a hot reload never tears a half-written document.
package source

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Endpoint is one leaf of the endpoints document. A blank endpoint is a
// first-class signal selecting the static source, not an error.
type Endpoint struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Document maps section name → environment name → endpoint.
type Document map[string]map[string]Endpoint

// LoadDocument reads and parses an endpoints document. YAML and JSON are
// both accepted. The returned checksum identifies the document revision.
func LoadDocument(path string) (Document, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("source: reading %s: %w", path, err)
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("source: parsing %s: %w", path, err)
	}
	if len(doc) == 0 {
		return nil, "", fmt.Errorf("source: %s contains no sections", path)
	}

	checksum := fmt.Sprintf("%x", sha256.Sum256(data))
	return doc, checksum, nil
}

type snapshot struct {
	doc      Document
	checksum string
}

// Registry is a read-optimized, thread-safe store of the endpoints
// document. Reads go through an atomic pointer; Reload swaps in a complete
// new snapshot.
type Registry struct {
	path string
	snap atomic.Pointer[snapshot]

	mu       sync.Mutex
	onReload []func(checksum string)
}

// NewRegistry loads the endpoints document at path and returns a registry
// bound to it.
func NewRegistry(path string) (*Registry, error) {
	doc, checksum, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	r := &Registry{path: path}
	r.snap.Store(&snapshot{doc: doc, checksum: checksum})
	return r, nil
}

// NewRegistryFromDocument builds a registry around an in-memory document.
// Used by tests and embedded deployments that carry no endpoints file.
func NewRegistryFromDocument(doc Document) *Registry {
	r := &Registry{}
	r.snap.Store(&snapshot{doc: doc})
	return r
}

// Reload re-reads the endpoints document and atomically swaps the snapshot.
// Registered reload callbacks fire only when the checksum actually changed.
func (r *Registry) Reload() error {
	if r.path == "" {
		return fmt.Errorf("source: registry has no backing file")
	}
	doc, checksum, err := LoadDocument(r.path)
	if err != nil {
		return err
	}

	prev := r.snap.Load()
	r.snap.Store(&snapshot{doc: doc, checksum: checksum})

	if prev == nil || prev.checksum != checksum {
		r.mu.Lock()
		callbacks := make([]func(string), len(r.onReload))
		copy(callbacks, r.onReload)
		r.mu.Unlock()
		for _, fn := range callbacks {
			fn(checksum)
		}
	}
	return nil
}

// OnReload registers a callback fired after every effective reload.
func (r *Registry) OnReload(fn func(checksum string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReload = append(r.onReload, fn)
}

// Checksum returns the revision of the current snapshot.
func (r *Registry) Checksum() string {
	return r.snap.Load().checksum
}

// Replace swaps the document directly. Used by tests.
func (r *Registry) Replace(doc Document) {
	r.snap.Store(&snapshot{doc: doc})
}
