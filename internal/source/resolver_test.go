package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tabwise/datadeck/model"
)

func testDocument() Document {
	return Document{
		"products": {
			"prod": {Endpoint: "https://api.example.com/products"},
			"dev":  {Endpoint: ""},
		},
		"moderation": {
			"prod": {Endpoint: "  "},
			"dev":  {Endpoint: "https://dev.example.com/moderation"},
		},
	}
}

func TestResolve_remote(t *testing.T) {
	r := NewRegistryFromDocument(testDocument())

	res, err := r.Resolve("products", "prod")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Mode != ModeRemote {
		t.Errorf("Mode = %v, want remote", res.Mode)
	}
	if res.URL != "https://api.example.com/products" {
		t.Errorf("URL = %q", res.URL)
	}
}

func TestResolve_blankEndpointSelectsStatic(t *testing.T) {
	r := NewRegistryFromDocument(testDocument())

	// Empty string and whitespace-only both mean "use static data".
	for _, tc := range []struct {
		section model.Section
		env     string
	}{
		{"products", "dev"},
		{"moderation", "prod"},
	} {
		res, err := r.Resolve(tc.section, tc.env)
		if err != nil {
			t.Fatalf("Resolve(%s, %s) error = %v", tc.section, tc.env, err)
		}
		if res.Mode != ModeStatic {
			t.Errorf("Resolve(%s, %s) Mode = %v, want static", tc.section, tc.env, res.Mode)
		}
		if res.URL != "" {
			t.Errorf("static resolution carries URL %q", res.URL)
		}
	}
}

func TestResolve_baseNameFallback(t *testing.T) {
	r := NewRegistryFromDocument(testDocument())

	res, err := r.Resolve("developer/products", "prod")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Mode != ModeRemote {
		t.Errorf("Mode = %v, want remote via base-name lookup", res.Mode)
	}
}

func TestResolve_missingConfigurationFailsFast(t *testing.T) {
	r := NewRegistryFromDocument(testDocument())

	_, err := r.Resolve("billing", "prod")
	var missing *model.ConfigurationMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("Resolve(billing) error = %v, want ConfigurationMissingError", err)
	}
	if missing.Section != "billing" {
		t.Errorf("error names section %q", missing.Section)
	}

	// Section present but environment absent is also a configuration error,
	// distinguishable from an intentionally blank endpoint.
	_, err = r.Resolve("products", "stage")
	if !errors.As(err, &missing) {
		t.Fatalf("Resolve(products, stage) error = %v, want ConfigurationMissingError", err)
	}
}

func TestRegistry_loadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "endpoints.yaml")
	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	write("products:\n  dev: {endpoint: \"\"}\n")

	r, err := NewRegistry(path)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	res, err := r.Resolve("products", "dev")
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeStatic {
		t.Fatalf("Mode = %v, want static", res.Mode)
	}

	var reloaded []string
	r.OnReload(func(checksum string) { reloaded = append(reloaded, checksum) })

	write("products:\n  dev: {endpoint: \"https://dev.example.com\"}\n")
	if err := r.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	res, err = r.Resolve("products", "dev")
	if err != nil {
		t.Fatal(err)
	}
	if res.Mode != ModeRemote {
		t.Errorf("Mode after reload = %v, want remote", res.Mode)
	}
	if len(reloaded) != 1 {
		t.Errorf("reload callbacks fired %d times, want 1", len(reloaded))
	}

	// Reloading an unchanged document does not fire callbacks again.
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}
	if len(reloaded) != 1 {
		t.Errorf("unchanged reload fired callbacks: %d", len(reloaded))
	}
}

func TestLoadDocument_errors(t *testing.T) {
	if _, _, err := LoadDocument(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should error")
	}

	path := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadDocument(path); err == nil {
		t.Error("empty document should error")
	}
}
