package source

import (
	"strings"

	"github.com/tabwise/datadeck/model"
)

// Mode identifies which data source serves a request.
type Mode int

const (
	// ModeRemote issues a network call against the resolved URL.
	ModeRemote Mode = iota
	// ModeStatic reads from the embedded static dataset.
	ModeStatic
)

func (m Mode) String() string {
	if m == ModeStatic {
		return "static"
	}
	return "remote"
}

// Resolution is the outcome of resolving a section against an environment.
// URL is set only in remote mode.
type Resolution struct {
	Mode Mode
	URL  string
}

// Resolve decides the data source for a section in an environment. Lookup
// goes by full section name first, then by base name. A section absent from
// the document entirely, or present without the requested environment,
// fails fast with ConfigurationMissingError; silent defaulting is how
// indistinguishable empty-state bugs happen. A present-but-blank endpoint
// selects the static source.
func (r *Registry) Resolve(section model.Section, env string) (Resolution, error) {
	doc := r.snap.Load().doc

	envs, ok := doc[section.String()]
	if !ok {
		envs, ok = doc[section.Base()]
	}
	if !ok {
		return Resolution{}, &model.ConfigurationMissingError{Section: section, Environment: env}
	}

	ep, ok := envs[env]
	if !ok {
		return Resolution{}, &model.ConfigurationMissingError{Section: section, Environment: env}
	}

	url := strings.TrimSpace(ep.Endpoint)
	if url == "" {
		return Resolution{Mode: ModeStatic}, nil
	}
	return Resolution{Mode: ModeRemote, URL: url}, nil
}
