// Package model holds the shared domain types of the engine: sections,
// filter sets, pages, sessions, the error taxonomy, and the events the
// orchestrator publishes.
package model

import "strings"

// Section names one browsable dataset. Names may be hierarchical, for
// example "developer/scylla-db"; configuration lookup falls back to the
// base name when no entry exists for the full name.
type Section string

func (s Section) String() string { return string(s) }

// Base returns the last path segment of a hierarchical section name.
func (s Section) Base() string {
	name := string(s)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Item is one record of a section listing. Records are schemaless at this
// layer; the renderer decides which fields to show.
type Item = map[string]any

// Deployment environments a session can target.
const (
	EnvProd  = "prod"
	EnvStage = "stage"
	EnvDev   = "dev"
)

// KnownEnvironment reports whether env is one of the deployment
// environments the engine serves.
func KnownEnvironment(env string) bool {
	switch env {
	case EnvProd, EnvStage, EnvDev:
		return true
	}
	return false
}
