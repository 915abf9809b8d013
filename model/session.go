package model

// Session is the explicit per-view context threaded through every engine
// call in place of ambient global state. It is constructed once per
// page-view and is immutable after construction; the orchestrator swaps in
// a fresh Session on environment change.
type Session struct {
	ID            string
	Environment   string
	CorrelationID string
}

// WithEnvironment returns a copy of the session pointing at a different
// environment. The session ID is preserved so a view keeps its identity
// across environment switches.
func (s Session) WithEnvironment(env string) Session {
	s.Environment = env
	return s
}
