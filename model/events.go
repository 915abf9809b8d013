package model

// Event is a message emitted by the orchestrator to the rendering layer.
// Superseded (stale) loads never produce an event.
type Event interface {
	isEvent()
}

// PageSettled is emitted once a render cycle has fully settled: the listing
// fetch and the count fetch have both completed (success or isolated count
// failure) and, on initial loads of tab-aware sections, tab counts have
// been recomputed.
type PageSettled struct {
	Section   Section        `json:"section"`
	Items     []Item         `json:"items"`
	Total     *int           `json:"total"`
	HasMore   bool           `json:"hasMore"`
	TabCounts map[string]int `json:"tabCounts,omitempty"`
	Appended  bool           `json:"appended"`
}

func (PageSettled) isEvent() {}

// LoadFailed is emitted when a render cycle fails. Appended distinguishes a
// localized "load more" failure (previously loaded rows stay intact) from a
// full-view initial-load failure.
type LoadFailed struct {
	Section  Section `json:"section"`
	Appended bool    `json:"appended"`
	Err      error   `json:"-"`
}

func (LoadFailed) isEvent() {}

// SourceReloaded is emitted when the endpoints document is hot-reloaded.
// Orchestrators treat it like an environment change: reset pagination and
// reload from page one.
type SourceReloaded struct {
	Checksum string `json:"checksum"`
}

func (SourceReloaded) isEvent() {}
