package model

// Page is one reconciled window of a section listing, normalized across
// the backend pagination dialects. Exactly one continuation handle is set:
// NextCursor for offset-paged backends, NextToken for token-paged ones,
// neither when the listing is exhausted.
type Page struct {
	Items      []Item  `json:"items"`
	Total      *int    `json:"total,omitempty"`
	NextCursor *int    `json:"nextCursor,omitempty"`
	NextToken  *string `json:"nextToken,omitempty"`
	PrevCursor *int    `json:"prevCursor,omitempty"`
	HasMore    bool    `json:"hasMore"`
}

// TabSpec describes one tab of a tab-aware section: the filter override it
// applies on top of the section filters, and whether it carries a count
// badge.
type TabSpec struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Override FilterSet `json:"override,omitempty"`
	Count    bool      `json:"count"`
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int { return &n }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
