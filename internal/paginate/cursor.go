// Package paginate reconciles the two backend pagination idioms —
// offset+limit and opaque continuation tokens — behind one forward-only
// cursor. A filter session starts in offset regime and may transition to
// token regime exactly once, when a response first supplies a token; the
// regimes never mix within one unreset session.
package paginate

import (
	"github.com/tabwise/datadeck/model"
)

// Mode is the active pagination regime.
type Mode int

const (
	// ModeOffset pages with a numeric offset and limit.
	ModeOffset Mode = iota
	// ModeToken pages with a server-issued continuation token.
	ModeToken
)

func (m Mode) String() string {
	if m == ModeToken {
		return "token"
	}
	return "offset"
}

// Params are the pagination parameters for the next request. In token
// regime Offset is always zero and must not be sent.
type Params struct {
	Mode   Mode
	Limit  int
	Offset int
	Token  string
}

// Cursor tracks pagination state for one filter session. It is not safe
// for concurrent use; the orchestrator owns it and mutates it only between
// await points.
type Cursor struct {
	limit   int
	mode    Mode
	offset  int
	token   string // token for the current request (token regime)
	pending string // token supplied by the last response, adopted on Advance
	hasNext bool   // last response indicated more data
	fetched int    // items returned so far this session
	total   *int
}

// NewCursor returns a cursor in offset regime at offset zero.
func NewCursor(limit int) *Cursor {
	if limit <= 0 {
		limit = 20
	}
	return &Cursor{limit: limit}
}

// Reset discards all session state and returns to offset regime at offset
// zero. Resetting twice in a row is equivalent to resetting once.
func (c *Cursor) Reset() {
	c.mode = ModeOffset
	c.offset = 0
	c.token = ""
	c.pending = ""
	c.hasNext = false
	c.fetched = 0
	c.total = nil
}

// Mode returns the active regime.
func (c *Cursor) Mode() Mode { return c.mode }

// Limit returns the page size.
func (c *Cursor) Limit() int { return c.limit }

// Params returns the pagination parameters for the next request under the
// active regime.
func (c *Cursor) Params() Params {
	if c.mode == ModeToken {
		return Params{Mode: ModeToken, Limit: c.limit, Token: c.token}
	}
	return Params{Mode: ModeOffset, Limit: c.limit, Offset: c.offset}
}

// Observe folds one fetched page into the session and spends the active
// token. A non-nil NextToken transitions the session to token regime; the
// token becomes active on the next Advance. A reported total is remembered
// for HasMore derivation.
func (c *Cursor) Observe(page model.Page) {
	c.fetched += len(page.Items)
	c.token = ""
	if page.Total != nil {
		c.total = page.Total
	}

	if page.NextToken != nil {
		c.mode = ModeToken
		c.pending = *page.NextToken
		c.hasNext = true
		return
	}

	c.pending = ""
	if c.mode == ModeToken {
		// Token regime with no new token: the stream is exhausted.
		c.hasNext = false
		return
	}
	c.hasNext = page.HasMore
}

// Advance moves the cursor to the next page. In token regime the pending
// token becomes the request parameter and no numeric offset is touched; in
// offset regime the offset grows by the limit.
func (c *Cursor) Advance() {
	if c.mode == ModeToken {
		c.token = c.pending
		c.pending = ""
		return
	}
	c.offset += c.limit
}

// Retreat undoes one Advance after a failed fetch so a retry requests the
// same window again. Retreating without a preceding Advance is a no-op at
// offset zero.
func (c *Cursor) Retreat() {
	if c.mode == ModeToken {
		if c.token != "" {
			c.pending = c.token
			c.token = ""
		}
		return
	}
	if c.offset >= c.limit {
		c.offset -= c.limit
	} else {
		c.offset = 0
	}
}

// HasMore reports whether another page exists: a pending or active-unspent
// token, or a known total not yet reached, or the last response's raw
// more flag when the total is unknown.
func (c *Cursor) HasMore() bool {
	if c.mode == ModeToken {
		return c.pending != "" || c.token != ""
	}
	if c.total != nil {
		return c.fetched < *c.total
	}
	return c.hasNext
}

// Fetched returns the number of items returned so far this session.
func (c *Cursor) Fetched() int { return c.fetched }

// Total returns the most recently reported total, or nil when unknown.
func (c *Cursor) Total() *int { return c.total }
