package paginate

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/tabwise/datadeck/model"
)

// Listing response envelopes vary by backend: items arrive under "items",
// "sessions", or as a bare array; totals under "total" or "totalCount";
// continuation under "nextToken". The engine does not control these shapes,
// so extraction is tolerant by design.

var itemKeys = []string{"items", "sessions", "results", "data"}

// ParseListing extracts a Page from a raw listing response body. limit and
// offset describe the request that produced the body and drive the
// implicit has-more inference when the backend reports neither a total nor
// a token.
func ParseListing(body []byte, limit, offset int) (model.Page, error) {
	if !gjson.ValidBytes(body) {
		return model.Page{}, fmt.Errorf("paginate: listing response is not valid JSON")
	}

	root := gjson.ParseBytes(body)

	items, found := extractItems(root)
	if !found {
		return model.Page{}, fmt.Errorf("paginate: no items array in listing response")
	}

	page := model.Page{Items: items}

	if total := firstNumber(root, "total", "totalCount"); total != nil {
		if *total < 0 {
			return model.Page{}, fmt.Errorf("paginate: negative total %d in listing response", *total)
		}
		page.Total = total
	}

	if tok := root.Get("nextToken"); tok.Exists() && tok.Type == gjson.String && tok.Str != "" {
		page.NextToken = model.StringPtr(tok.Str)
	}

	switch {
	case page.NextToken != nil:
		page.HasMore = true
	case page.Total != nil:
		page.HasMore = offset+len(items) < *page.Total
	default:
		page.HasMore = limit > 0 && len(items) == limit
	}

	if page.HasMore && page.NextToken == nil {
		page.NextCursor = model.IntPtr(offset + len(items))
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

// ParseCount extracts the count from a count-endpoint response, looking
// under "count", "total", and "totalCount" in that order.
func ParseCount(body []byte) (int, error) {
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("paginate: count response is not valid JSON")
	}

	root := gjson.ParseBytes(body)
	if n := firstNumber(root, "count", "total", "totalCount"); n != nil {
		if *n < 0 {
			return 0, fmt.Errorf("paginate: negative count %d", *n)
		}
		return *n, nil
	}
	return 0, fmt.Errorf("paginate: no count field in response")
}

func extractItems(root gjson.Result) ([]model.Item, bool) {
	if root.IsArray() {
		return toItems(root), true
	}
	for _, key := range itemKeys {
		if arr := root.Get(key); arr.Exists() && arr.IsArray() {
			return toItems(arr), true
		}
	}
	return nil, false
}

func toItems(arr gjson.Result) []model.Item {
	items := make([]model.Item, 0, int(arr.Get("#").Int()))
	arr.ForEach(func(_, value gjson.Result) bool {
		if m, ok := value.Value().(map[string]any); ok {
			items = append(items, m)
		} else {
			// Scalar rows are wrapped so callers always see records.
			items = append(items, model.Item{"value": value.Value()})
		}
		return true
	})
	return items
}

func firstNumber(root gjson.Result, keys ...string) *int {
	for _, key := range keys {
		if v := root.Get(key); v.Exists() && v.Type == gjson.Number {
			return model.IntPtr(int(v.Int()))
		}
	}
	return nil
}
