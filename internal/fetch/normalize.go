package fetch

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/query"
)

// Backend procedures disagree on envelope field names; the first present wins
var (
	itemFields       = []string{"snippets", "recordings", "items", "data"}
	totalPagesFields = []string{"total_pages", "num_of_pages", "totalPages", "numOfPages"}
	totalCountFields = []string{"total_snippets", "total_count", "totalCount", "count"}
	cursorFields     = []string{"next_cursor", "nextCursor", "cursor"}
	hasMoreFields    = []string{"has_more", "hasMore"}
)

// DecodePage parses a page payload returned by procedure into the uniform
// envelope. A bare JSON array is a page with no counters. A payload that
// cannot be parsed is a *domain.RemoteError; no partial page is returned.
func DecodePage[T any](procedure string, raw json.RawMessage, paging query.Paging) (query.Page[T], error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return query.Page[T]{}, nil
	}

	if raw[0] == '[' {
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return query.Page[T]{}, malformed(procedure, err.Error())
		}
		return query.Page[T]{Items: items}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return query.Page[T]{}, malformed(procedure, err.Error())
	}

	var p query.Page[T]
	if itemsRaw, ok := first(fields, itemFields); ok && !isNull(itemsRaw) {
		if err := json.Unmarshal(itemsRaw, &p.Items); err != nil {
			return query.Page[T]{}, malformed(procedure, "items: "+err.Error())
		}
	}

	if v, ok := first(fields, totalPagesFields); ok {
		n, ok := decodeInt(v)
		if !ok {
			return query.Page[T]{}, malformed(procedure, "total pages is not a number")
		}
		p.TotalPages = n
	}
	if v, ok := first(fields, totalCountFields); ok {
		n, ok := decodeInt(v)
		if !ok {
			return query.Page[T]{}, malformed(procedure, "total count is not a number")
		}
		p.TotalCount = n
	}

	if paging == query.CursorPaging {
		if v, ok := first(fields, cursorFields); ok {
			p.NextCursor = decodeCursor(v)
		}
		if v, ok := first(fields, hasMoreFields); ok {
			if err := json.Unmarshal(v, &p.HasMore); err != nil {
				return query.Page[T]{}, malformed(procedure, "has_more is not a boolean")
			}
		} else {
			p.HasMore = p.NextCursor != ""
		}
	}
	return p, nil
}

func first(fields map[string]json.RawMessage, names []string) (json.RawMessage, bool) {
	for _, name := range names {
		if v, ok := fields[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// decodeInt accepts numbers and numeric strings; null is zero
func decodeInt(v json.RawMessage) (int, bool) {
	if isNull(v) {
		return 0, true
	}
	var f float64
	if err := json.Unmarshal(v, &f); err == nil {
		return int(f), true
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// decodeCursor accepts string or numeric cursors; null is no cursor
func decodeCursor(v json.RawMessage) string {
	if isNull(v) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(v))
}

func malformed(procedure, message string) error {
	return &domain.RemoteError{Procedure: procedure, Code: "malformed_response", Message: message}
}
