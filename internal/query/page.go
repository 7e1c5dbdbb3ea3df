package query

import "github.com/mmcdole/verdad/internal/domain"

// Paging is the pagination paradigm of a collection type. A collection type
// uses exactly one.
type Paging int

const (
	OffsetPaging Paging = iota // Page numbers, total page count known
	CursorPaging               // Opaque continuation token
)

func (p Paging) String() string {
	if p == CursorPaging {
		return "cursor"
	}
	return "offset"
}

// Param selects one page: Page (1-based) for offset paging, Cursor for cursor
// paging ("" is the first page).
type Param struct {
	Page   int
	Cursor string
}

// First returns the parameter for the first page
func First(paging Paging) Param {
	if paging == CursorPaging {
		return Param{}
	}
	return Param{Page: 1}
}

// Page is the uniform envelope for one fetched page.
//
// Offset pages fill CurrentPage and TotalPages; cursor pages fill NextCursor.
// Both fill HasMore. TotalCount is zero when the backend does not report it.
type Page[T any] struct {
	Items       []T
	NextCursor  string // "" when there is no next page
	HasMore     bool
	TotalCount  int
	CurrentPage int
	TotalPages  int
}

// Normalize enforces the envelope invariants: no more pages implies no cursor,
// and for offset paging HasMore is derived from the page counters. Offset
// pages without counters have more when they are full.
func (p Page[T]) Normalize(paging Paging, pageSize int) Page[T] {
	switch paging {
	case OffsetPaging:
		if p.TotalPages == 0 && p.TotalCount > 0 && pageSize > 0 {
			p.TotalPages = (p.TotalCount + pageSize - 1) / pageSize
		}
		if p.CurrentPage < 1 {
			p.CurrentPage = 1
		}
		if p.TotalPages == 0 && p.TotalCount == 0 {
			// No counters: a full page may have a successor
			p.HasMore = pageSize > 0 && len(p.Items) >= pageSize
		} else {
			p.HasMore = p.CurrentPage < p.TotalPages
		}
		p.NextCursor = ""
	case CursorPaging:
		if p.NextCursor == "" {
			p.HasMore = false
		}
		if !p.HasMore {
			p.NextCursor = ""
		}
	}
	return p
}

// Next returns the parameter for the page after p, and false when p was the last
func (p Page[T]) Next(paging Paging) (Param, bool) {
	if !p.HasMore {
		return Param{}, false
	}
	if paging == CursorPaging {
		return Param{Cursor: p.NextCursor}, true
	}
	return Param{Page: p.CurrentPage + 1}, true
}

// Erase converts a typed page into the cache's entity page
func Erase[T domain.Entity](p Page[T]) Page[domain.Entity] {
	items := make([]domain.Entity, len(p.Items))
	for i, item := range p.Items {
		items[i] = item
	}
	return Page[domain.Entity]{
		Items:       items,
		NextCursor:  p.NextCursor,
		HasMore:     p.HasMore,
		TotalCount:  p.TotalCount,
		CurrentPage: p.CurrentPage,
		TotalPages:  p.TotalPages,
	}
}
