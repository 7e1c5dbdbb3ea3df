package snippet

import (
	"context"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/fetch"
	"github.com/mmcdole/verdad/internal/query"
)

// Backend procedures
const (
	procList        = "get_snippets"
	procGet         = "get_snippet"
	procStar        = "toggle_star_snippet"
	procLike        = "like_snippet"
	procHide        = "hide_snippet"
	procUnhide      = "unhide_snippet"
	procAddLabel    = "create_apply_and_upvote_label"
	procUpvoteLabel = "toggle_upvote_label"
)

// source pages through snippet lists. Pages are 1-based in the cache and
// 0-based on the wire.
type source struct {
	caller domain.Caller
}

func (source) Kind() domain.Kind    { return domain.KindSnippet }
func (source) Paging() query.Paging { return query.OffsetPaging }

func (s source) FetchPage(ctx context.Context, key query.Key, param query.Param, pageSize int) (query.Page[domain.Snippet], error) {
	raw, err := s.caller.Call(ctx, procList, listParams(key, param, pageSize))
	if err != nil {
		return query.Page[domain.Snippet]{}, err
	}
	return fetch.DecodePage[domain.Snippet](procList, raw, query.OffsetPaging)
}

func listParams(key query.Key, param query.Param, pageSize int) map[string]any {
	page := param.Page - 1
	if page < 0 {
		page = 0
	}
	params := map[string]any{
		"p_language":  string(key.Language),
		"p_filter":    key.Filter.BackendParams(),
		"p_page":      page,
		"p_page_size": pageSize,
		"p_order_by":  string(key.Sort),
	}
	if key.SearchTerm != "" {
		params["p_search_term"] = key.SearchTerm
	}
	return params
}
