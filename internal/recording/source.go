package recording

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/fetch"
	"github.com/mmcdole/verdad/internal/mutation"
	"github.com/mmcdole/verdad/internal/query"
)

// source pages through recordings by opaque cursor
type source struct {
	caller domain.Caller
}

func (source) Kind() domain.Kind    { return domain.KindRecording }
func (source) Paging() query.Paging { return query.CursorPaging }

func (s source) FetchPage(ctx context.Context, key query.Key, param query.Param, pageSize int) (query.Page[domain.Recording], error) {
	params := map[string]any{
		"p_cursor":   nil,
		"p_limit":    pageSize,
		"p_filter":   key.Filter.BackendParams(),
		"p_order_by": string(key.Sort),
	}
	if param.Cursor != "" {
		params["p_cursor"] = param.Cursor
	}
	raw, err := s.caller.Call(ctx, procList, params)
	if err != nil {
		return query.Page[domain.Recording]{}, err
	}
	return fetch.DecodePage[domain.Recording](procList, raw, query.CursorPaging)
}

// decodeStarred reads the starred flag from a bare boolean or an object
func decodeStarred(raw json.RawMessage) (mutation.Patch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var starred bool
	if raw[0] == '{' {
		var body struct {
			Starred *bool `json:"starred_by_user"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, malformed(err)
		}
		if body.Starred == nil {
			return nil, nil
		}
		starred = *body.Starred
	} else if err := json.Unmarshal(raw, &starred); err != nil {
		return nil, malformed(err)
	}
	return mutation.RecordingPatch{Starred: mutation.Set(starred)}, nil
}

func malformed(err error) error {
	return &domain.RemoteError{Procedure: procStar, Code: "malformed_response", Message: err.Error()}
}
