package fetch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/query"
)

type item struct {
	ID string `json:"id"`
}

func TestDecodePageShapes(t *testing.T) {
	tests := []struct {
		name   string
		paging query.Paging
		raw    string
		want   query.Page[item]
	}{
		{
			name:   "snippet envelope",
			paging: query.OffsetPaging,
			raw:    `{"snippets":[{"id":"a"}],"num_of_pages":4,"total_snippets":37,"current_page":0}`,
			want:   query.Page[item]{Items: []item{{ID: "a"}}, TotalPages: 4, TotalCount: 37},
		},
		{
			name:   "camel case counters",
			paging: query.OffsetPaging,
			raw:    `{"items":[{"id":"a"}],"totalPages":"2","totalCount":11}`,
			want:   query.Page[item]{Items: []item{{ID: "a"}}, TotalPages: 2, TotalCount: 11},
		},
		{
			name:   "cursor envelope",
			paging: query.CursorPaging,
			raw:    `{"recordings":[{"id":"r"}],"next_cursor":"abc","has_more":true}`,
			want:   query.Page[item]{Items: []item{{ID: "r"}}, NextCursor: "abc", HasMore: true},
		},
		{
			name:   "numeric cursor implies more",
			paging: query.CursorPaging,
			raw:    `{"data":[{"id":"r"}],"nextCursor":1712345678}`,
			want:   query.Page[item]{Items: []item{{ID: "r"}}, NextCursor: "1712345678", HasMore: true},
		},
		{
			name:   "null cursor",
			paging: query.CursorPaging,
			raw:    `{"recordings":[],"next_cursor":null}`,
			want:   query.Page[item]{Items: []item{}},
		},
		{
			name:   "bare array",
			paging: query.OffsetPaging,
			raw:    `[{"id":"a"},{"id":"b"}]`,
			want:   query.Page[item]{Items: []item{{ID: "a"}, {ID: "b"}}},
		},
		{
			name:   "null payload",
			paging: query.OffsetPaging,
			raw:    `null`,
			want:   query.Page[item]{},
		},
		{
			name:   "null items",
			paging: query.OffsetPaging,
			raw:    `{"snippets":null,"total_pages":0}`,
			want:   query.Page[item]{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodePage[item]("proc", json.RawMessage(tt.raw), tt.paging)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodePageMalformed(t *testing.T) {
	for _, raw := range []string{
		`{"snippets":"nope"}`,
		`{"snippets":[],"total_pages":"many"}`,
		`{"recordings":[],"has_more":"yes"}`,
		`not json`,
	} {
		_, err := DecodePage[item]("get_things", json.RawMessage(raw), query.CursorPaging)
		var remote *domain.RemoteError
		require.ErrorAs(t, err, &remote, raw)
		assert.Equal(t, "get_things", remote.Procedure)
		assert.Equal(t, "malformed_response", remote.Code)
	}
}
