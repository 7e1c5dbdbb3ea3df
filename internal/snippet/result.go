package snippet

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mmcdole/verdad/internal/domain"
	"github.com/mmcdole/verdad/internal/mutation"
)

// Mutation procedures return either the changed fields as an object or a
// bare scalar for the one field they toggle. Field names vary by procedure;
// the first present wins.
var (
	starredFields = []string{"starred_by_user", "starred", "is_starred"}
	hiddenFields  = []string{"hidden", "is_hidden"}
	voteFields    = []string{"user_like_status", "value"}
	likeFields    = []string{"like_count", "likes"}
	dislikeFields = []string{"dislike_count", "dislikes"}
	labelsFields  = []string{"labels"}
)

// bareFunc decodes a non-object result into the field the procedure toggles
type bareFunc func(raw json.RawMessage, p *mutation.SnippetPatch) error

func bareStarred(raw json.RawMessage, p *mutation.SnippetPatch) error {
	return decodeField(raw, &p.Starred)
}

func bareHidden(raw json.RawMessage, p *mutation.SnippetPatch) error {
	return decodeField(raw, &p.Hidden)
}

func bareVote(raw json.RawMessage, p *mutation.SnippetPatch) error {
	return decodeField(raw, &p.UserLikeStatus)
}

func bareLabels(raw json.RawMessage, p *mutation.SnippetPatch) error {
	return decodeField(raw, &p.Labels)
}

// decodeResult turns a mutation response into the server-authoritative patch.
// An empty response, or one naming no known field, is a nil patch.
func decodeResult(procedure string, raw json.RawMessage, bare bareFunc) (mutation.Patch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var p mutation.SnippetPatch
	if raw[0] != '{' {
		if bare == nil {
			return nil, nil
		}
		if err := bare(raw, &p); err != nil {
			return nil, malformed(procedure, err)
		}
		return p, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, malformed(procedure, err)
	}

	found := false
	decode := func(names []string, dst func(json.RawMessage) error) error {
		for _, name := range names {
			if v, ok := fields[name]; ok {
				found = true
				return dst(v)
			}
		}
		return nil
	}

	err := decode(starredFields, func(v json.RawMessage) error { return decodeField(v, &p.Starred) })
	if err == nil {
		err = decode(hiddenFields, func(v json.RawMessage) error { return decodeField(v, &p.Hidden) })
	}
	if err == nil {
		err = decode(voteFields, func(v json.RawMessage) error { return decodeField(v, &p.UserLikeStatus) })
	}
	if err == nil {
		err = decode(likeFields, func(v json.RawMessage) error { return decodeField(v, &p.LikeCount) })
	}
	if err == nil {
		err = decode(dislikeFields, func(v json.RawMessage) error { return decodeField(v, &p.DislikeCount) })
	}
	if err == nil {
		err = decode(labelsFields, func(v json.RawMessage) error { return decodeField(v, &p.Labels) })
	}
	if err != nil {
		return nil, malformed(procedure, err)
	}
	if !found {
		return nil, nil
	}
	return p, nil
}

func decodeField[T any](raw json.RawMessage, f *mutation.Field[T]) error {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	*f = mutation.Set(v)
	return nil
}

// decodeLabel parses a single label returned by the add-label procedure
func decodeLabel(procedure string, raw json.RawMessage) (domain.Label, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return domain.Label{}, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.Label{}, false, malformed(procedure, err)
	}
	if v, ok := fields["label"]; ok {
		raw = v
	} else if _, ok := fields["id"]; !ok {
		return domain.Label{}, false, nil
	}
	var l domain.Label
	if err := json.Unmarshal(raw, &l); err != nil {
		return domain.Label{}, false, malformed(procedure, err)
	}
	return l, l.ID != "", nil
}

func malformed(procedure string, err error) error {
	return &domain.RemoteError{
		Procedure: procedure,
		Code:      "malformed_response",
		Message:   fmt.Sprintf("unexpected response: %v", err),
	}
}
