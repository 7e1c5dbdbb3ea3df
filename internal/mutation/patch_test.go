package mutation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmcdole/verdad/internal/domain"
)

func vote(v domain.LikeStatus) *domain.LikeStatus { return &v }

func TestNextLikeStatusTransitionTable(t *testing.T) {
	tests := []struct {
		current   *domain.LikeStatus
		requested domain.LikeStatus
		want      domain.LikeStatus
	}{
		{nil, domain.Like, domain.Like},
		{nil, domain.Dislike, domain.Dislike},
		{vote(domain.NoVote), domain.Like, domain.Like},
		{vote(domain.NoVote), domain.Dislike, domain.Dislike},
		{vote(domain.Like), domain.Like, domain.NoVote},
		{vote(domain.Like), domain.Dislike, domain.Dislike},
		{vote(domain.Dislike), domain.Like, domain.Like},
		{vote(domain.Dislike), domain.Dislike, domain.NoVote},
	}

	for _, tt := range tests {
		cur := "nil"
		if tt.current != nil {
			cur = tt.current.String()
		}
		t.Run(cur+"->"+tt.requested.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, NextLikeStatus(tt.current, tt.requested))
		})
	}
}

func TestLikePatchMovesCounts(t *testing.T) {
	tests := []struct {
		name         string
		current      *domain.LikeStatus
		requested    domain.LikeStatus
		wantVote     domain.LikeStatus
		wantLikes    int
		wantDislikes int
	}{
		{"first like", nil, domain.Like, domain.Like, 6, 2},
		{"unlike", vote(domain.Like), domain.Like, domain.NoVote, 4, 2},
		{"switch to dislike", vote(domain.Like), domain.Dislike, domain.Dislike, 4, 3},
		{"undislike", vote(domain.Dislike), domain.Dislike, domain.NoVote, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.Snippet{ID: "s", UserLikeStatus: tt.current, LikeCount: 5, DislikeCount: 2}
			p := LikePatch(s, tt.requested)
			got, err := Apply(s, p)
			require.NoError(t, err)

			gs := got.(domain.Snippet)
			assert.Equal(t, tt.wantVote, gs.Vote())
			assert.Equal(t, tt.wantLikes, gs.LikeCount)
			assert.Equal(t, tt.wantDislikes, gs.DislikeCount)
		})
	}
}

func TestLikePatchNeverNegative(t *testing.T) {
	s := domain.Snippet{ID: "s", UserLikeStatus: vote(domain.Like)}
	p := LikePatch(s, domain.Like)
	assert.Equal(t, 0, p.LikeCount.Value)
}

func TestApplyInvertRestores(t *testing.T) {
	orig := domain.Snippet{
		ID:             "s",
		Starred:        false,
		UserLikeStatus: vote(domain.Dislike),
		LikeCount:      1,
		DislikeCount:   4,
		Labels:         []domain.Label{{ID: "l1", Text: "Elections", UpvoteCount: 2}},
	}
	p := Merge(SnippetPatch{Starred: Set(true)}, LikePatch(orig, domain.Like))
	p = Merge(p, SnippetPatch{Labels: Set([]domain.Label{{ID: "l1", Text: "Elections", UpvoteCount: 3, UpvotedByMe: true}})})

	inv, err := Invert(orig, p)
	require.NoError(t, err)

	patched, err := Apply(orig, p)
	require.NoError(t, err)
	assert.True(t, patched.(domain.Snippet).Starred)
	assert.Equal(t, domain.Like, patched.(domain.Snippet).Vote())

	restored, err := Apply(patched, inv)
	require.NoError(t, err)
	if diff := cmp.Diff(domain.Entity(orig), restored); diff != "" {
		t.Errorf("inverse did not restore (-want +got):\n%s", diff)
	}
}

func TestApplyDoesNotAliasPatchValues(t *testing.T) {
	p := SnippetPatch{UserLikeStatus: Set(vote(domain.Like))}
	a, _ := Apply(domain.Snippet{ID: "a"}, p)
	b, _ := Apply(domain.Snippet{ID: "b"}, p)
	*a.(domain.Snippet).UserLikeStatus = domain.Dislike
	assert.Equal(t, domain.Like, b.(domain.Snippet).Vote())
}

func TestApplyKindMismatch(t *testing.T) {
	_, err := Apply(domain.Recording{ID: "r"}, SnippetPatch{Starred: Set(true)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = Invert(domain.Snippet{ID: "s"}, RecordingPatch{Starred: Set(true)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := Apply(domain.Recording{ID: "r"}, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.Recording{ID: "r"}, got)
}

func TestRecordingPatch(t *testing.T) {
	r := domain.Recording{ID: "r", Starred: true}
	p := StarPatch(r)
	got, err := Apply(r, p)
	require.NoError(t, err)
	assert.False(t, got.(domain.Recording).Starred)

	inv, err := Invert(r, p)
	require.NoError(t, err)
	assert.Equal(t, RecordingPatch{Starred: Set(true)}, inv)
}

func TestMerge(t *testing.T) {
	a := SnippetPatch{Starred: Set(true), LikeCount: Set(3)}
	b := SnippetPatch{Starred: Set(false), Hidden: Set(true)}
	assert.Equal(t, SnippetPatch{Starred: Set(false), Hidden: Set(true), LikeCount: Set(3)}, Merge(a, b))

	assert.Equal(t, a, Merge(nil, a))
	assert.Equal(t, a, Merge(a, nil))
	assert.Equal(t, RecordingPatch{Starred: Set(true)}, Merge(a, RecordingPatch{Starred: Set(true)}))
}

func TestLabelUpvotePatch(t *testing.T) {
	s := domain.Snippet{ID: "s", Labels: []domain.Label{
		{ID: "l1", UpvoteCount: 1, UpvotedByMe: true},
		{ID: "l2", UpvoteCount: 0},
	}}

	p, ok := LabelUpvotePatch(s, "l1")
	require.True(t, ok)
	assert.Equal(t, domain.Label{ID: "l1", UpvoteCount: 0, UpvotedByMe: false}, p.Labels.Value[0])
	assert.True(t, s.Labels[0].UpvotedByMe, "original labels untouched")

	p, ok = LabelUpvotePatch(s, "l2")
	require.True(t, ok)
	assert.Equal(t, domain.Label{ID: "l2", UpvoteCount: 1, UpvotedByMe: true}, p.Labels.Value[1])

	_, ok = LabelUpvotePatch(s, "missing")
	assert.False(t, ok)
}
