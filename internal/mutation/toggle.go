package mutation

import "github.com/mmcdole/verdad/internal/domain"

// NextLikeStatus is the tri-state vote transition: voting the same way twice
// clears the vote, anything else takes the requested value.
//
//	current  requested  next
//	nil/0    r          r
//	r        r          0
//	-r       r          r
func NextLikeStatus(current *domain.LikeStatus, requested domain.LikeStatus) domain.LikeStatus {
	if current == nil || *current == domain.NoVote {
		return requested
	}
	if *current == requested {
		return domain.NoVote
	}
	return requested
}

// LikePatch is the optimistic patch for voting requested on s: the new vote
// and like/dislike counts moved accordingly.
func LikePatch(s domain.Snippet, requested domain.LikeStatus) SnippetPatch {
	next := NextLikeStatus(s.UserLikeStatus, requested)

	likes, dislikes := s.LikeCount, s.DislikeCount
	switch s.Vote() {
	case domain.Like:
		likes--
	case domain.Dislike:
		dislikes--
	}
	switch next {
	case domain.Like:
		likes++
	case domain.Dislike:
		dislikes++
	}

	return SnippetPatch{
		UserLikeStatus: Set(&next),
		LikeCount:      Set(max(likes, 0)),
		DislikeCount:   Set(max(dislikes, 0)),
	}
}

// StarPatch flips a snippet or recording's starred flag
func StarPatch(e domain.Entity) Patch {
	switch v := e.(type) {
	case domain.Snippet:
		return SnippetPatch{Starred: Set(!v.Starred)}
	case domain.Recording:
		return RecordingPatch{Starred: Set(!v.Starred)}
	default:
		return nil
	}
}

// LabelUpvotePatch flips the user's upvote on one label of s
func LabelUpvotePatch(s domain.Snippet, labelID string) (SnippetPatch, bool) {
	labels := make([]domain.Label, len(s.Labels))
	copy(labels, s.Labels)
	for i, l := range labels {
		if l.ID != labelID {
			continue
		}
		if l.UpvotedByMe {
			l.UpvoteCount = max(l.UpvoteCount-1, 0)
		} else {
			l.UpvoteCount++
		}
		l.UpvotedByMe = !l.UpvotedByMe
		labels[i] = l
		return SnippetPatch{Labels: Set(labels)}, true
	}
	return SnippetPatch{}, false
}
