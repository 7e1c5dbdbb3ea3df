package mutation

import (
	"fmt"
	"slices"

	"github.com/mmcdole/verdad/internal/domain"
)

// Field is one optional field of a patch. Unset fields leave the entity alone.
type Field[T any] struct {
	Set   bool
	Value T
}

// Set returns a field that sets v
func Set[T any](v T) Field[T] {
	return Field[T]{Set: true, Value: v}
}

func (f Field[T]) apply(dst *T) {
	if f.Set {
		*dst = f.Value
	}
}

// invert returns a field restoring cur wherever f would write
func (f Field[T]) invert(cur T) Field[T] {
	if !f.Set {
		return Field[T]{}
	}
	return Set(cur)
}

func (f Field[T]) merge(next Field[T]) Field[T] {
	if next.Set {
		return next
	}
	return f
}

// Patch is a set of field assignments for one entity kind. The variants are
// SnippetPatch and RecordingPatch.
type Patch interface {
	Kind() domain.Kind
	isPatch()
}

// SnippetPatch assigns per-user state and server-derived aggregates of a snippet
type SnippetPatch struct {
	Starred        Field[bool]
	Hidden         Field[bool]
	UserLikeStatus Field[*domain.LikeStatus]
	LikeCount      Field[int]
	DislikeCount   Field[int]
	Labels         Field[[]domain.Label]
}

func (SnippetPatch) Kind() domain.Kind { return domain.KindSnippet }
func (SnippetPatch) isPatch()          {}

// RecordingPatch assigns per-user state of a recording
type RecordingPatch struct {
	Starred Field[bool]
}

func (RecordingPatch) Kind() domain.Kind { return domain.KindRecording }
func (RecordingPatch) isPatch()          {}

// Apply returns e with p applied. A nil patch returns e unchanged.
func Apply(e domain.Entity, p Patch) (domain.Entity, error) {
	switch p := p.(type) {
	case nil:
		return e, nil
	case SnippetPatch:
		s, ok := e.(domain.Snippet)
		if !ok {
			return e, mismatch(e, p)
		}
		p.Starred.apply(&s.Starred)
		p.Hidden.apply(&s.Hidden)
		if p.UserLikeStatus.Set {
			s.UserLikeStatus = cloneVote(p.UserLikeStatus.Value)
		}
		p.LikeCount.apply(&s.LikeCount)
		p.DislikeCount.apply(&s.DislikeCount)
		if p.Labels.Set {
			s.Labels = slices.Clone(p.Labels.Value)
		}
		return s, nil
	case RecordingPatch:
		r, ok := e.(domain.Recording)
		if !ok {
			return e, mismatch(e, p)
		}
		p.Starred.apply(&r.Starred)
		return r, nil
	default:
		return e, fmt.Errorf("unknown patch type %T", p)
	}
}

// Invert returns the patch that restores e's current values for every field
// p assigns.
func Invert(e domain.Entity, p Patch) (Patch, error) {
	switch p := p.(type) {
	case nil:
		return nil, nil
	case SnippetPatch:
		s, ok := e.(domain.Snippet)
		if !ok {
			return nil, mismatch(e, p)
		}
		return SnippetPatch{
			Starred:        p.Starred.invert(s.Starred),
			Hidden:         p.Hidden.invert(s.Hidden),
			UserLikeStatus: p.UserLikeStatus.invert(cloneVote(s.UserLikeStatus)),
			LikeCount:      p.LikeCount.invert(s.LikeCount),
			DislikeCount:   p.DislikeCount.invert(s.DislikeCount),
			Labels:         p.Labels.invert(slices.Clone(s.Labels)),
		}, nil
	case RecordingPatch:
		r, ok := e.(domain.Recording)
		if !ok {
			return nil, mismatch(e, p)
		}
		return RecordingPatch{Starred: p.Starred.invert(r.Starred)}, nil
	default:
		return nil, fmt.Errorf("unknown patch type %T", p)
	}
}

// Merge returns a patch equivalent to applying a then b. Patches of
// different kinds do not merge; b wins.
func Merge(a, b Patch) Patch {
	switch a := a.(type) {
	case nil:
		return b
	case SnippetPatch:
		b, ok := b.(SnippetPatch)
		if !ok {
			break
		}
		return SnippetPatch{
			Starred:        a.Starred.merge(b.Starred),
			Hidden:         a.Hidden.merge(b.Hidden),
			UserLikeStatus: a.UserLikeStatus.merge(b.UserLikeStatus),
			LikeCount:      a.LikeCount.merge(b.LikeCount),
			DislikeCount:   a.DislikeCount.merge(b.DislikeCount),
			Labels:         a.Labels.merge(b.Labels),
		}
	case RecordingPatch:
		b, ok := b.(RecordingPatch)
		if !ok {
			break
		}
		return RecordingPatch{Starred: a.Starred.merge(b.Starred)}
	}
	if b == nil {
		return a
	}
	return b
}

func cloneVote(v *domain.LikeStatus) *domain.LikeStatus {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func mismatch(e domain.Entity, p Patch) error {
	return fmt.Errorf("%w: %s patch on %s entity", domain.ErrValidation, p.Kind(), e.EntityKind())
}
