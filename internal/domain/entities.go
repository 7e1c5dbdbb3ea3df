package domain

import (
	"fmt"
	"time"
)

// Kind distinguishes cached entity types
type Kind string

const (
	KindSnippet   Kind = "snippet"
	KindRecording Kind = "recording"
	KindLabel     Kind = "label"
)

// Language is the viewer's content language. Snippet text is served
// translated, so it is part of every cache key.
type Language string

const (
	LanguageEnglish Language = "english"
	LanguageSpanish Language = "spanish"
)

// DefaultLanguage is used when the config does not name one
const DefaultLanguage = LanguageEnglish

// ParseLanguage maps a config or flag value to a Language, falling back to the default
func ParseLanguage(s string) Language {
	switch Language(s) {
	case LanguageEnglish, LanguageSpanish:
		return Language(s)
	default:
		return DefaultLanguage
	}
}

// Entity is anything the cache can hold and the mutation engine can patch.
// Implementations are value types; patches produce new values.
type Entity interface {
	// EntityID returns the backend identifier
	EntityID() string

	// EntityKind returns the entity type
	EntityKind() Kind
}

// Ref identifies an entity independent of where it is cached
type Ref struct {
	Kind Kind
	ID   string
}

// RefOf returns the reference for an entity
func RefOf(e Entity) Ref {
	return Ref{Kind: e.EntityKind(), ID: e.EntityID()}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.Kind, r.ID)
}

// LikeStatus is a user's vote on a snippet
type LikeStatus int

const (
	Dislike LikeStatus = -1
	NoVote  LikeStatus = 0
	Like    LikeStatus = 1
)

// String returns a human-readable representation of the vote
func (l LikeStatus) String() string {
	switch l {
	case Like:
		return "liked"
	case Dislike:
		return "disliked"
	default:
		return "none"
	}
}

// Label is a user-applied tag on a snippet
type Label struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	UpvoteCount int    `json:"upvote_count"`
	UpvotedByMe bool   `json:"upvoted_by_me"`
	AppliedBy   string `json:"applied_by,omitempty"`
}

// Snippet is a short transcript excerpt flagged for review
type Snippet struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Summary     string `json:"summary"`
	Explanation string `json:"explanation,omitempty"`
	Language    string `json:"language"` // Primary language of the audio

	// Source
	SourceName string    `json:"radio_station_name"`
	SourceCode string    `json:"radio_station_code"`
	State      string    `json:"location_state"`
	RecordedAt time.Time `json:"recorded_at"`
	Duration   string    `json:"duration,omitempty"`
	AudioFile  string    `json:"file_path,omitempty"`

	// Analysis
	ConfidenceScore  int     `json:"confidence_score"`
	PoliticalLeaning float64 `json:"political_leaning"`

	// Per-user state
	Starred        bool        `json:"starred_by_user"`
	Hidden         bool        `json:"hidden"`
	UserLikeStatus *LikeStatus `json:"user_like_status"` // nil = never voted

	// Aggregates (server-authoritative)
	LikeCount    int `json:"like_count"`
	DislikeCount int `json:"dislike_count"`
	CommentCount int `json:"comment_count"`

	Labels []Label `json:"labels"`
}

func (s Snippet) EntityID() string { return s.ID }
func (s Snippet) EntityKind() Kind { return KindSnippet }

// LabelByID returns the label with the given id
func (s Snippet) LabelByID(id string) (Label, bool) {
	for _, l := range s.Labels {
		if l.ID == id {
			return l, true
		}
	}
	return Label{}, false
}

// Vote returns the user's vote, treating "never voted" as NoVote
func (s Snippet) Vote() LikeStatus {
	if s.UserLikeStatus == nil {
		return NoVote
	}
	return *s.UserLikeStatus
}

// Recording is a full radio recording that snippets are cut from
type Recording struct {
	ID           string    `json:"id"`
	RadioStation string    `json:"radio_station_name"`
	StationCode  string    `json:"radio_station_code"`
	State        string    `json:"location_state"`
	RecordedAt   time.Time `json:"recorded_at"`
	FilePath     string    `json:"file_path"`
	SnippetCount int       `json:"snippet_count"`
	Starred      bool      `json:"starred_by_user"`
}

func (r Recording) EntityID() string { return r.ID }
func (r Recording) EntityKind() Kind { return KindRecording }

// User is the signed-in reviewer
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
