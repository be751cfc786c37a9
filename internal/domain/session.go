package domain

import (
	"time"
	"unicode/utf8"
)

// TitleMaxRunes is the number of characters kept from the first user message.
const TitleMaxRunes = 30

const titleEllipsis = "..."

// State is the lifecycle state of a session.
type State int

const (
	// StateEmpty means the session has no messages.
	StateEmpty State = iota
	// StateActive means the session has history.
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "empty"
}

// Session is one persisted conversation thread.
type Session struct {
	ID           string    `json:"id"`
	Title        *string   `json:"title"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
	LastModified time.Time `json:"lastModified"`
}

// NewSession returns an empty, untitled session.
func NewSession(id string, now time.Time) Session {
	return Session{
		ID:           id,
		Messages:     []Message{},
		CreatedAt:    now,
		LastModified: now,
	}
}

// State derives the session state from its history.
func (s *Session) State() State {
	if len(s.Messages) == 0 {
		return StateEmpty
	}
	return StateActive
}

// TitleOrEmpty returns the title, or "" while it is still unset.
func (s *Session) TitleOrEmpty() string {
	if s.Title == nil {
		return ""
	}
	return *s.Title
}

// Append adds a message to the history. The title is derived once, from the
// first user message appended to an empty session.
func (s *Session) Append(msg Message, now time.Time) {
	if s.Title == nil && msg.Role == RoleUser && len(s.Messages) == 0 {
		title := DeriveTitle(msg.Content)
		s.Title = &title
	}
	s.Messages = append(s.Messages, msg)
	s.LastModified = now
}

// Clear empties the history in place and resets the title.
func (s *Session) Clear(now time.Time) {
	s.Messages = []Message{}
	s.Title = nil
	s.LastModified = now
}

// Clone returns a deep copy safe to hand out of a locked section.
func (s *Session) Clone() Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	if s.Title != nil {
		title := *s.Title
		out.Title = &title
	}
	return out
}

// DeriveTitle keeps the first TitleMaxRunes characters of content and marks
// truncation with an ellipsis.
func DeriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= TitleMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:TitleMaxRunes]) + titleEllipsis
}
