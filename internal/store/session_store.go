package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ashureev/cohe-chat/internal/domain"
	"github.com/ashureev/cohe-chat/internal/shared"
)

const (
	// SessionsKey holds the ordered session collection.
	SessionsKey = "chat-sessions"
	// LegacyHistoryKey held a single flat message list in earlier versions.
	// It is never read.
	LegacyHistoryKey = "cohere-chat-history"
)

// SessionStore loads and saves the session collection as one JSON blob.
type SessionStore struct {
	blobs  BlobStore
	key    string
	logger *slog.Logger
}

// NewSessionStore wraps blobs. A nil logger uses slog.Default.
func NewSessionStore(blobs BlobStore, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{blobs: blobs, key: SessionsKey, logger: logger}
}

// Load returns the persisted sessions in their saved order. A missing or
// unparseable blob yields no sessions and no error; only a failed read is
// reported, as a *shared.PersistenceError.
func (s *SessionStore) Load(ctx context.Context) ([]domain.Session, error) {
	data, err := s.blobs.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &shared.PersistenceError{Op: "load", Err: err}
	}

	var sessions []domain.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		s.logger.Warn("Discarding unreadable session data", "key", s.key, "error", err)
		return nil, nil
	}

	valid := sessions[:0]
	for _, sess := range sessions {
		if sess.ID == "" {
			s.logger.Warn("Dropping stored session without id")
			continue
		}
		if sess.Messages == nil {
			sess.Messages = []domain.Message{}
		}
		valid = append(valid, sess)
	}
	return valid, nil
}

// Save replaces the persisted collection with sessions.
func (s *SessionStore) Save(ctx context.Context, sessions []domain.Session) error {
	if sessions == nil {
		sessions = []domain.Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return &shared.PersistenceError{Op: "encode", Err: err}
	}
	if err := s.blobs.Put(ctx, s.key, data); err != nil {
		return &shared.PersistenceError{Op: "save", Err: err}
	}
	return nil
}
