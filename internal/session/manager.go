// Package session implements the chat session state machine.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/cohe-chat/internal/domain"
	"github.com/ashureev/cohe-chat/internal/shared"
)

// Store persists the ordered session collection.
type Store interface {
	Load(ctx context.Context) ([]domain.Session, error)
	Save(ctx context.Context, sessions []domain.Session) error
}

// Pending identifies the assistant placeholder of one in-flight request.
// Updates carrying a stale ticket are dropped.
type Pending struct {
	SessionID string
	Epoch     uint64
	Index     int

	seq uint64
}

// Manager owns the session collection and the current-session pointer.
// All methods are safe for concurrent use; the mutex makes the manager the
// single writer of the collection.
type Manager struct {
	mu         sync.Mutex
	store      Store
	sessions   []*domain.Session
	current    string
	epochs     map[string]uint64
	live       map[string]uint64 // session id -> seq of its in-flight ticket
	seq        uint64
	persistErr error
	// readOnly is set when the initial load failed. Writing then would
	// replace the stored history with whatever is in memory.
	readOnly bool

	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(gen func() string) Option {
	return func(m *Manager) { m.newID = gen }
}

// WithLogger sets the logger used for persistence diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a manager over store. Call Initialize before use.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		epochs: make(map[string]uint64),
		live:   make(map[string]uint64),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.Must(uuid.NewV7()).String() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize loads persisted sessions and selects the head. When nothing
// usable is stored a fresh session is created. If the store cannot be read
// the manager keeps working in memory and never writes, so the stored
// history survives until the next start.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded, err := m.store.Load(ctx)
	m.readOnly = err != nil
	if err != nil {
		m.persistErr = err
		m.logger.Error("Failed to load sessions, history will not be saved this run", "error", err)
	}

	m.sessions = m.sessions[:0]
	for i := range loaded {
		sess := loaded[i]
		m.sessions = append(m.sessions, &sess)
	}
	m.current = ""
	if m.reconcile() {
		m.persist(ctx)
	}
}

// reconcile restores the collection invariants: at least one session exists
// and the pointer references one of them. It reports whether it changed the
// collection itself.
func (m *Manager) reconcile() bool {
	if len(m.sessions) == 0 {
		fresh := domain.NewSession(m.newID(), m.now())
		m.sessions = append(m.sessions, &fresh)
		m.current = fresh.ID
		return true
	}
	if m.indexOf(m.current) < 0 {
		m.current = m.sessions[0].ID
	}
	return false
}

func (m *Manager) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, s := range m.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) currentSession() *domain.Session {
	if i := m.indexOf(m.current); i >= 0 {
		return m.sessions[i]
	}
	return nil
}

// persist writes the whole collection through to the store. Failures are
// logged and remembered; the in-memory state stays authoritative.
func (m *Manager) persist(ctx context.Context) {
	if m.readOnly {
		return
	}
	snapshot := make([]domain.Session, len(m.sessions))
	for i, s := range m.sessions {
		snapshot[i] = s.Clone()
	}
	if err := m.store.Save(ctx, snapshot); err != nil {
		m.persistErr = err
		m.logger.Warn("Failed to persist sessions", "error", err, "sessions", len(snapshot))
		return
	}
	m.persistErr = nil
}

// CreateNewChat inserts an empty session at the head and selects it.
func (m *Manager) CreateNewChat(ctx context.Context) domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := domain.NewSession(m.newID(), m.now())
	m.sessions = append([]*domain.Session{&fresh}, m.sessions...)
	m.current = fresh.ID
	m.persist(ctx)

	m.logger.Debug("Session created", "session_id", fresh.ID)
	return fresh.Clone()
}

// LoadChat selects the session with id. Unknown ids are ignored and false
// is returned.
func (m *Manager) LoadChat(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(id) < 0 {
		return false
	}
	m.current = id
	return true
}

// DeleteChat removes the session with id. If it was current, the new head is
// selected; if none remain, a fresh session is created and selected.
func (m *Manager) DeleteChat(ctx context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.indexOf(id)
	if i < 0 {
		return
	}
	m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
	delete(m.epochs, id)
	delete(m.live, id)
	if m.current == id {
		m.current = ""
	}
	m.reconcile()
	m.persist(ctx)

	m.logger.Debug("Session deleted", "session_id", id, "current", m.current)
}

// ClearChat empties the current session's history in place and resets its
// title. Requests still streaming into it are cut off.
func (m *Manager) ClearChat(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.currentSession()
	if sess == nil {
		return
	}
	sess.Clear(m.now())
	m.epochs[sess.ID]++
	delete(m.live, sess.ID)
	m.persist(ctx)
}

// Current returns a copy of the current session.
func (m *Manager) Current() domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess := m.currentSession(); sess != nil {
		return sess.Clone()
	}
	return domain.Session{}
}

// CurrentID returns the current-session pointer.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Sessions returns copies of all sessions in collection order.
func (m *Manager) Sessions() []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Session, len(m.sessions))
	for i, s := range m.sessions {
		out[i] = s.Clone()
	}
	return out
}

// PersistErr returns the last persistence failure, or nil once a save
// succeeds again.
func (m *Manager) PersistErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persistErr
}

// Busy reports whether the current session has a request in flight.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[m.current]
	return ok
}

// StartExchange appends the user message and an empty assistant placeholder
// to the current session and returns the ticket for the placeholder. Only one
// exchange per session may be in flight; a second one fails with
// shared.ErrBusy and changes nothing.
func (m *Manager) StartExchange(ctx context.Context, user domain.Message, startedAt time.Time) (Pending, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.reconcile() {
		m.logger.Warn("Exchange started before initialization, created a session")
	}
	sess := m.currentSession()
	if _, ok := m.live[sess.ID]; ok {
		return Pending{}, shared.ErrBusy
	}

	sess.Append(user, m.now())
	sess.Append(domain.NewMessage(domain.RoleAssistant, "", startedAt), m.now())
	m.persist(ctx)

	m.seq++
	m.live[sess.ID] = m.seq
	return Pending{
		SessionID: sess.ID,
		Epoch:     m.epochs[sess.ID],
		Index:     len(sess.Messages) - 1,
		seq:       m.seq,
	}, nil
}

// UpdatePending replaces the placeholder addressed by p with msg. The update
// is dropped, and false returned, when the pointer has moved away from the
// ticket's session or the session was cleared since.
func (m *Manager) UpdatePending(ctx context.Context, p Pending, msg domain.Message, persist bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.pendingTarget(p)
	if sess == nil || m.current != p.SessionID {
		return false
	}
	sess.Messages[p.Index] = msg
	sess.LastModified = m.now()
	if persist {
		m.persist(ctx)
	}
	return true
}

// FinishPending persists the session addressed by p after its stream ended
// and releases the ticket.
func (m *Manager) FinishPending(ctx context.Context, p Pending) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.release(p)
	if m.pendingTarget(p) == nil {
		return
	}
	m.persist(ctx)
}

// AbortPending removes the ticket's placeholder if it never received
// content, then releases the ticket. Other messages are never touched. It
// reports whether the ticket was still live, i.e. not cut off by a clear,
// a delete or an earlier release.
func (m *Manager) AbortPending(ctx context.Context, p Pending) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	wasLive := m.release(p)
	sess := m.pendingTarget(p)
	if sess == nil || !sess.Messages[p.Index].IsEmptyAssistant() {
		return wasLive
	}
	sess.Messages = append(sess.Messages[:p.Index], sess.Messages[p.Index+1:]...)
	sess.LastModified = m.now()
	m.persist(ctx)
	return wasLive
}

// ReleasePending frees the session for a new exchange. It is a no-op once
// the ticket was finished, aborted or cut off.
func (m *Manager) ReleasePending(p Pending) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release(p)
}

func (m *Manager) release(p Pending) bool {
	if seq, ok := m.live[p.SessionID]; ok && seq == p.seq {
		delete(m.live, p.SessionID)
		return true
	}
	return false
}

func (m *Manager) pendingTarget(p Pending) *domain.Session {
	i := m.indexOf(p.SessionID)
	if i < 0 || m.epochs[p.SessionID] != p.Epoch {
		return nil
	}
	sess := m.sessions[i]
	if p.Index < 0 || p.Index >= len(sess.Messages) || sess.Messages[p.Index].Role != domain.RoleAssistant {
		return nil
	}
	return sess
}
