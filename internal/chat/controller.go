package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/cohe-chat/internal/completion"
	"github.com/ashureev/cohe-chat/internal/domain"
	"github.com/ashureev/cohe-chat/internal/session"
	"github.com/ashureev/cohe-chat/internal/shared"
)

// DefaultMaxChars caps the trimmed length of a prompt, counted in runes.
const DefaultMaxChars = 2000

// ErrMessageNotFound is returned by CopyMessage for an index outside the
// current history.
var ErrMessageNotFound = errors.New("message not found")

// PersistPolicy selects when streamed content is written to the store.
type PersistPolicy string

const (
	// PersistEveryChunk writes the session after every applied chunk.
	PersistEveryChunk PersistPolicy = "chunk"
	// PersistOnCompletion writes the session once the stream has ended.
	PersistOnCompletion PersistPolicy = "completion"
)

// Clipboard receives copied message content.
type Clipboard interface {
	Copy(text string) error
}

// Observer is called with every snapshot that was applied to a session.
type Observer func(sessionID string, msg domain.Message)

// Controller runs the request lifecycle on top of a session manager. It holds
// the presentation state a front end needs: the input buffer and the single
// visible error. Whether a chat is busy is tracked per session by the manager.
type Controller struct {
	manager   *session.Manager
	transport completion.Transport
	maxChars  int
	policy    PersistPolicy
	observer  Observer
	now       func() time.Time
	logger    *slog.Logger

	mu    sync.Mutex
	input string
	err   error
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithMaxChars sets the prompt length limit.
func WithMaxChars(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithPersistPolicy sets when streamed content is persisted.
func WithPersistPolicy(p PersistPolicy) ControllerOption {
	return func(c *Controller) { c.policy = p }
}

// WithObserver registers a snapshot observer.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observer = o }
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// NewController creates a controller. The manager must already be initialized.
func NewController(manager *session.Manager, transport completion.Transport, opts ...ControllerOption) *Controller {
	c := &Controller{
		manager:   manager,
		transport: transport,
		maxChars:  DefaultMaxChars,
		policy:    PersistEveryChunk,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks raw input against the length rules and returns the trimmed
// prompt.
func (c *Controller) Validate(raw string) (string, error) {
	prompt := strings.TrimSpace(raw)
	if prompt == "" {
		return "", &shared.ValidationError{Reason: shared.ReasonEmpty}
	}
	if utf8.RuneCountInString(prompt) > c.maxChars {
		return "", &shared.ValidationError{Reason: shared.ReasonTooLong, Max: c.maxChars}
	}
	return prompt, nil
}

// SendMessage runs one exchange: it appends the user message, streams the
// reply into an assistant placeholder and finalizes it. It blocks until the
// stream ends. While the current chat still has a reply streaming it returns
// shared.ErrBusy without touching any state.
func (c *Controller) SendMessage(ctx context.Context, raw string) error {
	if c.manager.Busy() {
		return shared.ErrBusy
	}
	prompt, err := c.Validate(raw)
	if err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		return err
	}

	user := domain.NewMessage(domain.RoleUser, prompt, c.now())
	startedAt := c.now()
	pending, err := c.manager.StartExchange(ctx, user, startedAt)
	if err != nil {
		return err
	}
	defer c.manager.ReleasePending(pending)

	c.mu.Lock()
	c.input = ""
	c.err = nil
	c.mu.Unlock()

	stream, err := c.transport.Open(ctx, prompt)
	if err != nil {
		return c.fail(ctx, pending, err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			c.logger.Debug("Failed to close completion stream", "error", closeErr)
		}
	}()

	asm := NewAssembler(stream, startedAt)
	applied := true
	for msg, err := range asm.Snapshots(ctx) {
		if err != nil {
			return c.fail(ctx, pending, err)
		}
		applied = c.manager.UpdatePending(ctx, pending, msg, c.policy == PersistEveryChunk)
		if applied && c.observer != nil {
			c.observer(pending.SessionID, msg)
		}
	}

	if !applied {
		// The final content never reached the session; drop the placeholder if it
		// is still empty.
		c.manager.AbortPending(ctx, pending)
		return nil
	}
	c.manager.FinishPending(ctx, pending)
	c.logger.Debug("Completion finished",
		"session_id", pending.SessionID,
		"chars", utf8.RuneCountInString(asm.Message().Content))
	return nil
}

// fail rolls back the placeholder of p. The error becomes visible only while
// its chat is on screen and the request was not cut off meanwhile.
func (c *Controller) fail(ctx context.Context, p session.Pending, err error) error {
	live := c.manager.AbortPending(ctx, p)
	if !shared.IsRequestFailure(err) {
		// Unclassified transport errors count as the request never completing.
		err = &shared.NetworkError{Err: err}
	}
	c.logger.Warn("Completion failed", "session_id", p.SessionID, "error", err)

	if live && c.manager.CurrentID() == p.SessionID {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
	}
	return err
}

// SetInput replaces the input buffer and clears the visible error.
func (c *Controller) SetInput(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = text
	c.err = nil
}

// Input returns the input buffer.
func (c *Controller) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// Busy reports whether a completion is in flight for the current chat.
func (c *Controller) Busy() bool {
	return c.manager.Busy()
}

// Err returns the visible error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller) resetView() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.input = ""
	c.err = nil
}

// CreateNewChat starts a new chat. A stream still running for the previous
// chat keeps going, and that chat stays busy until it ends.
func (c *Controller) CreateNewChat(ctx context.Context) domain.Session {
	sess := c.manager.CreateNewChat(ctx)
	c.resetView()
	return sess
}

// LoadChat switches to the chat with id. Unknown ids are ignored.
func (c *Controller) LoadChat(id string) bool {
	if !c.manager.LoadChat(id) {
		return false
	}
	c.resetView()
	return true
}

// DeleteChat removes the chat with id.
func (c *Controller) DeleteChat(ctx context.Context, id string) {
	c.manager.DeleteChat(ctx, id)
	c.resetView()
}

// ClearChat empties the current chat.
func (c *Controller) ClearChat(ctx context.Context) {
	c.manager.ClearChat(ctx)
	c.resetView()
}

// CopyMessage copies the content of the message at index in the current
// chat to cb.
func (c *Controller) CopyMessage(index int, cb Clipboard) error {
	msgs := c.manager.Current().Messages
	if index < 0 || index >= len(msgs) {
		return fmt.Errorf("%w: index %d", ErrMessageNotFound, index)
	}
	if err := cb.Copy(msgs[index].Content); err != nil {
		return fmt.Errorf("copy message: %w", err)
	}
	return nil
}
