package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/cohe-chat/internal/chat"
	"github.com/ashureev/cohe-chat/internal/completion"
	"github.com/ashureev/cohe-chat/internal/i18n"
	"github.com/ashureev/cohe-chat/internal/session"
	"github.com/ashureev/cohe-chat/internal/shared"
	"github.com/ashureev/cohe-chat/internal/store"
)

type chunkStream struct {
	chunks []string
}

func (s *chunkStream) Recv(context.Context) (string, error) {
	if len(s.chunks) == 0 {
		return "", io.EOF
	}
	next := s.chunks[0]
	s.chunks = s.chunks[1:]
	return next, nil
}

func (s *chunkStream) Close() error { return nil }

type transportFunc func(ctx context.Context, prompt string) (completion.Stream, error)

func (f transportFunc) Open(ctx context.Context, prompt string) (completion.Stream, error) {
	return f(ctx, prompt)
}

type memClipboard struct {
	copied []string
}

func (c *memClipboard) Copy(text string) error {
	c.copied = append(c.copied, text)
	return nil
}

func runREPL(t *testing.T, tr completion.Transport, input string) (string, *memClipboard, *session.Manager, error) {
	t.Helper()
	translator, err := i18n.New("en")
	require.NoError(t, err)

	ctx := context.Background()
	m := session.NewManager(store.NewSessionStore(store.NewMemory(), nil))
	m.Initialize(ctx)

	var out bytes.Buffer
	cb := &memClipboard{}
	repl := New(m, translator, cb, &out)
	ctrl := chat.NewController(m, tr, chat.WithObserver(repl.Observe))

	runErr := repl.Run(ctx, ctrl, strings.NewReader(input))
	return out.String(), cb, m, runErr
}

func replying(chunks ...string) transportFunc {
	return func(context.Context, string) (completion.Stream, error) {
		return &chunkStream{chunks: append([]string(nil), chunks...)}, nil
	}
}

func TestREPLStreamsReply(t *testing.T) {
	out, _, m, err := runREPL(t, replying("Hi", " there"), "Hello\n/list\n/quit\n")
	require.NoError(t, err)

	assert.Contains(t, out, "Commands: /new")
	assert.Contains(t, out, "Assistant: Hi there\n")
	assert.Contains(t, out, "1. Hello (2 messages) [current]")
	assert.True(t, strings.HasSuffix(out, "Goodbye!\n"))
	assert.Len(t, m.Current().Messages, 2)
}

func TestREPLNavigatesChats(t *testing.T) {
	input := strings.Join([]string{"Hello", "/new", "/list", "/load 2", "/delete 9"}, "\n") + "\n"
	out, _, m, err := runREPL(t, replying("Hi there"), input)
	require.NoError(t, err)

	assert.Contains(t, out, "New chat\n")
	assert.Contains(t, out, "1. Untitled chat (0 messages) [current]")
	assert.Contains(t, out, "2. Hello (2 messages)\n")
	assert.Contains(t, out, "You: Hello\nAssistant: Hi there\n")
	assert.Contains(t, out, "There is no chat 9")
	assert.Equal(t, "Hello", m.Current().TitleOrEmpty())
	assert.False(t, strings.HasSuffix(out, "Goodbye!\n"))
}

func TestREPLCopiesMessages(t *testing.T) {
	out, cb, _, err := runREPL(t, replying("Hi there"), "Hello\n/copy 2\n/copy 7\n/copy x\n")
	require.NoError(t, err)

	assert.Equal(t, []string{"Hi there"}, cb.copied)
	assert.Contains(t, out, "Message copied to clipboard")
	assert.Equal(t, 2, strings.Count(out, "Message not found."))
}

func TestREPLClearAndDelete(t *testing.T) {
	out, _, m, err := runREPL(t, replying("Hi"), "Hello\n/clear\n/delete 1\n")
	require.NoError(t, err)

	assert.Contains(t, out, "Chat cleared")
	assert.Contains(t, out, "Chat deleted")
	require.Len(t, m.Sessions(), 1)
	assert.Empty(t, m.Current().Messages)
}

func TestREPLReportsErrors(t *testing.T) {
	tr := transportFunc(func(context.Context, string) (completion.Stream, error) {
		return nil, &shared.ServerError{Status: 429, Message: "Too many requests", RetryAfter: 30 * time.Second}
	})
	out, _, m, err := runREPL(t, tr, "   \nHello\n/bogus\n")
	require.NoError(t, err)

	assert.Contains(t, out, "! Message cannot be empty.")
	assert.Contains(t, out, "! Too many requests. Try again in 30 seconds.")
	assert.Contains(t, out, "Unknown command: /bogus")
	assert.Len(t, m.Current().Messages, 1)
}

func TestREPLStopsOnCancelledContext(t *testing.T) {
	translator, err := i18n.New("en")
	require.NoError(t, err)
	m := session.NewManager(store.NewSessionStore(store.NewMemory(), nil))
	m.Initialize(context.Background())

	var out bytes.Buffer
	repl := New(m, translator, &memClipboard{}, &out)
	ctrl := chat.NewController(m, replying("unused"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = repl.Run(ctx, ctrl, strings.NewReader("/help\n/list\n"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, out.String(), "Chats")
}
