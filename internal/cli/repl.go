// Package cli implements the line-oriented terminal front end of the chat
// client.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/cohe-chat/internal/chat"
	"github.com/ashureev/cohe-chat/internal/domain"
	"github.com/ashureev/cohe-chat/internal/i18n"
	"github.com/ashureev/cohe-chat/internal/session"
)

const maxLine = 1 << 20

// REPL reads prompts and commands line by line and renders replies as they
// stream in.
type REPL struct {
	manager   *session.Manager
	tr        *i18n.Translator
	clipboard chat.Clipboard
	out       io.Writer

	mu          sync.Mutex
	printed     int
	lastPersist error
}

// New creates a REPL writing to out.
func New(manager *session.Manager, tr *i18n.Translator, clipboard chat.Clipboard, out io.Writer) *REPL {
	return &REPL{
		manager:   manager,
		tr:        tr,
		clipboard: clipboard,
		out:       out,
	}
}

// Observe prints the part of msg that has not been shown yet. Pass it to
// chat.WithObserver.
func (r *REPL) Observe(_ string, msg domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(msg.Content) > r.printed {
		fmt.Fprint(r.out, msg.Content[r.printed:])
		r.printed = len(msg.Content)
	}
}

// Run processes lines from in until EOF, /quit or ctx is done.
func (r *REPL) Run(ctx context.Context, ctrl *chat.Controller, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	r.println(r.tr.Format("cli.help", nil))
	for {
		fmt.Fprint(r.out, r.tr.Format("cli.prompt", nil))
		if !scanner.Scan() {
			break
		}
		if quit := r.handle(ctx, ctrl, scanner.Text()); quit {
			r.println(r.tr.Format("cli.bye", nil))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func (r *REPL) handle(ctx context.Context, ctrl *chat.Controller, line string) bool {
	defer r.reportPersistence()

	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		r.send(ctx, ctrl, line)
		return false
	}

	fields := strings.Fields(trimmed)
	cmd, arg := fields[0], ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.println(r.tr.Format("cli.help", nil))
	case "/new":
		ctrl.CreateNewChat(ctx)
		r.println(r.tr.Format("chat.newChat", nil))
	case "/list":
		r.list()
	case "/load":
		if sess, ok := r.sessionAt(arg); ok {
			ctrl.LoadChat(sess.ID)
			r.history()
		}
	case "/delete":
		if sess, ok := r.sessionAt(arg); ok {
			ctrl.DeleteChat(ctx, sess.ID)
			r.println(r.tr.Format("chat.deleted", nil))
		}
	case "/clear":
		ctrl.ClearChat(ctx)
		r.println(r.tr.Format("chat.cleared", nil))
	case "/copy":
		r.copy(ctrl, arg)
	default:
		r.println(r.tr.Format("errors.unknownCommand", map[string]any{"command": cmd}))
	}
	return false
}

func (r *REPL) send(ctx context.Context, ctrl *chat.Controller, line string) {
	ctrl.SetInput(line)
	if _, err := ctrl.Validate(ctrl.Input()); err != nil {
		r.printError(err)
		return
	}

	r.mu.Lock()
	r.printed = 0
	r.mu.Unlock()

	fmt.Fprintf(r.out, "%s: ", r.tr.Format("chat.assistant", nil))
	err := ctrl.SendMessage(ctx, ctrl.Input())
	fmt.Fprintln(r.out)
	if err != nil {
		r.printError(err)
	}
}

func (r *REPL) list() {
	r.println(r.tr.Format("cli.sessions", nil))
	current := r.manager.CurrentID()
	for i, sess := range r.manager.Sessions() {
		title := sess.TitleOrEmpty()
		if title == "" {
			title = r.tr.Format("chat.untitled", nil)
		}
		line := fmt.Sprintf("%d. %s (%s)", i+1, title,
			r.tr.Format("chat.messageCount", map[string]any{"count": len(sess.Messages)}))
		if sess.ID == current {
			line += " [" + r.tr.Format("chat.current", nil) + "]"
		}
		r.println(line)
	}
}

func (r *REPL) history() {
	for _, msg := range r.manager.Current().Messages {
		label := r.tr.Format("chat.assistant", nil)
		if msg.Role == domain.RoleUser {
			label = r.tr.Format("chat.you", nil)
		}
		r.println(label + ": " + msg.Content)
	}
}

// sessionAt resolves a 1-based chat number from /list.
func (r *REPL) sessionAt(arg string) (domain.Session, bool) {
	sessions := r.manager.Sessions()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(sessions) {
		r.println(r.tr.Format("errors.chatNotFound", map[string]any{"index": arg}))
		return domain.Session{}, false
	}
	return sessions[n-1], true
}

func (r *REPL) copy(ctrl *chat.Controller, arg string) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		n = 0
	}
	if err := ctrl.CopyMessage(n-1, r.clipboard); err != nil {
		if errors.Is(err, chat.ErrMessageNotFound) {
			r.println(r.tr.Format("errors.notFound", nil))
			return
		}
		r.printError(err)
		return
	}
	r.println(r.tr.Format("chat.copied", nil))
}

func (r *REPL) reportPersistence() {
	err := r.manager.PersistErr()
	if err != nil && !errors.Is(err, r.lastPersist) {
		r.printError(err)
	}
	r.lastPersist = err
}

func (r *REPL) printError(err error) {
	r.println("! " + r.tr.Error(err))
}

func (r *REPL) println(s string) {
	fmt.Fprintln(r.out, s)
}
