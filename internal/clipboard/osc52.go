// Package clipboard copies text to the system clipboard of the terminal the
// client runs in.
package clipboard

import (
	"encoding/base64"
	"fmt"
	"io"
	"sync"
)

// OSC52 writes the OSC 52 "set clipboard" escape sequence. Most terminal
// emulators, tmux and SSH sessions honour it without any local helper binary.
type OSC52 struct {
	mu  sync.Mutex
	out io.Writer
}

// NewOSC52 returns a clipboard that writes escape sequences to out.
func NewOSC52(out io.Writer) *OSC52 {
	return &OSC52{out: out}
}

// Copy places text on the clipboard.
func (c *OSC52) Copy(text string) error {
	seq := Sequence(text)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.out, seq); err != nil {
		return fmt.Errorf("write osc52 sequence: %w", err)
	}
	return nil
}

// Sequence returns the escape sequence that sets the clipboard to text.
func Sequence(text string) string {
	return "\x1b]52;c;" + base64.StdEncoding.EncodeToString([]byte(text)) + "\a"
}
