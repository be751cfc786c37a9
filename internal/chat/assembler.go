// Package chat drives one exchange with the completion proxy: it validates
// input, streams the reply into the current session and rolls back on failure.
package chat

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/ashureev/cohe-chat/internal/completion"
	"github.com/ashureev/cohe-chat/internal/domain"
	"github.com/ashureev/cohe-chat/internal/shared"
)

// Assembler folds the chunks of one completion stream into a single
// assistant message.
type Assembler struct {
	stream    completion.Stream
	startedAt time.Time
	content   strings.Builder
}

// NewAssembler creates an assembler whose message is stamped with startedAt.
func NewAssembler(stream completion.Stream, startedAt time.Time) *Assembler {
	return &Assembler{stream: stream, startedAt: startedAt}
}

// Snapshots yields the in-progress message after every chunk. A graceful
// close ends the sequence without an error, even when nothing arrived. Any
// other termination yields a single *shared.StreamError holding the partial
// content and ends the sequence.
func (a *Assembler) Snapshots(ctx context.Context) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		for {
			chunk, err := a.stream.Recv(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				yield(domain.Message{}, a.streamError(err))
				return
			}
			a.content.WriteString(chunk)
			if !yield(a.Message(), nil) {
				return
			}
		}
	}
}

// Message returns the message as assembled so far.
func (a *Assembler) Message() domain.Message {
	return domain.NewMessage(domain.RoleAssistant, a.content.String(), a.startedAt)
}

func (a *Assembler) streamError(err error) *shared.StreamError {
	var streamErr *shared.StreamError
	if errors.As(err, &streamErr) {
		err = streamErr.Err
	}
	return &shared.StreamError{Partial: a.content.String(), Err: err}
}
