package shared

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCategoriesUnwrap(t *testing.T) {
	wrapped := fmt.Errorf("send: %w", &StreamError{Partial: "Hi", Err: io.ErrUnexpectedEOF})

	var streamErr *StreamError
	assert.True(t, errors.As(wrapped, &streamErr))
	assert.Equal(t, "Hi", streamErr.Partial)
	assert.True(t, errors.Is(wrapped, io.ErrUnexpectedEOF))
	assert.True(t, IsRequestFailure(wrapped))
}

func TestIsRequestFailure(t *testing.T) {
	assert.True(t, IsRequestFailure(&NetworkError{Err: errors.New("dial")}))
	assert.True(t, IsRequestFailure(&ServerError{Status: 500}))
	assert.False(t, IsRequestFailure(&ValidationError{Reason: ReasonEmpty}))
	assert.False(t, IsRequestFailure(ErrBusy))
}

func TestValidationErrorMessage(t *testing.T) {
	assert.Equal(t, "message cannot be empty", (&ValidationError{Reason: ReasonEmpty}).Error())
	assert.Contains(t, (&ValidationError{Reason: ReasonTooLong, Max: 2000}).Error(), "2000")
}

func TestIsSQLiteConflictError(t *testing.T) {
	assert.True(t, IsSQLiteConflictError(errors.New("SQLITE_BUSY: database busy")))
	assert.True(t, IsSQLiteConflictError(errors.New("database is locked")))
	assert.False(t, IsSQLiteConflictError(errors.New("no such table")))
	assert.False(t, IsSQLiteConflictError(nil))
}
