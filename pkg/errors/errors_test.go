package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	err := NewSpawnError("can't find command 'foo'", nil)
	assert.Equal(t, "spawn: can't find command 'foo'", err.Error())

	wrapped := NewIOError("write failed", fmt.Errorf("broken pipe"))
	assert.Equal(t, "io: write failed: broken pipe", wrapped.Error())
}

func TestDomainError_IsAndTypeOf(t *testing.T) {
	err := fmt.Errorf("outer: %w", NewNotRunningError("web"))

	assert.True(t, IsNotRunningError(err))
	assert.False(t, IsType(err, ErrorTypeBadName))
	assert.Equal(t, ErrorTypeNotRunning, TypeOf(err))
	assert.Equal(t, ErrorType(""), TypeOf(stderrors.New("plain")))
	assert.True(t, stderrors.Is(err, &DomainError{Type: ErrorTypeNotRunning}))
}

func TestIsType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		typ  ErrorType
		want bool
	}{
		{name: "direct", err: NewBadNameError("web"), typ: ErrorTypeBadName, want: true},
		{name: "wrapped", err: fmt.Errorf("start: %w", NewSpawnError("no such file", nil)), typ: ErrorTypeSpawn, want: true},
		{name: "other type", err: NewNoFileError("stderr"), typ: ErrorTypeBadArguments, want: false},
		{name: "plain error", err: stderrors.New("plain"), typ: ErrorTypeFailed, want: false},
		{name: "nil", err: nil, typ: ErrorTypeFailed, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsType(tt.err, tt.typ))
		})
	}
}

func TestDomainError_WithContext(t *testing.T) {
	err := NewValidationError("bad startsecs", nil).
		WithContext("program", "web").
		WithContext("value", -1)

	assert.Equal(t, "web", err.Context["program"])
	assert.Equal(t, -1, err.Context["value"])
}

func TestErrorCollection(t *testing.T) {
	c := NewErrorCollection()
	assert.NoError(t, c.ToError())

	c.Add(nil)
	assert.False(t, c.HasErrors())

	c.Add(NewValidationError("first", nil))
	c.Add(NewValidationError("second", nil))
	assert.True(t, c.HasErrors())
	assert.Contains(t, c.ToError().Error(), "2 errors occurred")
}
