package importerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndError(t *testing.T) {
	err := New(ErrorTypeInput, "bad document")
	assert.Equal(t, "input: bad document", err.Error())
	assert.NotEmpty(t, err.Stack)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(cause, ErrorTypeConnection, "cannot read")

	assert.Equal(t, "connection: cannot read: disk on fire", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInput, "ignored"))
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeCoercion, "bad value")

	assert.True(t, IsType(err, ErrorTypeCoercion))
	assert.False(t, IsType(err, ErrorTypeInput))
	assert.False(t, IsType(errors.New("plain"), ErrorTypeInput))
}

func TestIsTypeThroughWrapping(t *testing.T) {
	inner := New(ErrorTypeConstraint, "dangling key")
	outer := Wrap(inner, ErrorTypeConstraint, "insert failed")

	assert.True(t, IsType(outer, ErrorTypeConstraint))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, IsFatal(New(ErrorTypeCoercion, "row-scoped")))
	assert.True(t, IsFatal(New(ErrorTypeConstraint, "fatal")))
	assert.True(t, IsFatal(errors.New("unknown errors are fatal")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeQuery, "boom").
		WithDetail("table", "users").
		WithDetail("rows_attempted", 7)

	require.NotNil(t, err.Details)
	assert.Equal(t, "users", err.Details["table"])
	assert.Equal(t, 7, err.Details["rows_attempted"])
}
