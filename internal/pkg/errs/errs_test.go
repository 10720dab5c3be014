package errs

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	e := NewError(ErrRoomNotFound)
	assert.Equal(t, ErrRoomNotFound, e.Code)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.NotEmpty(t, e.Message)
	assert.Nil(t, e.Unwrap())
}

func TestNewError_UnknownCodeFallsBack(t *testing.T) {
	e := NewError(424242)
	assert.Equal(t, ErrUnknown, e.Code)
	assert.Equal(t, http.StatusInternalServerError, e.Status)
}

func TestNewError_StatuslessCodeDefaultsToOK(t *testing.T) {
	assert.Equal(t, http.StatusOK, NewError(ErrSessionKicked).Status)
}

func TestNewError_KeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	e := NewError(ErrUnknown, cause)

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection reset")
}

func TestCustomError_IsMatchesByCode(t *testing.T) {
	var err error = NewError(ErrNotParticipant, errors.New("detail"))

	assert.ErrorIs(t, err, NewError(ErrNotParticipant))
	assert.NotErrorIs(t, err, NewError(ErrRoomNotFound))

	var custom *CustomError
	require.ErrorAs(t, err, &custom)
	assert.Equal(t, ErrNotParticipant, custom.Code)
}

func TestErrorTableIsConsistent(t *testing.T) {
	for code, e := range errorMap {
		assert.Equal(t, code, e.Code, "entry %d", code)
		assert.NotEmpty(t, e.Message, "entry %d", code)
		assert.True(t, Known(code))
	}
	assert.False(t, Known(-1))
}
