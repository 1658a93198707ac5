package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, Status(New(Unauthorized, "nope")))
	require.Equal(t, http.StatusBadRequest, Status(New(BadRequest, "bad")))
	require.Equal(t, http.StatusNotFound, Status(New(NotFound, "missing")))
	require.Equal(t, http.StatusInternalServerError, Status(New(Internal, "boom")))
	require.Equal(t, http.StatusInternalServerError, Status(errors.New("plain")))
}

func TestWSCloseCodeMapping(t *testing.T) {
	require.Equal(t, WSCloseUnauthorized, WSCloseCode(New(Unauthorized, "nope")))
	require.Equal(t, WSCloseServiceRestart, WSCloseCode(New(Internal, "boom")))
	require.Equal(t, WSCloseServiceRestart, WSCloseCode(errors.New("plain")))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("plain")))
	require.Equal(t, NotFound, KindOf(New(NotFound, "missing")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(TransientStorage, cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "root cause")
}
