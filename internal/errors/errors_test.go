package errors_test

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shelfnotes/shelfnotes-server/internal/errors"
)

func TestError_IsMatchesCode(t *testing.T) {
	err := errors.NotFound("Book Not Found")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
	assert.False(t, errors.Is(err, errors.ErrFetch))

	wrapped := fmt.Errorf("load detail: %w", err)
	assert.True(t, errors.Is(wrapped, errors.ErrNotFound))
}

func TestError_IsMatchesKind(t *testing.T) {
	dup := errors.Auth(errors.KindDuplicate, "User already registered")

	assert.True(t, errors.Is(dup, errors.ErrAuth), "kindless target matches any auth error")
	assert.True(t, errors.Is(dup, errors.ErrDuplicate))
	assert.False(t, errors.Is(dup, errors.ErrInvalidCredentials))
}

func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		err  *errors.Error
		want int
	}{
		{errors.Auth(errors.KindInvalidCredentials, "Invalid login credentials"), http.StatusUnauthorized},
		{errors.Auth(errors.KindDuplicate, "User already registered"), http.StatusConflict},
		{errors.AuthTransport(io.EOF), http.StatusBadGateway},
		{errors.Auth(errors.KindProvider, "Signups not allowed"), http.StatusBadRequest},
		{errors.ProfileCreation(io.EOF), http.StatusInternalServerError},
		{errors.Fetch("boom"), http.StatusBadGateway},
		{errors.NotFound("x"), http.StatusNotFound},
		{errors.AlreadyExists("x"), http.StatusConflict},
		{errors.Conflict("x"), http.StatusConflict},
		{errors.Unauthorized("x"), http.StatusUnauthorized},
		{errors.Forbidden("x"), http.StatusForbidden},
		{errors.Validation("x"), http.StatusBadRequest},
		{errors.ErrRateLimited, http.StatusTooManyRequests},
		{errors.Internal("x"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code)+"/"+string(tt.err.Kind), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus())
		})
	}
}

func TestError_WrapKeepsCause(t *testing.T) {
	err := errors.ProfileCreation(io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "failed to create user profile: unexpected EOF", err.Error())
	assert.Equal(t, "failed to create user profile", errors.Message(err))
}

func TestError_WithDetails(t *testing.T) {
	base := errors.Validation("bad input")
	detailed := base.WithDetails(map[string]string{"email": "is required"})

	assert.Nil(t, base.Details)
	assert.Equal(t, map[string]string{"email": "is required"}, detailed.Details)
	assert.Equal(t, base.Code, detailed.Code)
}

func TestMessageAndCodeOf(t *testing.T) {
	assert.Equal(t, "", errors.Message(nil))
	assert.Equal(t, "plain", errors.Message(fmt.Errorf("plain")))
	assert.Equal(t, errors.CodeInternal, errors.CodeOf(io.EOF))
	assert.Equal(t, errors.CodeFetch, errors.CodeOf(fmt.Errorf("ctx: %w", errors.Fetchf("status %d", 500))))
}
