package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registerVisitor registers an account through the API and returns the
// visitor cookie of the now signed-in visitor.
func registerVisitor(t *testing.T, ts *testServer, email, password, username string) string {
	t.Helper()

	resp := ts.api.Post("/api/v1/auth/register", map[string]any{
		"email":    email,
		"password": password,
		"username": username,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return cookieHeader(t, resp)
}

func TestRegister_SignsIn(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/auth/register", map[string]any{
		"email":    "reader@example.com",
		"password": "secret123",
		"username": "bookworm",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	env := decodeEnvelope[AuthResponse](t, resp)
	assert.True(t, env.Success)
	require.NotNil(t, env.Data.User)
	assert.Equal(t, "bookworm", env.Data.User.Username)
	assert.Equal(t, "reader@example.com", env.Data.User.Email)
	assert.False(t, env.Data.ConfirmationRequired)
	assert.NotContains(t, resp.Body.String(), "access_token")

	session := decodeEnvelope[SessionResponse](t, ts.api.Get("/api/v1/auth/session", cookieHeader(t, resp)))
	assert.Equal(t, "ready", session.Data.State)
	assert.True(t, session.Data.SignedIn)
	require.NotNil(t, session.Data.User)
	assert.Equal(t, env.Data.User.ID, session.Data.User.ID)
}

func TestRegister_DefaultUsername(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	resp := ts.api.Post("/api/v1/auth/register", map[string]any{
		"email":    "ann.page@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	env := decodeEnvelope[AuthResponse](t, resp)
	require.NotNil(t, env.Data.User)
	assert.Equal(t, "ann.page", env.Data.User.Username)
}

func TestRegister_Duplicate(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	registerVisitor(t, ts, "dup@example.com", "secret123", "first")

	resp := ts.api.Post("/api/v1/auth/register", map[string]any{
		"email":    "dup@example.com",
		"password": "secret123",
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	env := decodeEnvelope[any](t, resp)
	assert.Equal(t, "AUTH", env.Code)
	assert.Equal(t, "duplicate", env.Kind)
}

func TestRegister_ValidationErrors(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing email", map[string]any{"password": "secret123"}},
		{"invalid email format", map[string]any{"email": "not-an-email", "password": "secret123"}},
		{"password too short", map[string]any{"email": "a@example.com", "password": "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.api.Post("/api/v1/auth/register", tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.Code) // Huma returns 422 for schema violations

			env := decodeEnvelope[any](t, resp)
			assert.False(t, env.Success)
			assert.Equal(t, "VALIDATION", env.Code)
		})
	}
}

func TestLogin_Success(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	registerVisitor(t, ts, "login@example.com", "secret123", "logger")

	// A fresh visitor (no cookie) signs in.
	resp := ts.api.Post("/api/v1/auth/login", map[string]any{
		"email":    "login@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	env := decodeEnvelope[AuthResponse](t, resp)
	require.NotNil(t, env.Data.User)
	assert.Equal(t, "logger", env.Data.User.Username)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	registerVisitor(t, ts, "login@example.com", "secret123", "logger")

	resp := ts.api.Post("/api/v1/auth/login", map[string]any{
		"email":    "login@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	env := decodeEnvelope[any](t, resp)
	assert.Equal(t, "AUTH", env.Code)
	assert.Equal(t, "invalid_credentials", env.Kind)
	assert.NotEmpty(t, env.Error)

	session := decodeEnvelope[SessionResponse](t, ts.api.Get("/api/v1/auth/session", cookieHeader(t, resp)))
	assert.False(t, session.Data.SignedIn)
}

func TestLogout(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	cookie := registerVisitor(t, ts, "bye@example.com", "secret123", "leaver")

	resp := ts.api.Post("/api/v1/auth/logout", cookie)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	session := decodeEnvelope[SessionResponse](t, ts.api.Get("/api/v1/auth/session", cookie))
	assert.Equal(t, "ready", session.Data.State)
	assert.False(t, session.Data.SignedIn)
	assert.Nil(t, session.Data.User)
}

func TestAuthRateLimit(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	body := map[string]any{"email": "nobody@example.com", "password": "secret123"}

	// The burst allowance is 10 attempts per client address.
	for i := range 10 {
		resp := ts.api.Post("/api/v1/auth/login", body)
		require.Equal(t, http.StatusUnauthorized, resp.Code, "attempt %d", i+1)
	}

	resp := ts.api.Post("/api/v1/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "1", resp.Header().Get("Retry-After"))

	env := decodeEnvelope[any](t, resp)
	assert.Equal(t, "RATE_LIMITED", env.Code)

	// Reads are never limited.
	assert.Equal(t, http.StatusOK, ts.api.Get("/api/v1/auth/session").Code)
}

func TestCreateReview_RequiresSignIn(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	list := decodeEnvelope[BookListResponse](t, ts.api.Get("/api/v1/books?search=emma"))
	require.Len(t, list.Data.Books, 1)

	resp := ts.api.Post("/api/v1/books/"+list.Data.Books[0].ID+"/reviews", map[string]any{"rating": 4})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeEnvelope[any](t, resp).Code)
}

func TestCreateReview_UpdatesBook(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	cookie := registerVisitor(t, ts, "critic@example.com", "secret123", "critic")

	list := decodeEnvelope[BookListResponse](t, ts.api.Get("/api/v1/books?search=emma", cookie))
	require.Len(t, list.Data.Books, 1)
	bookID := list.Data.Books[0].ID

	detail := ts.api.Get("/api/v1/books/"+bookID, cookie)
	require.Equal(t, http.StatusOK, detail.Code)

	resp := ts.api.Post("/api/v1/books/"+bookID+"/reviews", cookie, map[string]any{
		"rating":  4,
		"comment": "Witty and warm.",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	created := decodeEnvelope[CreateReviewResponse](t, resp)
	require.NotNil(t, created.Data.Review)
	assert.Equal(t, 4, created.Data.Review.Rating)
	assert.Equal(t, bookID, created.Data.Review.BookID)
	require.NotNil(t, created.Data.Book)
	assert.Equal(t, 1, created.Data.Book.TotalReviews)
	assert.InDelta(t, 4.0, created.Data.Book.AverageRating, 0.001)

	reviews := decodeEnvelope[ReviewsResponse](t, ts.api.Get("/api/v1/books/"+bookID+"/reviews"))
	require.Len(t, reviews.Data.Reviews, 1)
	assert.Equal(t, "Witty and warm.", reviews.Data.Reviews[0].Comment)

	profile := ts.api.Get("/api/v1/users/" + created.Data.Review.UserID)
	require.Equal(t, http.StatusOK, profile.Code, profile.Body.String())
	user := decodeEnvelope[UserProfileResponse](t, profile)
	assert.Equal(t, "critic", user.Data.Username)
	assert.Regexp(t, `^#[0-9A-F]{6}$`, user.Data.AvatarColor)
	assert.NotContains(t, profile.Body.String(), "critic@example.com")
}

func TestCreateReview_RatingOutOfRange(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	cookie := registerVisitor(t, ts, "harsh@example.com", "secret123", "harsh")

	resp := ts.api.Post("/api/v1/books/bk-any/reviews", cookie, map[string]any{"rating": 9})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "VALIDATION", decodeEnvelope[any](t, resp).Code)
}
