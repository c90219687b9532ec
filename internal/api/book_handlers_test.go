package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBook_ReloadShowsOtherVisitorsReviews(t *testing.T) {
	ts := setupTestServer(t)
	defer ts.cleanup()

	first := ts.api.Get("/api/v1/books?search=emma")
	require.Equal(t, http.StatusOK, first.Code)
	reader := cookieHeader(t, first)
	list := decodeEnvelope[BookListResponse](t, first)
	require.Len(t, list.Data.Books, 1)
	bookID := list.Data.Books[0].ID

	before := decodeEnvelope[BookDetailResponse](t, ts.api.Get("/api/v1/books/"+bookID, reader))
	require.NotNil(t, before.Data.Book)
	assert.Equal(t, 0, before.Data.Book.TotalReviews)
	assert.Empty(t, before.Data.Reviews)

	critic := registerVisitor(t, ts, "critic@example.com", "secret123", "critic")
	resp := ts.api.Post("/api/v1/books/"+bookID+"/reviews", critic, map[string]any{"rating": 5, "comment": "Sparkling."})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	after := decodeEnvelope[BookDetailResponse](t, ts.api.Get("/api/v1/books/"+bookID, reader))
	require.NotNil(t, after.Data.Book)
	assert.Equal(t, 1, after.Data.Book.TotalReviews)
	assert.InDelta(t, 5.0, after.Data.Book.AverageRating, 0.001)
	require.Len(t, after.Data.Reviews, 1)
	assert.Equal(t, "Sparkling.", after.Data.Reviews[0].Comment)

	relisted := decodeEnvelope[BookListResponse](t, ts.api.Get("/api/v1/books?search=emma", reader))
	require.Len(t, relisted.Data.Books, 1)
	assert.Equal(t, 1, relisted.Data.Books[0].TotalReviews)
}
