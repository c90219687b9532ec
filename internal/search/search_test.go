package search

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
)

// setupTestIndex creates a temporary search index for testing.
func setupTestIndex(t *testing.T) (*Index, string, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "search-test-*")
	require.NoError(t, err)

	index, err := Open(Options{DataPath: tmpDir})
	require.NoError(t, err)

	cleanup := func() {
		_ = index.Close()
		_ = os.RemoveAll(tmpDir)
	}

	return index, tmpDir, cleanup
}

func seedBooks(t *testing.T, index *Index) {
	t.Helper()
	docs := []*BookDocument{
		{ID: "book-1", Title: "The Hobbit", Author: "J.R.R. Tolkien", Genre: "fantasy", AverageRating: 4.7, Description: "A hobbit goes on an unexpected journey."},
		{ID: "book-2", Title: "Jane Eyre", Author: "Charlotte Brontë", Genre: "fiction", AverageRating: 4.1},
		{ID: "book-3", Title: "Dune", Author: "Frank Herbert", Genre: "science-fiction", AverageRating: 4.5},
		{ID: "book-4", Title: "The Silmarillion", Author: "J.R.R. Tolkien", Genre: "fantasy", AverageRating: 3.9},
	}
	require.NoError(t, index.Add(docs))
}

func TestOpen(t *testing.T) {
	index, _, cleanup := setupTestIndex(t)
	defer cleanup()

	count, err := index.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestIndex_Search_Title(t *testing.T) {
	index, _, cleanup := setupTestIndex(t)
	defer cleanup()
	seedBooks(t, index)

	res, err := index.Search(context.Background(), SearchParams{Query: "hobbit", Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, res.Hits)
	assert.Equal(t, "book-1", res.Hits[0].ID)
}

func TestIndex_Search_AccentFolding(t *testing.T) {
	index, _, cleanup := setupTestIndex(t)
	defer cleanup()
	seedBooks(t, index)

	res, err := index.Search(context.Background(), SearchParams{Query: "bronte", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"book-2"}, res.IDs())

	res, err = index.Search(context.Background(), SearchParams{Query: "Brontë", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"book-2"}, res.IDs())
}

func TestIndex_Search_AuthorAndGenre(t *testing.T) {
	index, _, cleanup := setupTestIndex(t)
	defer cleanup()
	seedBooks(t, index)

	res, err := index.Search(context.Background(), SearchParams{Query: "tolkien", Genre: "Fantasy", Limit: 10, SortBy: "rating", IncludeFacets: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"book-1", "book-4"}, res.IDs())
	assert.Equal(t, uint64(2), res.Total)
	assert.Equal(t, []FacetCount{{Value: "fantasy", Count: 2}}, res.Genres)
}

func TestIndex_Search_Prefix(t *testing.T) {
	index, _, cleanup := setupTestIndex(t)
	defer cleanup()
	seedBooks(t, index)

	res, err := index.Search(context.Background(), SearchParams{Query: "silm", Limit: 10})
	require.NoError(t, err)
	assert.Contains(t, res.IDs(), "book-4")
}

func TestIndex_Search_EmptyQueryMatchesAll(t *testing.T) {
	index, _, cleanup := setupTestIndex(t)
	defer cleanup()
	seedBooks(t, index)

	res, err := index.Search(context.Background(), SearchParams{})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Total)
}

func TestIndex_Reset(t *testing.T) {
	index, _, cleanup := setupTestIndex(t)
	defer cleanup()
	seedBooks(t, index)

	require.NoError(t, index.Reset())

	count, err := index.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestIndex_Persistence(t *testing.T) {
	index, dir, cleanup := setupTestIndex(t)
	defer cleanup()
	seedBooks(t, index)
	require.NoError(t, index.Close())

	reopened, err := Open(Options{DataPath: dir})
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), count)
}

func TestIndex_VersionMismatchRebuilds(t *testing.T) {
	index, dir, cleanup := setupTestIndex(t)
	defer cleanup()
	seedBooks(t, index)
	require.NoError(t, index.Close())

	require.NoError(t, os.WriteFile(dir+"/catalog.version", []byte("0"), 0o644))

	reopened, err := Open(Options{DataPath: dir})
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestIndex_LargeBatch(t *testing.T) {
	index, _, cleanup := setupTestIndex(t)
	defer cleanup()

	docs := make([]*BookDocument, 1200)
	for i := range docs {
		docs[i] = &BookDocument{ID: fmt.Sprintf("book-%d", i), Title: fmt.Sprintf("Volume %d", i), Author: "Anon"}
	}
	require.NoError(t, index.Add(docs))

	count, err := index.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1200), count)
}

func TestBookToDocument(t *testing.T) {
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := BookToDocument(&domain.Book{
		ID:              "book-9",
		Title:           "Cien años de soledad",
		Author:          "Gabriel García Márquez",
		Genre:           "Science Fiction",
		PublicationDate: "1967-05-30",
		AverageRating:   4.4,
		CreatedAt:       created,
	})

	assert.Equal(t, "science-fiction", doc.Genre)
	assert.Equal(t, 1967, doc.PublishYear)
	assert.Equal(t, created.UnixMilli(), doc.CreatedAt)

	m := doc.ToMap()
	assert.Equal(t, "gabriel garcia marquez", m["author"])
	assert.Equal(t, "cien anos de soledad", m["title"])
	assert.NotContains(t, m, "description")
}

func TestDefaultSearchParams(t *testing.T) {
	p := DefaultSearchParams()
	assert.Equal(t, 20, p.Limit)
	assert.Equal(t, "relevance", p.SortBy)
}
