// Package service holds the catalog, review and instance logic shared by
// the fetch hooks and the HTTP handlers. Services are stateless; every
// call takes the visitor's backend client so reads and writes run under
// that visitor's session.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/browse"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// Listing limits.
const (
	FeaturedLimit      = 8
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
)

// BookNotFoundMessage is the user-facing message for a missing book.
const BookNotFoundMessage = "Book Not Found"

const bookColumns = "id, title, author, description, genre, cover_image, average_rating, total_reviews, publication_date, pages, isbn, created_at"

// BookPage is one page of the filtered catalog.
type BookPage struct {
	Books   []domain.Book  `json:"books"`
	Total   int            `json:"total"`
	Filters browse.Filters `json:"filters"`
}

// TotalPages returns the number of pages the listing spans.
func (p *BookPage) TotalPages() int {
	return (p.Total + browse.PageSize - 1) / browse.PageSize
}

// BookService reads the catalog.
type BookService struct {
	logger *slog.Logger
}

// NewBookService creates a new book service.
func NewBookService(logger *slog.Logger) *BookService {
	return &BookService{logger: logger}
}

// ListBooks returns the page of books selected by f. Search matches title
// or author anywhere, case-insensitively; genre is an exact match.
func (s *BookService) ListBooks(ctx context.Context, client *backend.Client, f browse.Filters) (*BookPage, error) {
	if !f.SortBy.Valid() {
		f.SortBy = browse.SortTitle
	}
	if !f.SortOrder.Valid() {
		f.SortOrder = browse.Asc
	}
	if f.Page < 1 {
		f.Page = 1
	}

	q := client.From(backend.TableBooks).Select(bookColumns).Count()
	if search := strings.TrimSpace(f.Search); search != "" {
		q.Or(backend.Contains("title", search), backend.Contains("author", search))
	}
	if f.Genre != "" {
		q.Eq("genre", f.Genre)
	}
	offset := f.Offset(browse.PageSize)
	q.Order(string(f.SortBy), f.SortOrder.Ascending()).
		Range(offset, offset+browse.PageSize-1)

	var books []domain.Book
	total, err := q.Into(ctx, &books)
	if err != nil {
		s.logger.Debug("list books failed", slog.String("query", q.String()), slog.String("error", err.Error()))
		return nil, fetchError(err, "list books")
	}

	return &BookPage{Books: books, Total: total, Filters: f}, nil
}

// FeaturedBooks returns the highest rated books.
func (s *BookService) FeaturedBooks(ctx context.Context, client *backend.Client) ([]domain.Book, error) {
	var books []domain.Book
	_, err := client.From(backend.TableBooks).
		Select(bookColumns).
		Order("average_rating", false).
		LimitTo(FeaturedLimit).
		Into(ctx, &books)
	if err != nil {
		return nil, fetchError(err, "featured books")
	}
	return books, nil
}

// SearchBooks runs a full-text search over the catalog.
func (s *BookService) SearchBooks(ctx context.Context, client *backend.Client, text string, limit int) ([]domain.Book, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []domain.Book{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	limit = min(limit, MaxSearchLimit)

	var books []domain.Book
	_, err := client.From(backend.TableBooks).
		Select(bookColumns).
		TextSearch("title", text).
		Order("average_rating", false).
		LimitTo(limit).
		Into(ctx, &books)
	if err != nil {
		return nil, fetchError(err, "search books")
	}
	return books, nil
}

// GetBook returns one book. A missing book is a NOT_FOUND error with
// BookNotFoundMessage.
func (s *BookService) GetBook(ctx context.Context, client *backend.Client, id string) (*domain.Book, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domainerrors.NotFound(BookNotFoundMessage)
	}

	var book domain.Book
	err := client.From(backend.TableBooks).Select(bookColumns).Eq("id", id).Single(ctx, &book)
	// A malformed id is reported by the hosted store as invalid input.
	if errors.Is(err, backend.ErrNoRows) || errors.Is(err, domainerrors.ErrValidation) {
		return nil, domainerrors.NotFound(BookNotFoundMessage).WithCause(err)
	}
	if err != nil {
		return nil, fetchError(err, "get book")
	}
	return &book, nil
}

// fetchError keeps coded errors and marks anything else as a fetch failure.
func fetchError(err error, op string) error {
	var de *domainerrors.Error
	if errors.As(err, &de) {
		return err
	}
	return domainerrors.Wrap(err, domainerrors.CodeFetch, op)
}
