package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/browse"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/service"
)

func (s *Server) registerBookRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books",
		Summary:     "List books",
		Description: "Returns one page of the catalog filtered by the query string, with pagination links",
		Tags:        []string{"Books"},
	}, s.handleListBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "listFeaturedBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/featured",
		Summary:     "Featured books",
		Description: "Returns the highest rated books for the home page",
		Tags:        []string{"Books"},
	}, s.handleFeaturedBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "searchBooks",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/search",
		Summary:     "Search books",
		Description: "Full-text search over book titles",
		Tags:        []string{"Books"},
	}, s.handleSearchBooks)

	huma.Register(s.api, huma.Operation{
		OperationID: "getBook",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}",
		Summary:     "Get book",
		Description: "Returns a book with its reviews, newest first",
		Tags:        []string{"Books"},
	}, s.handleGetBook)
}

// === DTOs ===

// ListBooksInput carries the listing query string. Values are strings so
// that invalid ones fall back to defaults instead of failing the request.
type ListBooksInput struct {
	Search    string `query:"search" doc:"Case-insensitive match on title or author"`
	Genre     string `query:"genre" doc:"Genre name or slug"`
	SortBy    string `query:"sortBy" doc:"title, author, average_rating or publication_date"`
	SortOrder string `query:"sortOrder" doc:"asc or desc"`
	Page      string `query:"page" doc:"1-based page number"`
}

func (in *ListBooksInput) values() url.Values {
	v := url.Values{}
	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set(browse.KeySearch, in.Search)
	set(browse.KeyGenre, in.Genre)
	set(browse.KeySortBy, in.SortBy)
	set(browse.KeySortOrder, in.SortOrder)
	set(browse.KeyPage, in.Page)
	return v
}

// BookListResponse is one page of the listing.
type BookListResponse struct {
	Books      []domain.Book     `json:"books" doc:"Books on this page"`
	Total      int               `json:"total" doc:"Matching books across all pages"`
	Filters    browse.Filters    `json:"filters" doc:"Filters in effect after defaulting"`
	Query      string            `json:"query" doc:"Canonical query string of this listing"`
	Pagination browse.Pagination `json:"pagination" doc:"Page controls"`
}

// BookListOutput wraps the listing for Huma.
type BookListOutput struct {
	Body BookListResponse
}

// BooksResponse is a plain list of books.
type BooksResponse struct {
	Books []domain.Book `json:"books" doc:"Books"`
}

// BooksOutput wraps a book list for Huma.
type BooksOutput struct {
	Body BooksResponse
}

// SearchBooksInput is the quick search query.
type SearchBooksInput struct {
	Query string `query:"q" maxLength:"200" doc:"Search text"`
	Limit int    `query:"limit" minimum:"1" maximum:"50" default:"10" doc:"Maximum results"`
}

// GetBookInput identifies a book.
type GetBookInput struct {
	ID string `path:"id" maxLength:"100" doc:"Book ID"`
}

// BookDetailResponse is the book page.
type BookDetailResponse struct {
	Book         *domain.Book    `json:"book" doc:"The book"`
	Reviews      []domain.Review `json:"reviews" doc:"Reviews, newest first"`
	ReviewsError string          `json:"reviews_error,omitempty" doc:"Set when the reviews could not be loaded"`
}

// BookDetailOutput wraps the book page for Huma.
type BookDetailOutput struct {
	Body BookDetailResponse
}

// === Handlers ===

func (s *Server) handleListBooks(ctx context.Context, input *ListBooksInput) (*BookListOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}

	query := input.values()
	filters := browse.Parse(query)

	st, err := v.Books.ReloadAndWait(ctx, filters)
	if err != nil {
		return nil, err
	}
	if st.Failed() {
		return nil, stateError(st.ErrCode, st.Err)
	}

	page := st.Data
	if page == nil {
		page = &service.BookPage{}
	}
	books := page.Books
	if books == nil {
		books = []domain.Book{}
	}

	return &BookListOutput{
		Body: BookListResponse{
			Books:      books,
			Total:      page.Total,
			Filters:    filters,
			Query:      filters.Encode(),
			Pagination: browse.NewPagination(filters.Values(), filters.Page, page.Total),
		},
	}, nil
}

func (s *Server) handleFeaturedBooks(ctx context.Context, _ *struct{}) (*BooksOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}

	books, err := s.services.Book.FeaturedBooks(ctx, v.Client)
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []domain.Book{}
	}

	return &BooksOutput{Body: BooksResponse{Books: books}}, nil
}

func (s *Server) handleSearchBooks(ctx context.Context, input *SearchBooksInput) (*BooksOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}

	books, err := s.services.Book.SearchBooks(ctx, v.Client, input.Query, input.Limit)
	if err != nil {
		return nil, err
	}
	if books == nil {
		books = []domain.Book{}
	}

	return &BooksOutput{Body: BooksResponse{Books: books}}, nil
}

func (s *Server) handleGetBook(ctx context.Context, input *GetBookInput) (*BookDetailOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}

	st, err := v.Book.Reload(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	if st.Error != "" {
		return nil, stateError(v.Book.Detail.State().ErrCode, st.Error)
	}
	if st.Book == nil {
		return nil, domainerrors.NotFound(service.BookNotFoundMessage)
	}

	return &BookDetailOutput{
		Body: BookDetailResponse{
			Book:         st.Book,
			Reviews:      st.Reviews,
			ReviewsError: st.ReviewsError,
		},
	}, nil
}
