package fetch

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/browse"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/service"
)

// BookList loads pages of the filtered catalog.
type BookList = Resource[browse.Filters, *service.BookPage]

// NewBookList creates the catalog listing hook for client.
func NewBookList(books *service.BookService, client *backend.Client, logger *slog.Logger) *BookList {
	return New("book_list", func(ctx context.Context, f browse.Filters) (*service.BookPage, error) {
		return books.ListBooks(ctx, client, f)
	}, logger)
}

// BookDetail loads one book by id. A missing book fails with the message
// "Book Not Found".
type BookDetail = Resource[string, *domain.Book]

// NewBookDetail creates the book detail hook for client.
func NewBookDetail(books *service.BookService, client *backend.Client, logger *slog.Logger) *BookDetail {
	return New("book_detail", func(ctx context.Context, id string) (*domain.Book, error) {
		return books.GetBook(ctx, client, id)
	}, logger)
}

// Reviews loads a book's reviews and submits new ones.
type Reviews struct {
	*Resource[string, []domain.Review]
	reviews *service.ReviewService
	client  *backend.Client
}

// NewReviews creates the reviews hook for client.
func NewReviews(reviews *service.ReviewService, client *backend.Client, logger *slog.Logger) *Reviews {
	return &Reviews{
		Resource: New("reviews", func(ctx context.Context, bookID string) ([]domain.Review, error) {
			return reviews.ListReviews(ctx, client, bookID)
		}, logger),
		reviews: reviews,
		client:  client,
	}
}

// Submit writes a review for the loaded book and puts it at the top of the
// list without refetching.
func (r *Reviews) Submit(ctx context.Context, user *domain.User, in service.ReviewInput) (*domain.Review, error) {
	bookID := r.State().Params
	if bookID == "" {
		return nil, domainerrors.Validation("no book loaded")
	}
	return r.SubmitFor(ctx, user, bookID, in)
}

// SubmitFor writes a review for bookID. The list is updated only while
// bookID is the loaded book.
func (r *Reviews) SubmitFor(ctx context.Context, user *domain.User, bookID string, in service.ReviewInput) (*domain.Review, error) {
	review, err := r.reviews.SubmitReview(ctx, r.client, user, bookID, in)
	if err != nil {
		return nil, err
	}
	r.MutateFor(bookID, func(list []domain.Review) []domain.Review {
		return prependReview(list, *review)
	})
	return review, nil
}

func prependReview(list []domain.Review, review domain.Review) []domain.Review {
	out := make([]domain.Review, 0, len(list)+1)
	out = append(out, review)
	return append(out, list...)
}

// BookViewState is the combined detail page state.
type BookViewState struct {
	Book           *domain.Book    `json:"book"`
	Reviews        []domain.Review `json:"reviews"`
	Loading        bool            `json:"loading"`
	Error          string          `json:"error,omitempty"`
	ReviewsLoading bool            `json:"reviews_loading"`
	ReviewsError   string          `json:"reviews_error,omitempty"`
}

// BookView composes the detail and reviews hooks of one book page.
type BookView struct {
	Detail  *BookDetail
	Reviews *Reviews
}

// NewBookView creates the book page hooks for client.
func NewBookView(books *service.BookService, reviews *service.ReviewService, client *backend.Client, logger *slog.Logger) *BookView {
	return &BookView{
		Detail:  NewBookDetail(books, client, logger),
		Reviews: NewReviews(reviews, client, logger),
	}
}

// Load fetches the book and its reviews concurrently and waits for both.
// A failed fetch is reported in the state, not as an error; the error is
// non-nil only when ctx ends or a newer load supersedes this one.
func (v *BookView) Load(ctx context.Context, bookID string) (BookViewState, error) {
	detailTicket := v.Detail.Load(bookID)
	reviewsTicket := v.Reviews.Load(bookID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := v.Detail.Wait(gctx, detailTicket)
		return err
	})
	g.Go(func() error {
		_, err := v.Reviews.Wait(gctx, reviewsTicket)
		return err
	})
	if err := g.Wait(); err != nil {
		return v.State(), err
	}
	return v.State(), nil
}

// Reload fetches the book and its reviews again, even when bookID is
// already loaded, and waits for both.
func (v *BookView) Reload(ctx context.Context, bookID string) (BookViewState, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := v.Detail.ReloadAndWait(gctx, bookID)
		return err
	})
	g.Go(func() error {
		_, err := v.Reviews.ReloadAndWait(gctx, bookID)
		return err
	})
	if err := g.Wait(); err != nil {
		return v.State(), err
	}
	return v.State(), nil
}

// State returns the combined state.
func (v *BookView) State() BookViewState {
	detail := v.Detail.State()
	reviews := v.Reviews.State()

	list := reviews.Data
	if list == nil {
		list = []domain.Review{}
	}
	return BookViewState{
		Book:           detail.Data,
		Reviews:        list,
		Loading:        detail.Loading,
		Error:          detail.Err,
		ReviewsLoading: reviews.Loading,
		ReviewsError:   reviews.Err,
	}
}

// SubmitReview submits a review and bumps the visible rating aggregates of
// the loaded book, so the page stays consistent without a refetch.
func (v *BookView) SubmitReview(ctx context.Context, user *domain.User, in service.ReviewInput) (*domain.Review, error) {
	review, err := v.Reviews.Submit(ctx, user, in)
	if err != nil {
		return nil, err
	}
	v.applyReview(review)
	return review, nil
}

// SubmitReviewFor is SubmitReview for an explicit book. The page state is
// only touched when bookID is the book on display.
func (v *BookView) SubmitReviewFor(ctx context.Context, user *domain.User, bookID string, in service.ReviewInput) (*domain.Review, error) {
	review, err := v.Reviews.SubmitFor(ctx, user, bookID, in)
	if err != nil {
		return nil, err
	}
	v.applyReview(review)
	return review, nil
}

func (v *BookView) applyReview(review *domain.Review) {
	v.Detail.Mutate(func(b *domain.Book) *domain.Book {
		if b == nil || b.ID != review.BookID {
			return b
		}
		next := *b
		next.ApplyReview(review.Rating)
		return &next
	})
}

// Close cancels both hooks.
func (v *BookView) Close() {
	v.Detail.Close()
	v.Reviews.Close()
}
