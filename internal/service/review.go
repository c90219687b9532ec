package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/validation"
)

const reviewColumns = "id, book_id, user_id, rating, comment, created_at, user:users(username, avatar_url)"

// ReviewInput is a review submitted by the signed-in user.
type ReviewInput struct {
	Rating  int    `json:"rating" validate:"gte=1,lte=5"`
	Comment string `json:"comment" validate:"max=5000"`
}

// ReviewService reads and writes reviews.
type ReviewService struct {
	validator *validation.Validator
	logger    *slog.Logger
}

// NewReviewService creates a new review service.
func NewReviewService(validator *validation.Validator, logger *slog.Logger) *ReviewService {
	return &ReviewService{validator: validator, logger: logger}
}

// ListReviews returns a book's reviews, newest first, with each author's
// username and avatar embedded.
func (s *ReviewService) ListReviews(ctx context.Context, client *backend.Client, bookID string) ([]domain.Review, error) {
	var reviews []domain.Review
	_, err := client.From(backend.TableReviews).
		Select(reviewColumns).
		Eq("book_id", bookID).
		Order("created_at", false).
		Into(ctx, &reviews)
	if err != nil {
		return nil, fetchError(err, "list reviews")
	}
	return reviews, nil
}

// SubmitReview stores a review by user on bookID. The backend updates the
// book's rating aggregates; the returned review carries the author so it
// can be shown without a refetch.
func (s *ReviewService) SubmitReview(ctx context.Context, client *backend.Client, user *domain.User, bookID string, in ReviewInput) (*domain.Review, error) {
	if user == nil {
		return nil, domainerrors.Unauthorized("sign in to write a review")
	}
	in.Comment = strings.TrimSpace(in.Comment)
	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	row := domain.NewReview{
		BookID:  bookID,
		UserID:  user.ID,
		Rating:  in.Rating,
		Comment: in.Comment,
	}

	var review domain.Review
	if err := client.From(backend.TableReviews).Insert(ctx, row, &review); err != nil {
		s.logger.Warn("submit review failed",
			slog.String("book_id", bookID),
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()))
		return nil, err
	}
	review.User = &domain.ReviewAuthor{Username: user.Username, AvatarURL: user.AvatarURL}

	s.logger.Info("review submitted",
		slog.String("review_id", review.ID),
		slog.String("book_id", bookID),
		slog.Int("rating", review.Rating))
	return &review, nil
}
