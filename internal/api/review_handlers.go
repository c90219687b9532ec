package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	"github.com/shelfnotes/shelfnotes-server/internal/logger"
	"github.com/shelfnotes/shelfnotes-server/internal/service"
	"github.com/shelfnotes/shelfnotes-server/internal/sse"
)

func (s *Server) registerReviewRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listReviews",
		Method:      http.MethodGet,
		Path:        "/api/v1/books/{id}/reviews",
		Summary:     "List reviews",
		Description: "Returns the reviews of a book, newest first",
		Tags:        []string{"Reviews"},
	}, s.handleListReviews)

	huma.Register(s.api, huma.Operation{
		OperationID:   "createReview",
		Method:        http.MethodPost,
		Path:          "/api/v1/books/{id}/reviews",
		Summary:       "Submit review",
		Description:   "Adds a review by the signed-in user and returns the book with updated rating aggregates",
		Tags:          []string{"Reviews"},
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  MaxRequestBodySize,
	}, s.handleCreateReview)
}

// === DTOs ===

// ReviewsResponse lists reviews.
type ReviewsResponse struct {
	Reviews []domain.Review `json:"reviews" doc:"Reviews, newest first"`
}

// ReviewsOutput wraps the review list for Huma.
type ReviewsOutput struct {
	Body ReviewsResponse
}

// CreateReviewRequest is the review form.
type CreateReviewRequest struct {
	Rating  int    `json:"rating" minimum:"1" maximum:"5" doc:"Star rating"`
	Comment string `json:"comment,omitempty" maxLength:"5000" required:"false" doc:"Review text"`
}

// CreateReviewInput wraps the review form for Huma.
type CreateReviewInput struct {
	ID   string `path:"id" maxLength:"100" doc:"Book ID"`
	Body CreateReviewRequest
}

// CreateReviewResponse is the stored review and, when the book is on
// display for this visitor, its updated aggregates.
type CreateReviewResponse struct {
	Review *domain.Review `json:"review" doc:"The stored review"`
	Book   *domain.Book   `json:"book,omitempty" doc:"The book with updated rating aggregates"`
}

// CreateReviewOutput wraps the created review for Huma.
type CreateReviewOutput struct {
	Body CreateReviewResponse
}

// === Handlers ===

func (s *Server) handleListReviews(ctx context.Context, input *GetBookInput) (*ReviewsOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}

	reviews, err := s.services.Review.ListReviews(ctx, v.Client, input.ID)
	if err != nil {
		return nil, err
	}
	if reviews == nil {
		reviews = []domain.Review{}
	}

	return &ReviewsOutput{Body: ReviewsResponse{Reviews: reviews}}, nil
}

func (s *Server) handleCreateReview(ctx context.Context, input *CreateReviewInput) (*CreateReviewOutput, error) {
	v, user, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}

	review, err := v.Book.SubmitReviewFor(ctx, user, input.ID, service.ReviewInput{
		Rating:  input.Body.Rating,
		Comment: input.Body.Comment,
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx, s.logger).Info("review submitted",
		"book_id", review.BookID,
		"review_id", review.ID,
		"rating", review.Rating,
	)
	if s.sseManager != nil {
		s.sseManager.Emit(sse.NewReviewCreatedEvent(review))
	}

	out := &CreateReviewOutput{Body: CreateReviewResponse{Review: review}}
	if book := v.Book.State().Book; book != nil && book.ID == input.ID {
		out.Body.Book = book
	}
	return out, nil
}
