package domain

import "time"

// Rating bounds for a review.
const (
	MinRating = 1
	MaxRating = 5
)

// Review is one reader's rating and comment on a book.
type Review struct {
	ID        string        `json:"id"`
	BookID    string        `json:"book_id"`
	UserID    string        `json:"user_id"`
	Rating    int           `json:"rating"`
	Comment   string        `json:"comment"`
	CreatedAt time.Time     `json:"created_at"`
	User      *ReviewAuthor `json:"user,omitempty"`
}

// ReviewAuthor is the slice of the author's profile embedded in a review row.
type ReviewAuthor struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// NewReview is the payload inserted into the reviews table.
type NewReview struct {
	BookID  string `json:"book_id"`
	UserID  string `json:"user_id"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}
