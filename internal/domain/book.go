// Package domain contains the core entities of the ShelfNotes book-review catalog.
package domain

import (
	"strings"
	"time"
)

// Book is a catalog entry. Books are read-only from the application; the
// rating aggregates are maintained by the backend when reviews are inserted.
type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	Description     string    `json:"description"`
	Genre           string    `json:"genre"`
	CoverImage      string    `json:"cover_image"`
	AverageRating   float64   `json:"average_rating"`
	TotalReviews    int       `json:"total_reviews"`
	PublicationDate string    `json:"publication_date"`
	Pages           int       `json:"pages"`
	ISBN            string    `json:"isbn"`
	CreatedAt       time.Time `json:"created_at"`
}

// PublicationYear returns the year part of PublicationDate, or "" when the
// date is missing or malformed.
func (b *Book) PublicationYear() string {
	if len(b.PublicationDate) < 4 {
		return ""
	}
	year := b.PublicationDate[:4]
	if strings.Trim(year, "0123456789") != "" {
		return ""
	}
	return year
}

// ApplyReview folds one new rating into the aggregates the way the backend
// trigger does, so an in-memory view stays consistent without a refetch.
func (b *Book) ApplyReview(rating int) {
	total := b.AverageRating * float64(b.TotalReviews)
	b.TotalReviews++
	b.AverageRating = (total + float64(rating)) / float64(b.TotalReviews)
}
