// Package search provides full-text search over the book catalog using Bleve.
// Text is accent-folded before indexing and querying so "Bronte" finds
// "Brontë".
package search

import (
	"strconv"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	"github.com/shelfnotes/shelfnotes-server/internal/genre"
)

// BookDocument is the indexed form of a catalog book.
type BookDocument struct {
	ID          string
	Title       string
	Author      string
	Description string
	// Genre is the genre slug, matched exactly.
	Genre         string
	PublishYear   int
	AverageRating float64
	CreatedAt     int64 // Unix millis
}

// ToMap converts the document to a map whose keys match the index mapping.
func (d *BookDocument) ToMap() map[string]any {
	m := map[string]any{
		"id":             d.ID,
		"title":          genre.Fold(d.Title),
		"author":         genre.Fold(d.Author),
		"average_rating": d.AverageRating,
		"created_at":     d.CreatedAt,
	}
	if d.Description != "" {
		m["description"] = genre.Fold(d.Description)
	}
	if d.Genre != "" {
		m["genre"] = d.Genre
	}
	if d.PublishYear > 0 {
		m["publish_year"] = d.PublishYear
	}
	return m
}

// BookToDocument converts a domain Book to a BookDocument.
func BookToDocument(book *domain.Book) *BookDocument {
	doc := &BookDocument{
		ID:            book.ID,
		Title:         book.Title,
		Author:        book.Author,
		Description:   book.Description,
		Genre:         genre.Slugify(book.Genre),
		AverageRating: book.AverageRating,
		CreatedAt:     book.CreatedAt.UnixMilli(),
	}
	if year := book.PublicationYear(); year != "" {
		if y, err := strconv.Atoi(year); err == nil {
			doc.PublishYear = y
		}
	}
	return doc
}
