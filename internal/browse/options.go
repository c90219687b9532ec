package browse

import "github.com/shelfnotes/shelfnotes-server/internal/genre"

// SortOption is one entry of the sort selector.
type SortOption struct {
	Value SortField `json:"value"`
	Label string    `json:"label"`
}

// SortOptions lists the sort selector entries in display order.
func SortOptions() []SortOption {
	return []SortOption{
		{Value: SortTitle, Label: "Title"},
		{Value: SortAuthor, Label: "Author"},
		{Value: SortRating, Label: "Rating"},
		{Value: SortPublicationDate, Label: "Publication Date"},
	}
}

// Genres lists the genre selector entries in display order.
func Genres() []genre.Genre {
	return genre.All()
}
