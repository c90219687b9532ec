package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/browse"
	"github.com/shelfnotes/shelfnotes-server/internal/genre"
)

func (s *Server) registerGenreRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "listGenres",
		Method:      http.MethodGet,
		Path:        "/api/v1/genres",
		Summary:     "List genres",
		Description: "Returns the genre filter options and the sort options of the listing",
		Tags:        []string{"Genres"},
	}, s.handleListGenres)
}

// GenresResponse is the catalog of listing controls.
type GenresResponse struct {
	Genres      []genre.Genre       `json:"genres" doc:"Genres in display order"`
	SortOptions []browse.SortOption `json:"sort_options" doc:"Sort fields with their labels"`
}

// GenresOutput wraps the genre catalog for Huma.
type GenresOutput struct {
	CacheControl string `header:"Cache-Control"`
	Body         GenresResponse
}

func (s *Server) handleListGenres(_ context.Context, _ *struct{}) (*GenresOutput, error) {
	return &GenresOutput{
		CacheControl: CacheGenres,
		Body: GenresResponse{
			Genres:      browse.Genres(),
			SortOptions: browse.SortOptions(),
		},
	}, nil
}
