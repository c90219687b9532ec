package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/shelfnotes/shelfnotes-server/internal/genre"
)

// SearchParams configures a search query.
type SearchParams struct {
	Query string
	// Genre restricts hits to one genre slug.
	Genre string

	Limit  int
	Offset int

	// SortBy is "relevance" (default) or "rating".
	SortBy string

	IncludeFacets bool
}

// DefaultSearchParams returns sensible defaults.
func DefaultSearchParams() SearchParams {
	return SearchParams{
		Limit:  20,
		SortBy: "relevance",
	}
}

// SearchResult represents the search results.
type SearchResult struct {
	Query  string       `json:"query"`
	Total  uint64       `json:"total"`
	TookMs int64        `json:"took_ms"`
	Hits   []SearchHit  `json:"hits"`
	Genres []FacetCount `json:"genres,omitempty"`
}

// SearchHit is one matching book.
type SearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	// Title and Author are the folded, indexed forms.
	Title  string `json:"title"`
	Author string `json:"author"`
}

// IDs returns the hit IDs in rank order.
func (r *SearchResult) IDs() []string {
	ids := make([]string, len(r.Hits))
	for i, h := range r.Hits {
		ids[i] = h.ID
	}
	return ids
}

// FacetCount represents a facet value and its count.
type FacetCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Search executes a search query.
func (s *Index) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = DefaultSearchParams().Limit
	}

	req := bleve.NewSearchRequestOptions(buildSearchQuery(params), params.Limit, params.Offset, false)

	switch params.SortBy {
	case "rating":
		req.SortBy([]string{"-average_rating", "-_score"})
	default:
		req.SortBy([]string{"-_score", "id"})
	}

	if params.IncludeFacets {
		req.AddFacet("genre", bleve.NewFacetRequest("genre", len(genre.Names)))
	}

	req.Fields = []string{"title", "author"}

	res, err := s.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &SearchResult{
		Query:  params.Query,
		Total:  res.Total,
		TookMs: res.Took.Milliseconds(),
		Hits:   make([]SearchHit, 0, len(res.Hits)),
	}

	for _, hit := range res.Hits {
		h := SearchHit{ID: hit.ID, Score: hit.Score}
		if t, ok := hit.Fields["title"].(string); ok {
			h.Title = t
		}
		if a, ok := hit.Fields["author"].(string); ok {
			h.Author = a
		}
		result.Hits = append(result.Hits, h)
	}

	if facet, ok := res.Facets["genre"]; ok && facet.Terms != nil {
		for _, term := range facet.Terms.Terms() {
			result.Genres = append(result.Genres, FacetCount{Value: term.Term, Count: term.Count})
		}
	}

	return result, nil
}

// buildSearchQuery matches title strongest, then author, then description,
// with fuzzy and prefix matching on the title for typos and type-ahead.
func buildSearchQuery(params SearchParams) query.Query {
	var queries []query.Query

	text := strings.TrimSpace(genre.Fold(params.Query))
	if text != "" {
		titleMatch := bleve.NewMatchQuery(text)
		titleMatch.SetField("title")
		titleMatch.SetBoost(3.0)

		authorMatch := bleve.NewMatchQuery(text)
		authorMatch.SetField("author")
		authorMatch.SetBoost(2.0)

		descMatch := bleve.NewMatchQuery(text)
		descMatch.SetField("description")
		descMatch.SetBoost(0.5)

		fuzzy := bleve.NewFuzzyQuery(text)
		fuzzy.SetFuzziness(1)
		fuzzy.SetField("title")
		fuzzy.SetBoost(0.8)

		textQueries := []query.Query{titleMatch, authorMatch, descMatch, fuzzy}

		if len(text) >= 2 && !strings.Contains(text, " ") {
			prefix := bleve.NewPrefixQuery(text)
			prefix.SetField("title")
			prefix.SetBoost(0.5)
			textQueries = append(textQueries, prefix)
		}

		queries = append(queries, bleve.NewDisjunctionQuery(textQueries...))
	}

	if params.Genre != "" {
		gq := bleve.NewTermQuery(genre.Slugify(params.Genre))
		gq.SetField("genre")
		queries = append(queries, gq)
	}

	switch len(queries) {
	case 0:
		return bleve.NewMatchAllQuery()
	case 1:
		return queries[0]
	default:
		return bleve.NewConjunctionQuery(queries...)
	}
}
