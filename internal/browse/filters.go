// Package browse maps the book listing's URL query string to typed filters
// and back. The URL is the only state: every function here is a pure
// function of its inputs.
package browse

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/genre"
)

// Query string keys, in canonical order.
const (
	KeySearch    = "search"
	KeyGenre     = "genre"
	KeySortBy    = "sortBy"
	KeySortOrder = "sortOrder"
	KeyPage      = "page"
)

var canonicalKeys = []string{KeySearch, KeyGenre, KeySortBy, KeySortOrder, KeyPage}

// maxSearchLength caps the search text in runes.
const maxSearchLength = 200

// SortField is a sortable book column.
type SortField string

// Sortable columns.
const (
	SortTitle           SortField = "title"
	SortAuthor          SortField = "author"
	SortRating          SortField = "average_rating"
	SortPublicationDate SortField = "publication_date"
)

// Valid reports whether f is a known sort field.
func (f SortField) Valid() bool {
	switch f {
	case SortTitle, SortAuthor, SortRating, SortPublicationDate:
		return true
	}
	return false
}

// SortOrder is a sort direction.
type SortOrder string

// Sort directions.
const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// Valid reports whether o is a known direction.
func (o SortOrder) Valid() bool { return o == Asc || o == Desc }

// Ascending reports whether o sorts low to high.
func (o SortOrder) Ascending() bool { return o != Desc }

// Toggle returns the opposite direction.
func (o SortOrder) Toggle() SortOrder {
	if o == Desc {
		return Asc
	}
	return Desc
}

// Filters is the typed form of the listing query string.
type Filters struct {
	Search    string    `json:"search"`
	Genre     string    `json:"genre"`
	SortBy    SortField `json:"sortBy"`
	SortOrder SortOrder `json:"sortOrder"`
	Page      int       `json:"page"`
}

// Defaults returns the filters of an empty query string.
func Defaults() Filters {
	return Filters{SortBy: SortTitle, SortOrder: Asc, Page: 1}
}

// Parse reads filters from a query string, replacing invalid values with
// their defaults.
func Parse(v url.Values) Filters {
	f, _ := parse(v)
	return f
}

// ParseStrict reads filters from a query string and rejects invalid values.
// The returned error lists every offending key.
func ParseStrict(v url.Values) (Filters, error) {
	f, problems := parse(v)
	if len(problems) > 0 {
		keys := make([]string, 0, len(problems))
		for k := range problems {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + " " + problems[k]
		}
		return Defaults(), domainerrors.ValidationWithDetails(strings.Join(parts, "; "), problems)
	}
	return f, nil
}

// ParseQuery parses a raw query string, with or without a leading "?".
func ParseQuery(raw string) Filters {
	v, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return Defaults()
	}
	return Parse(v)
}

func parse(v url.Values) (Filters, map[string]string) {
	f := Defaults()
	problems := map[string]string{}

	f.Search = normalizeSearch(v.Get(KeySearch))
	if len([]rune(v.Get(KeySearch))) > maxSearchLength {
		problems[KeySearch] = "must not exceed " + strconv.Itoa(maxSearchLength) + " characters"
	}

	if raw := v.Get(KeyGenre); raw != "" {
		if name, ok := genre.Lookup(raw); ok {
			f.Genre = name
		} else {
			problems[KeyGenre] = "must be a known genre"
		}
	}

	if raw := v.Get(KeySortBy); raw != "" {
		if s := SortField(raw); s.Valid() {
			f.SortBy = s
		} else {
			problems[KeySortBy] = "must be one of: title author average_rating publication_date"
		}
	}

	if raw := v.Get(KeySortOrder); raw != "" {
		if o := SortOrder(strings.ToLower(raw)); o.Valid() {
			f.SortOrder = o
		} else {
			problems[KeySortOrder] = "must be one of: asc desc"
		}
	}

	if raw := v.Get(KeyPage); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
			f.Page = n
		} else {
			problems[KeyPage] = "must be a positive integer"
		}
	}

	return f, problems
}

func normalizeSearch(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxSearchLength {
		s = string(r[:maxSearchLength])
	}
	return s
}

// Values renders the filters as query values. Empty search and genre are
// omitted; sort and page are always present.
func (f Filters) Values() url.Values {
	f = f.normalized()
	v := url.Values{}
	if f.Search != "" {
		v.Set(KeySearch, f.Search)
	}
	if f.Genre != "" {
		v.Set(KeyGenre, f.Genre)
	}
	v.Set(KeySortBy, string(f.SortBy))
	v.Set(KeySortOrder, string(f.SortOrder))
	v.Set(KeyPage, strconv.Itoa(f.Page))
	return v
}

// Encode renders the filters as a query string in canonical key order.
func (f Filters) Encode() string {
	return Encode(f.Values())
}

// Offset returns the zero-based index of the first row on the page.
func (f Filters) Offset(pageSize int) int {
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

// IsDefault reports whether the filters select the unfiltered first page.
func (f Filters) IsDefault() bool {
	return f.normalized() == Defaults()
}

func (f Filters) normalized() Filters {
	d := Defaults()
	if !f.SortBy.Valid() {
		f.SortBy = d.SortBy
	}
	if !f.SortOrder.Valid() {
		f.SortOrder = d.SortOrder
	}
	if f.Page < 1 {
		f.Page = d.Page
	}
	return f
}

// Encode renders v with the listing keys first in canonical order and any
// other keys after them, sorted.
func Encode(v url.Values) string {
	var b strings.Builder
	write := func(k string, vals []string) {
		for _, val := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(val))
		}
	}

	for _, k := range canonicalKeys {
		write(k, v[k])
	}

	var rest []string
	for k := range v {
		if !isCanonical(k) {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		write(k, v[k])
	}
	return b.String()
}

func isCanonical(k string) bool {
	for _, c := range canonicalKeys {
		if c == k {
			return true
		}
	}
	return false
}
