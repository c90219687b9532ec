package browse

import (
	"net/url"
	"strconv"
	"strings"
)

// Update is a partial change to the listing query string. Nil fields are
// left alone; an empty string (or a page below 1) removes the key.
type Update struct {
	Search    *string
	Genre     *string
	SortBy    *string
	SortOrder *string
	Page      *int
}

// Str returns a pointer to s, for building updates.
func Str(s string) *string { return &s }

// Int returns a pointer to n, for building updates.
func Int(n int) *int { return &n }

// SetPage is the update a page link performs.
func SetPage(n int) Update { return Update{Page: Int(n)} }

// Empty reports whether u changes nothing.
func (u Update) Empty() bool {
	return u.Search == nil && u.Genre == nil && u.SortBy == nil && u.SortOrder == nil && u.Page == nil
}

func (u Update) touchesFilters() bool {
	return u.Search != nil || u.Genre != nil || u.SortBy != nil || u.SortOrder != nil
}

// Apply merges u into current and returns a new value set. Keys whose new
// value is empty are removed, unrelated keys are kept, and the page goes
// back to 1 whenever any field other than the page is updated.
func Apply(current url.Values, u Update) url.Values {
	next := make(url.Values, len(current)+1)
	for k, vs := range current {
		next[k] = append([]string(nil), vs...)
	}

	set := func(key string, value *string) {
		if value == nil {
			return
		}
		if *value != "" {
			next.Set(key, *value)
		} else {
			next.Del(key)
		}
	}
	set(KeySearch, u.Search)
	set(KeyGenre, u.Genre)
	set(KeySortBy, u.SortBy)
	set(KeySortOrder, u.SortOrder)

	if u.Page != nil {
		if *u.Page >= 1 {
			next.Set(KeyPage, strconv.Itoa(*u.Page))
		} else {
			next.Del(KeyPage)
		}
	}
	if u.touchesFilters() {
		next.Set(KeyPage, "1")
	}
	return next
}

// ApplyQuery is Apply over a raw query string; the result is in canonical
// key order. An unparsable query is treated as empty.
func ApplyQuery(raw string, u Update) string {
	current, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		current = url.Values{}
	}
	return Encode(Apply(current, u))
}
