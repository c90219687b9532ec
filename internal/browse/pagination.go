package browse

import "net/url"

// Listing constants.
const (
	PageSize   = 12
	PageWindow = 5
)

// PageLink is one pagination control.
type PageLink struct {
	Page    int    `json:"page"`
	Query   string `json:"query"`
	Current bool   `json:"current,omitempty"`
}

// Pagination describes the pages of a listing and the query string each
// control navigates to.
type Pagination struct {
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
	Pages      []PageLink `json:"pages"`
	Prev       *PageLink  `json:"prev,omitempty"`
	Next       *PageLink  `json:"next,omitempty"`
}

// NewPagination builds the controls for page of a listing with total rows.
// Links are derived from current with Apply, so unrelated keys survive.
// The window shows up to PageWindow pages around the current one.
func NewPagination(current url.Values, page, total int) Pagination {
	if page < 1 {
		page = 1
	}
	if total < 0 {
		total = 0
	}
	totalPages := (total + PageSize - 1) / PageSize

	p := Pagination{
		Page:       page,
		PageSize:   PageSize,
		Total:      total,
		TotalPages: totalPages,
		Pages:      []PageLink{},
	}

	link := func(n int) PageLink {
		return PageLink{Page: n, Query: Encode(Apply(current, SetPage(n))), Current: n == page}
	}

	first, last := window(page, totalPages)
	for n := first; n <= last; n++ {
		p.Pages = append(p.Pages, link(n))
	}
	if page > 1 && totalPages > 0 {
		prev := link(min(page-1, totalPages))
		p.Prev = &prev
	}
	if page < totalPages {
		next := link(page + 1)
		p.Next = &next
	}
	return p
}

// window returns the first and last page numbers to show.
func window(page, totalPages int) (int, int) {
	if totalPages == 0 {
		return 1, 0
	}
	if totalPages <= PageWindow {
		return 1, totalPages
	}
	first := page - PageWindow/2
	if first < 1 {
		first = 1
	}
	last := first + PageWindow - 1
	if last > totalPages {
		last = totalPages
		first = last - PageWindow + 1
	}
	return first, last
}
