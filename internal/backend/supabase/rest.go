package supabase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

const singleObjectMedia = "application/vnd.pgrst.object+json"

// restStore reads and writes tables through PostgREST. Requests carry the
// session's access token so row-level security applies to the signed-in user.
type restStore struct {
	p    *Provider
	auth *authClient
}

var _ backend.Store = (*restStore)(nil)

// Select translates q into a PostgREST GET.
func (s *restStore) Select(ctx context.Context, q *backend.Query) (*backend.Result, error) {
	params, err := encodeQuery(q)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if q.CountExact {
		header.Set("Prefer", "count=exact")
	}
	if q.SingleRow {
		header.Set("Accept", singleObjectMedia)
	}

	resp, err := s.send(ctx, request{
		method: http.MethodGet,
		path:   "/rest/v1/" + q.Table,
		query:  params,
		header: header,
	})
	if err != nil {
		return nil, err
	}

	result := &backend.Result{}
	switch {
	case resp.status == http.StatusNotAcceptable && q.SingleRow:
		e := parseAPIError(resp)
		if strings.Contains(e.Details, "0 rows") {
			result.Rows = []json.RawMessage{}
			return result, nil
		}
		return nil, domainerrors.Internalf("expected one %s row: %s", q.Table, e.Details)
	case resp.status >= 300:
		return nil, mapRestError(q.Table, parseAPIError(resp))
	}

	if q.SingleRow {
		result.Rows = []json.RawMessage{json.RawMessage(resp.body)}
	} else if err := json.Unmarshal(resp.body, &result.Rows); err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeFetch, "decode %s rows", q.Table)
	}

	if q.CountExact {
		result.Count = parseContentRangeTotal(resp.header.Get("Content-Range"), len(result.Rows))
	}
	return result, nil
}

// Insert POSTs rows and returns the stored representation.
func (s *restStore) Insert(ctx context.Context, table string, rows any) ([]json.RawMessage, error) {
	resp, err := s.send(ctx, request{
		method: http.MethodPost,
		path:   "/rest/v1/" + table,
		body:   rows,
		header: http.Header{"Prefer": {"return=representation"}},
	})
	if err != nil {
		return nil, err
	}
	if resp.status >= 300 {
		return nil, mapRestError(table, parseAPIError(resp))
	}

	var out []json.RawMessage
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeFetch, "decode inserted %s rows", table)
	}
	return out, nil
}

func (s *restStore) send(ctx context.Context, r request) (*response, error) {
	token, err := s.auth.accessToken(ctx)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeFetch, "refresh session")
	}
	r.bearer = token

	resp, err := s.p.do(ctx, r)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeFetch, "backend unreachable")
	}
	return resp, nil
}

// encodeQuery renders q as PostgREST query parameters.
func encodeQuery(q *backend.Query) (url.Values, error) {
	sel, err := backend.ParseSelect(q.Columns)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("select", renderSelect(sel))

	for _, f := range q.Filters {
		params.Add(f.Column, operator(f.Op)+"."+f.Value)
	}
	for _, group := range q.AnyOf {
		parts := make([]string, len(group))
		for i, f := range group {
			parts[i] = f.Column + "." + operator(f.Op) + "." + quoteValue(f.Value)
		}
		params.Add("or", "("+strings.Join(parts, ",")+")")
	}

	if len(q.Orders) > 0 {
		parts := make([]string, 0, len(q.Orders)+1)
		tie := true
		for _, o := range q.Orders {
			dir := "desc"
			if o.Ascending {
				dir = "asc"
			}
			parts = append(parts, o.Column+"."+dir)
			if o.Column == "id" {
				tie = false
			}
		}
		if tie {
			parts = append(parts, "id.asc")
		}
		params.Set("order", strings.Join(parts, ","))
	}

	if q.Limit > 0 && !q.SingleRow {
		params.Set("offset", strconv.Itoa(q.Offset))
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params, nil
}

func renderSelect(sel backend.Selection) string {
	items := append([]string{}, sel.Columns...)
	for _, e := range sel.Embeds {
		head := e.Table
		if e.Alias != e.Table {
			head = e.Alias + ":" + e.Table
		}
		cols := e.Columns
		if len(cols) == 0 {
			cols = []string{"*"}
		}
		items = append(items, head+"("+strings.Join(cols, ",")+")")
	}
	return strings.Join(items, ",")
}

func operator(op backend.Operator) string {
	if op == backend.OpFTS {
		// websearch syntax tolerates arbitrary user input.
		return "wfts"
	}
	return string(op)
}

// quoteValue double-quotes a value inside an or=() list so commas and
// parentheses are literal.
func quoteValue(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// parseContentRangeTotal reads the total from "0-11/57" or "*/0".
func parseContentRangeTotal(h string, fallback int) int {
	_, total, ok := strings.Cut(h, "/")
	if !ok || total == "*" {
		return fallback
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return fallback
	}
	return n
}

// mapRestError converts a PostgREST error body into a domain error.
func mapRestError(table string, e *apiError) error {
	msg := e.text()
	var err *domainerrors.Error
	switch code := e.code(); {
	case code == "23505":
		err = domainerrors.AlreadyExists(msg)
	case code == "23503":
		err = domainerrors.NotFound(msg)
	case code == "42501":
		err = domainerrors.Forbidden(msg)
	case code == "23514", code == "23502", code == "22P02", code == "42703",
		strings.HasPrefix(code, "PGRST1"), strings.HasPrefix(code, "PGRST2"):
		err = domainerrors.Validation(msg)
	case e.Status == http.StatusUnauthorized:
		err = domainerrors.Unauthorized(msg)
	case e.Status == http.StatusForbidden:
		err = domainerrors.Forbidden(msg)
	case e.Status == http.StatusNotFound:
		err = domainerrors.NotFound(msg)
	case e.Status == http.StatusTooManyRequests:
		err = domainerrors.ErrRateLimited.WithDetails(msg)
	default:
		err = domainerrors.Fetchf("%s request failed with status %d: %s", table, e.Status, msg)
	}
	if e.Details != "" || e.Hint != "" {
		err = err.WithDetails(map[string]string{"details": e.Details, "hint": e.Hint})
	}
	return err
}
