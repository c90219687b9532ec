package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// ErrNoRows is returned by Single when nothing matches.
var ErrNoRows = domainerrors.NotFound("no rows returned")

// Operator is a filter comparison.
type Operator string

// Supported operators.
const (
	OpEq    Operator = "eq"
	OpIlike Operator = "ilike"
	OpFTS   Operator = "fts"
)

// Filter is one column predicate.
type Filter struct {
	Column string
	Op     Operator
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter { return Filter{Column: column, Op: OpEq, Value: value} }

// Ilike builds a case-insensitive LIKE filter. Pattern uses % wildcards.
func Ilike(column, pattern string) Filter { return Filter{Column: column, Op: OpIlike, Value: pattern} }

// Contains builds an Ilike filter matching value anywhere in the column.
// Wildcards inside value are escaped.
func Contains(column, value string) Filter {
	return Ilike(column, "%"+EscapeLike(value)+"%")
}

// EscapeLike escapes LIKE wildcards with a backslash.
func EscapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// OrderBy is one sort key.
type OrderBy struct {
	Column    string
	Ascending bool
}

// Query is a chainable select against one table. Builder methods mutate
// and return the receiver; a Query is not safe for concurrent use.
type Query struct {
	store Store

	Table   string
	Columns string
	// Filters are ANDed together.
	Filters []Filter
	// AnyOf groups are each a disjunction, ANDed with Filters and each other.
	AnyOf  [][]Filter
	Orders []OrderBy
	// Offset and Limit are set by Range; Limit 0 means unbounded.
	Offset     int
	Limit      int
	CountExact bool
	// SingleRow asks the store for at most one row.
	SingleRow bool
}

// NewQuery starts a query against table on store.
func NewQuery(store Store, table string) *Query {
	return &Query{store: store, Table: table, Columns: "*"}
}

// Select sets the column list, e.g. "*, user:users(username, avatar_url)".
func (q *Query) Select(columns string) *Query {
	if strings.TrimSpace(columns) != "" {
		q.Columns = columns
	}
	return q
}

// Eq adds an equality filter.
func (q *Query) Eq(column, value string) *Query {
	q.Filters = append(q.Filters, Eq(column, value))
	return q
}

// Ilike adds a case-insensitive pattern filter.
func (q *Query) Ilike(column, pattern string) *Query {
	q.Filters = append(q.Filters, Ilike(column, pattern))
	return q
}

// Or adds a disjunction of filters.
func (q *Query) Or(filters ...Filter) *Query {
	if len(filters) > 0 {
		q.AnyOf = append(q.AnyOf, filters)
	}
	return q
}

// TextSearch adds a full-text match on column.
func (q *Query) TextSearch(column, text string) *Query {
	q.Filters = append(q.Filters, Filter{Column: column, Op: OpFTS, Value: text})
	return q
}

// Order appends a sort key.
func (q *Query) Order(column string, ascending bool) *Query {
	q.Orders = append(q.Orders, OrderBy{Column: column, Ascending: ascending})
	return q
}

// Range limits the result to rows from..to, inclusive and zero-based.
func (q *Query) Range(from, to int) *Query {
	if from < 0 {
		from = 0
	}
	if to < from {
		to = from
	}
	q.Offset = from
	q.Limit = to - from + 1
	return q
}

// LimitTo returns at most n rows from the start.
func (q *Query) LimitTo(n int) *Query {
	return q.Range(0, n-1)
}

// Count asks for the exact total of matching rows.
func (q *Query) Count() *Query {
	q.CountExact = true
	return q
}

// Execute runs the query.
func (q *Query) Execute(ctx context.Context) (*Result, error) {
	if q.store == nil {
		return nil, domainerrors.Internal("query has no store")
	}
	return q.store.Select(ctx, q)
}

// Into runs the query and decodes the rows into dst, which must point to a
// slice. It returns the exact count when requested, else the row count.
func (q *Query) Into(ctx context.Context, dst any) (int, error) {
	res, err := q.Execute(ctx)
	if err != nil {
		return 0, err
	}
	if err := decodeRows(res.Rows, dst); err != nil {
		return 0, err
	}
	if q.CountExact {
		return res.Count, nil
	}
	return len(res.Rows), nil
}

// Single runs the query expecting exactly one row and decodes it into dst.
func (q *Query) Single(ctx context.Context, dst any) error {
	q.SingleRow = true
	res, err := q.Execute(ctx)
	if err != nil {
		return err
	}
	switch len(res.Rows) {
	case 0:
		return ErrNoRows
	case 1:
		if err := json.Unmarshal(res.Rows[0], dst); err != nil {
			return domainerrors.Wrapf(err, domainerrors.CodeInternal, "decode %s row", q.Table)
		}
		return nil
	default:
		return domainerrors.Internalf("expected one %s row, got %d", q.Table, len(res.Rows))
	}
}

// Insert stores rows in the query's table. When dst is non-nil the first
// returned row is decoded into it.
func (q *Query) Insert(ctx context.Context, rows, dst any) error {
	if q.store == nil {
		return domainerrors.Internal("query has no store")
	}
	out, err := q.store.Insert(ctx, q.Table, rows)
	if err != nil {
		return err
	}
	if dst == nil || len(out) == 0 {
		return nil
	}
	if err := json.Unmarshal(out[0], dst); err != nil {
		return domainerrors.Wrapf(err, domainerrors.CodeInternal, "decode inserted %s row", q.Table)
	}
	return nil
}

// String renders the query for logs.
func (q *Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s select=%q", q.Table, q.Columns)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " %s.%s.%s", f.Column, f.Op, f.Value)
	}
	for _, group := range q.AnyOf {
		parts := make([]string, len(group))
		for i, f := range group {
			parts[i] = fmt.Sprintf("%s.%s.%s", f.Column, f.Op, f.Value)
		}
		fmt.Fprintf(&b, " or(%s)", strings.Join(parts, ","))
	}
	for _, o := range q.Orders {
		dir := "desc"
		if o.Ascending {
			dir = "asc"
		}
		fmt.Fprintf(&b, " order=%s.%s", o.Column, dir)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " range=%d-%d", q.Offset, q.Offset+q.Limit-1)
	}
	return b.String()
}

func decodeRows(rows []json.RawMessage, dst any) error {
	if rows == nil {
		rows = []json.RawMessage{}
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "encode rows")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "decode rows")
	}
	return nil
}
