package local

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/id"
	"github.com/shelfnotes/shelfnotes-server/internal/search"
)

// maxSearchHits bounds the id set a text search contributes to a select.
const maxSearchHits = 1000

// tableSpec describes what clients may do with a table.
type tableSpec struct {
	columns  []string
	idPrefix string
	// owner is the column that must equal the signed-in user's id for an
	// insert to pass. Tables without an owner reject client inserts.
	owner string
	check func(row map[string]any) error
}

func (t tableSpec) has(column string) bool {
	for _, c := range t.columns {
		if c == column {
			return true
		}
	}
	return false
}

var tables = map[string]tableSpec{
	backend.TableUsers: {
		columns: []string{"id", "username", "email", "avatar_url", "created_at"},
		owner:   "id",
		check:   checkProfile,
	},
	backend.TableBooks: {
		columns: []string{
			"id", "title", "author", "description", "genre", "cover_image",
			"average_rating", "total_reviews", "publication_date", "pages", "isbn", "created_at",
		},
		idPrefix: id.PrefixBook,
	},
	backend.TableReviews: {
		columns:  []string{"id", "book_id", "user_id", "rating", "comment", "created_at"},
		idPrefix: id.PrefixReview,
		owner:    "user_id",
		check:    checkReview,
	},
}

// relations maps table -> embedded table -> foreign key column on table.
var relations = map[string]map[string]string{
	backend.TableReviews: {
		backend.TableUsers: "user_id",
		backend.TableBooks: "book_id",
	},
}

// recordStore is the local record store. Reads are open; inserts are
// checked against the session of the owning client.
type recordStore struct {
	p    *Provider
	auth *authClient
}

var _ backend.Store = (*recordStore)(nil)

// Select runs q against SQLite.
func (s *recordStore) Select(ctx context.Context, q *backend.Query) (*backend.Result, error) {
	spec, ok := tables[q.Table]
	if !ok {
		return nil, domainerrors.Validationf("relation %q does not exist", q.Table)
	}

	sel, err := backend.ParseSelect(q.Columns)
	if err != nil {
		return nil, err
	}
	columns, err := resolveColumns(q.Table, spec, sel.Columns, len(sel.Embeds) > 0)
	if err != nil {
		return nil, err
	}
	fetch := append([]string{}, columns...)
	for _, e := range sel.Embeds {
		fk, ok := relations[q.Table][e.Table]
		if !ok {
			return nil, domainerrors.Validationf("could not find a relationship between %q and %q", q.Table, e.Table)
		}
		fetch = appendUnique(fetch, fk)
	}

	where, args, err := s.where(ctx, q.Table, spec, q)
	if err != nil {
		return nil, err
	}

	var stmt strings.Builder
	fmt.Fprintf(&stmt, "SELECT %s FROM %s%s", strings.Join(fetch, ", "), q.Table, where)

	orderBy, err := orderClause(q.Table, spec, q.Orders)
	if err != nil {
		return nil, err
	}
	stmt.WriteString(orderBy)

	pageArgs := args
	switch {
	case q.SingleRow:
		// Two rows are enough to tell "one" from "many".
		stmt.WriteString(" LIMIT 2")
	case q.Limit > 0:
		stmt.WriteString(" LIMIT ? OFFSET ?")
		pageArgs = append(append([]any{}, args...), q.Limit, q.Offset)
	}

	rows, err := queryRows(ctx, s.p.db, stmt.String(), pageArgs...)
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeFetch, "select %s", q.Table)
	}

	for _, e := range sel.Embeds {
		if err := s.embed(ctx, rows, relations[q.Table][e.Table], e); err != nil {
			return nil, err
		}
	}

	result := &backend.Result{Rows: make([]json.RawMessage, 0, len(rows))}
	for _, row := range rows {
		out := make(map[string]any, len(columns)+len(sel.Embeds))
		for _, c := range columns {
			out[c] = row[c]
		}
		for _, e := range sel.Embeds {
			out[e.Alias] = row[e.Alias]
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode row")
		}
		result.Rows = append(result.Rows, raw)
	}

	if q.CountExact {
		countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", q.Table, where)
		if err := s.p.db.QueryRowContext(ctx, countSQL, args...).Scan(&result.Count); err != nil {
			return nil, domainerrors.Wrapf(err, domainerrors.CodeFetch, "count %s", q.Table)
		}
	}

	return result, nil
}

// Insert stores one row or a slice of rows and returns them as stored.
func (s *recordStore) Insert(ctx context.Context, table string, rows any) ([]json.RawMessage, error) {
	spec, ok := tables[table]
	if !ok {
		return nil, domainerrors.Validationf("relation %q does not exist", table)
	}
	if spec.owner == "" {
		return nil, rlsViolation(table)
	}

	records, err := normalizeRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return []json.RawMessage{}, nil
	}

	uid := s.auth.currentUserID(ctx)
	now := formatTime(s.p.now())
	ids := make([]string, 0, len(records))

	for _, rec := range records {
		for col := range rec {
			if !spec.has(col) {
				return nil, domainerrors.Validationf("could not find the %q column of %q", col, table)
			}
		}
		if uid == "" || rec[spec.owner] != uid {
			return nil, rlsViolation(table)
		}
		if _, ok := rec["id"]; !ok {
			if spec.idPrefix == "" {
				return nil, domainerrors.Validationf("null value in column \"id\" of relation %q", table)
			}
			rec["id"] = id.MustGenerate(spec.idPrefix)
		}
		if _, ok := rec["created_at"]; !ok {
			rec["created_at"] = now
		}
		if spec.check != nil {
			if err := spec.check(rec); err != nil {
				return nil, err
			}
		}
		rowID, ok := rec["id"].(string)
		if !ok || rowID == "" {
			return nil, domainerrors.Validation("id must be a non-empty string")
		}
		ids = append(ids, rowID)
	}

	bookIDs, err := s.insertTx(ctx, table, records)
	if err != nil {
		return nil, err
	}

	if len(bookIDs) > 0 {
		s.p.reindexBooks(ctx, bookIDs)
	}

	stored, err := queryRows(ctx, s.p.db,
		fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)", strings.Join(spec.columns, ", "), table, placeholders(len(ids))),
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeFetch, "read back %s", table)
	}
	byID := make(map[string]map[string]any, len(stored))
	for _, row := range stored {
		if rid, ok := row["id"].(string); ok {
			byID[rid] = row
		}
	}

	out := make([]json.RawMessage, 0, len(ids))
	for _, rid := range ids {
		raw, err := json.Marshal(byID[rid])
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "encode row")
		}
		out = append(out, raw)
	}
	return out, nil
}

// insertTx writes records in one transaction. Review inserts recompute the
// rating aggregates of their books; the touched book ids are returned.
func (s *recordStore) insertTx(ctx context.Context, table string, records []map[string]any) ([]string, error) {
	tx, err := s.p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "begin transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var bookIDs []string
	for _, rec := range records {
		cols := make([]string, 0, len(rec))
		for c := range rec {
			cols = append(cols, c)
		}
		sort.Strings(cols)
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = rec[c]
		}

		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return nil, mapWriteError(table, err)
		}

		if table == backend.TableReviews {
			bookID, _ := rec["book_id"].(string)
			bookIDs = appendUnique(bookIDs, bookID)
		}
	}

	for _, bookID := range bookIDs {
		_, err := tx.ExecContext(ctx, `
			UPDATE books SET
				total_reviews = (SELECT COUNT(*) FROM reviews WHERE book_id = ?),
				average_rating = COALESCE((SELECT AVG(rating) FROM reviews WHERE book_id = ?), 0)
			WHERE id = ?`, bookID, bookID, bookID)
		if err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "update book aggregates")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "commit transaction")
	}
	return bookIDs, nil
}

// where renders the filters of q as a WHERE clause.
func (s *recordStore) where(ctx context.Context, table string, spec tableSpec, q *backend.Query) (string, []any, error) {
	var (
		clauses []string
		args    []any
	)
	for _, f := range q.Filters {
		clause, fargs, err := s.filterClause(ctx, table, spec, f)
		if err != nil {
			return "", nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, fargs...)
	}
	for _, group := range q.AnyOf {
		parts := make([]string, 0, len(group))
		for _, f := range group {
			clause, fargs, err := s.filterClause(ctx, table, spec, f)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, clause)
			args = append(args, fargs...)
		}
		clauses = append(clauses, "("+strings.Join(parts, " OR ")+")")
	}
	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func (s *recordStore) filterClause(ctx context.Context, table string, spec tableSpec, f backend.Filter) (string, []any, error) {
	if !spec.has(f.Column) {
		return "", nil, domainerrors.Validationf("column %s.%s does not exist", table, f.Column)
	}
	switch f.Op {
	case backend.OpEq:
		return f.Column + " = ?", []any{f.Value}, nil
	case backend.OpIlike:
		// SQLite LIKE is case-insensitive for ASCII, which matches ilike here.
		return f.Column + ` LIKE ? ESCAPE '\'`, []any{f.Value}, nil
	case backend.OpFTS:
		if table != backend.TableBooks {
			return "", nil, domainerrors.Validationf("text search is not available on %q", table)
		}
		res, err := s.p.index.Search(ctx, search.SearchParams{Query: f.Value, Limit: maxSearchHits})
		if err != nil {
			return "", nil, domainerrors.Wrap(err, domainerrors.CodeFetch, "text search")
		}
		ids := res.IDs()
		if len(ids) == 0 {
			return "0", nil, nil
		}
		return "id IN (" + placeholders(len(ids)) + ")", stringArgs(ids), nil
	default:
		return "", nil, domainerrors.Validationf("unsupported operator %q", f.Op)
	}
}

// embed attaches related rows under e.Alias, looked up through fk.
func (s *recordStore) embed(ctx context.Context, rows []map[string]any, fk string, e backend.Embed) error {
	target := tables[e.Table]
	cols, err := resolveColumns(e.Table, target, e.Columns, false)
	if err != nil {
		return err
	}

	var keys []string
	for _, row := range rows {
		if k, ok := row[fk].(string); ok {
			keys = appendUnique(keys, k)
		}
	}
	related := map[string]map[string]any{}
	if len(keys) > 0 {
		fetch := appendUnique(append([]string{}, cols...), "id")
		found, err := queryRows(ctx, s.p.db,
			fmt.Sprintf("SELECT %s FROM %s WHERE id IN (%s)", strings.Join(fetch, ", "), e.Table, placeholders(len(keys))),
			stringArgs(keys)...,
		)
		if err != nil {
			return domainerrors.Wrapf(err, domainerrors.CodeFetch, "embed %s", e.Table)
		}
		for _, r := range found {
			obj := make(map[string]any, len(cols))
			for _, c := range cols {
				obj[c] = r[c]
			}
			if rid, ok := r["id"].(string); ok {
				related[rid] = obj
			}
		}
	}

	for _, row := range rows {
		k, _ := row[fk].(string)
		if obj, ok := related[k]; ok {
			row[e.Alias] = obj
		} else {
			row[e.Alias] = nil
		}
	}
	return nil
}

func resolveColumns(table string, spec tableSpec, requested []string, allowEmpty bool) ([]string, error) {
	if len(requested) == 0 && !allowEmpty {
		return spec.columns, nil
	}
	var out []string
	for _, c := range requested {
		if c == "*" {
			return spec.columns, nil
		}
		if !spec.has(c) {
			return nil, domainerrors.Validationf("column %s.%s does not exist", table, c)
		}
		out = appendUnique(out, c)
	}
	return out, nil
}

func orderClause(table string, spec tableSpec, orders []backend.OrderBy) (string, error) {
	parts := make([]string, 0, len(orders)+1)
	tie := true
	for _, o := range orders {
		if !spec.has(o.Column) {
			return "", domainerrors.Validationf("column %s.%s does not exist", table, o.Column)
		}
		dir := "DESC"
		if o.Ascending {
			dir = "ASC"
		}
		parts = append(parts, o.Column+" "+dir)
		if o.Column == "id" {
			tie = false
		}
	}
	// A stable tie-breaker keeps pages from overlapping.
	if tie {
		parts = append(parts, "id ASC")
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryRows scans every row into a column-keyed map.
func queryRows(ctx context.Context, db queryer, query string, args ...any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalizeRows turns a struct, map, or slice of either into column maps.
func normalizeRows(rows any) ([]map[string]any, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "encode rows")
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var many []map[string]any
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "rows must be objects")
		}
		return many, nil
	}
	var one map[string]any
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "row must be an object")
	}
	return []map[string]any{one}, nil
}

func checkProfile(row map[string]any) error {
	if s, _ := row["username"].(string); strings.TrimSpace(s) == "" {
		return domainerrors.Validation(`null value in column "username" of relation "users"`)
	}
	if s, _ := row["email"].(string); strings.TrimSpace(s) == "" {
		return domainerrors.Validation(`null value in column "email" of relation "users"`)
	}
	return nil
}

func checkReview(row map[string]any) error {
	if s, _ := row["book_id"].(string); s == "" {
		return domainerrors.Validation(`null value in column "book_id" of relation "reviews"`)
	}
	rating, ok := row["rating"].(float64)
	if !ok || rating != math.Trunc(rating) || rating < domain.MinRating || rating > domain.MaxRating {
		return domainerrors.Validation(`new row for relation "reviews" violates check constraint "reviews_rating_check"`)
	}
	row["rating"] = int64(rating)
	return nil
}

func mapWriteError(table string, err error) error {
	switch {
	case isUniqueViolation(err):
		return domainerrors.AlreadyExists(fmt.Sprintf("duplicate key value violates unique constraint on %q", table)).WithCause(err)
	case isForeignKeyViolation(err):
		return domainerrors.NotFound(fmt.Sprintf("insert on %q references a missing row", table)).WithCause(err)
	case strings.Contains(err.Error(), "CHECK constraint failed"):
		return domainerrors.Validation(fmt.Sprintf("new row for relation %q violates a check constraint", table)).WithCause(err)
	default:
		return domainerrors.Wrapf(err, domainerrors.CodeInternal, "insert %s", table)
	}
}

func rlsViolation(table string) error {
	return domainerrors.Forbidden(fmt.Sprintf("new row violates row-level security policy for table %q", table))
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
