package backend

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// recordingStore captures the last query and replays canned rows.
type recordingStore struct {
	last     *Query
	rows     []json.RawMessage
	count    int
	inserted any
	err      error
}

func (s *recordingStore) Select(_ context.Context, q *Query) (*Result, error) {
	s.last = q
	if s.err != nil {
		return nil, s.err
	}
	return &Result{Rows: s.rows, Count: s.count}, nil
}

func (s *recordingStore) Insert(_ context.Context, table string, rows any) ([]json.RawMessage, error) {
	s.inserted = rows
	if s.err != nil {
		return nil, s.err
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	return []json.RawMessage{raw}, nil
}

type row struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func TestQuery_BuildsFiltersAndRange(t *testing.T) {
	store := &recordingStore{rows: []json.RawMessage{json.RawMessage(`{"id":"b1","title":"Dune"}`)}, count: 40}
	client := &Client{DB: store}

	var rows []row
	count, err := client.From(TableBooks).
		Select("*").
		Eq("genre", "Fantasy").
		Or(Contains("title", "dune"), Contains("author", "dune")).
		Order("average_rating", false).
		Range(12, 23).
		Count().
		Into(context.Background(), &rows)
	require.NoError(t, err)

	assert.Equal(t, 40, count)
	assert.Equal(t, []row{{ID: "b1", Title: "Dune"}}, rows)

	q := store.last
	want := &Query{
		Table:   TableBooks,
		Columns: "*",
		Filters: []Filter{{Column: "genre", Op: OpEq, Value: "Fantasy"}},
		AnyOf: [][]Filter{{
			{Column: "title", Op: OpIlike, Value: "%dune%"},
			{Column: "author", Op: OpIlike, Value: "%dune%"},
		}},
		Orders:     []OrderBy{{Column: "average_rating", Ascending: false}},
		Offset:     12,
		Limit:      12,
		CountExact: true,
	}
	if diff := cmp.Diff(want, q, cmp.AllowUnexported(Query{}), cmp.FilterPath(func(p cmp.Path) bool {
		return p.Last().String() == ".store"
	}, cmp.Ignore())); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestQuery_IntoWithoutCountReturnsRowCount(t *testing.T) {
	store := &recordingStore{rows: []json.RawMessage{json.RawMessage(`{"id":"a"}`), json.RawMessage(`{"id":"b"}`)}}

	var rows []row
	n, err := NewQuery(store, TableBooks).LimitTo(8).Into(context.Background(), &rows)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, store.last.Offset)
	assert.Equal(t, 8, store.last.Limit)
}

func TestQuery_Single(t *testing.T) {
	t.Run("no rows is not found", func(t *testing.T) {
		store := &recordingStore{}
		var r row
		err := NewQuery(store, TableBooks).Eq("id", "missing").Single(context.Background(), &r)
		require.Error(t, err)
		assert.True(t, domainerrors.Is(err, domainerrors.ErrNotFound))
		assert.True(t, store.last.SingleRow)
	})

	t.Run("one row decodes", func(t *testing.T) {
		store := &recordingStore{rows: []json.RawMessage{json.RawMessage(`{"id":"b1","title":"Emma"}`)}}
		var r row
		require.NoError(t, NewQuery(store, TableBooks).Eq("id", "b1").Single(context.Background(), &r))
		assert.Equal(t, "Emma", r.Title)
	})

	t.Run("many rows is an error", func(t *testing.T) {
		store := &recordingStore{rows: []json.RawMessage{json.RawMessage(`{}`), json.RawMessage(`{}`)}}
		var r row
		err := NewQuery(store, TableBooks).Single(context.Background(), &r)
		require.Error(t, err)
		assert.Equal(t, domainerrors.CodeInternal, domainerrors.CodeOf(err))
	})
}

func TestQuery_InsertDecodesReturnedRow(t *testing.T) {
	store := &recordingStore{}
	var out row
	err := NewQuery(store, TableBooks).Insert(context.Background(), row{ID: "b2", Title: "Persuasion"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "Persuasion", out.Title)
	assert.Equal(t, row{ID: "b2", Title: "Persuasion"}, store.inserted)
}

func TestQuery_RangeClamps(t *testing.T) {
	q := NewQuery(nil, TableBooks).Range(-5, -10)
	assert.Equal(t, 0, q.Offset)
	assert.Equal(t, 1, q.Limit)

	_, err := q.Execute(context.Background())
	assert.Error(t, err)
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%`, EscapeLike("100%"))
	assert.Equal(t, `a\_b`, EscapeLike("a_b"))
	assert.Equal(t, `c:\\x`, EscapeLike(`c:\x`))
	assert.Equal(t, Filter{Column: "title", Op: OpIlike, Value: `%50\%%`}, Contains("title", "50%"))
}

func TestParseSelect(t *testing.T) {
	sel, err := ParseSelect("*, user:users(username, avatar_url)")
	require.NoError(t, err)
	assert.True(t, sel.All())
	assert.Equal(t, []Embed{{Alias: "user", Table: "users", Columns: []string{"username", "avatar_url"}}}, sel.Embeds)

	sel, err = ParseSelect("id,title")
	require.NoError(t, err)
	assert.False(t, sel.All())
	assert.Equal(t, []string{"id", "title"}, sel.Columns)

	sel, err = ParseSelect("")
	require.NoError(t, err)
	assert.True(t, sel.All())

	sel, err = ParseSelect("users(username)")
	require.NoError(t, err)
	assert.Equal(t, "users", sel.Embeds[0].Alias)

	for _, bad := range []string{"id;drop", "user:users(name", "x:(a)", "1col"} {
		_, err := ParseSelect(bad)
		assert.Error(t, err, bad)
	}
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe()
	ch2, cancel2 := b.Subscribe()
	assert.Equal(t, 2, b.Len())

	assert.Zero(t, b.Emit(AuthEvent{Type: EventSignedOut}))
	assert.Equal(t, EventSignedOut, (<-ch1).Type)
	assert.Equal(t, EventSignedOut, (<-ch2).Type)

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, b.Len())

	for i := 0; i < EventBufferSize; i++ {
		b.Emit(AuthEvent{Type: EventTokenRefreshed})
	}
	assert.Equal(t, 1, b.Emit(AuthEvent{Type: EventTokenRefreshed}), "full buffer drops")

	b.Close()
	cancel2()
	n := 0
	for range ch2 {
		n++
	}
	assert.Equal(t, EventBufferSize, n)

	late, _ := b.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
