// Package backend defines the collaborator the application talks to for
// authentication and records: an auth session API with change events and a
// table-oriented record store. Two implementations exist: the hosted backend
// (package supabase) and the embedded demo backend (package local).
package backend

import (
	"context"
	"encoding/json"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
)

// Table names.
const (
	TableUsers   = "users"
	TableBooks   = "books"
	TableReviews = "reviews"
)

// EventType identifies an auth state change.
type EventType string

// Auth state change events emitted by Auth.Subscribe.
const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// AuthEvent is one session change. Session is nil for EventSignedOut.
type AuthEvent struct {
	Type    EventType
	Session *domain.Session
}

// Auth is the session side of the collaborator. Each Client has its own
// session; implementations must be safe for concurrent use.
type Auth interface {
	// GetSession returns the current session, or nil when signed out.
	GetSession(ctx context.Context) (*domain.Session, error)
	// SignInWithPassword starts a session and emits EventSignedIn.
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	// SignUp creates the auth identity. When the provider signs the user in
	// immediately the session is non-nil and EventSignedIn is emitted.
	SignUp(ctx context.Context, email, password string) (*domain.AuthUser, *domain.Session, error)
	// SignOut ends the session and emits EventSignedOut.
	SignOut(ctx context.Context) error
	// Subscribe registers for change events. Calling the returned func
	// unsubscribes and closes the channel. Events are dropped for a
	// subscriber whose buffer is full.
	Subscribe() (<-chan AuthEvent, func())
}

// Result is the outcome of a select.
type Result struct {
	Rows []json.RawMessage
	// Count is the total number of matching rows ignoring Range, filled
	// when the query asked for it with Count.
	Count int
}

// Store is the record side of the collaborator.
type Store interface {
	Select(ctx context.Context, q *Query) (*Result, error)
	// Insert stores rows (a struct, map, or slice of them) and returns the
	// inserted representation.
	Insert(ctx context.Context, table string, rows any) ([]json.RawMessage, error)
}

// Client bundles one session-scoped view of the collaborator.
type Client struct {
	Auth Auth
	DB   Store
}

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return NewQuery(c.DB, table)
}

// Provider mints clients. Hosted clients each hold their own session;
// the local provider shares storage between its clients.
type Provider interface {
	Name() string
	NewClient() (*Client, error)
	Close() error
}
