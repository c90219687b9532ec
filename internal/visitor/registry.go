// Package visitor keeps the per-browser state of the server: one backend
// client, one auth state container and one set of fetch hooks per visitor
// cookie. Idle visitors are expired by a janitor.
package visitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shelfnotes/shelfnotes-server/internal/authstate"
	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/fetch"
	"github.com/shelfnotes/shelfnotes-server/internal/id"
	"github.com/shelfnotes/shelfnotes-server/internal/service"
	"github.com/shelfnotes/shelfnotes-server/internal/sse"
)

// DefaultIdleTTL is how long an unused visitor is kept.
const DefaultIdleTTL = 30 * time.Minute

// Visitor is the server-side state of one browser.
type Visitor struct {
	ID     string
	Client *backend.Client
	Auth   *authstate.Container
	Books  *fetch.BookList
	Book   *fetch.BookView

	lastSeen atomic.Int64
	done     chan struct{}
}

func (v *Visitor) touch(now time.Time) { v.lastSeen.Store(now.UnixNano()) }

// LastSeen returns when the visitor last made a request.
func (v *Visitor) LastSeen() time.Time { return time.Unix(0, v.lastSeen.Load()) }

func (v *Visitor) close() {
	v.Books.Close()
	v.Book.Close()
	v.Auth.Close()
	<-v.done
}

// Options configures a Registry.
type Options struct {
	Provider backend.Provider
	Books    *service.BookService
	Reviews  *service.ReviewService
	// Events receives auth.changed events for each visitor. Optional.
	Events  *sse.Manager
	IdleTTL time.Duration
	Logger  *slog.Logger
}

// Registry owns every live visitor.
type Registry struct {
	provider backend.Provider
	books    *service.BookService
	reviews  *service.ReviewService
	events   *sse.Manager
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	visitors map[string]*Visitor
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		provider: opts.Provider,
		books:    opts.Books,
		reviews:  opts.Reviews,
		events:   opts.Events,
		ttl:      opts.IdleTTL,
		logger:   opts.Logger,
		now:      time.Now,
		visitors: make(map[string]*Visitor),
	}
}

// Get returns the live visitor with id and marks it as seen.
func (r *Registry) Get(visitorID string) (*Visitor, bool) {
	r.mu.RLock()
	v, ok := r.visitors[visitorID]
	r.mu.RUnlock()
	if ok {
		v.touch(r.now())
	}
	return v, ok
}

// Resolve returns the visitor for visitorID, creating a new one (with a
// new id) when it is unknown or expired. The boolean reports creation.
func (r *Registry) Resolve(ctx context.Context, visitorID string) (*Visitor, bool, error) {
	if visitorID != "" {
		if v, ok := r.Get(visitorID); ok {
			return v, false, nil
		}
	}
	v, err := r.Create(ctx)
	return v, err == nil, err
}

// Create starts a new visitor with its own backend client.
func (r *Registry) Create(ctx context.Context) (*Visitor, error) {
	visitorID, err := id.Generate(id.PrefixVisitor)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "generate visitor id")
	}
	client, err := r.provider.NewClient()
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "create backend client")
	}

	logger := r.logger.With(slog.String("visitor_id", visitorID))
	v := &Visitor{
		ID:     visitorID,
		Client: client,
		Auth:   authstate.New(client, logger),
		Books:  fetch.NewBookList(r.books, client, logger),
		Book:   fetch.NewBookView(r.books, r.reviews, client, logger),
		done:   make(chan struct{}),
	}
	v.touch(r.now())

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, domainerrors.Internal("visitor registry closed")
	}
	r.visitors[visitorID] = v
	total := len(r.visitors)
	r.mu.Unlock()

	v.Auth.Start(ctx)
	go r.forward(v)

	logger.Debug("visitor created", slog.Int("total_visitors", total))
	return v, nil
}

// forward pushes the visitor's auth changes to its SSE clients until the
// container closes.
func (r *Registry) forward(v *Visitor) {
	defer close(v.done)

	snapshots, unsubscribe := v.Auth.Subscribe()
	defer unsubscribe()

	<-v.Auth.Ready()
	for s := range snapshots {
		if s.State != authstate.StateReady || r.events == nil {
			continue
		}
		r.events.EmitToVisitor(v.ID, sse.NewAuthChangedEvent(v.ID, string(s.State), s.User))
	}
}

// Remove closes and forgets one visitor.
func (r *Registry) Remove(visitorID string) {
	r.mu.Lock()
	v, ok := r.visitors[visitorID]
	delete(r.visitors, visitorID)
	r.mu.Unlock()

	if ok {
		v.close()
	}
}

// Len returns the number of live visitors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.visitors)
}

// Sweep closes visitors idle for longer than the TTL and returns how many
// were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	var expired []*Visitor
	r.mu.Lock()
	for visitorID, v := range r.visitors {
		if v.LastSeen().Before(cutoff) {
			expired = append(expired, v)
			delete(r.visitors, visitorID)
		}
	}
	r.mu.Unlock()

	for _, v := range expired {
		v.close()
	}
	if len(expired) > 0 {
		r.logger.Info("expired idle visitors", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps idle visitors every interval until ctx ends.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Close closes every visitor. Create fails afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	visitors := r.visitors
	r.visitors = make(map[string]*Visitor)
	r.mu.Unlock()

	for _, v := range visitors {
		v.close()
	}
}
