// Package fetch provides data-fetch resources: keyed, cancelable loads
// whose results are kept as observable state. At most one fetch per
// resource is in flight; a newer load cancels the older one and a late
// result from a superseded fetch is dropped.
package fetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

var (
	// ErrSuperseded is returned by Wait when a newer load replaced the
	// awaited one.
	ErrSuperseded = domainerrors.Conflict("request superseded by a newer one")
	// ErrClosed is returned by Wait after Close.
	ErrClosed = domainerrors.Conflict("resource closed")
)

// Func loads the value for params.
type Func[P comparable, T any] func(ctx context.Context, params P) (T, error)

// State is a resource's observable state.
type State[P comparable, T any] struct {
	Data    T
	Loading bool
	// Err is the message of the last failed fetch, empty on success.
	Err     string
	ErrCode domainerrors.Code
	Params  P
}

// Failed reports whether the last fetch failed.
func (s State[P, T]) Failed() bool { return s.Err != "" }

// Ticket identifies one load. Pass it to Wait.
type Ticket uint64

// Resource holds the result of the most recent load.
type Resource[P comparable, T any] struct {
	name   string
	fetch  Func[P, T]
	logger *slog.Logger

	mu      sync.Mutex
	state   State[P, T]
	loaded  bool
	seq     uint64
	cancel  context.CancelFunc
	changed chan struct{}
	closed  bool
	wg      sync.WaitGroup
}

// New creates an idle resource. name is used in logs.
func New[P comparable, T any](name string, fn Func[P, T], logger *slog.Logger) *Resource[P, T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resource[P, T]{
		name:    name,
		fetch:   fn,
		logger:  logger,
		changed: make(chan struct{}),
	}
}

// Load requests the value for params. When params equal the current ones
// and the last fetch did not fail, no fetch is started and the current
// ticket is returned; otherwise the in-flight fetch is canceled and a new
// one starts.
func (r *Resource[P, T]) Load(params P) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Ticket(r.seq)
	}
	if r.loaded && r.state.Params == params && !r.state.Failed() {
		return Ticket(r.seq)
	}
	return r.startLocked(params)
}

// Reload starts a new fetch for params even when they equal the current
// ones and the last fetch succeeded. Handlers call it once per request so
// a page reload always sees fresh data.
func (r *Resource[P, T]) Reload(params P) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Ticket(r.seq)
	}
	return r.startLocked(params)
}

// Refetch starts a new fetch with the current params, even when the last
// one succeeded. It is a no-op before the first Load.
func (r *Resource[P, T]) Refetch() Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.loaded {
		return Ticket(r.seq)
	}
	return r.startLocked(r.state.Params)
}

func (r *Resource[P, T]) startLocked(params P) Ticket {
	if r.cancel != nil {
		r.cancel()
	}
	r.seq++
	seq := r.seq

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	if r.state.Params != params {
		var zero T
		r.state.Data = zero
	}
	r.loaded = true
	r.state.Params = params
	r.state.Loading = true
	r.state.Err = ""
	r.state.ErrCode = ""
	r.notifyLocked()

	r.wg.Add(1)
	go r.run(ctx, seq, params)
	return Ticket(seq)
}

func (r *Resource[P, T]) run(ctx context.Context, seq uint64, params P) {
	defer r.wg.Done()

	data, err := r.fetch(ctx, params)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || seq != r.seq {
		r.logger.Debug("discarding stale fetch result",
			slog.String("resource", r.name),
			slog.Uint64("seq", seq))
		return
	}
	r.cancel()
	r.cancel = nil

	r.state.Loading = false
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = domainerrors.Fetch("request canceled")
		}
		r.state.Err = domainerrors.Message(err)
		r.state.ErrCode = domainerrors.CodeOf(err)
		r.logger.Debug("fetch failed",
			slog.String("resource", r.name),
			slog.String("error", err.Error()))
	} else {
		r.state.Data = data
	}
	r.notifyLocked()
}

// Wait blocks until the fetch for t settles and returns the state it
// produced. It fails with ErrSuperseded when a newer load replaced t.
func (r *Resource[P, T]) Wait(ctx context.Context, t Ticket) (State[P, T], error) {
	for {
		r.mu.Lock()
		state, seq, closed, changed := r.state, r.seq, r.closed, r.changed
		r.mu.Unlock()

		switch {
		case closed:
			return state, ErrClosed
		case uint64(t) != seq:
			return state, ErrSuperseded
		case !state.Loading:
			return state, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return state, ctx.Err()
		}
	}
}

// LoadAndWait is Load followed by Wait.
func (r *Resource[P, T]) LoadAndWait(ctx context.Context, params P) (State[P, T], error) {
	return r.Wait(ctx, r.Load(params))
}

// ReloadAndWait is Reload followed by Wait. When a concurrent reload of
// the same params supersedes this one, it waits for that fetch instead.
func (r *Resource[P, T]) ReloadAndWait(ctx context.Context, params P) (State[P, T], error) {
	t := r.Reload(params)
	for {
		state, err := r.Wait(ctx, t)
		if err != ErrSuperseded || state.Params != params { //nolint:errorlint // sentinel identity; ErrClosed shares its code
			return state, err
		}
		t = r.current()
	}
}

func (r *Resource[P, T]) current() Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Ticket(r.seq)
}

// State returns the current state.
func (r *Resource[P, T]) State() State[P, T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Changed returns a channel closed at the next state change.
func (r *Resource[P, T]) Changed() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.changed
}

// Mutate replaces the data in place without fetching, for optimistic
// updates after a successful write. fn must not block.
func (r *Resource[P, T]) Mutate(fn func(T) T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.state.Data = fn(r.state.Data)
	r.notifyLocked()
}

// MutateFor is Mutate applied only while params are the loaded ones. It
// reports whether fn ran.
func (r *Resource[P, T]) MutateFor(params P, fn func(T) T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.loaded || r.state.Params != params {
		return false
	}
	r.state.Data = fn(r.state.Data)
	r.notifyLocked()
	return true
}

// Close cancels any in-flight fetch and waits for it to return. Results
// arriving afterwards are ignored.
func (r *Resource[P, T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.notifyLocked()
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Resource[P, T]) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}
