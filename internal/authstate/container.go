// Package authstate tracks who is signed in for one visitor. A Container
// subscribes to the backend's session events and keeps a read-only User
// projection (profile joined with the session token) up to date.
package authstate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// State is the container lifecycle state.
type State string

// Lifecycle states. A container only ever moves from loading to ready.
const (
	StateLoading State = "loading"
	StateReady   State = "ready"
)

// Snapshot is the observable state at one point in time.
type Snapshot struct {
	State State        `json:"state"`
	User  *domain.User `json:"user"`
}

// SignedIn reports whether the snapshot carries a user.
func (s Snapshot) SignedIn() bool { return s.User != nil }

const (
	subscriberBuffer = 8
	profileColumns   = "id, username, email, avatar_url, created_at"
)

// Container owns the signed-in user of one backend client.
//
// All writes to the user happen on the container's event goroutine; the
// exported methods only read or call the backend.
type Container struct {
	client *backend.Client
	logger *slog.Logger

	mu    sync.RWMutex
	state State
	user  *domain.User

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int

	// session is the last session seen by the event goroutine.
	session *domain.Session

	registering atomic.Int32
	profiles    chan *domain.Profile

	ready     chan struct{}
	readyOnce sync.Once
	startOnce sync.Once
	closeOnce sync.Once

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a container for client. Call Start to begin tracking.
func New(client *backend.Client, logger *slog.Logger) *Container {
	if logger == nil {
		logger = slog.Default()
	}
	return &Container{
		client:   client,
		logger:   logger,
		state:    StateLoading,
		subs:     make(map[int]chan Snapshot),
		profiles: make(chan *domain.Profile, 4),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start subscribes to session events, then resolves any existing session in
// the background. It returns immediately; Ready is closed once the initial
// resolution finishes. The container runs until Close, independent of ctx
// cancellation.
func (c *Container) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		events, unsubscribe := c.client.Auth.Subscribe()
		c.unsubscribe = unsubscribe

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.cancel = cancel

		go c.run(runCtx, events)
	})
}

// Ready is closed when initialization completes, or when the container is
// closed before that.
func (c *Container) Ready() <-chan struct{} {
	return c.ready
}

// State returns the lifecycle state.
func (c *Container) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CurrentUser returns a copy of the signed-in user. The boolean is false
// while loading or when nobody is signed in.
func (c *Container) CurrentUser() (*domain.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady || c.user == nil {
		return nil, false
	}
	u := *c.user
	return &u, true
}

// Snapshot returns the current state and user.
func (c *Container) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Container) snapshotLocked() Snapshot {
	s := Snapshot{State: c.state}
	if c.user != nil {
		u := *c.user
		s.User = &u
	}
	return s
}

// Subscribe returns a channel that receives the current snapshot and then
// every change. Slow readers see only the most recent changes. The returned
// func unsubscribes and closes the channel.
func (c *Container) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	c.subMu.Lock()
	select {
	case <-c.done:
		c.subMu.Unlock()
		ch <- c.Snapshot()
		close(ch)
		return ch, func() {}
	default:
	}
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.Snapshot()
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if sub, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(sub)
			}
		})
	}
}

// Await blocks until pred holds for a snapshot, the container closes, or
// ctx ends.
func (c *Container) Await(ctx context.Context, pred func(Snapshot) bool) (Snapshot, error) {
	ch, cancel := c.Subscribe()
	defer cancel()

	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return c.Snapshot(), domainerrors.Conflict("auth state closed")
			}
			if pred(s) {
				return s, nil
			}
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

// Login signs in with email and password. The user is set once the
// resulting SignedIn event has been processed; use Await to observe it.
func (c *Container) Login(ctx context.Context, email, password string) error {
	_, err := c.client.Auth.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return authError(err)
	}
	return nil
}

// Register creates the auth identity and then the profile row. When the
// profile insert fails the new session is signed out again and a
// PROFILE_CREATION error is returned. When the provider requires email
// confirmation there is no session yet, so the profile is left to the
// first sign-in, which creates it with the default username.
func (c *Container) Register(ctx context.Context, email, password, username string) error {
	c.registering.Add(1)
	defer c.registering.Add(-1)

	email = strings.TrimSpace(email)
	authUser, session, err := c.client.Auth.SignUp(ctx, email, password)
	if err != nil {
		return authError(err)
	}
	if session == nil {
		c.logger.Info("sign-up awaiting email confirmation", slog.String("user_id", authUser.ID))
		return nil
	}

	username = strings.TrimSpace(username)
	if username == "" {
		username = domain.DefaultUsername(email)
	}

	var profile domain.Profile
	row := domain.Profile{ID: authUser.ID, Username: username, Email: email}
	if err := c.client.From(backend.TableUsers).Insert(ctx, row, &profile); err != nil {
		c.logger.Warn("profile creation failed, signing out orphaned session",
			slog.String("user_id", authUser.ID),
			slog.String("error", err.Error()))
		if signOutErr := c.client.Auth.SignOut(context.WithoutCancel(ctx)); signOutErr != nil {
			c.logger.Warn("sign out after failed registration",
				slog.String("user_id", authUser.ID),
				slog.String("error", signOutErr.Error()))
		}
		return domainerrors.ProfileCreation(err)
	}
	if profile.ID == "" {
		profile = row
	}

	select {
	case c.profiles <- &profile:
	case <-c.done:
	case <-ctx.Done():
	}
	return nil
}

// Logout ends the session. The user is cleared once the SignedOut event has
// been processed.
func (c *Container) Logout(ctx context.Context) error {
	if err := c.client.Auth.SignOut(ctx); err != nil {
		return authError(err)
	}
	return nil
}

// Close stops the event goroutine and closes every subscriber channel.
func (c *Container) Close() {
	c.closeOnce.Do(func() {
		started := true
		c.startOnce.Do(func() { started = false })
		if !started {
			close(c.done)
			c.readyOnce.Do(func() { close(c.ready) })
		} else {
			c.cancel()
			c.unsubscribe()
			<-c.done
		}

		c.subMu.Lock()
		defer c.subMu.Unlock()
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
	})
}

// Done is closed once the container has stopped.
func (c *Container) Done() <-chan struct{} {
	return c.done
}

func (c *Container) run(ctx context.Context, events <-chan backend.AuthEvent) {
	defer close(c.done)
	defer c.readyOnce.Do(func() { close(c.ready) })

	c.initialize(ctx)

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handle(ctx, ev)
		case p := <-c.profiles:
			c.profileCreated(p)
		}
	}
}

func (c *Container) initialize(ctx context.Context) {
	session, err := c.client.Auth.GetSession(ctx)
	if err != nil {
		c.logger.Warn("resolve existing session", slog.String("error", err.Error()))
	}

	var user *domain.User
	if session != nil {
		c.session = session
		user = c.resolve(ctx, session)
	}

	c.mu.Lock()
	c.state = StateReady
	c.user = user
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.readyOnce.Do(func() { close(c.ready) })
	c.publish(snap)
}

func (c *Container) handle(ctx context.Context, ev backend.AuthEvent) {
	c.logger.Debug("auth event", slog.String("type", string(ev.Type)))

	switch ev.Type {
	case backend.EventSignedIn:
		if ev.Session == nil {
			return
		}
		c.session = ev.Session
		c.setUser(c.resolve(ctx, ev.Session))

	case backend.EventSignedOut:
		c.session = nil
		c.setUser(nil)

	case backend.EventTokenRefreshed:
		if ev.Session == nil {
			return
		}
		c.session = ev.Session
		c.mu.RLock()
		current := c.user
		c.mu.RUnlock()
		if current == nil || current.ID != ev.Session.User.ID {
			c.setUser(c.resolve(ctx, ev.Session))
			return
		}
		u := *current
		u.Token = ev.Session.AccessToken
		c.setUser(&u)
	}
}

// profileCreated applies a profile inserted by Register, if it belongs to
// the current session.
func (c *Container) profileCreated(p *domain.Profile) {
	if c.session == nil || c.session.User.ID != p.ID {
		return
	}
	c.setUser(domain.NewUser(p, c.session))
}

// resolve loads the profile of session's user. A missing profile is
// recreated from the email unless a registration is in flight, in which
// case Register delivers the profile itself.
func (c *Container) resolve(ctx context.Context, session *domain.Session) *domain.User {
	var profile domain.Profile
	err := c.client.From(backend.TableUsers).
		Select(profileColumns).
		Eq("id", session.User.ID).
		Single(ctx, &profile)
	if err == nil {
		return domain.NewUser(&profile, session)
	}
	if !errors.Is(err, backend.ErrNoRows) {
		c.logger.Warn("load profile",
			slog.String("user_id", session.User.ID),
			slog.String("error", err.Error()))
		return nil
	}
	if c.registering.Load() > 0 {
		return nil
	}
	return c.reconcile(ctx, session)
}

func (c *Container) reconcile(ctx context.Context, session *domain.Session) *domain.User {
	row := domain.Profile{
		ID:       session.User.ID,
		Username: domain.DefaultUsername(session.User.Email),
		Email:    session.User.Email,
	}
	var profile domain.Profile
	if err := c.client.From(backend.TableUsers).Insert(ctx, row, &profile); err != nil {
		if errors.Is(err, domainerrors.ErrAlreadyExists) {
			// Register won the race; its profile arrives separately.
			return nil
		}
		c.logger.Warn("recreate missing profile",
			slog.String("user_id", session.User.ID),
			slog.String("error", err.Error()))
		return nil
	}
	if profile.ID == "" {
		profile = row
	}
	c.logger.Info("recreated missing profile", slog.String("user_id", profile.ID))
	return domain.NewUser(&profile, session)
}

func (c *Container) setUser(u *domain.User) {
	c.mu.Lock()
	c.user = u
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.publish(snap)
}

// publish delivers s to every subscriber without blocking, replacing the
// oldest queued snapshot when a subscriber is full.
func (c *Container) publish(s Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	for _, ch := range c.subs {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// authError keeps coded errors as they are and treats anything else as a
// transport failure.
func authError(err error) error {
	var de *domainerrors.Error
	if errors.As(err, &de) {
		return err
	}
	return domainerrors.AuthTransport(err)
}
