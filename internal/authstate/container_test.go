package authstate_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/shelfnotes/shelfnotes-server/internal/authstate"
	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// fakeAuth is an in-memory auth provider with a single session.
type fakeAuth struct {
	mu         sync.Mutex
	events     *backend.Broadcaster
	session    *domain.Session
	passwords  map[string]string
	ids        map[string]string
	signOuts   int
	signOutErr error
	// confirmEmail makes SignUp return no session, like a hosted project
	// with email confirmation enabled.
	confirmEmail bool
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		events:    backend.NewBroadcaster(),
		passwords: map[string]string{},
		ids:       map[string]string{},
	}
}

func (f *fakeAuth) newSession(email string) *domain.Session {
	return &domain.Session{
		AccessToken:  "access-" + email,
		RefreshToken: "refresh-" + email,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         domain.AuthUser{ID: f.ids[email], Email: email},
	}
}

func (f *fakeAuth) GetSession(context.Context) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeAuth) SignInWithPassword(_ context.Context, email, password string) (*domain.Session, error) {
	f.mu.Lock()
	if pw, ok := f.passwords[email]; !ok || pw != password {
		f.mu.Unlock()
		return nil, domainerrors.Auth(domainerrors.KindInvalidCredentials, "Invalid login credentials")
	}
	f.session = f.newSession(email)
	s := f.session
	f.mu.Unlock()

	f.events.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: s})
	return s, nil
}

func (f *fakeAuth) SignUp(_ context.Context, email, password string) (*domain.AuthUser, *domain.Session, error) {
	f.mu.Lock()
	if _, ok := f.passwords[email]; ok {
		f.mu.Unlock()
		return nil, nil, domainerrors.Auth(domainerrors.KindDuplicate, "User already registered")
	}
	f.passwords[email] = password
	f.ids[email] = "usr-" + email
	if f.confirmEmail {
		f.mu.Unlock()
		return &domain.AuthUser{ID: "usr-" + email, Email: email}, nil, nil
	}
	f.session = f.newSession(email)
	s := f.session
	f.mu.Unlock()

	f.events.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: s})
	return &s.User, s, nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	if f.signOutErr != nil {
		err := f.signOutErr
		f.mu.Unlock()
		return err
	}
	f.session = nil
	f.mu.Unlock()

	f.events.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	return nil
}

func (f *fakeAuth) Subscribe() (<-chan backend.AuthEvent, func()) {
	return f.events.Subscribe()
}

func (f *fakeAuth) signOutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

// fakeStore holds profiles in memory.
type fakeStore struct {
	mu        sync.Mutex
	profiles  map[string]domain.Profile
	insertErr error
}

func (s *fakeStore) Select(_ context.Context, q *backend.Query) (*backend.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &backend.Result{}
	for _, f := range q.Filters {
		if f.Column != "id" {
			continue
		}
		if p, ok := s.profiles[f.Value]; ok {
			raw, _ := json.Marshal(p)
			res.Rows = append(res.Rows, raw)
		}
	}
	return res, nil
}

func (s *fakeStore) Insert(_ context.Context, _ string, rows any) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.insertErr != nil {
		return nil, s.insertErr
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, err
	}
	var p domain.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	if _, ok := s.profiles[p.ID]; ok {
		return nil, domainerrors.AlreadyExists("duplicate key")
	}
	s.profiles[p.ID] = p
	return []json.RawMessage{raw}, nil
}

func (s *fakeStore) profile(id string) (domain.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	return p, ok
}

type testEnv struct {
	auth      *fakeAuth
	store     *fakeStore
	container *authstate.Container
}

// setupContainerTest starts a container over fresh fakes.
func setupContainerTest(t *testing.T, prepare func(*testEnv)) (*testEnv, func()) {
	t.Helper()

	env := &testEnv{
		auth:  newFakeAuth(),
		store: &fakeStore{profiles: map[string]domain.Profile{}},
	}
	if prepare != nil {
		prepare(env)
	}
	client := &backend.Client{Auth: env.auth, DB: env.store}
	env.container = authstate.New(client, nil)
	env.container.Start(context.Background())

	select {
	case <-env.container.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("container never became ready")
	}

	cleanup := func() {
		env.container.Close()
	}
	return env, cleanup
}

func awaitUser(t *testing.T, c *authstate.Container, pred func(*domain.User) bool) authstate.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := c.Await(ctx, func(s authstate.Snapshot) bool { return pred(s.User) })
	require.NoError(t, err)
	return snap
}

func signedIn(u *domain.User) bool { return u != nil }
func signedOut(u *domain.User) bool { return u == nil }

func TestContainer_ReadyWithoutSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, nil)
	defer cleanup()

	assert.Equal(t, authstate.StateReady, env.container.State())
	user, ok := env.container.CurrentUser()
	assert.False(t, ok)
	assert.Nil(t, user)
}

func TestContainer_ResolvesExistingSession(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.auth.ids["ada@example.com"] = "usr-ada"
		env.auth.session = env.auth.newSession("ada@example.com")
		env.store.profiles["usr-ada"] = domain.Profile{ID: "usr-ada", Username: "ada", Email: "ada@example.com"}
	})
	defer cleanup()

	user, ok := env.container.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "ada", user.Username)
	assert.Equal(t, "access-ada@example.com", user.Token)
}

func TestContainer_LoginSetsUserFromEvent(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.auth.passwords["bob@example.com"] = "secret1"
		env.auth.ids["bob@example.com"] = "usr-bob"
		env.store.profiles["usr-bob"] = domain.Profile{ID: "usr-bob", Username: "bobby", Email: "bob@example.com"}
	})
	defer cleanup()

	require.NoError(t, env.container.Login(context.Background(), " bob@example.com ", "secret1"))

	snap := awaitUser(t, env.container, signedIn)
	assert.Equal(t, "bobby", snap.User.Username)
	assert.Equal(t, "usr-bob", snap.User.ID)
	assert.True(t, snap.SignedIn())
}

func TestContainer_LoginInvalidCredentials(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, nil)
	defer cleanup()

	err := env.container.Login(context.Background(), "nobody@example.com", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidCredentials)
	assert.Equal(t, "Invalid login credentials", domainerrors.Message(err))

	_, ok := env.container.CurrentUser()
	assert.False(t, ok)
}

func TestContainer_RegisterCreatesProfile(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, nil)
	defer cleanup()

	require.NoError(t, env.container.Register(context.Background(), "cara@example.com", "secret1", "cara_reads"))

	snap := awaitUser(t, env.container, signedIn)
	assert.Equal(t, "cara_reads", snap.User.Username)
	assert.Equal(t, "cara@example.com", snap.User.Email)

	p, ok := env.store.profile("usr-cara@example.com")
	require.True(t, ok)
	assert.Equal(t, "cara_reads", p.Username)
}

func TestContainer_RegisterDefaultsUsername(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, nil)
	defer cleanup()

	require.NoError(t, env.container.Register(context.Background(), "dora@example.com", "secret1", "  "))
	snap := awaitUser(t, env.container, signedIn)
	assert.Equal(t, "dora", snap.User.Username)
}

func TestContainer_RegisterDuplicateEmail(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.auth.passwords["eve@example.com"] = "secret1"
	})
	defer cleanup()

	err := env.container.Register(context.Background(), "eve@example.com", "secret1", "eve")
	assert.ErrorIs(t, err, domainerrors.ErrDuplicate)
	assert.Equal(t, 0, env.auth.signOutCount())

	_, ok := env.store.profile("usr-eve@example.com")
	assert.False(t, ok, "a duplicate registration writes no profile")
}

func TestContainer_RegisterAwaitingConfirmation(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.auth.confirmEmail = true
		env.store.insertErr = domainerrors.Forbidden("new row violates row-level security policy")
	})
	defer cleanup()

	require.NoError(t, env.container.Register(context.Background(), "gil@example.com", "secret1", "gil"))
	assert.Equal(t, 0, env.auth.signOutCount())

	_, ok := env.store.profile("usr-gil@example.com")
	assert.False(t, ok)
	_, signedIn := env.container.CurrentUser()
	assert.False(t, signedIn)
}

func TestContainer_RegisterProfileFailureSignsOut(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.store.insertErr = domainerrors.Forbidden("new row violates row-level security policy")
	})
	defer cleanup()

	err := env.container.Register(context.Background(), "finn@example.com", "secret1", "finn")
	require.Error(t, err)
	assert.Equal(t, domainerrors.CodeProfileCreation, domainerrors.CodeOf(err))
	assert.Equal(t, 1, env.auth.signOutCount())

	session, err := env.auth.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session)

	awaitUser(t, env.container, signedOut)
	_, ok := env.container.CurrentUser()
	assert.False(t, ok)
}

func TestContainer_ReconcilesMissingProfile(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.auth.passwords["gus@example.com"] = "secret1"
		env.auth.ids["gus@example.com"] = "usr-gus"
	})
	defer cleanup()

	require.NoError(t, env.container.Login(context.Background(), "gus@example.com", "secret1"))

	snap := awaitUser(t, env.container, signedIn)
	assert.Equal(t, "gus", snap.User.Username)
	_, ok := env.store.profile("usr-gus")
	assert.True(t, ok)
}

func TestContainer_TokenRefreshedUpdatesToken(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.auth.ids["hal@example.com"] = "usr-hal"
		env.auth.session = env.auth.newSession("hal@example.com")
		env.store.profiles["usr-hal"] = domain.Profile{ID: "usr-hal", Username: "hal", Email: "hal@example.com"}
	})
	defer cleanup()

	refreshed := env.auth.newSession("hal@example.com")
	refreshed.AccessToken = "rotated"
	env.auth.events.Emit(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: refreshed})

	snap := awaitUser(t, env.container, func(u *domain.User) bool { return u != nil && u.Token == "rotated" })
	assert.Equal(t, "hal", snap.User.Username)
}

func TestContainer_LogoutClearsUser(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.auth.ids["ida@example.com"] = "usr-ida"
		env.auth.session = env.auth.newSession("ida@example.com")
		env.store.profiles["usr-ida"] = domain.Profile{ID: "usr-ida", Username: "ida", Email: "ida@example.com"}
	})
	defer cleanup()

	_, ok := env.container.CurrentUser()
	require.True(t, ok)

	require.NoError(t, env.container.Logout(context.Background()))
	awaitUser(t, env.container, signedOut)
}

func TestContainer_LogoutTransportError(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, func(env *testEnv) {
		env.auth.signOutErr = errors.New("connection refused")
	})
	defer cleanup()

	err := env.container.Logout(context.Background())
	assert.ErrorIs(t, err, domainerrors.ErrAuthTransport)
}

func TestContainer_AwaitHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, cleanup := setupContainerTest(t, nil)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.container.Await(ctx, func(s authstate.Snapshot) bool { return s.SignedIn() })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContainer_CloseEndsSubscriptions(t *testing.T) {
	defer goleak.VerifyNone(t)
	env, _ := setupContainerTest(t, nil)

	ch, unsubscribe := env.container.Subscribe()
	defer unsubscribe()

	first := <-ch
	assert.Equal(t, authstate.StateReady, first.State)

	env.container.Close()
	env.container.Close()

	_, open := <-ch
	assert.False(t, open)
	<-env.container.Done()
	assert.Equal(t, 0, env.auth.events.Len())
}

func TestContainer_CloseBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := authstate.New(&backend.Client{Auth: newFakeAuth(), DB: &fakeStore{}}, nil)
	c.Close()

	<-c.Ready()
	assert.Equal(t, authstate.StateLoading, c.State())
	c.Start(context.Background())
}
