package local

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"github.com/shelfnotes/shelfnotes-server/internal/auth"
	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/id"
	"github.com/shelfnotes/shelfnotes-server/internal/validation"
)

// Messages mirror the hosted provider so callers see the same text in
// demo mode.
const (
	msgInvalidCredentials = "Invalid login credentials"
	msgAlreadyRegistered  = "User already registered"
	msgInvalidEmail       = "Unable to validate email address: invalid format"
	msgWeakPassword       = "Password should be at least 6 characters."
)

var validate = validation.New()

// authClient is one visitor's session against the local provider.
type authClient struct {
	p      *Provider
	events *backend.Broadcaster

	mu      sync.Mutex
	session *domain.Session
}

var _ backend.Auth = (*authClient)(nil)

// GetSession returns the current session. An expired access token is
// refreshed transparently; when the refresh session is gone the client
// signs out.
func (a *authClient) GetSession(ctx context.Context) (*domain.Session, error) {
	a.mu.Lock()
	current := a.session
	if current == nil || !current.Expired(a.p.now()) {
		a.mu.Unlock()
		return current, nil
	}

	refreshed, err := a.p.refresh(current)
	if err != nil {
		a.session = nil
		a.mu.Unlock()
		a.p.logger.Debug("refresh failed, signing out", "user_id", current.User.ID, "error", err)
		a.events.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
		return nil, nil
	}
	a.session = refreshed
	a.mu.Unlock()

	a.events.Emit(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

// SignInWithPassword verifies the credentials and starts a session.
func (a *authClient) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, domainerrors.Auth(domainerrors.KindInvalidCredentials, msgInvalidCredentials)
	}

	var (
		userID, storedEmail, hash string
	)
	err := a.p.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash FROM auth_users WHERE email = ?`, email,
	).Scan(&userID, &storedEmail, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainerrors.Auth(domainerrors.KindInvalidCredentials, msgInvalidCredentials)
	}
	if err != nil {
		return nil, domainerrors.AuthTransport(err)
	}

	ok, err := auth.VerifyPassword(hash, password)
	if err != nil {
		return nil, domainerrors.AuthTransport(err)
	}
	if !ok {
		return nil, domainerrors.Auth(domainerrors.KindInvalidCredentials, msgInvalidCredentials)
	}

	session, err := a.p.issueSession(&domain.AuthUser{ID: userID, Email: storedEmail})
	if err != nil {
		return nil, domainerrors.AuthTransport(err)
	}
	a.start(session)
	return session, nil
}

// SignUp creates an auth identity and signs it in immediately, as the
// hosted provider does with email confirmation disabled.
func (a *authClient) SignUp(ctx context.Context, email, password string) (*domain.AuthUser, *domain.Session, error) {
	email = strings.TrimSpace(email)
	if err := validate.Var("email", email, "required,email"); err != nil {
		return nil, nil, domainerrors.Auth(domainerrors.KindProvider, msgInvalidEmail)
	}

	hash, err := auth.HashPassword(password)
	if errors.Is(err, auth.ErrPasswordTooShort) {
		return nil, nil, domainerrors.Auth(domainerrors.KindProvider, msgWeakPassword)
	}
	if err != nil {
		return nil, nil, domainerrors.Auth(domainerrors.KindProvider, err.Error())
	}

	user := &domain.AuthUser{ID: id.MustGenerate(id.PrefixUser), Email: email}
	_, err = a.p.db.ExecContext(ctx,
		`INSERT INTO auth_users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Email, hash, formatTime(a.p.now()),
	)
	if isUniqueViolation(err) {
		return nil, nil, domainerrors.Auth(domainerrors.KindDuplicate, msgAlreadyRegistered)
	}
	if err != nil {
		return nil, nil, domainerrors.AuthTransport(err)
	}

	session, err := a.p.issueSession(user)
	if err != nil {
		return nil, nil, domainerrors.AuthTransport(err)
	}
	a.p.logger.Info("user signed up", "user_id", user.ID)
	a.start(session)
	return user, session, nil
}

// SignOut ends the session. The SignedOut event is emitted even when no
// session was active.
func (a *authClient) SignOut(ctx context.Context) error {
	a.mu.Lock()
	current := a.session
	a.session = nil
	a.mu.Unlock()

	var err error
	if current != nil && current.RefreshToken != "" {
		if delErr := a.p.sessions.delete(auth.HashRefreshToken(current.RefreshToken)); delErr != nil {
			err = domainerrors.AuthTransport(delErr)
		}
	}

	a.events.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	return err
}

// Subscribe registers for session change events.
func (a *authClient) Subscribe() (<-chan backend.AuthEvent, func()) {
	return a.events.Subscribe()
}

func (a *authClient) start(session *domain.Session) {
	a.mu.Lock()
	a.session = session
	a.mu.Unlock()

	a.events.Emit(backend.AuthEvent{Type: backend.EventSignedIn, Session: session})
}

// currentUserID returns the subject of the session's verified access token,
// or "" when signed out. Row ownership checks trust only the token.
func (a *authClient) currentUserID(ctx context.Context) string {
	session, err := a.GetSession(ctx)
	if err != nil || session == nil {
		return ""
	}
	claims, err := a.p.tokens.VerifyAccessToken(session.AccessToken)
	if err != nil {
		a.p.logger.Debug("access token rejected", "error", err)
		return ""
	}
	return claims.Subject
}

// issueSession mints an access token and stores a refresh session.
func (p *Provider) issueSession(user *domain.AuthUser) (*domain.Session, error) {
	access, _, err := p.tokens.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := p.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	ttl := p.tokens.RefreshTokenDuration()
	rs := refreshSession{UserID: user.ID, Email: user.Email, ExpiresAt: p.now().Add(ttl)}
	if err := p.sessions.put(auth.HashRefreshToken(refresh), rs, ttl); err != nil {
		return nil, err
	}

	return &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    p.now().Add(p.tokens.AccessTokenDuration()),
		User:         *user,
	}, nil
}

// refresh exchanges a session's refresh token for a new session, rotating
// the refresh token.
func (p *Provider) refresh(old *domain.Session) (*domain.Session, error) {
	oldHash := auth.HashRefreshToken(old.RefreshToken)
	rs, err := p.sessions.get(oldHash)
	if err != nil {
		return nil, err
	}
	if !p.now().Before(rs.ExpiresAt) {
		return nil, errSessionNotFound
	}

	user := &domain.AuthUser{ID: rs.UserID, Email: rs.Email}
	access, _, err := p.tokens.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}
	refresh, err := p.tokens.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := p.sessions.rotate(oldHash, auth.HashRefreshToken(refresh), *rs, rs.ExpiresAt.Sub(p.now())); err != nil {
		return nil, err
	}

	return &domain.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    p.now().Add(p.tokens.AccessTokenDuration()),
		User:         *user,
	}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
