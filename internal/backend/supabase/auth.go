package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

// refreshMargin refreshes a session slightly before the token expires.
const refreshMargin = 10 * time.Second

// tokenResponse is a GoTrue session, or a bare user when sign-up needs
// email confirmation.
type tokenResponse struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	User         gotrueUser `json:"user"`

	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type authClient struct {
	p      *Provider
	events *backend.Broadcaster

	mu      sync.Mutex
	session *domain.Session
}

var _ backend.Auth = (*authClient)(nil)

// GetSession returns the current session, refreshing it when the access
// token is about to expire. A rejected refresh signs the client out; an
// unreachable project keeps the session and reports a transport error.
func (a *authClient) GetSession(ctx context.Context) (*domain.Session, error) {
	a.mu.Lock()
	current := a.session
	if current == nil || !current.Expired(a.p.now().Add(refreshMargin)) {
		a.mu.Unlock()
		return current, nil
	}

	resp, err := a.p.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": current.RefreshToken},
	})
	if err != nil {
		a.mu.Unlock()
		return nil, domainerrors.AuthTransport(err)
	}
	if resp.status >= http.StatusInternalServerError {
		a.mu.Unlock()
		return nil, domainerrors.AuthTransport(errors.New(parseAPIError(resp).text()))
	}
	if resp.status != http.StatusOK {
		a.session = nil
		a.mu.Unlock()
		a.p.logger.Debug("refresh rejected, signing out", "user_id", current.User.ID, "status", resp.status)
		a.events.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
		return nil, nil
	}

	refreshed, err := a.p.decodeSession(resp.body)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.session = refreshed
	a.mu.Unlock()

	a.events.Emit(backend.AuthEvent{Type: backend.EventTokenRefreshed, Session: refreshed})
	return refreshed, nil
}

// SignInWithPassword uses the password grant.
func (a *authClient) SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error) {
	resp, err := a.p.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": strings.TrimSpace(email), "password": password},
	})
	if err != nil {
		return nil, domainerrors.AuthTransport(err)
	}
	if resp.status != http.StatusOK {
		return nil, mapAuthError(parseAPIError(resp))
	}

	session, err := a.p.decodeSession(resp.body)
	if err != nil {
		return nil, err
	}
	a.start(session)
	return session, nil
}

// SignUp registers the identity. Projects with email confirmation return
// no session; then no event is emitted.
func (a *authClient) SignUp(ctx context.Context, email, password string) (*domain.AuthUser, *domain.Session, error) {
	resp, err := a.p.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		body:   map[string]string{"email": strings.TrimSpace(email), "password": password},
	})
	if err != nil {
		return nil, nil, domainerrors.AuthTransport(err)
	}
	if resp.status != http.StatusOK {
		return nil, nil, mapAuthError(parseAPIError(resp))
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return nil, nil, domainerrors.Auth(domainerrors.KindProvider, "malformed sign-up response")
	}
	if tr.AccessToken == "" {
		if tr.ID == "" {
			return nil, nil, domainerrors.Auth(domainerrors.KindProvider, "sign-up returned no user")
		}
		return &domain.AuthUser{ID: tr.ID, Email: tr.Email}, nil, nil
	}

	session, err := a.p.decodeSession(resp.body)
	if err != nil {
		return nil, nil, err
	}
	a.start(session)
	user := session.User
	return &user, session, nil
}

// SignOut revokes the session. A session the project no longer knows is
// treated as signed out.
func (a *authClient) SignOut(ctx context.Context) error {
	a.mu.Lock()
	current := a.session
	a.mu.Unlock()

	if current != nil {
		resp, err := a.p.do(ctx, request{
			method: http.MethodPost,
			path:   "/auth/v1/logout",
			query:  url.Values{"scope": {"global"}},
			bearer: current.AccessToken,
		})
		if err != nil {
			return domainerrors.AuthTransport(err)
		}
		switch {
		case resp.status < 300, resp.status == http.StatusUnauthorized,
			resp.status == http.StatusForbidden, resp.status == http.StatusNotFound:
		default:
			return domainerrors.AuthTransport(errors.New(parseAPIError(resp).text()))
		}
	}

	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()

	a.events.Emit(backend.AuthEvent{Type: backend.EventSignedOut})
	return nil
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

// accessToken returns the bearer for data requests: the session token when
// signed in, else "" for the anon key.
func (a *authClient) accessToken(ctx context.Context) (string, error) {
	session, err := a.GetSession(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.AccessToken, nil
}

// decodeSession turns a GoTrue token response into a Session. The access
// token's own claims take precedence for expiry and subject.
func (p *Provider) decodeSession(body []byte) (*domain.Session, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, domainerrors.Auth(domainerrors.KindProvider, "malformed session response")
	}

	session := &domain.Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		User:         domain.AuthUser{ID: tr.User.ID, Email: tr.User.Email},
	}
	switch {
	case tr.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		session.ExpiresAt = p.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	if claims, ok := accessClaims(tr.AccessToken); ok {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			session.ExpiresAt = exp.Time
		}
		if sub, err := claims.GetSubject(); err == nil && sub != "" && session.User.ID == "" {
			session.User.ID = sub
		}
		if email, ok := claims["email"].(string); ok && session.User.Email == "" {
			session.User.Email = email
		}
	}

	if session.User.ID == "" {
		return nil, domainerrors.Auth(domainerrors.KindProvider, "session has no user")
	}
	return session, nil
}

// accessClaims reads the claims of a GoTrue JWT without verifying it. The
// project verifies its own tokens; the server only needs exp and sub.
func accessClaims(token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// mapAuthError converts a GoTrue error body into a domain auth error.
func mapAuthError(e *apiError) error {
	msg := e.text()
	code := e.code()
	lower := strings.ToLower(msg)

	switch {
	case e.Status >= http.StatusInternalServerError:
		return domainerrors.AuthTransport(errors.New(msg))
	case code == "invalid_credentials" || e.ErrName == "invalid_grant" ||
		strings.Contains(lower, "invalid login credentials"):
		return domainerrors.Auth(domainerrors.KindInvalidCredentials, msg)
	case code == "user_already_exists" || code == "email_exists" ||
		strings.Contains(lower, "already registered"):
		return domainerrors.Auth(domainerrors.KindDuplicate, msg)
	case e.Status == http.StatusTooManyRequests:
		return domainerrors.ErrRateLimited.WithDetails(msg)
	default:
		return domainerrors.Auth(domainerrors.KindProvider, msg)
	}
}
