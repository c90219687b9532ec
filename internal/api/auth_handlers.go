package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/authstate"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

func (s *Server) registerAuthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/auth/session",
		Summary:     "Get auth state",
		Description: "Returns the visitor's auth state and, when signed in, the current user",
		Tags:        []string{"Authentication"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/api/v1/auth/login",
		Summary:     "User login",
		Description: "Signs in with email and password and returns the user once the session is applied",
		Tags:        []string{"Authentication"},
	}, s.handleLogin)

	huma.Register(s.api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/api/v1/auth/register",
		Summary:       "Register new user",
		Description:   "Creates the auth identity and the profile row. Providers that confirm email first return no user.",
		Tags:          []string{"Authentication"},
		DefaultStatus: http.StatusCreated,
	}, s.handleRegister)

	huma.Register(s.api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/api/v1/auth/logout",
		Summary:     "Logout",
		Description: "Ends the visitor's session",
		Tags:        []string{"Authentication"},
	}, s.handleLogout)
}

// === DTOs ===

// SessionResponse is the visitor's auth state.
type SessionResponse struct {
	State    string       `json:"state" enum:"loading,ready" doc:"Auth state"`
	SignedIn bool         `json:"signed_in" doc:"Whether a user is signed in"`
	User     *domain.User `json:"user" doc:"Current user, null when signed out or loading"`
}

// SessionOutput wraps the session response for Huma.
type SessionOutput struct {
	CacheControl string `header:"Cache-Control"`
	Body         SessionResponse
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" format:"email" maxLength:"254" doc:"User email"`
	Password string `json:"password" minLength:"1" maxLength:"1024" doc:"User password"`
}

// LoginInput wraps the login request for Huma.
type LoginInput struct {
	Body LoginRequest
}

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Email    string `json:"email" format:"email" maxLength:"254" doc:"User email address"`
	Password string `json:"password" minLength:"6" maxLength:"1024" doc:"User password"`
	Username string `json:"username,omitempty" maxLength:"50" required:"false" doc:"Display name; defaults to the email's local part"`
}

// RegisterInput wraps the register request for Huma.
type RegisterInput struct {
	Body RegisterRequest
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User                 *domain.User `json:"user" doc:"Signed-in user, null while email confirmation is pending"`
	ConfirmationRequired bool         `json:"confirmation_required" doc:"Whether the provider requires email confirmation before sign-in"`
	Message              string       `json:"message,omitempty" doc:"Status message"`
}

// AuthOutput wraps the auth response for Huma.
type AuthOutput struct {
	Body AuthResponse
}

// MessageResponse contains a simple message.
type MessageResponse struct {
	Message string `json:"message" doc:"Success message"`
}

// MessageOutput wraps the message response for Huma.
type MessageOutput struct {
	Body MessageResponse
}

// === Handlers ===

func (s *Server) handleGetSession(ctx context.Context, _ *struct{}) (*SessionOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}

	snap := v.Auth.Snapshot()
	return &SessionOutput{
		CacheControl: CacheNoStore,
		Body: SessionResponse{
			State:    string(snap.State),
			SignedIn: snap.SignedIn(),
			User:     snap.User,
		},
	}, nil
}

func (s *Server) handleLogin(ctx context.Context, input *LoginInput) (*AuthOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}
	if err := awaitReady(ctx, v); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(input.Body.Email)
	if err := v.Auth.Login(ctx, email, input.Body.Password); err != nil {
		return nil, err
	}

	user, err := awaitUser(ctx, v.Auth, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domainerrors.Fetch("signed in, but the profile could not be loaded")
	}

	return &AuthOutput{Body: AuthResponse{User: user}}, nil
}

func (s *Server) handleRegister(ctx context.Context, input *RegisterInput) (*AuthOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}
	if err := awaitReady(ctx, v); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(input.Body.Email)
	if err := v.Auth.Register(ctx, email, input.Body.Password, strings.TrimSpace(input.Body.Username)); err != nil {
		return nil, err
	}

	user, err := awaitUser(ctx, v.Auth, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return &AuthOutput{Body: AuthResponse{
			ConfirmationRequired: true,
			Message:              "Check your email to confirm your account, then sign in.",
		}}, nil
	}

	return &AuthOutput{Body: AuthResponse{User: user, Message: "Account created"}}, nil
}

func (s *Server) handleLogout(ctx context.Context, _ *struct{}) (*MessageOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}
	if err := awaitReady(ctx, v); err != nil {
		return nil, err
	}

	if err := v.Auth.Logout(ctx); err != nil {
		return nil, err
	}

	settle, cancel := context.WithTimeout(ctx, authSettleTimeout)
	defer cancel()
	if _, err := v.Auth.Await(settle, func(s authstate.Snapshot) bool { return !s.SignedIn() }); err != nil {
		return nil, domainerrors.Fetch("sign-out was not applied in time")
	}

	return &MessageOutput{Body: MessageResponse{Message: "Logged out successfully"}}, nil
}

// === Helpers ===

// awaitUser waits until the container shows the user with email signed in.
// It returns a nil user without error when no such state arrives in time,
// which is how providers that require email confirmation behave.
func awaitUser(ctx context.Context, auth *authstate.Container, email string) (*domain.User, error) {
	settle, cancel := context.WithTimeout(ctx, authSettleTimeout)
	defer cancel()

	snap, err := auth.Await(settle, func(s authstate.Snapshot) bool {
		return s.SignedIn() && strings.EqualFold(s.User.Email, email)
	})
	switch {
	case err == nil:
		return snap.User, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return nil, nil
	default:
		return nil, err
	}
}
