package domain

import (
	"strings"
	"time"
)

// Profile is a row of the users table.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// AuthUser is the identity the auth provider knows about.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the provider's record of an authenticated login.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         AuthUser  `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// User is the application's read-only projection of a signed-in visitor:
// the profile row joined with the current session token.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Token     string `json:"-"`
}

// NewUser projects a profile and session into a User.
func NewUser(p *Profile, s *Session) *User {
	return &User{
		ID:        p.ID,
		Username:  p.Username,
		Email:     p.Email,
		AvatarURL: p.AvatarURL,
		Token:     s.AccessToken,
	}
}

// DefaultUsername derives a username from the local part of an email address.
func DefaultUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local == "" {
		return "reader"
	}
	return local
}
