package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	"github.com/shelfnotes/shelfnotes-server/internal/id"
)

const (
	tokenIssuer   = "shelfnotes-demo"
	tokenAudience = "shelfnotes-web"

	refreshTokenSize = 32
)

// AccessClaims are the claims of a verified demo access token.
type AccessClaims struct {
	UserID    string
	Email     string
	Subject   string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService issues v4.local access tokens and opaque refresh tokens.
type TokenService struct {
	key        paseto.V4SymmetricKey
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService returns a TokenService using a raw 32-byte key.
func NewTokenService(key []byte, accessTTL, refreshTTL time.Duration) (*TokenService, error) {
	if len(key) != keyLength {
		return nil, fmt.Errorf("token key must be %d bytes, got %d", keyLength, len(key))
	}
	k, err := paseto.V4SymmetricKeyFromBytes(key)
	if err != nil {
		return nil, fmt.Errorf("load token key: %w", err)
	}
	return &TokenService{key: k, accessTTL: accessTTL, refreshTTL: refreshTTL, now: time.Now}, nil
}

// GenerateAccessToken returns an encrypted access token for user and its expiry.
func (s *TokenService) GenerateAccessToken(user *domain.AuthUser) (string, time.Time, error) {
	jti, err := id.Generate(id.PrefixSession)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate token ID: %w", err)
	}

	now := s.now()
	expires := now.Add(s.accessTTL)

	t := paseto.NewToken()
	t.SetIssuer(tokenIssuer)
	t.SetAudience(tokenAudience)
	t.SetSubject(user.ID)
	t.SetJti(jti)
	t.SetIssuedAt(now)
	t.SetNotBefore(now)
	t.SetExpiration(expires)
	t.SetString("user_id", user.ID)
	t.SetString("email", user.Email)

	return t.V4Encrypt(s.key, nil), expires, nil
}

// VerifyAccessToken decrypts raw and checks its issuer, audience and validity window.
func (s *TokenService) VerifyAccessToken(raw string) (*AccessClaims, error) {
	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(tokenIssuer), paseto.ForAudience(tokenAudience), paseto.ValidAt(s.now()))
	t, err := p.ParseV4Local(s.key, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	var c AccessClaims
	if c.Subject, err = t.GetSubject(); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	c.UserID, _ = t.GetString("user_id")
	c.Email, _ = t.GetString("email")
	c.TokenID, _ = t.GetJti()
	c.IssuedAt, _ = t.GetIssuedAt()
	c.ExpiresAt, _ = t.GetExpiration()
	return &c, nil
}

// GenerateRefreshToken returns a random base64url refresh token.
func (s *TokenService) GenerateRefreshToken() (string, error) {
	b := make([]byte, refreshTokenSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashRefreshToken returns the storage key for a refresh token. Only hashes
// are persisted.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// AccessTokenDuration returns the access token lifetime.
func (s *TokenService) AccessTokenDuration() time.Duration { return s.accessTTL }

// RefreshTokenDuration returns the refresh token lifetime.
func (s *TokenService) RefreshTokenDuration() time.Duration { return s.refreshTTL }
