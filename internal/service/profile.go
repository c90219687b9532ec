package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
)

const profileColumns = "id, username, email, avatar_url, created_at"

// ProfileService reads rows of the users table.
type ProfileService struct {
	logger *slog.Logger
}

// NewProfileService creates a new profile service.
func NewProfileService(logger *slog.Logger) *ProfileService {
	return &ProfileService{logger: logger}
}

// GetProfile returns the public profile of userID.
func (s *ProfileService) GetProfile(ctx context.Context, client *backend.Client, userID string) (*domain.Profile, error) {
	var profile domain.Profile
	err := client.From(backend.TableUsers).Select(profileColumns).Eq("id", userID).Single(ctx, &profile)
	if errors.Is(err, backend.ErrNoRows) {
		return nil, domainerrors.NotFound("profile not found").WithCause(err)
	}
	if err != nil {
		return nil, fetchError(err, "get profile")
	}
	return &profile, nil
}
