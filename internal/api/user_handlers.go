package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/color"
)

func (s *Server) registerUserRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getUserProfile",
		Method:      http.MethodGet,
		Path:        "/api/v1/users/{id}",
		Summary:     "Get user profile",
		Description: "Returns the public profile of a reviewer",
		Tags:        []string{"Users"},
	}, s.handleGetUserProfile)
}

// GetUserProfileInput identifies a user.
type GetUserProfileInput struct {
	ID string `path:"id" maxLength:"100" doc:"User ID"`
}

// UserProfileResponse is a reviewer's public profile. The email address is
// never exposed here.
type UserProfileResponse struct {
	ID          string `json:"id" doc:"User ID"`
	Username    string `json:"username" doc:"Display name"`
	AvatarURL   string `json:"avatar_url,omitempty" doc:"Avatar image URL"`
	AvatarColor string `json:"avatar_color" doc:"Placeholder avatar color (#RRGGBB)"`
}

// UserProfileOutput wraps the profile for Huma.
type UserProfileOutput struct {
	Body UserProfileResponse
}

func (s *Server) handleGetUserProfile(ctx context.Context, input *GetUserProfileInput) (*UserProfileOutput, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, err
	}

	profile, err := s.services.Profile.GetProfile(ctx, v.Client, input.ID)
	if err != nil {
		return nil, err
	}

	return &UserProfileOutput{
		Body: UserProfileResponse{
			ID:          profile.ID,
			Username:    profile.Username,
			AvatarURL:   profile.AvatarURL,
			AvatarColor: color.ForUser(profile.ID),
		},
	}, nil
}
