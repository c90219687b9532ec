package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (s *Server) registerInstanceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "getInstance",
		Method:      http.MethodGet,
		Path:        "/api/v1/instance",
		Summary:     "Get server instance",
		Description: "Returns the app name, the active backend and the demo-mode notice",
		Tags:        []string{"Instance"},
	}, s.handleGetInstance)
}

// InstanceResponse contains server instance data in API responses.
type InstanceResponse struct {
	Name     string `json:"name" doc:"Server name"`
	Backend  string `json:"backend" doc:"Active backend: supabase or local"`
	DemoMode bool   `json:"demo_mode" doc:"Whether the hosted backend is unconfigured"`
	Notice   string `json:"notice,omitempty" doc:"Banner text shown in demo mode"`
}

// InstanceOutput wraps the instance response for Huma.
type InstanceOutput struct {
	Body InstanceResponse
}

func (s *Server) handleGetInstance(_ context.Context, _ *struct{}) (*InstanceOutput, error) {
	instance := s.services.Instance.GetInstance()

	return &InstanceOutput{
		Body: InstanceResponse{
			Name:     instance.Name,
			Backend:  instance.Backend,
			DemoMode: instance.DemoMode,
			Notice:   instance.Notice,
		},
	}, nil
}
