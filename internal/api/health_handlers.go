package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shelfnotes/shelfnotes-server/internal/backend"
)

// healthProbeTimeout bounds the backend round trip of a health check.
const healthProbeTimeout = 3 * time.Second

func (s *Server) registerHealthRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "healthCheck",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns server health status with component checks",
		Tags:        []string{"Health"},
	}, s.handleHealthCheck)
}

// ComponentHealth describes the health of a single component.
type ComponentHealth struct {
	Status  string `json:"status" doc:"Component status: healthy, degraded, or unhealthy"`
	Latency string `json:"latency,omitempty" doc:"Response time for this component"`
	Message string `json:"message,omitempty" doc:"Additional status information"`
}

// HealthResponse contains health check data in API responses.
type HealthResponse struct {
	Status     string                     `json:"status" doc:"Overall status: healthy, degraded, or unhealthy"`
	Components map[string]ComponentHealth `json:"components" doc:"Individual component statuses"`
}

// HealthOutput wraps the health response for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (s *Server) handleHealthCheck(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	components := map[string]ComponentHealth{
		"backend":  s.checkBackend(ctx),
		"sse":      s.checkSSEManager(),
		"visitors": s.checkVisitors(),
	}

	overall := "healthy"
	for _, c := range components {
		switch c.Status {
		case "unhealthy":
			overall = "unhealthy"
		case "degraded":
			if overall == "healthy" {
				overall = "degraded"
			}
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:     overall,
			Components: components,
		},
	}, nil
}

// checkBackend runs a one-row read against the books table with an
// anonymous client.
func (s *Server) checkBackend(ctx context.Context) ComponentHealth {
	if s.provider == nil {
		return ComponentHealth{
			Status:  "degraded",
			Message: "backend not configured",
		}
	}

	client, err := s.provider.NewClient()
	if err != nil {
		return ComponentHealth{
			Status:  "unhealthy",
			Message: "backend client unavailable",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	start := time.Now()
	_, err = client.From(backend.TableBooks).Select("id").LimitTo(1).Execute(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  "unhealthy",
			Latency: latency.String(),
			Message: s.provider.Name() + " backend read failed",
		}
	}

	return ComponentHealth{
		Status:  "healthy",
		Latency: latency.String(),
		Message: s.provider.Name(),
	}
}

// checkSSEManager reports the number of connected event streams.
func (s *Server) checkSSEManager() ComponentHealth {
	if s.sseManager == nil {
		return ComponentHealth{
			Status:  "degraded",
			Message: "SSE manager not configured",
		}
	}

	return ComponentHealth{
		Status:  "healthy",
		Message: fmt.Sprintf("%d clients connected", s.sseManager.ClientCount()),
	}
}

// checkVisitors reports the number of live visitors.
func (s *Server) checkVisitors() ComponentHealth {
	if s.visitors == nil {
		return ComponentHealth{
			Status:  "degraded",
			Message: "visitor registry not configured",
		}
	}

	return ComponentHealth{
		Status:  "healthy",
		Message: fmt.Sprintf("%d active visitors", s.visitors.Len()),
	}
}
