package service

import (
	"github.com/shelfnotes/shelfnotes-server/internal/config"
	"github.com/shelfnotes/shelfnotes-server/internal/domain"
)

// InstanceService describes the running server.
type InstanceService struct {
	config  *config.Config
	backend string
}

// NewInstanceService creates a new instance service. backendName is the
// name of the active backend provider.
func NewInstanceService(config *config.Config, backendName string) *InstanceService {
	return &InstanceService{config: config, backend: backendName}
}

// GetInstance returns the public instance description. In demo mode it
// carries a notice telling visitors their data is local.
func (s *InstanceService) GetInstance() *domain.Instance {
	instance := &domain.Instance{
		Name:     s.config.Server.Name,
		Backend:  s.backend,
		DemoMode: s.config.Backend.DemoMode(),
	}
	if instance.DemoMode {
		instance.Notice = domain.DemoNotice
	}
	return instance
}
