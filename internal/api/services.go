package api

import (
	"github.com/shelfnotes/shelfnotes-server/internal/service"
)

// Services groups the stateless business services used by the API server.
// Per-visitor state (auth container, fetch hooks) comes from the visitor
// registry instead.
type Services struct {
	Instance *service.InstanceService
	Book     *service.BookService
	Review   *service.ReviewService
	Profile  *service.ProfileService
}
