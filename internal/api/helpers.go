package api

import (
	"context"

	"github.com/shelfnotes/shelfnotes-server/internal/domain"
	domainerrors "github.com/shelfnotes/shelfnotes-server/internal/errors"
	"github.com/shelfnotes/shelfnotes-server/internal/visitor"
)

// requestVisitor returns the visitor attached by visitorMiddleware.
func requestVisitor(ctx context.Context) (*visitor.Visitor, error) {
	v, ok := visitor.FromContext(ctx)
	if !ok {
		return nil, domainerrors.Internal("request has no visitor")
	}
	return v, nil
}

// awaitReady blocks until the visitor's auth state has finished its first
// session check.
func awaitReady(ctx context.Context, v *visitor.Visitor) error {
	select {
	case <-v.Auth.Ready():
		return nil
	case <-ctx.Done():
		return domainerrors.Fetch("auth state is still loading")
	}
}

// requireUser returns the signed-in user of the request's visitor.
func requireUser(ctx context.Context) (*visitor.Visitor, *domain.User, error) {
	v, err := requestVisitor(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := awaitReady(ctx, v); err != nil {
		return nil, nil, err
	}
	user, ok := v.Auth.CurrentUser()
	if !ok {
		return nil, nil, domainerrors.Unauthorized("Sign in to continue")
	}
	return v, user, nil
}

// stateError turns the error recorded in a fetch state back into a domain
// error.
func stateError(code domainerrors.Code, message string) error {
	if code == "" {
		code = domainerrors.CodeFetch
	}
	return &domainerrors.Error{Code: code, Message: message}
}
