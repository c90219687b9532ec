package visitor

import "context"

type contextKey struct{}

// NewContext returns a copy of ctx carrying v.
func NewContext(ctx context.Context, v *Visitor) context.Context {
	return context.WithValue(ctx, contextKey{}, v)
}

// FromContext returns the visitor stored in ctx, if any.
func FromContext(ctx context.Context) (*Visitor, bool) {
	v, ok := ctx.Value(contextKey{}).(*Visitor)
	return v, ok && v != nil
}
