// Package identity carries the caller identity that scopes per-principal
// structures such as the identity-scoped vector.
package identity

import "context"

// ID identifies a principal. The zero value is the anonymous principal.
type ID string

// Anonymous is the identity used when none is attached to a context.
const Anonymous ID = ""

type ctxKey struct{}

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the identity attached to ctx, or Anonymous.
func From(ctx context.Context) ID {
	if id, ok := ctx.Value(ctxKey{}).(ID); ok {
		return id
	}
	return Anonymous
}

// String implements fmt.Stringer.
func (id ID) String() string {
	if id == Anonymous {
		return "anonymous"
	}
	return string(id)
}
