// ABOUTME: Principal identity supplied by the external authentication collaborator
// ABOUTME: Provides WithPrincipal/FromContext for propagating identity via context

package auth

import "context"

// Role constants. The core treats the role as opaque except for gating the
// operator view.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Principal is the opaque identity handed to the client by the
// authentication layer: who the session belongs to and whether the operator
// surface is available.
type Principal struct {
	ID   string
	Role string
}

// IsOperator reports whether the principal may view and resolve interrupts
// across all threads
func (p Principal) IsOperator() bool {
	return p.Role == RoleAdmin
}

// principalKey is the key type for storing a Principal in context.Context
type principalKey struct{}

// WithPrincipal returns a new context with the principal attached
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext retrieves the principal from the context. The second return is
// false when no principal is attached.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
