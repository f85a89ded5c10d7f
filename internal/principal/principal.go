// Package principal implements the Principal Resolver (C1): bearer-token
// verification against the identity provider and lookup of the resulting
// claims against the static customer directory.
package principal

import "context"

// Principal is the verified identity derived from a bearer token, plus the
// customer_id resolved against the directory. Created per request, never
// persisted.
type Principal struct {
	Email       string
	SubjectID   string
	DisplayName string
	CustomerID  string
}

type contextKey struct{}

// NewContext returns a context carrying p.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext extracts the Principal stored by the resolver middleware, or
// nil if none is present.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}
