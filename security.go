package main

import "context"

// Principal is who a request acts as when it reads projects.
type Principal string

const (
	Anonymous Principal = "anonymous"
	// System can see every project regardless of restrictions.
	System Principal = "SYSTEM"
)

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) Principal {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok {
		return p
	}
	return Anonymous
}

// asSystem runs fn with a context elevated to System. The caller's ctx
// keeps its own principal, whatever fn does.
func asSystem(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(withPrincipal(ctx, System))
}
