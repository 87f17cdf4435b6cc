package auth

import (
	"context"

	"github.com/rhuss/plotwise/pkg/storage"
)

type identityKey struct{}

// WithIdentity attaches an accepted caller to ctx. A caller bound to a
// workspace also scopes storage to it.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, identityKey{}, id)
	if id.Workspace != "" {
		ctx = storage.SetTenant(ctx, id.Workspace)
	}
	return ctx
}

// FromContext returns the caller attached by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
