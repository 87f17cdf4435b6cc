// Package auth authenticates API callers and scopes their runs and
// ratings to a workspace.
//
// Authenticators vote Yes, No or Abstain on a request; an AuthChain asks
// them in order and falls back to a default decision when all abstain.
// The HTTP middleware runs the chain, applies per-tier rate limits and
// stores the caller's workspace in the context, where the result stores
// pick it up for tenant scoping.
package auth
