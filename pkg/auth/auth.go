package auth

import (
	"context"
	"errors"
	"net/http"
)

// AuthDecision is an authenticator's vote on a request.
type AuthDecision int

const (
	// Yes accepts the request with the returned identity.
	Yes AuthDecision = iota

	// No rejects the request: credentials were presented but are invalid.
	No

	// Abstain passes the request on to the next authenticator.
	Abstain
)

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Identity *Identity // set when Decision == Yes
	Err      error     // set when Decision == No
}

// Identity is an authenticated caller.
type Identity struct {
	// Subject identifies the caller. Never empty for an accepted request.
	Subject string

	// Workspace scopes the runs and ratings the caller can see. Empty
	// means unscoped.
	Workspace string

	// ServiceTier selects the rate limit.
	ServiceTier string

	// Scopes lists granted authorization scopes, when the credential
	// carries them.
	Scopes []string
}

// Authenticator examines request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Anonymous is the identity used when every authenticator abstains and
// the chain defaults to Yes.
var Anonymous = Identity{Subject: "anonymous", ServiceTier: "default"}

// AuthChain asks authenticators in order until one votes Yes or No.
type AuthChain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when all authenticators abstain. Yes admits
	// the request as Anonymous; No rejects it.
	DefaultDecision AuthDecision
}

// Authenticate runs the chain.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		if result := authn.Authenticate(ctx, r); result.Decision != Abstain {
			return result
		}
	}

	if c.DefaultDecision == Yes {
		id := Anonymous
		return AuthResult{Decision: Yes, Identity: &id}
	}
	return AuthResult{Decision: No, Err: ErrUnauthenticated}
}
