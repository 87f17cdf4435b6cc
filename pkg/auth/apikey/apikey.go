// Package apikey authenticates callers by static API keys, sent either as
// a bearer token or in the X-API-Key header. Only SHA-256 hashes of the
// keys are kept in memory.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rhuss/plotwise/pkg/auth"
)

// Key is one configured API key and the identity it grants.
type Key struct {
	Secret   string
	Identity auth.Identity
}

type entry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates API keys.
type Authenticator struct {
	entries []entry
}

// New hashes the keys and returns an authenticator. Keys with an empty
// secret are ignored.
func New(keys []Key) *Authenticator {
	a := &Authenticator{}
	for _, k := range keys {
		if k.Secret == "" {
			continue
		}
		id := k.Identity
		if id.Subject == "" {
			id.Subject = "apikey"
		}
		a.entries = append(a.entries, entry{hash: sha256.Sum256([]byte(k.Secret)), identity: id})
	}
	return a
}

// Authenticate abstains when no key is presented and votes No for an
// unknown key. Every stored hash is compared so timing does not reveal
// which key matched.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.AuthResult {
	token, ok := credential(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(token))
	match := -1
	for i, e := range a.entries {
		if subtle.ConstantTimeCompare(sum[:], e.hash[:]) == 1 {
			match = i
		}
	}
	if match < 0 {
		return auth.AuthResult{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}
	id := a.entries[match].identity
	return auth.AuthResult{Decision: auth.Yes, Identity: &id}
}

func credential(r *http.Request) (string, bool) {
	if key, ok := r.Header["X-Api-Key"]; ok && len(key) > 0 {
		return strings.TrimSpace(key[0]), true
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token), true
	}
	return "", false
}
