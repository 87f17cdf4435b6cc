package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type mockAuthn struct {
	result AuthResult
	called bool
}

func (m *mockAuthn) Authenticate(context.Context, *http.Request) AuthResult {
	m.called = true
	return m.result
}

func TestAuthChain(t *testing.T) {
	yes := AuthResult{Decision: Yes, Identity: &Identity{Subject: "alice"}}
	no := AuthResult{Decision: No, Err: errors.New("bad key")}
	abstain := AuthResult{Decision: Abstain}

	tests := []struct {
		name        string
		results     []AuthResult
		defaultDec  AuthDecision
		want        AuthDecision
		wantSubject string
	}{
		{"first yes wins", []AuthResult{yes, no}, No, Yes, "alice"},
		{"no stops chain", []AuthResult{abstain, no, yes}, Yes, No, ""},
		{"all abstain default yes", []AuthResult{abstain, abstain}, Yes, Yes, "anonymous"},
		{"all abstain default no", []AuthResult{abstain}, No, No, ""},
		{"empty chain default no", nil, No, No, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &AuthChain{DefaultDecision: tt.defaultDec}
			for _, r := range tt.results {
				chain.Authenticators = append(chain.Authenticators, &mockAuthn{result: r})
			}
			got := chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
			if got.Decision != tt.want {
				t.Fatalf("decision = %v, want %v", got.Decision, tt.want)
			}
			if tt.wantSubject != "" && (got.Identity == nil || got.Identity.Subject != tt.wantSubject) {
				t.Errorf("identity = %+v", got.Identity)
			}
		})
	}
}

func TestAuthChainStopsAtFirstVote(t *testing.T) {
	second := &mockAuthn{result: AuthResult{Decision: Yes, Identity: &Identity{Subject: "bob"}}}
	chain := &AuthChain{Authenticators: []Authenticator{
		&mockAuthn{result: AuthResult{Decision: No}},
		second,
	}}
	chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
	if second.called {
		t.Error("authenticator after a No vote should not run")
	}
}

func TestAnonymousIsCopied(t *testing.T) {
	chain := &AuthChain{DefaultDecision: Yes}
	r := chain.Authenticate(context.Background(), httptest.NewRequest("GET", "/", nil))
	r.Identity.Workspace = "mutated"
	if Anonymous.Workspace != "" {
		t.Error("default identity must not be shared")
	}
}

func TestTierLimiter(t *testing.T) {
	l := NewTierLimiter(map[string]int{"premium": 5, "free": 0}, 2)
	ctx := context.Background()

	basic := &Identity{Subject: "alice"}
	for i := 0; i < 2; i++ {
		if err := l.Allow(ctx, basic); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if err := l.Allow(ctx, basic); !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("third default-tier request: %v, want ErrTooManyRequests", err)
	}

	other := &Identity{Subject: "bob"}
	if err := l.Allow(ctx, other); err != nil {
		t.Errorf("buckets are per subject: %v", err)
	}

	premium := &Identity{Subject: "carol", ServiceTier: "premium"}
	for i := 0; i < 5; i++ {
		if err := l.Allow(ctx, premium); err != nil {
			t.Fatalf("premium request %d: %v", i, err)
		}
	}

	free := &Identity{Subject: "dave", ServiceTier: "free"}
	for i := 0; i < 100; i++ {
		if err := l.Allow(ctx, free); err != nil {
			t.Fatalf("zero rate means unlimited: %v", err)
		}
	}
}
