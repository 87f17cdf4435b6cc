package storage

import (
	"context"
	"testing"

	"github.com/rhuss/plotwise/pkg/api"
)

func TestTenantContext(t *testing.T) {
	ctx := context.Background()
	if got := GetTenant(ctx); got != "" {
		t.Errorf("GetTenant(empty) = %q", got)
	}
	ctx = SetTenant(ctx, "team-a")
	if got := GetTenant(ctx); got != "team-a" {
		t.Errorf("GetTenant = %q", got)
	}
	if got := GetTenant(context.WithValue(context.Background(), "tenant", "x")); got != "" {
		t.Errorf("string key must not match, got %q", got)
	}
}

func TestEffectiveLimit(t *testing.T) {
	tests := map[int]int{-1: DefaultListLimit, 0: DefaultListLimit, 5: 5, 100: 100, 500: MaxListLimit}
	for in, want := range tests {
		if got := (ListOptions{Limit: in}).EffectiveLimit(); got != want {
			t.Errorf("EffectiveLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestNewRunList(t *testing.T) {
	runs := []*api.Run{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	l := NewRunList(runs, 2)
	if !l.HasMore || len(l.Data) != 2 || l.FirstID != "a" || l.LastID != "b" {
		t.Errorf("page = %+v", l)
	}

	empty := NewRunList(nil, 2)
	if empty.Data == nil || empty.HasMore || empty.Object != "list" {
		t.Errorf("empty page = %+v", empty)
	}
}

func TestStripArtifactData(t *testing.T) {
	run := &api.Run{ID: "r"}
	run.Artifacts = []api.Artifact{{Name: "main.png", Data: []byte("x")}}

	stripped := StripArtifactData(run)
	if stripped.Artifacts[0].Data != nil {
		t.Error("data not stripped")
	}
	if run.Artifacts[0].Data == nil {
		t.Error("original run modified")
	}
}
