// Package routing decides whether a visualization plan runs in the local
// sandbox or on the remote service.
package routing

import (
	"github.com/rhuss/plotwise/pkg/api"
	"github.com/rhuss/plotwise/pkg/debug"
)

// Default policy values.
const (
	DefaultThreshold = 7.0
)

// DefaultAdvancedKinds are chart kinds that always go remote when the
// remote service is available.
var DefaultAdvancedKinds = []api.ChartKind{
	api.ChartMultiAxis,
	api.ChartScatter3D,
	api.ChartSurface3D,
	api.ChartModelFit,
}

// Policy is the routing rule: a plan goes remote only when the remote
// service is available and the plan is either more complex than Threshold
// or requests an advanced chart kind. Everything else stays local.
type Policy struct {
	Threshold float64
	Advanced  map[api.ChartKind]bool
}

// NewPolicy creates a policy. An empty kinds list uses DefaultAdvancedKinds;
// a non-positive threshold uses DefaultThreshold.
func NewPolicy(threshold float64, kinds []string) *Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	p := &Policy{Threshold: threshold, Advanced: make(map[api.ChartKind]bool)}
	if len(kinds) == 0 {
		for _, k := range DefaultAdvancedKinds {
			p.Advanced[k] = true
		}
		return p
	}
	for _, k := range kinds {
		p.Advanced[api.ChartKind(k)] = true
	}
	return p
}

// Decide returns the route for plan. It is a pure function of its inputs.
func (p *Policy) Decide(plan *api.VisualizationPlan, remoteAvailable bool) api.Route {
	route, reason := p.decide(plan, remoteAvailable)
	debug.Log("routing", "decision", "route", route, "reason", reason,
		"complexity", plan.Complexity, "kinds", plan.ChartKinds, "remote_available", remoteAvailable)
	return route
}

// Explain returns the route together with a short human-readable reason.
func (p *Policy) Explain(plan *api.VisualizationPlan, remoteAvailable bool) (api.Route, string) {
	return p.decide(plan, remoteAvailable)
}

func (p *Policy) decide(plan *api.VisualizationPlan, remoteAvailable bool) (api.Route, string) {
	if !remoteAvailable {
		return api.RouteLocal, "remote unavailable"
	}
	for _, k := range plan.ChartKinds {
		if p.Advanced[k] {
			return api.RouteRemote, "advanced chart kind " + string(k)
		}
	}
	if plan.Complexity > p.Threshold {
		return api.RouteRemote, "complexity above threshold"
	}
	return api.RouteLocal, "basic plan"
}
