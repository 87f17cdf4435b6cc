package engine

import (
	"context"
	"time"

	"github.com/rhuss/plotwise/pkg/debug"
	"github.com/rhuss/plotwise/pkg/observability"
	"github.com/rhuss/plotwise/pkg/provider"
)

// instrumented records request, latency and token metrics for every
// completion made through the wrapped provider.
type instrumented struct {
	provider.Provider
}

// Instrument wraps p so that interpretation, script generation and insight
// calls all show up in the provider metrics. A nil provider stays nil.
func Instrument(p provider.Provider) provider.Provider {
	if p == nil {
		return nil
	}
	if _, ok := p.(*instrumented); ok {
		return p
	}
	return &instrumented{Provider: p}
}

func (p *instrumented) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	name := p.Name()
	start := time.Now()
	resp, err := p.Provider.Complete(ctx, req)
	duration := time.Since(start)

	observability.ProviderLatency.WithLabelValues(name, req.Model).Observe(duration.Seconds())
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(name, req.Model, "error").Inc()
		debug.Log("providers", "completion failed", "provider", name, "model", req.Model, "error", err.Error())
		return nil, err
	}
	observability.ProviderRequestsTotal.WithLabelValues(name, req.Model, "success").Inc()
	observability.ProviderTokensTotal.WithLabelValues(name, req.Model, "input").Add(float64(resp.Usage.InputTokens))
	observability.ProviderTokensTotal.WithLabelValues(name, req.Model, "output").Add(float64(resp.Usage.OutputTokens))
	debug.Log("providers", "completion", "provider", name, "model", req.Model,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens,
		"duration", duration)
	return resp, nil
}
