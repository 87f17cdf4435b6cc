package transport

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/plotwise/pkg/api"
)

// Middleware wraps a Visualizer. In a Chain the first middleware is the
// outermost wrapper.
type Middleware func(Visualizer) Visualizer

// Chain composes middleware so that Chain(a, b, c)(v) is a(b(c(v))).
func Chain(middlewares ...Middleware) Middleware {
	return func(next Visualizer) Visualizer {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type requestIDKey struct{}

// RequestIDFrom returns the request ID carried by ctx, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRequestID attaches a request ID to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// NewRequestID returns a fresh random request ID.
func NewRequestID() string {
	return uuid.NewString()
}

// RequestID makes sure every request carries an ID. An ID already in the
// context, set by the HTTP adapter from X-Request-ID, is kept.
func RequestID() Middleware {
	return func(next Visualizer) Visualizer {
		return VisualizerFunc(func(ctx context.Context, req *api.VisualizeRequest) (*api.Run, error) {
			if RequestIDFrom(ctx) == "" {
				ctx = WithRequestID(ctx, NewRequestID())
			}
			return next.Visualize(ctx, req)
		})
	}
}

// Recovery turns a panic below it into a server error.
func Recovery() Middleware {
	return func(next Visualizer) Visualizer {
		return VisualizerFunc(func(ctx context.Context, req *api.VisualizeRequest) (run *api.Run, err error) {
			defer func() {
				if p := recover(); p != nil {
					slog.ErrorContext(ctx, "panic during visualization",
						slog.Any("panic", p),
						slog.String("request_id", RequestIDFrom(ctx)),
						slog.String("dataset_id", req.DatasetID),
						slog.String("stack", string(debug.Stack())))
					run, err = nil, api.NewServerError(fmt.Sprintf("internal server error: %v", p))
				}
			}()
			return next.Visualize(ctx, req)
		})
	}
}

// Logging emits one entry per visualize request. A request that produced
// a run logs at info even when its execution failed; the outcome
// attribute carries the difference.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Visualizer) Visualizer {
		return VisualizerFunc(func(ctx context.Context, req *api.VisualizeRequest) (*api.Run, error) {
			start := time.Now()
			run, err := next.Visualize(ctx, req)

			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFrom(ctx)),
				slog.String("dataset_id", req.DatasetID),
				slog.Duration("duration", time.Since(start)),
			}
			if req.Route != "" {
				attrs = append(attrs, slog.String("forced_route", req.Route))
			}
			if req.RetryOf != "" {
				attrs = append(attrs, slog.String("retry_of", req.RetryOf))
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "visualization request failed", attrs...)
				return nil, err
			}
			attrs = append(attrs,
				slog.String("run_id", run.ID),
				slog.String("route", string(run.Route)),
				slog.String("outcome", run.Outcome()))
			logger.LogAttrs(ctx, slog.LevelInfo, "visualization completed", attrs...)
			return run, nil
		})
	}
}
