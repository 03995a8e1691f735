package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"notiflogger/internal/activation"
	apierrors "notiflogger/internal/errors"
	"notiflogger/internal/infrastructure"
)

// StatusSource reports the current activation. *activation.Engine
// satisfies it.
type StatusSource interface {
	Info(ctx context.Context) (activation.Info, error)
}

// GateMetrics counts gate decisions.
type GateMetrics struct {
	Checks  metric.Int64Counter
	Denials metric.Int64Counter
}

// NewGateMetrics registers the gate counters on meter.
func NewGateMetrics(meter metric.Meter) (*GateMetrics, error) {
	checks, err := meter.Int64Counter("activation_gate_checks_total",
		metric.WithDescription("Requests evaluated by the activation gate"))
	if err != nil {
		return nil, err
	}
	denials, err := meter.Int64Counter("activation_gate_denials_total",
		metric.WithDescription("Requests rejected by the activation gate"))
	if err != nil {
		return nil, err
	}
	return &GateMetrics{Checks: checks, Denials: denials}, nil
}

// ActivationGate lets requests through only while an activation is in
// effect. Every request consults the engine so that expiry takes effect
// immediately.
type ActivationGate struct {
	status       StatusSource
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
	metrics      *GateMetrics
}

// NewActivationGate creates the gate. metrics may be nil.
func NewActivationGate(status StatusSource, errorHandler *apierrors.ErrorHandler, logger *slog.Logger, metrics *GateMetrics) *ActivationGate {
	return &ActivationGate{
		status:       status,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "activation_gate")),
		metrics:      metrics,
	}
}

// RequireActivation returns the gate middleware.
func (g *ActivationGate) RequireActivation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("notiflogger/middleware").Start(r.Context(), "activation_gate.check",
			trace.WithAttributes(attribute.String("http.route", r.URL.Path)))
		defer span.End()

		info, err := g.status.Info(ctx)
		if err != nil {
			infrastructure.RecordError(ctx, err)
			g.record(ctx, "error")
			g.logger.ErrorContext(ctx, "activation status unavailable",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()))
			// Fail closed.
			g.errorHandler.HandleError(w, r.WithContext(ctx), err)
			return
		}

		span.SetAttributes(attribute.String("activation.state", string(info.State)))
		if info.State != activation.StateActive {
			g.record(ctx, "denied")
			g.logger.InfoContext(ctx, "request blocked, no active activation",
				slog.String("path", r.URL.Path),
				slog.String("state", string(info.State)))
			problem := apierrors.ActivationRequired(r.URL.Path, string(info.State)).
				WithExtension("trace_id", infrastructure.GetTraceID(ctx))
			render.Render(w, r, problem)
			return
		}

		g.record(ctx, "allowed")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *ActivationGate) record(ctx context.Context, result string) {
	if g.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("result", result))
	g.metrics.Checks.Add(ctx, 1, attrs)
	if result != "allowed" {
		g.metrics.Denials.Add(ctx, 1, attrs)
	}
}
