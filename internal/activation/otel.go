package activation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	TracerName = "notiflogger/activation"
	MeterName  = "notiflogger/activation"
)

// Metrics holds the activation counters and histograms.
type Metrics struct {
	ValidationAttempts metric.Int64Counter
	ValidationSuccess  metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	ActivationAttempts metric.Int64Counter
	ActivationSuccess  metric.Int64Counter
	ActivationFailures metric.Int64Counter

	Deactivations metric.Int64Counter
	Expirations   metric.Int64Counter
	StatusChecks  metric.Int64Counter
	DebugReports  metric.Int64Counter
	StoreErrors   metric.Int64Counter
}

// InitializeMetrics registers the activation instruments on meter.
func InitializeMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.ValidationAttempts, "activation_validation_attempts_total", "Total number of token validation attempts"},
		{&m.ValidationSuccess, "activation_validation_success_total", "Total number of accepted tokens"},
		{&m.ValidationFailures, "activation_validation_failures_total", "Total number of rejected tokens by failure kind"},
		{&m.ActivationAttempts, "activation_offline_attempts_total", "Total number of offline activation attempts"},
		{&m.ActivationSuccess, "activation_offline_success_total", "Total number of successful offline activations"},
		{&m.ActivationFailures, "activation_offline_failures_total", "Total number of failed offline activations by failure kind"},
		{&m.Deactivations, "activation_deactivations_total", "Total number of explicit deactivations"},
		{&m.Expirations, "activation_expirations_total", "Total number of records cleared on expiry"},
		{&m.StatusChecks, "activation_status_checks_total", "Total number of activation status checks"},
		{&m.DebugReports, "activation_debug_reports_total", "Total number of debug reports generated"},
		{&m.StoreErrors, "activation_store_errors_total", "Total number of activation store failures"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.ValidationDuration, err = meter.Float64Histogram(
		"activation_validation_duration_seconds",
		metric.WithDescription("Token validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordValidation(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ValidationAttempts.Add(ctx, 1)
	m.ValidationDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.Bool("success", err == nil)))
	if err == nil {
		m.ValidationSuccess.Add(ctx, 1)
		return
	}
	m.ValidationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", KindOf(err).String())))
	m.recordStoreError(ctx, err)
}

func (m *Metrics) recordActivation(ctx context.Context, err error) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	if err == nil {
		m.ActivationSuccess.Add(ctx, 1)
		return
	}
	m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", KindOf(err).String())))
	m.recordStoreError(ctx, err)
}

func (m *Metrics) recordStoreError(ctx context.Context, err error) {
	if m == nil || !IsInfrastructure(err) {
		return
	}
	m.StoreErrors.Add(ctx, 1)
}

func (m *Metrics) recordStatusCheck(ctx context.Context) {
	if m != nil {
		m.StatusChecks.Add(ctx, 1)
	}
}

func (m *Metrics) recordExpiration(ctx context.Context) {
	if m != nil {
		m.Expirations.Add(ctx, 1)
	}
}

func (m *Metrics) recordDeactivation(ctx context.Context) {
	if m != nil {
		m.Deactivations.Add(ctx, 1)
	}
}

func (m *Metrics) recordDebugReport(ctx context.Context, valid bool) {
	if m != nil {
		m.DebugReports.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
	}
}

// startSpan opens a span for an engine operation.
func (e *Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "activation."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// endSpan records the outcome of an engine operation on span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(
			attribute.String("activation.error_kind", KindOf(err).String()),
			attribute.Bool("activation.infrastructure_error", IsInfrastructure(err)),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
