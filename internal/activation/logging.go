package activation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"notiflogger/internal/infrastructure"
)

const componentName = "activation"

// MaskID hides all but the edges of a device id or uuid for logs and
// API responses.
func MaskID(id string) string {
	switch {
	case id == "":
		return ""
	case len(id) <= 4:
		return strings.Repeat("*", len(id))
	case len(id) <= 8:
		return id[:2] + strings.Repeat("*", len(id)-2)
	default:
		return id[:4] + "****" + id[len(id)-4:]
	}
}

// hashID gives a stable correlation value without exposing the id.
func hashID(id string) string {
	if id == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])[:16]
}

func (e *Engine) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		infrastructure.AddSpanEvent(ctx, "activation."+action, map[string]interface{}{
			"action": action,
			"result": result,
		})
	}

	all := []slog.Attr{
		slog.String("component", componentName),
		slog.String("action", action),
		slog.String("result", result),
	}
	if infrastructure.GetTraceID(ctx) == "" {
		if traceID := infrastructure.TraceIDFromContext(ctx); traceID != "" {
			all = append(all, slog.String("trace_id", traceID))
		}
	}
	all = append(all, attrs...)
	e.logger.LogAttrs(ctx, level, action+" "+result, all...)
}

func deviceAttrs(deviceID string) slog.Attr {
	return slog.Group("device",
		slog.String("id_masked", MaskID(deviceID)),
		slog.String("id_hash", hashID(deviceID)),
	)
}

func failureAttrs(err error) []slog.Attr {
	return []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_kind", KindOf(err).String()),
		slog.Bool("infrastructure", IsInfrastructure(err)),
	}
}

// levelFor logs validation rejections at warn and store failures at error.
func levelFor(err error) slog.Level {
	if IsInfrastructure(err) {
		return slog.LevelError
	}
	return slog.LevelWarn
}
