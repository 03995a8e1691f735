package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"notiflogger/internal/activation"
	apierrors "notiflogger/internal/errors"
	appmiddleware "notiflogger/internal/middleware"
	"notiflogger/internal/services"
)

// ActivateRequest is the body of POST /activate. An empty token is left
// to the engine so it is reported as empty_token.
type ActivateRequest struct {
	Token string `json:"token" validate:"max=8192"`
}

// DebugRequest is the body of POST /debug. DeviceID defaults to the
// local device.
type DebugRequest struct {
	Token    string `json:"token" validate:"max=8192"`
	DeviceID string `json:"device_id,omitempty" validate:"omitempty,deviceid"`
}

// ActivationHandler serves the activation API.
type ActivationHandler struct {
	service      services.ActivationService
	validation   *appmiddleware.ValidationMiddleware
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
	tracer       trace.Tracer
	allowOffline bool
	timeout      time.Duration
}

// defaultRequestTimeout applies when no positive timeout is configured.
const defaultRequestTimeout = 10 * time.Second

// NewActivationHandler creates the handler. Offline activation is served
// only when allowOffline is set. Every request runs under timeout.
func NewActivationHandler(
	service services.ActivationService,
	validation *appmiddleware.ValidationMiddleware,
	errorHandler *apierrors.ErrorHandler,
	logger *slog.Logger,
	allowOffline bool,
	timeout time.Duration,
) *ActivationHandler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &ActivationHandler{
		service:      service,
		validation:   validation,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "activation")),
		tracer:       otel.Tracer("notiflogger/transport"),
		allowOffline: allowOffline,
		timeout:      timeout,
	}
}

// Routes returns a chi router for activation endpoints
func (h *ActivationHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(h.timeout))

	r.Get("/status", h.GetStatus)
	r.Get("/info", h.GetInfo)
	r.Post("/activate", h.Activate)
	r.Post("/activate/offline", h.ActivateOffline)
	r.Post("/deactivate", h.Deactivate)
	r.Post("/debug", h.Debug)
	return r
}

func (h *ActivationHandler) startSpan(r *http.Request, op string) (context.Context, trace.Span) {
	return h.tracer.Start(r.Context(), "activation_handler."+op,
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("request_id", middleware.GetReqID(r.Context())),
			attribute.String("operation", op),
		),
	)
}

// fail records err on the span and renders it. Rejections of the
// caller's token are logged at info; everything else at error.
func (h *ActivationHandler) fail(w http.ResponseWriter, r *http.Request, span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.String("error.kind", activation.KindOf(err).String()))

	level := slog.LevelError
	if activation.IsValidation(err) {
		level = slog.LevelInfo
	}
	h.logger.Log(r.Context(), level, "activation request failed",
		slog.String("operation", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("error", err.Error()),
	)
	h.errorHandler.HandleError(w, r, err)
}

// GetStatus handles GET /api/activation/status
func (h *ActivationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "status")
	defer span.End()
	r = r.WithContext(ctx)

	status, err := h.service.Status(ctx)
	if err != nil {
		h.fail(w, r, span, "status", err)
		return
	}
	span.SetAttributes(attribute.String("activation.state", status.State))
	render.JSON(w, r, status)
}

// GetInfo handles GET /api/activation/info
func (h *ActivationHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "info")
	defer span.End()
	r = r.WithContext(ctx)

	info, err := h.service.Info(ctx)
	if err != nil {
		h.fail(w, r, span, "info", err)
		return
	}
	render.JSON(w, r, info)
}

// Activate handles POST /api/activation/activate
func (h *ActivationHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "activate")
	defer span.End()
	r = r.WithContext(ctx)

	var req ActivateRequest
	if err := h.validation.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	span.SetAttributes(attribute.Int("token.length", len(req.Token)))

	status, err := h.service.Activate(ctx, req.Token)
	if err != nil {
		h.fail(w, r, span, "activate", err)
		return
	}

	h.logger.InfoContext(ctx, "activation accepted",
		slog.String("request_id", middleware.GetReqID(ctx)),
		slog.String("device", status.DeviceIDMasked),
		slog.Int64("remaining_seconds", status.RemainingSeconds),
	)
	render.JSON(w, r, status)
}

// ActivateOffline handles POST /api/activation/activate/offline
func (h *ActivationHandler) ActivateOffline(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "activate_offline")
	defer span.End()
	r = r.WithContext(ctx)

	if !h.allowOffline {
		h.errorHandler.HandleError(w, r, apierrors.ErrFeatureDisabled)
		return
	}

	var req services.OfflineActivationRequest
	if err := h.validation.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	status, err := h.service.ActivateOffline(ctx, req)
	if err != nil {
		h.fail(w, r, span, "activate_offline", err)
		return
	}
	render.JSON(w, r, status)
}

// Deactivate handles POST /api/activation/deactivate
func (h *ActivationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "deactivate")
	defer span.End()
	r = r.WithContext(ctx)

	status, err := h.service.Deactivate(ctx)
	if err != nil {
		h.fail(w, r, span, "deactivate", err)
		return
	}
	h.logger.InfoContext(ctx, "activation cleared",
		slog.String("request_id", middleware.GetReqID(ctx)))
	render.JSON(w, r, status)
}

// Debug handles POST /api/activation/debug. The report is returned with
// status 200 whether or not the token is valid.
func (h *ActivationHandler) Debug(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "debug")
	defer span.End()
	r = r.WithContext(ctx)

	var req DebugRequest
	if err := h.validation.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	report, err := h.service.Debug(ctx, req.Token, req.DeviceID)
	if err != nil {
		h.fail(w, r, span, "debug", err)
		return
	}
	span.SetAttributes(
		attribute.Bool("report.valid", report.Valid),
		attribute.String("report.window", report.Window),
	)
	render.JSON(w, r, report)
}
