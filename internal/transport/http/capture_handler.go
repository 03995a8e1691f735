package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// CaptureGateResponse is returned when the activation gate lets a
// request through.
type CaptureGateResponse struct {
	Allowed   bool      `json:"allowed"`
	CheckedAt time.Time `json:"checked_at"`
	RequestID string    `json:"request_id,omitempty"`
}

// CaptureHandler stands in for the notification capture service. It is
// mounted behind ActivationGate.RequireActivation, so reaching it means
// the device is active.
type CaptureHandler struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewCaptureHandler creates the capture gate handler. now defaults to
// time.Now.
func NewCaptureHandler(logger *slog.Logger, now func() time.Time) *CaptureHandler {
	if now == nil {
		now = time.Now
	}
	return &CaptureHandler{
		logger: logger.With(slog.String("handler", "capture")),
		now:    now,
	}
}

// Gate handles GET /api/capture/gate
func (h *CaptureHandler) Gate(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	h.logger.DebugContext(r.Context(), "capture allowed", slog.String("request_id", reqID))
	render.JSON(w, r, CaptureGateResponse{
		Allowed:   true,
		CheckedAt: h.now().UTC(),
		RequestID: reqID,
	})
}
