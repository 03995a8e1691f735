package http

import (
	"net/http"

	"github.com/go-chi/render"

	apierrors "notiflogger/internal/errors"
)

// MetricsHandler exposes the Prometheus registry. A nil exporter means
// metrics are disabled and the endpoint answers 404.
type MetricsHandler struct {
	exporter http.Handler
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(exporter http.Handler) *MetricsHandler {
	return &MetricsHandler{exporter: exporter}
}

// ServeHTTP handles GET /metrics
func (h *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.exporter == nil {
		_ = render.Render(w, r, apierrors.ErrFeatureDisabled.ToProblem(r.URL.Path))
		return
	}
	h.exporter.ServeHTTP(w, r)
}
