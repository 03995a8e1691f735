package services

import (
	"context"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"notiflogger/internal/activation"
	"notiflogger/internal/device"
)

// Pinger is implemented by stores that can report reachability, such as
// the Redis store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ClientCounter reports connected status feed clients.
type ClientCounter interface {
	ClientCount() int
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	buildTime string
	engine    *activation.Engine
	device    device.Provider
	store     activation.Store
	hub       ClientCounter
	startTime time.Time
	timeout   time.Duration
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHealthService creates a new health service. hub may be nil.
func NewHealthService(version, buildTime string, engine *activation.Engine, provider device.Provider, store activation.Store, hub ClientCounter, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:   version,
		buildTime: buildTime,
		engine:    engine,
		device:    provider,
		store:     store,
		hub:       hub,
		startTime: time.Now(),
		timeout:   2 * time.Second,
		logger:    logger.With(slog.String("component", "health_service")),
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck probes the store and the device provider concurrently.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, hs.timeout)
	defer cancel()

	var storeHealth, deviceHealth ServiceHealth
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		storeHealth = hs.checkStore(gctx)
		return nil
	})
	g.Go(func() error {
		deviceHealth = hs.checkDevice(gctx)
		return nil
	})
	_ = g.Wait()

	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]ServiceHealth{
			"store":     storeHealth,
			"device":    deviceHealth,
			"websocket": hs.checkWebSocket(),
		},
	}
	for name, sh := range status.Services {
		if sh.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "readiness check failed",
				slog.String("service", name),
				slog.String("message", sh.Message))
		}
	}
	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	result := map[string]interface{}{
		"version":    hs.version,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     time.Since(hs.startTime).Seconds(),
		"start_time": hs.startTime.Format(time.RFC3339),
	}
	if hs.buildTime != "" {
		result["build_time"] = hs.buildTime
	}
	return result
}

func (hs *HealthService) checkStore(ctx context.Context) ServiceHealth {
	if p, ok := hs.store.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return ServiceHealth{Status: "not_ready", Message: err.Error()}
		}
	}
	if _, err := hs.engine.Current(ctx); err != nil {
		return ServiceHealth{Status: "not_ready", Message: err.Error()}
	}
	return ServiceHealth{Status: "ready"}
}

func (hs *HealthService) checkDevice(ctx context.Context) ServiceHealth {
	id, err := hs.device.GetID(ctx)
	if err != nil {
		return ServiceHealth{Status: "not_ready", Message: err.Error()}
	}
	return ServiceHealth{Status: "ready", Message: "device " + activation.MaskID(id)}
}

func (hs *HealthService) checkWebSocket() ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{Status: "ready", Message: "status feed disabled"}
	}
	return ServiceHealth{Status: "ready", Message: "clients: " + strconv.Itoa(hs.hub.ClientCount())}
}
