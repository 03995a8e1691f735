package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"notiflogger/internal/activation"
	"notiflogger/internal/config"
	"notiflogger/internal/device"
	apierrors "notiflogger/internal/errors"
	"notiflogger/internal/infrastructure"
	appmiddleware "notiflogger/internal/middleware"
	"notiflogger/internal/security"
	"notiflogger/internal/services"
	handlers "notiflogger/internal/transport/http"
	ws "notiflogger/internal/websocket"
)

// Build information, set with -ldflags at build time.
var (
	Version   = "dev"
	BuildTime = ""
)

// AppName identifies the daemon in logs and telemetry.
const AppName = "notiflogger-activation"

// Application holds every long-lived component of the daemon.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Router        *chi.Mux
	Server        *http.Server

	Store        activation.Store
	Device       device.Provider
	Engine       *activation.Engine
	WebSocketHub *ws.Hub
	Services     *ServiceContainer
	DebugLog     *activation.DebugLog

	errorHandler *apierrors.ErrorHandler
	closers      []func() error

	listener net.Listener
	group    *errgroup.Group
	groupCtx context.Context
}

// ServiceContainer groups the services behind the HTTP handlers.
type ServiceContainer struct {
	Activation services.ActivationService
	Health     *services.HealthService
}

// NewApplication loads configuration and the process logger, then
// builds the application.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logging := cfg.Logging
	logging.FilePath = cfg.LogFilePath()
	logger, err := infrastructure.InitializeLogger(logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return New(cfg, logger)
}

// New builds the application from cfg. Nothing is started.
func New(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("store", cfg.Activation.Store.Backend),
		slog.String("device_source", cfg.Activation.Device.Source))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, Version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
		errorHandler:  apierrors.NewErrorHandler(logger, cfg.Telemetry.Environment == "development"),
	}

	if err := a.initializeServices(); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	a.createServer()
	return a, nil
}

// initializeServices builds the store, device provider, engine, hub and
// services in dependency order.
func (a *Application) initializeServices() error {
	store, err := a.buildStore()
	if err != nil {
		return err
	}
	a.Store = store

	dcfg := a.Config.Activation.Device
	provider, err := device.New(device.Config{
		Source:   dcfg.Source,
		ID:       dcfg.ID,
		EnvVar:   dcfg.EnvVar,
		File:     dcfg.File,
		CacheTTL: dcfg.CacheTTL,
	}, device.WithCacheLogger(a.Logger))
	if err != nil {
		return fmt.Errorf("failed to create device provider: %w", err)
	}
	a.Device = provider

	activationMetrics, err := activation.InitializeMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create activation metrics: %w", err)
	}
	wsMetrics, err := ws.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create websocket metrics: %w", err)
	}

	a.WebSocketHub = ws.NewHub(a.Logger, wsMetrics)

	opts := []activation.Option{
		activation.WithLogger(a.Logger),
		activation.WithTracer(a.OTelProviders.Tracer),
		activation.WithMetrics(activationMetrics),
		activation.WithListener(a.WebSocketHub.Listener()),
	}
	if path := a.Config.DebugLogPath(); path != "" {
		a.DebugLog = activation.NewDebugLog(path)
	}
	if a.Config.Activation.DebugLog && a.DebugLog != nil {
		opts = append(opts, activation.WithDebugLog(a.DebugLog))
		a.Logger.Info("activation debug log enabled",
			slog.String("path", a.Config.DebugLogPath()))
	}
	a.Engine = activation.NewEngine(a.Store, opts...)

	a.Services = &ServiceContainer{
		Activation: services.NewActivationService(a.Engine, a.Device, a.Logger),
		Health: services.NewHealthService(
			Version, BuildTime, a.Engine, a.Device, a.Store, a.WebSocketHub, a.Logger,
		),
	}
	return nil
}

// ClearDebugLog removes the debug report trail. It works whether or not
// appending is currently enabled.
func (a *Application) ClearDebugLog() error {
	if a.DebugLog == nil {
		return errors.New("no debug log file configured")
	}
	if err := a.DebugLog.Clear(); err != nil {
		return err
	}
	a.Logger.Info("activation debug log cleared", slog.String("path", a.DebugLog.Path()))
	return nil
}

// buildStore opens the configured activation store.
func (a *Application) buildStore() (activation.Store, error) {
	scfg := a.Config.Activation.Store

	switch scfg.Backend {
	case config.StoreMemory:
		a.Logger.Warn("using in-memory activation store, state is lost on restart")
		return activation.NewMemoryStore(), nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     scfg.Redis.Addr,
			Password: scfg.Redis.Password,
			DB:       scfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		a.Logger.Info("using redis activation store",
			slog.String("addr", scfg.Redis.Addr),
			slog.String("key", scfg.Redis.Key))
		return activation.NewRedisStore(client, scfg.Redis.Key), nil

	case config.StoreFile:
		var opts []activation.FileStoreOption
		if scfg.Passphrase != "" {
			sealer, err := security.NewSealer(scfg.Passphrase, security.DefaultSealConfig())
			if err != nil {
				return nil, fmt.Errorf("failed to create store sealer: %w", err)
			}
			opts = append(opts, activation.WithSealer(sealer))
		}
		path := a.Config.StorePath()
		a.Logger.Info("using file activation store",
			slog.String("path", path),
			slog.Bool("sealed", scfg.Passphrase != ""))
		return activation.NewFileStore(path, opts...), nil

	default:
		return nil, fmt.Errorf("unsupported store backend %q", scfg.Backend)
	}
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	otelMiddleware, err := appmiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return err
	}
	gateMetrics, err := appmiddleware.NewGateMetrics(a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	validation := appmiddleware.NewValidationMiddleware(a.Logger, a.errorHandler)
	gate := appmiddleware.NewActivationGate(a.Engine, a.errorHandler, a.Logger, gateMetrics)

	activationHandler := handlers.NewActivationHandler(
		a.Services.Activation, validation, a.errorHandler, a.Logger,
		a.Config.Activation.AllowOffline, a.Config.Server.RequestTimeout,
	)
	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)
	captureHandler := handlers.NewCaptureHandler(a.Logger, nil)
	metricsHandler := handlers.NewMetricsHandler(a.OTelProviders.PrometheusHTTP)
	wsHandler := ws.NewHandler(a.WebSocketHub, a.Engine, a.Config.WebSocket, a.Config.Security.AllowedOrigins, a.Logger)

	r := chi.NewRouter()

	// These do not wrap the ResponseWriter and are safe for websocket
	// upgrades.
	r.Use(appmiddleware.RequestID)
	r.Use(appmiddleware.RealIP)

	r.With(appmiddleware.WebSocketTraceMiddleware(a.Logger)).Handle("/ws", wsHandler)
	r.Handle("/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		// RequestID → RealIP → OTel → request log and recovery
		r.Use(otelMiddleware.Handler)
		r.Use(apierrors.NewErrorMiddleware(a.errorHandler, a.Logger).Handler)
		r.Use(appmiddleware.SecurityHeaders)
		r.Use(appmiddleware.CORS(a.corsConfig()))

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			r.Mount("/health", healthHandler.Routes())
			r.Get("/version", healthHandler.Version)

			activationMiddleware := []func(http.Handler) http.Handler{
				appmiddleware.ContentTypeValidator(a.errorHandler, "application/json"),
				validation.ValidateRequest,
			}
			if rl := a.Config.Security.RateLimit; rl.Enabled {
				limiter := appmiddleware.NewRateLimiter(rl.RPS, rl.Burst, a.Logger)
				activationMiddleware = append([]func(http.Handler) http.Handler{limiter.Handler}, activationMiddleware...)
			}
			r.With(activationMiddleware...).Mount("/activation", activationHandler.Routes())

			r.With(gate.RequireActivation).Get("/capture/gate", captureHandler.Gate)
		})
	})

	r.NotFound(a.errorHandler.NotFound)
	r.MethodNotAllowed(a.errorHandler.MethodNotAllowed)

	a.Router = r
	return nil
}

func (a *Application) corsConfig() appmiddleware.CORSConfig {
	return appmiddleware.CORSConfig{
		AllowedOrigins:   a.Config.Security.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
		Logger:           a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Server.Addr(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start binds the listen address and starts the hub and the server in
// the background.
func (a *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Server.Addr, err)
	}
	a.listener = ln

	a.group, a.groupCtx = errgroup.WithContext(context.WithoutCancel(ctx))
	a.group.Go(func() error {
		a.WebSocketHub.Run(a.groupCtx)
		return nil
	})
	a.group.Go(func() error {
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	a.Logger.InfoContext(ctx, "application started",
		slog.String("address", ln.Addr().String()),
		slog.String("version", Version))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (a *Application) Addr() string {
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	a.WebSocketHub.Stop()
	if a.group != nil {
		if err := a.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := a.close(); err != nil {
		errs = append(errs, err)
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown error: %w", err))
		}
	}

	a.Logger.InfoContext(ctx, "application shutdown complete")
	return errors.Join(errs...)
}

// close releases store connections.
func (a *Application) close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Run starts the application and blocks until ctx is cancelled, a
// termination signal arrives or the server fails.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(infrastructure.EnsureTraceID(ctx), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "received shutdown signal")
	case <-a.groupCtx.Done():
		a.Logger.ErrorContext(ctx, "server stopped unexpectedly")
	}

	return a.Stop(context.WithoutCancel(ctx))
}
