package services

import (
	"context"
	"log/slog"
	"time"

	"notiflogger/internal/activation"
	"notiflogger/internal/device"
	"notiflogger/internal/infrastructure"
)

// ActivationService is the HTTP-facing view of the activation engine.
// It resolves the local device id for every operation that needs one.
type ActivationService interface {
	Status(ctx context.Context) (*StatusResponse, error)
	Activate(ctx context.Context, token string) (*StatusResponse, error)
	ActivateOffline(ctx context.Context, req OfflineActivationRequest) (*StatusResponse, error)
	Deactivate(ctx context.Context) (*StatusResponse, error)
	Debug(ctx context.Context, token, deviceID string) (*DebugResponse, error)
	Info(ctx context.Context) (*InfoResponse, error)
}

// StatusResponse describes the persisted activation.
type StatusResponse struct {
	Active           bool       `json:"active"`
	State            string     `json:"state"`
	DeviceIDMasked   string     `json:"device_id_masked,omitempty"`
	ActivationUUID   string     `json:"activation_uuid,omitempty"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	CheckedAt        time.Time  `json:"checked_at"`
	TraceID          string     `json:"trace_id,omitempty"`
}

// InfoResponse adds the human readable summary to StatusResponse.
type InfoResponse struct {
	StatusResponse
	Summary string `json:"summary"`
}

// OfflineActivationRequest carries the claims of a token entered by hand.
type OfflineActivationRequest struct {
	DeviceID        string `json:"device_id,omitempty" validate:"omitempty,deviceid"`
	UUID            string `json:"uuid" validate:"required,max=128"`
	StartDate       string `json:"start_date" validate:"required,startdate"`
	DurationSeconds int64  `json:"duration_seconds" validate:"gte=0"`
}

// DebugResponse is a debug report safe to return over the API.
type DebugResponse struct {
	activation.Report
	Text string `json:"text"`
}

type activationService struct {
	engine *activation.Engine
	device device.Provider
	logger *slog.Logger
}

// NewActivationService composes the engine with the device provider.
func NewActivationService(engine *activation.Engine, provider device.Provider, logger *slog.Logger) ActivationService {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &activationService{
		engine: engine,
		device: provider,
		logger: logger.With(slog.String("component", "activation_service")),
	}
}

// deviceID resolves the local id. A failing provider yields "", which
// the engine rejects as a missing device id.
func (s *activationService) deviceID(ctx context.Context) string {
	id, err := s.device.GetID(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "device id unavailable", slog.String("error", err.Error()))
		return ""
	}
	return id
}

func (s *activationService) Status(ctx context.Context) (*StatusResponse, error) {
	info, err := s.engine.Info(ctx)
	if err != nil {
		return nil, err
	}
	return s.statusFrom(ctx, info), nil
}

// Activate answers from the record Validate saved, so a later read
// failure cannot turn a completed activation into an error.
func (s *activationService) Activate(ctx context.Context, token string) (*StatusResponse, error) {
	rec, err := s.engine.Validate(ctx, s.deviceID(ctx), token)
	if err != nil {
		return nil, err
	}
	return s.statusFrom(ctx, s.engine.Snapshot(rec)), nil
}

func (s *activationService) ActivateOffline(ctx context.Context, req OfflineActivationRequest) (*StatusResponse, error) {
	local := s.deviceID(ctx)
	if local == "" {
		return nil, activation.ErrMissingDeviceID
	}
	if req.DeviceID != "" && req.DeviceID != local {
		return nil, activation.ErrDeviceMismatch
	}

	start, err := activation.ParseStartTime(req.StartDate)
	if err != nil {
		return nil, err
	}
	rec, err := s.engine.Activate(ctx, local, req.UUID, start, req.DurationSeconds)
	if err != nil {
		return nil, err
	}
	return s.statusFrom(ctx, s.engine.Snapshot(rec)), nil
}

func (s *activationService) Deactivate(ctx context.Context) (*StatusResponse, error) {
	if err := s.engine.Deactivate(ctx); err != nil {
		return nil, err
	}
	return s.statusFrom(ctx, s.engine.Snapshot(activation.Record{})), nil
}

// Debug reports on token for deviceID, or for the local device when
// deviceID is empty. Device ids are masked in the response.
func (s *activationService) Debug(ctx context.Context, token, deviceID string) (*DebugResponse, error) {
	if deviceID == "" {
		deviceID = s.deviceID(ctx)
	}
	report := s.engine.DebugReport(ctx, deviceID, token).Masked()
	return &DebugResponse{Report: report, Text: report.String()}, nil
}

func (s *activationService) Info(ctx context.Context) (*InfoResponse, error) {
	info, err := s.engine.Info(ctx)
	if err != nil {
		return nil, err
	}
	masked := info.Record
	masked.BoundDeviceID = activation.MaskID(masked.BoundDeviceID)
	return &InfoResponse{
		StatusResponse: *s.statusFrom(ctx, info),
		Summary:        masked.Summary(),
	}, nil
}

func (s *activationService) statusFrom(ctx context.Context, info activation.Info) *StatusResponse {
	rec := info.Record
	resp := &StatusResponse{
		Active:           info.State == activation.StateActive,
		State:            string(info.State),
		RemainingSeconds: int64(info.Remaining / time.Second),
		CheckedAt:        info.CheckedAt,
		TraceID:          infrastructure.GetTraceID(ctx),
	}
	if !rec.IsZero() {
		resp.DeviceIDMasked = activation.MaskID(rec.BoundDeviceID)
		resp.ActivationUUID = rec.ActivationUUID
		activated := rec.ActivatedAtTime()
		expires := rec.ExpiresAtTime()
		resp.ActivatedAt = &activated
		resp.ExpiresAt = &expires
	}
	return resp
}

