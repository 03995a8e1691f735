package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"notiflogger/internal/activation"
	apierrors "notiflogger/internal/errors"
	appmiddleware "notiflogger/internal/middleware"
	"notiflogger/internal/services"
	"notiflogger/internal/shared/testutil"
)

// MockActivationService implements services.ActivationService for testing
type MockActivationService struct {
	mock.Mock
}

func (m *MockActivationService) Status(ctx context.Context) (*services.StatusResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusResponse), args.Error(1)
}

func (m *MockActivationService) Activate(ctx context.Context, token string) (*services.StatusResponse, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusResponse), args.Error(1)
}

func (m *MockActivationService) ActivateOffline(ctx context.Context, req services.OfflineActivationRequest) (*services.StatusResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusResponse), args.Error(1)
}

func (m *MockActivationService) Deactivate(ctx context.Context) (*services.StatusResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.StatusResponse), args.Error(1)
}

func (m *MockActivationService) Debug(ctx context.Context, token, deviceID string) (*services.DebugResponse, error) {
	args := m.Called(ctx, token, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.DebugResponse), args.Error(1)
}

func (m *MockActivationService) Info(ctx context.Context) (*services.InfoResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.InfoResponse), args.Error(1)
}

func newTestHandler(svc services.ActivationService, allowOffline bool) http.Handler {
	return newTestHandlerWithTimeout(svc, allowOffline, 0)
}

func newTestHandlerWithTimeout(svc services.ActivationService, allowOffline bool, timeout time.Duration) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	errorHandler := apierrors.NewErrorHandler(logger, false)
	validation := appmiddleware.NewValidationMiddleware(logger, errorHandler)
	handler := NewActivationHandler(svc, validation, errorHandler, logger, allowOffline, timeout)

	r := chi.NewRouter()
	r.Mount("/api/activation", handler.Routes())
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func activeStatus() *services.StatusResponse {
	expires := testutil.Epoch.Add(time.Hour)
	return &services.StatusResponse{
		Active:           true,
		State:            "active",
		DeviceIDMasked:   "3569****3809",
		ActivationUUID:   "0c6f5e7a-1111-2222-3333-444455556666",
		ExpiresAt:        &expires,
		RemainingSeconds: 3600,
		CheckedAt:        testutil.Epoch,
	}
}

func TestActivationHandler_GetStatus(t *testing.T) {
	tests := []struct {
		name           string
		setupMock      func(*MockActivationService)
		expectedStatus int
		expectedBody   func(*testing.T, map[string]interface{})
	}{
		{
			name: "active",
			setupMock: func(m *MockActivationService) {
				m.On("Status", mock.Anything).Return(activeStatus(), nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, true, body["active"])
				assert.Equal(t, "active", body["state"])
				assert.Equal(t, "3569****3809", body["device_id_masked"])
				assert.Equal(t, float64(3600), body["remaining_seconds"])
			},
		},
		{
			name: "unactivated",
			setupMock: func(m *MockActivationService) {
				m.On("Status", mock.Anything).Return(&services.StatusResponse{State: "unactivated"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, false, body["active"])
				assert.Equal(t, "unactivated", body["state"])
			},
		},
		{
			name: "store failure",
			setupMock: func(m *MockActivationService) {
				m.On("Status", mock.Anything).Return(nil, activation.ErrStoreIO)
			},
			expectedStatus: http.StatusServiceUnavailable,
			expectedBody: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, apierrors.TypeStoreUnavailable, body["type"])
				assert.Equal(t, "store_io", body["kind"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockActivationService)
			tt.setupMock(svc)

			w, body := doJSON(t, newTestHandler(svc, false), http.MethodGet, "/api/activation/status", nil)

			assert.Equal(t, tt.expectedStatus, w.Code)
			tt.expectedBody(t, body)
			svc.AssertExpectations(t)
		})
	}
}

func TestActivationHandler_Activate(t *testing.T) {
	tests := []struct {
		name           string
		requestBody    interface{}
		setupMock      func(*MockActivationService)
		expectedStatus int
		expectedType   string
		expectedKind   string
	}{
		{
			name:        "valid token",
			requestBody: map[string]string{"token": "dG9rZW4="},
			setupMock: func(m *MockActivationService) {
				m.On("Activate", mock.Anything, "dG9rZW4=").Return(activeStatus(), nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:        "empty token reaches the engine",
			requestBody: map[string]string{"token": ""},
			setupMock: func(m *MockActivationService) {
				m.On("Activate", mock.Anything, "").Return(nil, activation.ErrEmptyToken)
			},
			expectedStatus: http.StatusBadRequest,
			expectedType:   apierrors.TypeInvalidToken,
			expectedKind:   "empty_token",
		},
		{
			name:        "foreign device",
			requestBody: map[string]string{"token": "Zm9yZWlnbg=="},
			setupMock: func(m *MockActivationService) {
				m.On("Activate", mock.Anything, "Zm9yZWlnbg==").Return(nil, activation.ErrDeviceMismatch)
			},
			expectedStatus: http.StatusForbidden,
			expectedType:   apierrors.TypeDeviceMismatch,
			expectedKind:   "device_mismatch",
		},
		{
			name:        "no device id",
			requestBody: map[string]string{"token": "dG9rZW4="},
			setupMock: func(m *MockActivationService) {
				m.On("Activate", mock.Anything, "dG9rZW4=").Return(nil, activation.ErrMissingDeviceID)
			},
			expectedStatus: http.StatusPreconditionFailed,
			expectedType:   apierrors.TypeDeviceUnavailable,
			expectedKind:   "missing_device_id",
		},
		{
			name:        "expired window",
			requestBody: map[string]string{"token": "b2xk"},
			setupMock: func(m *MockActivationService) {
				m.On("Activate", mock.Anything, "b2xk").Return(nil, activation.ErrExpired)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedType:   apierrors.TypeExpired,
			expectedKind:   "expired",
		},
		{
			name:           "unknown body field",
			requestBody:    map[string]string{"license_key": "x"},
			setupMock:      func(*MockActivationService) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   apierrors.TypeValidation,
		},
		{
			name:           "oversized token",
			requestBody:    map[string]string{"token": string(bytes.Repeat([]byte("A"), 9000))},
			setupMock:      func(*MockActivationService) {},
			expectedStatus: http.StatusBadRequest,
			expectedType:   apierrors.TypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockActivationService)
			tt.setupMock(svc)

			w, body := doJSON(t, newTestHandler(svc, false), http.MethodPost, "/api/activation/activate", tt.requestBody)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedType != "" {
				assert.Equal(t, tt.expectedType, body["type"])
			}
			if tt.expectedKind != "" {
				assert.Equal(t, tt.expectedKind, body["kind"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestActivationHandler_ActivateOffline(t *testing.T) {
	validBody := map[string]interface{}{
		"uuid":             "0c6f5e7a-1111-2222-3333-444455556666",
		"start_date":       "2025-01-01T00:00:00Z",
		"duration_seconds": 3600,
	}

	t.Run("disabled by configuration", func(t *testing.T) {
		svc := new(MockActivationService)

		w, body := doJSON(t, newTestHandler(svc, false), http.MethodPost, "/api/activation/activate/offline", validBody)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, apierrors.TypeFeatureDisabled, body["type"])
		svc.AssertNotCalled(t, "ActivateOffline", mock.Anything, mock.Anything)
	})

	t.Run("enabled", func(t *testing.T) {
		svc := new(MockActivationService)
		svc.On("ActivateOffline", mock.Anything, services.OfflineActivationRequest{
			UUID:            "0c6f5e7a-1111-2222-3333-444455556666",
			StartDate:       "2025-01-01T00:00:00Z",
			DurationSeconds: 3600,
		}).Return(activeStatus(), nil)

		w, body := doJSON(t, newTestHandler(svc, true), http.MethodPost, "/api/activation/activate/offline", validBody)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "active", body["state"])
		svc.AssertExpectations(t)
	})

	t.Run("bad start date", func(t *testing.T) {
		svc := new(MockActivationService)
		bad := map[string]interface{}{
			"uuid":             "u-1",
			"start_date":       "yesterday",
			"duration_seconds": 60,
		}

		w, body := doJSON(t, newTestHandler(svc, true), http.MethodPost, "/api/activation/activate/offline", bad)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.TypeValidation, body["type"])
		svc.AssertNotCalled(t, "ActivateOffline", mock.Anything, mock.Anything)
	})

	t.Run("device mismatch", func(t *testing.T) {
		svc := new(MockActivationService)
		svc.On("ActivateOffline", mock.Anything, mock.AnythingOfType("services.OfflineActivationRequest")).
			Return(nil, activation.ErrDeviceMismatch)

		withDevice := map[string]interface{}{
			"device_id":        "111111111111111",
			"uuid":             "u-1",
			"start_date":       "2025-01-01T00:00:00Z",
			"duration_seconds": 60,
		}
		w, body := doJSON(t, newTestHandler(svc, true), http.MethodPost, "/api/activation/activate/offline", withDevice)

		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "device_mismatch", body["kind"])
		svc.AssertExpectations(t)
	})
}

func TestActivationHandler_Deactivate(t *testing.T) {
	svc := new(MockActivationService)
	svc.On("Deactivate", mock.Anything).Return(&services.StatusResponse{State: "unactivated"}, nil)

	w, body := doJSON(t, newTestHandler(svc, false), http.MethodPost, "/api/activation/deactivate", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["active"])
	svc.AssertExpectations(t)
}

func TestActivationHandler_Debug(t *testing.T) {
	t.Run("invalid token still returns a report", func(t *testing.T) {
		svc := new(MockActivationService)
		svc.On("Debug", mock.Anything, "bm9wZQ==", "").Return(&services.DebugResponse{
			Report: activation.Report{
				DeviceID:        "3569****3809",
				DeviceIDPresent: true,
				Base64OK:        true,
				Window:          "unknown",
				Valid:           false,
				FailureKind:     "malformed_json",
			},
			Text: "result: INVALID (malformed_json)",
		}, nil)

		w, body := doJSON(t, newTestHandler(svc, false), http.MethodPost, "/api/activation/debug", map[string]string{"token": "bm9wZQ=="})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, body["valid"])
		assert.Equal(t, "malformed_json", body["failure_kind"])
		assert.Contains(t, body["text"], "INVALID")
		svc.AssertExpectations(t)
	})

	t.Run("explicit device id", func(t *testing.T) {
		svc := new(MockActivationService)
		svc.On("Debug", mock.Anything, "dG9rZW4=", "356938035643809").Return(&services.DebugResponse{
			Report: activation.Report{Valid: true, Window: "inside"},
			Text:   "result: VALID",
		}, nil)

		w, body := doJSON(t, newTestHandler(svc, false), http.MethodPost, "/api/activation/debug",
			map[string]string{"token": "dG9rZW4=", "device_id": "356938035643809"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, body["valid"])
		svc.AssertExpectations(t)
	})
}

func TestActivationHandler_GetInfo(t *testing.T) {
	svc := new(MockActivationService)
	svc.On("Info", mock.Anything).Return(&services.InfoResponse{
		StatusResponse: *activeStatus(),
		Summary:        "state: active",
	}, nil)

	w, body := doJSON(t, newTestHandler(svc, false), http.MethodGet, "/api/activation/info", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "state: active", body["summary"])
	assert.Equal(t, "active", body["state"])
	svc.AssertExpectations(t)
}

func TestActivationHandler_MethodNotAllowed(t *testing.T) {
	svc := new(MockActivationService)
	req := httptest.NewRequest(http.MethodGet, "/api/activation/activate", nil)
	w := httptest.NewRecorder()

	newTestHandler(svc, false).ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestActivationHandler_RequestTimeout(t *testing.T) {
	tests := []struct {
		name       string
		configured time.Duration
		expected   time.Duration
	}{
		{"configured", 3 * time.Second, 3 * time.Second},
		{"unset falls back to default", 0, defaultRequestTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var remaining time.Duration
			svc := new(MockActivationService)
			svc.On("Status", mock.Anything).Run(func(args mock.Arguments) {
				deadline, ok := args.Get(0).(context.Context).Deadline()
				require.True(t, ok)
				remaining = time.Until(deadline)
			}).Return(activeStatus(), nil)

			w, _ := doJSON(t, newTestHandlerWithTimeout(svc, false, tt.configured), http.MethodGet, "/api/activation/status", nil)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.LessOrEqual(t, remaining, tt.expected)
			assert.Greater(t, remaining, tt.expected-time.Second)
			svc.AssertExpectations(t)
		})
	}
}
