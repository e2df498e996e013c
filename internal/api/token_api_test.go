package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-push-delivery/internal/api"
	"github.com/tinywideclouds/go-push-delivery/internal/entrypoint"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// --- Mocks ---
type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) RegisterToken(channel push.Channel, token push.Token) error {
	args := m.Called(channel, token)
	return args.Error(0)
}
func (m *MockLifecycle) FailToken(channel push.Channel, cause error) error {
	args := m.Called(channel, cause)
	return args.Error(0)
}
func (m *MockLifecycle) InvalidateToken(channel push.Channel, reason string) error {
	args := m.Called(channel, reason)
	return args.Error(0)
}

type staticSnapshot map[push.Channel]push.Token

func (s staticSnapshot) Snapshot() map[push.Channel]push.Token { return s }

type MockCore struct {
	mock.Mock
}

func (m *MockCore) AppStateChanged(state push.AppState) {
	m.Called(state)
}
func (m *MockCore) WillPresentNotification(payload push.Payload) push.PresentationDecision {
	args := m.Called(payload)
	return args.Get(0).(push.PresentationDecision)
}
func (m *MockCore) Deliver(ctx context.Context, d entrypoint.Delivery) *push.Completion {
	args := m.Called(ctx, d)
	if fn, ok := args.Get(0).(func(context.Context, entrypoint.Delivery) *push.Completion); ok {
		return fn(ctx, d)
	}
	return args.Get(0).(*push.Completion)
}

// --- Setup ---
const ownerID = "urn:test:user:123"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTokenAPI(t *testing.T, snapshot staticSnapshot) (*api.TokenAPI, *MockLifecycle) {
	t.Helper()
	owner, err := urn.Parse(ownerID)
	require.NoError(t, err)
	lifecycle := new(MockLifecycle)
	return api.NewTokenAPI(lifecycle, snapshot, owner.String(), newTestLogger()), lifecycle
}

// withUser simulates the auth middleware.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

// serve routes through a mux so path values resolve.
func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle(pattern, h)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}

// --- Tests ---

func TestRegisterToken(t *testing.T) {
	const pattern = "POST /api/v1/tokens/{channel}"

	t.Run("Success - hex token on the wake channel", func(t *testing.T) {
		apiHandler, lifecycle := setupTokenAPI(t, nil)
		lifecycle.On("RegisterToken", push.ChannelSilentWake, push.Token{0xBE, 0xEF}).Return(nil)

		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/silent_wake",
			jsonBody(t, map[string]string{"token_hex": "beef"})), ownerID)
		w := serve(pattern, apiHandler.RegisterToken, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		lifecycle.AssertExpectations(t)
	})

	t.Run("Success - raw token bytes", func(t *testing.T) {
		apiHandler, lifecycle := setupTokenAPI(t, nil)
		lifecycle.On("RegisterToken", push.ChannelUserNotification, push.Token{0x01, 0x02}).Return(nil)

		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/user_notification",
			jsonBody(t, map[string][]byte{"token": {0x01, 0x02}})), ownerID)
		w := serve(pattern, apiHandler.RegisterToken, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		lifecycle.AssertExpectations(t)
	})

	t.Run("Rejects empty token", func(t *testing.T) {
		apiHandler, lifecycle := setupTokenAPI(t, nil)
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/silent_wake",
			strings.NewReader(`{}`)), ownerID)
		w := serve(pattern, apiHandler.RegisterToken, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		lifecycle.AssertNotCalled(t, "RegisterToken", mock.Anything, mock.Anything)
	})

	t.Run("Rejects non-hex token", func(t *testing.T) {
		apiHandler, _ := setupTokenAPI(t, nil)
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/silent_wake",
			strings.NewReader(`{"token_hex":"zz"}`)), ownerID)
		w := serve(pattern, apiHandler.RegisterToken, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown channel", func(t *testing.T) {
		apiHandler, _ := setupTokenAPI(t, nil)
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/sms",
			strings.NewReader(`{"token_hex":"beef"}`)), ownerID)
		w := serve(pattern, apiHandler.RegisterToken, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		apiHandler, _ := setupTokenAPI(t, nil)
		req := httptest.NewRequest("POST", "/api/v1/tokens/silent_wake", strings.NewReader(`{"token_hex":"beef"}`))
		w := serve(pattern, apiHandler.RegisterToken, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Wrong owner", func(t *testing.T) {
		apiHandler, _ := setupTokenAPI(t, nil)
		req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/silent_wake",
			strings.NewReader(`{"token_hex":"beef"}`)), "urn:test:user:999")
		w := serve(pattern, apiHandler.RegisterToken, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRegistrationFailed(t *testing.T) {
	apiHandler, lifecycle := setupTokenAPI(t, nil)
	lifecycle.On("FailToken", push.ChannelUserNotification, mock.MatchedBy(func(err error) bool {
		return err.Error() == "no aps-environment entitlement"
	})).Return(nil)

	req := withUser(httptest.NewRequest("POST", "/api/v1/tokens/user_notification/failure",
		jsonBody(t, map[string]string{"error": "no aps-environment entitlement"})), ownerID)
	w := serve("POST /api/v1/tokens/{channel}/failure", apiHandler.RegistrationFailed, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	lifecycle.AssertExpectations(t)
}

func TestInvalidateToken(t *testing.T) {
	const pattern = "DELETE /api/v1/tokens/{channel}"

	t.Run("With reason", func(t *testing.T) {
		apiHandler, lifecycle := setupTokenAPI(t, nil)
		lifecycle.On("InvalidateToken", push.ChannelSilentWake, "credentials revoked").Return(nil)

		req := withUser(httptest.NewRequest("DELETE", "/api/v1/tokens/wake",
			jsonBody(t, map[string]string{"reason": "credentials revoked"})), ownerID)
		w := serve(pattern, apiHandler.InvalidateToken, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		lifecycle.AssertExpectations(t)
	})

	t.Run("Without body", func(t *testing.T) {
		apiHandler, lifecycle := setupTokenAPI(t, nil)
		lifecycle.On("InvalidateToken", push.ChannelSilentWake, "").Return(nil)

		req := withUser(httptest.NewRequest("DELETE", "/api/v1/tokens/silent_wake", nil), ownerID)
		w := serve(pattern, apiHandler.InvalidateToken, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		lifecycle.AssertExpectations(t)
	})

	t.Run("Store error", func(t *testing.T) {
		apiHandler, lifecycle := setupTokenAPI(t, nil)
		lifecycle.On("InvalidateToken", push.ChannelSilentWake, "").Return(errors.New("boom"))

		req := withUser(httptest.NewRequest("DELETE", "/api/v1/tokens/silent_wake", nil), ownerID)
		w := serve(pattern, apiHandler.InvalidateToken, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestListTokens(t *testing.T) {
	apiHandler, _ := setupTokenAPI(t, staticSnapshot{
		push.ChannelUserNotification: push.Token{0xAB, 0xCD},
	})

	req := withUser(httptest.NewRequest("GET", "/api/v1/tokens", nil), ownerID)
	w := serve("GET /api/v1/tokens", apiHandler.ListTokens, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp api.TokensResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, map[string]string{"user_notification": "abcd"}, resp.Tokens)
}
