// Package api exposes the push delivery core over HTTP: token lifecycle
// callbacks, app-state changes, presentation queries and direct delivery.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// TokenLifecycle is the token half of the entry point adapter.
type TokenLifecycle interface {
	RegisterToken(channel push.Channel, token push.Token) error
	FailToken(channel push.Channel, cause error) error
	InvalidateToken(channel push.Channel, reason string) error
}

// TokenSnapshot reads the registry's current tokens.
type TokenSnapshot interface {
	Snapshot() map[push.Channel]push.Token
}

type TokenAPI struct {
	Lifecycle TokenLifecycle
	Tokens    TokenSnapshot
	Owner     string
	Logger    *slog.Logger
}

// NewTokenAPI creates the token handlers. owner is the canonical installation
// owner URN, or empty to accept any authenticated caller.
func NewTokenAPI(lifecycle TokenLifecycle, tokens TokenSnapshot, owner string, logger *slog.Logger) *TokenAPI {
	return &TokenAPI{
		Lifecycle: lifecycle,
		Tokens:    tokens,
		Owner:     owner,
		Logger:    logger.With("component", "TokenAPI"),
	}
}

// RegisterTokenRequest carries the OS-issued token, either as raw bytes
// (base64 in JSON) or in its hex text form.
type RegisterTokenRequest struct {
	Token    []byte `json:"token,omitempty"`
	TokenHex string `json:"token_hex,omitempty"`
}

type FailureRequest struct {
	Error string `json:"error"`
}

type InvalidateRequest struct {
	Reason string `json:"reason"`
}

// TokensResponse maps channel name to hex token.
type TokensResponse struct {
	Tokens map[string]string `json:"tokens"`
}

// RegisterToken handles POST /api/v1/tokens/{channel}.
func (api *TokenAPI) RegisterToken(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, api.Owner) {
		return
	}
	channel, ok := pathChannel(w, r)
	if !ok {
		return
	}

	var req RegisterTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	token := push.Token(req.Token)
	if req.TokenHex != "" {
		parsed, err := push.ParseHexToken(req.TokenHex)
		if err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "token_hex is not hex")
			return
		}
		token = parsed
	}
	if token.IsEmpty() {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Lifecycle.RegisterToken(channel, token); err != nil {
		api.Logger.Error("RegisterToken failed", "channel", channel.String(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "registration failed")
		return
	}
	api.Logger.Debug("Token received", "channel", channel.String(), "token", token.Redacted())
	w.WriteHeader(http.StatusNoContent)
}

// RegistrationFailed handles POST /api/v1/tokens/{channel}/failure.
func (api *TokenAPI) RegistrationFailed(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, api.Owner) {
		return
	}
	channel, ok := pathChannel(w, r)
	if !ok {
		return
	}

	var req FailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Error == "" {
		req.Error = "unspecified"
	}

	if err := api.Lifecycle.FailToken(channel, errors.New(req.Error)); err != nil {
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to record failure")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateToken handles DELETE /api/v1/tokens/{channel}. The body is
// optional.
func (api *TokenAPI) InvalidateToken(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, api.Owner) {
		return
	}
	channel, ok := pathChannel(w, r)
	if !ok {
		return
	}

	var req InvalidateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}

	if err := api.Lifecycle.InvalidateToken(channel, req.Reason); err != nil {
		api.Logger.Warn("InvalidateToken failed", "channel", channel.String(), "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "failed to invalidate token")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTokens handles GET /api/v1/tokens.
func (api *TokenAPI) ListTokens(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, api.Owner) {
		return
	}
	out := TokensResponse{Tokens: make(map[string]string)}
	for ch, tok := range api.Tokens.Snapshot() {
		out.Tokens[ch.String()] = tok.Hex()
	}
	writeJSON(w, http.StatusOK, out)
}

// authorize requires an authenticated caller. When owner is set the caller
// must be that installation owner.
func authorize(w http.ResponseWriter, r *http.Request, owner string) bool {
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if owner == "" {
		return true
	}
	caller, err := urn.Parse(userID)
	if err != nil || caller.String() != owner {
		response.WriteJSONError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func pathChannel(w http.ResponseWriter, r *http.Request) (push.Channel, bool) {
	channel, err := push.ParseChannel(r.PathValue("channel"))
	if err != nil {
		response.WriteJSONError(w, http.StatusNotFound, "unknown channel")
		return push.ChannelUnknown, false
	}
	return channel, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
