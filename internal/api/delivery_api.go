package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-delivery/internal/entrypoint"
	"github.com/tinywideclouds/go-push-delivery/pkg/push"
)

// Core is the delivery half of the entry point adapter.
type Core interface {
	AppStateChanged(state push.AppState)
	WillPresentNotification(payload push.Payload) push.PresentationDecision
	Deliver(ctx context.Context, d entrypoint.Delivery) *push.Completion
}

type DeliveryAPI struct {
	Core   Core
	Owner  string
	Logger *slog.Logger
}

func NewDeliveryAPI(core Core, owner string, logger *slog.Logger) *DeliveryAPI {
	return &DeliveryAPI{
		Core:   core,
		Owner:  owner,
		Logger: logger.With("component", "DeliveryAPI"),
	}
}

type AppStateRequest struct {
	State string `json:"state"`
}

// DeliverResponse reports the outcome the completion fired with.
type DeliverResponse struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// SetAppState handles PUT /api/v1/app-state.
func (api *DeliveryAPI) SetAppState(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, api.Owner) {
		return
	}
	var req AppStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	state, err := push.ParseAppState(req.State)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	api.Core.AppStateChanged(state)
	w.WriteHeader(http.StatusNoContent)
}

// Present handles POST /api/v1/present. The body is the notification
// payload; the answer is the foreground presentation decision.
func (api *DeliveryAPI) Present(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, api.Owner) {
		return
	}
	var payload push.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "payload must be a json object")
		return
	}
	writeJSON(w, http.StatusOK, api.Core.WillPresentNotification(payload))
}

// Deliver handles POST /api/v1/push/{channel}. It holds the request until
// the completion fires, which the router bounds by the channel deadline.
// An optional X-Event-ID header names the event.
func (api *DeliveryAPI) Deliver(w http.ResponseWriter, r *http.Request) {
	if !authorize(w, r, api.Owner) {
		return
	}
	channel, ok := pathChannel(w, r)
	if !ok {
		return
	}
	var payload push.Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "payload must be a json object")
		return
	}

	eventID := r.Header.Get("X-Event-ID")
	if eventID == "" {
		eventID = uuid.NewString()
	}
	completion := api.Core.Deliver(r.Context(), entrypoint.Delivery{
		ID:      eventID,
		Channel: channel,
		Payload: payload,
		Completion: func(o push.Outcome) {
			api.Logger.Debug("Direct delivery completed", "channel", channel.String(), "outcome", o.String())
		},
	})

	select {
	case <-completion.Done():
	case <-r.Context().Done():
		api.Logger.Warn("Client went away before completion", "event_id", eventID)
		response.WriteJSONError(w, http.StatusGatewayTimeout, "request ended before completion")
		return
	}

	writeJSON(w, http.StatusOK, DeliverResponse{EventID: eventID, Outcome: completion.Outcome().String()})
}
