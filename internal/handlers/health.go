package handlers

import (
	"net/http"

	"deepseek-chat/internal/models"
)

type HealthHandler struct {
	relay Relay
}

func NewHealthHandler(relay Relay) *HealthHandler {
	return &HealthHandler{relay: relay}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.HealthResponse{
		Status:           "ok",
		APIKeyConfigured: h.relay.Configured(),
	})
}
