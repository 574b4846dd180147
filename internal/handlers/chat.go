package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"deepseek-chat/internal/middleware"
	"deepseek-chat/internal/models"
	"deepseek-chat/internal/observability/metrics"
	"deepseek-chat/pkg/logging"
)

const maxChatBodyBytes = 1 << 20

// Relay forwards one message to the language model.
type Relay interface {
	Configured() bool
	Chat(ctx context.Context, message string) (string, error)
}

type ChatHandler struct {
	relay   Relay
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.ChatMetrics
}

func NewChatHandler(relay Relay, timeout time.Duration, logger *logging.Logger, m *metrics.ChatMetrics) *ChatHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatHandler{relay: relay, timeout: timeout, logger: logger, metrics: m}
}

// Chat handles POST /chat.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(w, r)
	if err != nil {
		h.fail(w, r, http.StatusBadRequest, msgInvalidRequest, err)
		return
	}

	if req.Message == "" {
		h.fail(w, r, http.StatusBadRequest, msgEmptyMessage, nil)
		return
	}

	if !h.relay.Configured() {
		h.fail(w, r, http.StatusInternalServerError, msgMissingAPIKey, nil)
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	reply, err := h.relay.Chat(ctx, req.Message)
	if err != nil {
		status, message := relayErrorStatus(err)
		h.fail(w, r, status, message, err)
		return
	}

	h.metrics.ObserveChat(http.StatusOK)
	writeJSON(w, http.StatusOK, models.ChatResponse{Response: reply})
}

// Preflight handles OPTIONS /chat. CORS headers come from middleware.
func (h *ChatHandler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (h *ChatHandler) fail(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	h.metrics.ObserveChat(status)
	attrs := []any{"status", status, "request_id", middleware.GetRequestID(r.Context())}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("chat request failed", attrs...)
	} else {
		h.logger.Info("chat request rejected", attrs...)
	}
	writeJSON(w, status, errorResp(message))
}

// decodeChatRequest requires exactly one JSON object in the body.
func decodeChatRequest(w http.ResponseWriter, r *http.Request) (*models.ChatRequest, error) {
	if r.Body == nil {
		return nil, io.EOF
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	var req *models.ChatRequest
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.New("request body is not a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after JSON object")
	}
	return req, nil
}
