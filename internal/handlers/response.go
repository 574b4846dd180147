package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"deepseek-chat/internal/models"
	"deepseek-chat/internal/services"
)

// Caller-facing error messages.
const (
	msgInvalidRequest = "无效的请求数据"
	msgEmptyMessage   = "消息不能为空"
	msgMissingAPIKey  = "API 密钥未配置"
	msgTLSFailure     = "SSL 连接错误，请稍后重试"
	msgTimeout        = "请求超时，请稍后重试"
	msgInternal       = "Internal server error"
	msgNotFound       = "Not found"
	msgNotAllowed     = "Method not allowed"
)

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(message string) models.ErrorResponse {
	return models.ErrorResponse{Error: message}
}

// relayErrorStatus maps a relay failure onto the status and message the
// browser sees.
func relayErrorStatus(err error) (int, string) {
	var (
		tlsErr      *services.TLSError
		timeoutErr  *services.TimeoutError
		upstreamErr *services.UpstreamError
	)
	switch {
	case errors.Is(err, services.ErrMissingAPIKey):
		return http.StatusInternalServerError, msgMissingAPIKey
	case errors.As(err, &tlsErr):
		return http.StatusServiceUnavailable, msgTLSFailure
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout, msgTimeout
	case errors.As(err, &upstreamErr):
		return http.StatusServiceUnavailable, fmt.Sprintf("API 请求错误: %s", upstreamErr.Detail)
	default:
		return http.StatusInternalServerError, fmt.Sprintf("服务器错误: %v", err)
	}
}

// NotFound and MethodNotAllowed keep chi's fallbacks inside the JSON envelope.
func NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorResp(msgNotFound))
}

func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorResp(msgNotAllowed))
}
