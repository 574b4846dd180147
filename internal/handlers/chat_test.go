package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepseek-chat/internal/services"
	"deepseek-chat/pkg/logging"
)

type stubRelay struct {
	configured bool
	reply      string
	err        error

	calls    int
	message  string
	deadline bool
}

func (s *stubRelay) Configured() bool { return s.configured }

func (s *stubRelay) Chat(ctx context.Context, message string) (string, error) {
	s.calls++
	s.message = message
	_, s.deadline = ctx.Deadline()
	return s.reply, s.err
}

func postChat(t *testing.T, h *ChatHandler, body string) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Chat(rr, req)

	var out map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out), "body must be a JSON object")
	return rr, out
}

func TestChatHandler_Success(t *testing.T) {
	relay := &stubRelay{configured: true, reply: "## 最终方案\n1. 第一步 "}
	h := NewChatHandler(relay, time.Minute, logging.Discard(), nil)

	rr, out := postChat(t, h, `{"message":"帮我分析一下"}`)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "## 最终方案\n1. 第一步 ", out["response"])
	assert.NotContains(t, out, "error")
	assert.Equal(t, "帮我分析一下", relay.message)
	assert.True(t, relay.deadline, "relay call runs under the request budget")
}

func TestChatHandler_ForwardsMessageVerbatim(t *testing.T) {
	for _, msg := range []string{"   ", "\ttabbed\n", "emoji 🚀", `quote " and \ backslash`} {
		t.Run(fmt.Sprintf("%q", msg), func(t *testing.T) {
			relay := &stubRelay{configured: true, reply: "ok"}
			h := NewChatHandler(relay, 0, logging.Discard(), nil)

			body, _ := json.Marshal(map[string]string{"message": msg})
			rr, _ := postChat(t, h, string(body))

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, msg, relay.message)
			assert.False(t, relay.deadline)
		})
	}
}

func TestChatHandler_TrailingWhitespaceIsAccepted(t *testing.T) {
	relay := &stubRelay{configured: true, reply: "ok"}
	h := NewChatHandler(relay, 0, logging.Discard(), nil)

	rr, out := postChat(t, h, "{\"message\":\"hi\"}\n\t ")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", out["response"])
	assert.Equal(t, 1, relay.calls)
}

func TestChatHandler_EmptyOrMissingMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty string", `{"message":""}`},
		{"missing field", `{}`},
		{"null message", `{"message":null}`},
		{"other fields only", `{"text":"hello","history":[]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			relay := &stubRelay{configured: true}
			h := NewChatHandler(relay, 0, logging.Discard(), nil)

			rr, out := postChat(t, h, tc.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "消息不能为空", out["error"])
			assert.Zero(t, relay.calls)
		})
	}
}

func TestChatHandler_MalformedBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"truncated", `{"message":"hi"`},
		{"not json", `message=hi`},
		{"array", `["hi"]`},
		{"wrong type", `{"message":42}`},
		{"trailing object", `{"message":"a"}{"message":"b"}`},
		{"stray closing brace", `{"message":"hi"}}`},
		{"stray closing bracket", `{"message":"hi"}]`},
		{"trailing garbage", `{"message":"hi"} x`},
		{"null", `null`},
		{"string", `"hi"`},
		{"too large", `{"message":"` + strings.Repeat("x", maxChatBodyBytes) + `"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			relay := &stubRelay{configured: true}
			h := NewChatHandler(relay, 0, logging.Discard(), nil)

			rr, out := postChat(t, h, tc.body)

			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "无效的请求数据", out["error"])
			assert.Zero(t, relay.calls)
		})
	}
}

func TestChatHandler_MissingAPIKey(t *testing.T) {
	relay := &stubRelay{configured: false}
	h := NewChatHandler(relay, 0, logging.Discard(), nil)

	rr, out := postChat(t, h, `{"message":"hi"}`)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "API 密钥未配置", out["error"])
	assert.Zero(t, relay.calls)
}

func TestChatHandler_ValidationOrder(t *testing.T) {
	// Body and message checks win over the missing key.
	h := NewChatHandler(&stubRelay{configured: false}, 0, logging.Discard(), nil)

	rr, out := postChat(t, h, `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "消息不能为空", out["error"])

	rr, out = postChat(t, h, `{`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "无效的请求数据", out["error"])
}

func TestChatHandler_RelayErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"missing key", services.ErrMissingAPIKey, 500, "API 密钥未配置"},
		{"tls", &services.TLSError{Err: errors.New("x509: certificate signed by unknown authority")}, 503, "SSL 连接错误，请稍后重试"},
		{"timeout", &services.TimeoutError{Err: context.DeadlineExceeded}, 504, "请求超时，请稍后重试"},
		{"upstream", &services.UpstreamError{Detail: "502 Bad Gateway"}, 503, "API 请求错误: 502 Bad Gateway"},
		{"wrapped upstream", fmt.Errorf("relay: %w", &services.UpstreamError{Detail: "connection refused"}), 503, "API 请求错误: connection refused"},
		{"unexpected", errors.New("deepseek: response contained no choices"), 500, "服务器错误: deepseek: response contained no choices"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewChatHandler(&stubRelay{configured: true, err: tc.err}, 0, logging.Discard(), nil)

			rr, out := postChat(t, h, `{"message":"hi"}`)

			assert.Equal(t, tc.status, rr.Code)
			assert.Equal(t, tc.message, out["error"])
			assert.NotContains(t, out, "response")
		})
	}
}

func TestChatHandler_Preflight(t *testing.T) {
	h := NewChatHandler(&stubRelay{}, 0, logging.Discard(), nil)

	req := httptest.NewRequest(http.MethodOptions, "/chat", strings.NewReader(`{"message":"ignored"}`))
	rr := httptest.NewRecorder()
	h.Preflight(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Zero(t, rr.Body.Len())
}
