package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"deepseek-chat/internal/models"
	"deepseek-chat/internal/observability/metrics"
	"deepseek-chat/internal/retry"
	"deepseek-chat/pkg/logging"
)

const (
	userAgent        = "deepseek-chat/1.0"
	maxResponseBytes = 8 << 20
	maxErrorDetail   = 300
)

// DeepSeekConfig controls how the relay talks to the provider.
type DeepSeekConfig struct {
	APIKey       string
	APIURL       string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MaxConnections int

	Retry retry.Policy

	// HTTPClient replaces the pooled client built from the timeouts above.
	HTTPClient *http.Client
	Logger     *logging.Logger
	Metrics    *metrics.ChatMetrics
}

// DeepSeekService relays a single user message to the chat-completion API.
type DeepSeekService struct {
	apiKey       string
	apiURL       string
	model        string
	temperature  float64
	maxTokens    int
	systemPrompt string
	httpClient   *http.Client
	policy       retry.Policy
	logger       *logging.Logger
	metrics      *metrics.ChatMetrics
	rateChan     chan struct{} // in-flight call slots
}

func NewDeepSeekService(cfg DeepSeekConfig) *DeepSeekService {
	apiURL := strings.TrimSpace(cfg.APIURL)
	if apiURL == "" {
		apiURL = "https://api.deepseek.com/v1/chat/completions"
	}
	systemPrompt := cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = SystemPrompt
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = NewPooledHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout, maxConns)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy = retry.Default()
	}
	policy.Retryable = isRetryable

	rateChan := make(chan struct{}, maxConns)
	for i := 0; i < maxConns; i++ {
		rateChan <- struct{}{}
	}

	s := &DeepSeekService{
		apiKey:       cfg.APIKey,
		apiURL:       apiURL,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		systemPrompt: systemPrompt,
		httpClient:   httpClient,
		logger:       logger,
		metrics:      cfg.Metrics,
		rateChan:     rateChan,
	}
	policy.OnRetry = s.logRetry
	s.policy = policy
	return s
}

// NewPooledHTTPClient builds the keep-alive client shared by all relay calls.
// connectTimeout bounds dialing and the TLS handshake; readTimeout bounds the
// wait for response headers. The client timeout covers a whole attempt.
func NewPooledHTTPClient(connectTimeout, readTimeout time.Duration, maxConns int) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		ExpectContinueTimeout: time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          maxConns,
		MaxIdleConnsPerHost:   maxConns,
		MaxConnsPerHost:       maxConns,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   connectTimeout + readTimeout,
	}
}

// Configured reports whether an API key is available.
func (s *DeepSeekService) Configured() bool {
	return s.apiKey != ""
}

// BuildPayload assembles the chat-completion body for one user message.
func (s *DeepSeekService) BuildPayload(message string) models.UpstreamPayload {
	return models.UpstreamPayload{
		Model:       s.model,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		Messages: []models.ChatMessage{
			{Role: "system", Content: s.systemPrompt},
			{Role: "user", Content: message},
		},
	}
}

// Chat sends message to DeepSeek and returns the first choice's content.
// Failures are returned as ErrMissingAPIKey, *TLSError, *TimeoutError or
// *UpstreamError; any other error is an unexpected failure.
func (s *DeepSeekService) Chat(ctx context.Context, message string) (string, error) {
	if !s.Configured() {
		return "", ErrMissingAPIKey
	}

	body, err := json.Marshal(s.BuildPayload(message))
	if err != nil {
		return "", fmt.Errorf("deepseek: marshal payload: %w", err)
	}

	if err := s.acquireRate(ctx); err != nil {
		return "", classify(err)
	}
	defer s.releaseRate()

	start := time.Now()
	var data []byte
	err = s.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var sendErr error
		data, sendErr = s.send(ctx, body)
		s.metrics.ObserveAttempt(attemptOutcome(sendErr))
		return sendErr
	})
	if err != nil {
		s.metrics.ObserveUpstreamLatency("error", time.Since(start).Seconds())
		s.logger.Error("deepseek call failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return "", classify(err)
	}
	s.metrics.ObserveUpstreamLatency("ok", time.Since(start).Seconds())

	return extractReply(data)
}

// send performs one attempt. The request is rebuilt from body each time.
func (s *DeepSeekService) send(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepseek: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, &StatusError{
		StatusCode: resp.StatusCode,
		Message:    errorDetail(data),
		retryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
}

func extractReply(data []byte) (string, error) {
	var result models.UpstreamResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("deepseek: decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", errors.New("deepseek: response contained no choices")
	}
	return result.Choices[0].Message.Content, nil
}

// errorDetail pulls a short human readable message out of an error body.
func errorDetail(data []byte) string {
	var envelope models.UpstreamErrorBody
	if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
		return truncate(envelope.Error.Message, maxErrorDetail)
	}
	return truncate(strings.TrimSpace(string(data)), maxErrorDetail)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

func attemptOutcome(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &statusErr):
		return strconv.Itoa(statusErr.StatusCode)
	case isTLSError(err):
		return "tls"
	case isTimeout(err):
		return "timeout"
	case isConnectionError(err):
		return "connection"
	default:
		return "error"
	}
}

// acquireRate blocks until an in-flight slot is available
func (s *DeepSeekService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *DeepSeekService) releaseRate() {
	s.rateChan <- struct{}{}
}

func (s *DeepSeekService) logRetry(attempt int, delay time.Duration, err error) {
	var status int
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		status = statusErr.StatusCode
	}
	s.logger.Warn("deepseek retry",
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
		"status", status,
		"error", err,
	)
}
