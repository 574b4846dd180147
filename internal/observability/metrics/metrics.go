package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// ChatMetrics exposes counters/histograms for the chat relay.
type ChatMetrics struct {
	requestsTotal    *prometheus.CounterVec
	upstreamAttempts *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	rateLimited      prometheus.Counter
}

func NewChatMetrics(reg prometheus.Registerer) *ChatMetrics {
	m := &ChatMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepseek_chat",
			Subsystem: "http",
			Name:      "chat_requests_total",
			Help:      "Total POST /chat requests by response status",
		}, []string{"status"}),
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deepseek_chat",
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Total DeepSeek API attempts by outcome",
		}, []string{"outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deepseek_chat",
			Subsystem: "upstream",
			Name:      "call_duration_seconds",
			Help:      "Duration of a relay call including retries",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 180},
		}, []string{"result"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "deepseek_chat",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.upstreamAttempts, m.upstreamLatency, m.rateLimited)
	return m
}

func (m *ChatMetrics) ObserveChat(status int) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// ObserveAttempt records one upstream attempt. Outcome is "ok", an HTTP
// status code, or an error class such as "timeout".
func (m *ChatMetrics) ObserveAttempt(outcome string) {
	if m == nil {
		return
	}
	m.upstreamAttempts.WithLabelValues(outcome).Inc()
}

func (m *ChatMetrics) ObserveUpstreamLatency(result string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(result).Observe(seconds)
}

func (m *ChatMetrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
