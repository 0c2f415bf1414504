package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_sessions_active",
		Help: "Live transport sessions held by this process (0 or 1 for a client)",
	})

	ConnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_connect_attempts_total",
		Help: "Connection attempts by result",
	}, []string{"result"})

	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_reconnects_scheduled_total",
		Help: "Reconnect timers armed, by cause",
	}, []string{"reason"})

	CredentialFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_credential_fetch_duration_seconds",
		Help:    "Token endpoint round-trip latency",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1.0, 2.0},
	})

	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_decode_errors_total",
		Help: "Malformed data-channel payloads dropped, by topic",
	}, []string{"topic"})

	SendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_send_errors_total",
		Help: "Failed text-channel sends, by kind",
	}, []string{"kind"})

	TranscriptSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_transcript_segments_total",
		Help: "Transcription segment updates, by role and finality",
	}, []string{"role", "final"})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tool_calls_total",
		Help: "Tool calls relayed from the agent, by outcome",
	}, []string{"status"})

	CostDollars = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_cost_dollars_total",
		Help: "Incremental service cost reported for this process's sessions",
	}, []string{"service"})

	TokensIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_tokens_issued_total",
		Help: "Join tokens issued by the token server, by result",
	}, []string{"result"})

	AgentDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_agent_dispatches_total",
		Help: "Agent dispatch requests to the media server, by result",
	}, []string{"result"})
)
