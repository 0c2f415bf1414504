package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/ericvicenti/botical-voice/internal/env"
)

type config struct {
	port             string
	livekitURL       string
	apiKey           string
	apiSecret        string
	defaultRoom      string
	agentName        string
	tokenTTL         time.Duration
	dispatchTimeout  time.Duration
	staticDir        string
	traceDatabaseURL string
	logLevel         slog.Level
}

func loadConfig() config {
	return config{
		port:             env.Str("TOKEN_SERVER_PORT", "3000"),
		livekitURL:       env.Str("LIVEKIT_URL", "ws://localhost:7880"),
		apiKey:           env.Str("LIVEKIT_API_KEY", "devkey"),
		apiSecret:        env.Str("LIVEKIT_API_SECRET", "secret"),
		defaultRoom:      env.Str("DEFAULT_ROOM", "botical-room"),
		agentName:        env.Str("AGENT_NAME", "botical"),
		tokenTTL:         env.Duration("TOKEN_TTL", 6*time.Hour),
		dispatchTimeout:  env.Duration("DISPATCH_TIMEOUT", 5*time.Second),
		staticDir:        env.Str("STATIC_DIR", ""),
		traceDatabaseURL: env.Str("TRACE_DATABASE_URL", ""),
		logLevel:         parseLevel(env.Str("LOG_LEVEL", "info")),
	}
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
