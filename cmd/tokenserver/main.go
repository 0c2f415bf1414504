// Command tokenserver issues room join credentials, dispatches the agent,
// and serves the static client.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ericvicenti/botical-voice/internal/roomauth"
	"github.com/ericvicenti/botical-voice/internal/trace"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel})))

	issuer := roomauth.NewIssuer(cfg.apiKey, cfg.apiSecret, cfg.tokenTTL)
	dispatcher := roomauth.NewDispatcher(cfg.livekitURL, issuer, cfg.dispatchTimeout)

	var traceStore *trace.Store
	if cfg.traceDatabaseURL != "" {
		store, err := trace.Open(cfg.traceDatabaseURL)
		if err != nil {
			slog.Warn("trace store unavailable", "error", err)
		} else {
			traceStore = store
			defer traceStore.Close()
		}
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		livekitURL:      cfg.livekitURL,
		defaultRoom:     cfg.defaultRoom,
		agentName:       cfg.agentName,
		dispatchTimeout: cfg.dispatchTimeout,
		issuer:          issuer,
		dispatcher:      dispatcher,
		traceStore:      traceStore,
		staticDir:       cfg.staticDir,
	})

	addr := ":" + cfg.port
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	keyPrefix := cfg.apiKey
	if len(keyPrefix) > 8 {
		keyPrefix = keyPrefix[:8]
	}
	slog.Info("token server starting",
		"addr", addr,
		"livekit_url", cfg.livekitURL,
		"rest_host", roomauth.RESTHost(cfg.livekitURL),
		"api_key", keyPrefix+"...",
		"agent", cfg.agentName,
		"static_dir", cfg.staticDir,
		"tracing", traceStore != nil,
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("token server stopped")
}
