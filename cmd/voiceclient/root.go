package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ericvicenti/botical-voice/internal/audio"
	"github.com/ericvicenti/botical-voice/internal/credentials"
	"github.com/ericvicenti/botical-voice/internal/env"
	"github.com/ericvicenti/botical-voice/internal/session"
	"github.com/ericvicenti/botical-voice/internal/trace"
	"github.com/ericvicenti/botical-voice/internal/transport/wsroom"
)

type options struct {
	tokenURL          string
	room              string
	metricsAddr       string
	traceDatabaseURL  string
	greeting          string
	connectRetryDelay time.Duration
	dropRetryDelay    time.Duration
	logLevel          string
	audioOut          string
	sampleRate        int
	verbose           bool
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "voiceclient",
		Short: "Talk to the voice agent from a terminal",
		Long: `Connects to a voice-agent room and renders the conversation.

Lines typed on stdin are sent as chat messages. Commands:
  /voice   toggle voice input and agent audio
  /quit    leave the room`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.tokenURL, "token-url", env.Str("TOKEN_URL", "http://localhost:3000"), "Base URL of the token endpoint")
	f.StringVar(&opts.room, "room", env.Str("ROOM", ""), "Room to join (server default when empty)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", env.Str("METRICS_ADDR", ""), "Serve Prometheus metrics on this address")
	f.StringVar(&opts.traceDatabaseURL, "trace-db", env.Str("TRACE_DATABASE_URL", ""), "PostgreSQL URL for session traces")
	f.StringVar(&opts.greeting, "greeting", env.Str("GREETING_TEXT", "hi"), "Text sent the first time voice is enabled")
	f.DurationVar(&opts.connectRetryDelay, "connect-retry", env.Duration("CONNECT_RETRY_DELAY", 3*time.Second), "Retry delay after a failed connect")
	f.DurationVar(&opts.dropRetryDelay, "drop-retry", env.Duration("DROP_RETRY_DELAY", 2*time.Second), "Retry delay after a dropped session")
	f.StringVar(&opts.logLevel, "log-level", env.Str("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")
	f.StringVar(&opts.audioOut, "audio-out", env.Str("AUDIO_OUT", ""), "Record agent audio to this WAV file")
	f.IntVar(&opts.sampleRate, "sample-rate", env.Int("AUDIO_SAMPLE_RATE", 24000), "Sample rate of agent PCM audio")
	f.BoolVarP(&opts.verbose, "verbose", "v", env.Bool("VERBOSE", false), "Enable debug logging")
	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	level := parseLevel(opts.logLevel)
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if opts.metricsAddr != "" {
		srv := startMetricsServer(opts.metricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	var traceWriter trace.Writer
	if opts.traceDatabaseURL != "" {
		store, err := trace.Open(opts.traceDatabaseURL)
		if err != nil {
			slog.Warn("trace store unavailable", "error", err)
		} else {
			defer store.Close()
			traceWriter = store
		}
	}

	audioOut := io.Discard
	if opts.audioOut != "" {
		f, err := os.Create(opts.audioOut)
		if err != nil {
			return fmt.Errorf("open audio output: %w", err)
		}
		defer f.Close()
		wav, err := audio.NewWAVWriter(f, opts.sampleRate)
		if err != nil {
			return fmt.Errorf("start wav: %w", err)
		}
		defer func() {
			if err := wav.Close(); err != nil {
				slog.Warn("finalize wav", "path", opts.audioOut, "error", err)
			}
		}()
		audioOut = wav
	}

	mgr := session.NewManager(session.Config{
		Credentials: credentials.NewClient(opts.tokenURL, 10*time.Second),
		NewTransport: func() session.Transport {
			return wsroom.New(wsroom.Config{AudioOut: audioOut, Logger: slog.Default()})
		},
		View:              newTerminalView(out),
		Room:              opts.room,
		ConnectRetryDelay: opts.connectRetryDelay,
		DropRetryDelay:    opts.dropRetryDelay,
		GreetingText:      opts.greeting,
		Trace:             traceWriter,
	})
	defer mgr.Close()

	go mgr.Connect(ctx)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, mgr, line); quit {
				return nil
			}
		}
	}
}

type controller interface {
	ToggleVoice(ctx context.Context) error
	SendText(ctx context.Context, text string) error
}

// handleLine executes one line of input and reports whether to quit.
func handleLine(ctx context.Context, c controller, line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit", "/exit":
		return true
	case "/voice":
		if err := c.ToggleVoice(ctx); err != nil {
			slog.Warn("toggle voice", "error", err)
		}
		return false
	}
	var se *session.SendError
	if err := c.SendText(ctx, line); err != nil && !errors.As(err, &se) {
		slog.Warn("send text", "error", err)
	}
	return false
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	slog.Info("metrics server starting", "addr", addr)
	return srv
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
