package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericvicenti/botical-voice/internal/credentials"
	"github.com/ericvicenti/botical-voice/internal/metrics"
	"github.com/ericvicenti/botical-voice/internal/roomauth"
	"github.com/ericvicenti/botical-voice/internal/trace"
)

// defaultTraceSessionLimit is how many trace sessions are returned when the
// caller omits the ?limit= query parameter.
const defaultTraceSessionLimit = 20

// maxTraceSessionLimit matches the number of sessions the trace store retains.
const maxTraceSessionLimit = 100

type tokenIssuer interface {
	JoinToken(identity, room string) (string, error)
}

type agentDispatcher interface {
	CreateDispatch(ctx context.Context, room, agentName string) (*roomauth.Dispatch, error)
}

type deps struct {
	livekitURL      string
	defaultRoom     string
	agentName       string
	dispatchTimeout time.Duration
	issuer          tokenIssuer
	dispatcher      agentDispatcher
	traceStore      *trace.Store
	staticDir       string
}

// registerRoutes wires all HTTP endpoints to the shared mux.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("GET /api/token", d.handleToken)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	registerTraceRoutes(mux, d.traceStore)
	if d.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(d.staticDir)))
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func newIdentity() string {
	return "user-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

func (d deps) handleToken(w http.ResponseWriter, r *http.Request) {
	identity := newIdentity()
	room := r.URL.Query().Get("room")
	if room == "" {
		room = d.defaultRoom
	}

	token, err := d.issuer.JoinToken(identity, room)
	if err != nil {
		metrics.TokensIssued.WithLabelValues("error").Inc()
		slog.Error("token generation failed", "room", room, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	metrics.TokensIssued.WithLabelValues("ok").Inc()
	slog.Info("token generated", "identity", identity, "room", room, "url", d.livekitURL)

	d.dispatchAgent(r.Context(), room)

	writeJSON(w, http.StatusOK, credentials.Credential{
		Token:    token,
		URL:      d.livekitURL,
		Identity: identity,
		Room:     room,
	})
}

// dispatchAgent asks the media server to send the agent into room. Failure
// does not fail the token request; the agent may already be present.
func (d deps) dispatchAgent(ctx context.Context, room string) {
	if d.dispatcher == nil || d.agentName == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, d.dispatchTimeout)
	defer cancel()

	slog.Info("requesting agent dispatch", "agent", d.agentName, "room", room)
	dispatch, err := d.dispatcher.CreateDispatch(ctx, room, d.agentName)
	if err != nil {
		metrics.AgentDispatches.WithLabelValues("error").Inc()
		slog.Warn("agent dispatch failed", "agent", d.agentName, "room", room, "error", err)
		return
	}
	metrics.AgentDispatches.WithLabelValues("ok").Inc()
	slog.Info("agent dispatched", "id", dispatch.ID, "room", room)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func registerTraceRoutes(mux *http.ServeMux, store *trace.Store) {
	mux.HandleFunc("GET /api/traces/sessions", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		limit, offset := pageParams(r)
		sessions, total, err := store.ListSessions(limit, offset)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "total": total})
	})

	mux.HandleFunc("GET /api/traces/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			http.Error(w, "tracing disabled", http.StatusNotFound)
			return
		}
		sess, msgs, calls, err := store.GetSession(r.PathValue("id"))
		if err != nil {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess, "messages": msgs, "tool_calls": calls})
	})
}

// pageParams reads limit and offset, clamping limit to
// [1, maxTraceSessionLimit] and offset to >= 0.
func pageParams(r *http.Request) (limit, offset int) {
	limit = min(max(queryInt(r, "limit", defaultTraceSessionLimit), 1), maxTraceSessionLimit)
	offset = max(queryInt(r, "offset", 0), 0)
	return limit, offset
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
