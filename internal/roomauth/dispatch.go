package roomauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ericvicenti/botical-voice/internal/httputil"
)

const createDispatchPath = "/twirp/livekit.AgentDispatchService/CreateDispatch"

// Dispatch is the media server's record of an agent assignment.
type Dispatch struct {
	ID        string `json:"id"`
	AgentName string `json:"agent_name"`
	Room      string `json:"room"`
}

// Dispatcher asks the media server to send a named agent into a room.
type Dispatcher struct {
	host   string
	issuer *Issuer
	http   *http.Client
}

// NewDispatcher targets the REST side of the media server at serverURL
// (ws:// and wss:// are rewritten to http:// and https://).
func NewDispatcher(serverURL string, issuer *Issuer, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		host:   RESTHost(serverURL),
		issuer: issuer,
		http:   httputil.NewPooledHTTPClient(4, timeout),
	}
}

// RESTHost converts a media-server WebSocket URL into its HTTP base URL.
func RESTHost(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "wss://"):
		serverURL = "https://" + strings.TrimPrefix(serverURL, "wss://")
	case strings.HasPrefix(serverURL, "ws://"):
		serverURL = "http://" + strings.TrimPrefix(serverURL, "ws://")
	}
	return strings.TrimRight(serverURL, "/")
}

// CreateDispatch requests agentName for room.
func (d *Dispatcher) CreateDispatch(ctx context.Context, room, agentName string) (*Dispatch, error) {
	token, err := d.issuer.AdminToken(room)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(map[string]string{"room": room, "agent_name": agentName})
	if err != nil {
		return nil, fmt.Errorf("marshal dispatch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.host+createDispatchPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dispatch returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var out Dispatch
	if err = json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode dispatch response: %w", err)
	}
	return &out, nil
}
