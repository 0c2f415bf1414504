// Package credentials fetches room join credentials from the token endpoint.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericvicenti/botical-voice/internal/httputil"
	"github.com/ericvicenti/botical-voice/internal/metrics"
)

// maxErrorBody bounds how much of a failed response is kept as detail.
const maxErrorBody = 512

// Credential is the token endpoint's success body.
type Credential struct {
	Token    string `json:"token"`
	URL      string `json:"url"`
	Identity string `json:"identity"`
	Room     string `json:"room"`
}

// FetchError reports an unreachable endpoint, a non-2xx status, or an
// unreadable success body. StatusCode is zero when no response arrived.
type FetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("token endpoint: %v", e.Err)
	}
	return "token endpoint: unknown failure"
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client calls GET {baseURL}/api/token.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the token service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httputil.NewPooledHTTPClient(2, timeout),
	}
}

// Fetch requests a join credential, optionally for a named room.
func (c *Client) Fetch(ctx context.Context, room string) (*Credential, error) {
	start := time.Now()
	defer func() { metrics.CredentialFetchDuration.Observe(time.Since(start).Seconds()) }()

	endpoint := c.baseURL + "/api/token"
	if room != "" {
		endpoint += "?room=" + url.QueryEscape(room)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Err: fmt.Errorf("create token request: %w", err)}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &FetchError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var cred Credential
	if err = json.NewDecoder(resp.Body).Decode(&cred); err != nil {
		return nil, &FetchError{Err: fmt.Errorf("decode token response: %w", err)}
	}
	if cred.Token == "" || cred.URL == "" {
		return nil, &FetchError{Err: fmt.Errorf("token response missing token or url")}
	}
	return &cred, nil
}
