package credentials

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch(t *testing.T) {
	var gotRoom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/token", r.URL.Path)
		gotRoom = r.URL.Query().Get("room")
		json.NewEncoder(w).Encode(Credential{Token: "jwt", URL: "ws://media", Identity: "user-abc123", Room: "lobby"})
	}))
	defer srv.Close()

	cred, err := NewClient(srv.URL+"/", time.Second).Fetch(context.Background(), "lobby")

	require.NoError(t, err)
	assert.Equal(t, "lobby", gotRoom)
	assert.Equal(t, &Credential{Token: "jwt", URL: "ws://media", Identity: "user-abc123", Room: "lobby"}, cred)
}

func TestFetchOmitsEmptyRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		w.Write([]byte(`{"token":"t","url":"ws://x","identity":"i","room":"r"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Fetch(context.Background(), "")

	require.NoError(t, err)
}

func TestFetchNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"signing failed"}` + "\n"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Fetch(context.Background(), "")

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Equal(t, `{"error":"signing failed"}`, fe.Body)
	assert.Contains(t, fe.Error(), "500")
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr, time.Second).Fetch(context.Background(), "")

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
	assert.Error(t, fe.Unwrap())
}

func TestFetchIncompleteBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"identity":"i"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Fetch(context.Background(), "")

	var fe *FetchError
	assert.ErrorAs(t, err, &fe)
}
