package nextdns

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conresinc/cloin.eda/internal/source"
)

func streamHandler(t *testing.T, lines []string, hold time.Duration) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k123" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/profiles/abcdef/logs/stream" {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n", line)
		}
		flusher.Flush()
		if hold > 0 {
			select {
			case <-r.Context().Done():
			case <-time.After(hold):
			}
		}
	}
}

func newTestConnector(t *testing.T, endpoint string, extra source.Options) *Connector {
	t.Helper()
	opts := source.Options{"api_key": "k123", "profile_id": "abcdef", "endpoint": endpoint}
	for k, v := range extra {
		opts[k] = v
	}
	conn, err := New("dns", opts)
	require.NoError(t, err)
	return conn
}

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("dns", source.Options{"api_key": "k", "profile_id": "p"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.nextdns.io", cfg.Endpoint)
}

func TestNewConfigValidation(t *testing.T) {
	_, err := NewConfig("dns", source.Options{"profile_id": "p"})
	var cfgErr *source.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "api_key", cfgErr.Option)

	_, err = NewConfig("dns", source.Options{"api_key": "k"})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "profile_id", cfgErr.Option)
}

func TestReceiveDeliversStreamedLogLines(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{
		`data: {"domain":"example.com","status":"blocked"}`,
		`: keep-alive`,
		`data: {"domain":"example.org","status":"allowed"}`,
	}, time.Minute))
	defer srv.Close()

	conn := newTestConnector(t, srv.URL, nil)
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "example.com", rec.Payload["domain"])
	assert.Equal(t, "abcdef", rec.Meta["profile_id"])

	rec, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "allowed", rec.Payload["status"])
}

func TestNonJSONLineIsCarriedRaw(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{"data: not json"}, time.Minute))
	defer srv.Close()

	conn := newTestConnector(t, srv.URL, nil)
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rec, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "not json", rec.Payload["raw"])
}

func TestStreamEndSurfacesConnectionError(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, []string{`data: {"domain":"a"}`}, 0))
	defer srv.Close()

	conn := newTestConnector(t, srv.URL, nil)
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := conn.Receive(ctx)
	require.NoError(t, err)

	_, err = conn.Receive(ctx)
	var connErr *source.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestOpenClassifiesBadAPIKey(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, nil, 0))
	defer srv.Close()

	conn := newTestConnector(t, srv.URL, source.Options{"api_key": "wrong"})
	err := conn.Open(context.Background())
	var authErr *source.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.NoError(t, conn.Close())
}

func TestOpenClassifiesUnknownProfile(t *testing.T) {
	srv := httptest.NewServer(streamHandler(t, nil, 0))
	defer srv.Close()

	conn := newTestConnector(t, srv.URL, source.Options{"profile_id": "nope"})
	err := conn.Open(context.Background())
	var cfgErr *source.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "profile_id", cfgErr.Option)
}

func TestCloseStopsBlockedReader(t *testing.T) {
	lines := make([]string, 300)
	for i := range lines {
		lines[i] = fmt.Sprintf(`data: {"n":%d}`, i)
	}
	srv := httptest.NewServer(streamHandler(t, lines, time.Minute))
	defer srv.Close()

	conn := newTestConnector(t, srv.URL, nil)
	require.NoError(t, conn.Open(context.Background()))

	// Do not consume; the reader fills its buffer and blocks. Close must
	// still return promptly.
	done := make(chan error, 1)
	go func() { done <- conn.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("close did not return")
	}
}
