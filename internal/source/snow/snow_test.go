package snow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conresinc/cloin.eda/internal/source"
)

// fakeTable serves /api/now/table/<name> with basic-auth checking and the
// sys_created_on>= bound applied lexically (the layout sorts as text).
type fakeTable struct {
	mu       sync.Mutex
	rows     []map[string]any
	srv      *httptest.Server
	lastQ    string
	username string
	password string
}

func newFakeTable() *fakeTable {
	ft := &fakeTable{username: "admin", password: "secret"}
	ft.srv = httptest.NewServer(http.HandlerFunc(ft.handle))
	return ft
}

func (ft *fakeTable) add(sysID, created, desc string) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.rows = append(ft.rows, map[string]any{
		"sys_id":            sysID,
		"sys_created_on":    created,
		"short_description": desc,
	})
}

func (ft *fakeTable) lastQuery() string {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.lastQ
}

func (ft *fakeTable) handle(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != ft.username || pass != ft.password {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	ft.mu.Lock()
	defer ft.mu.Unlock()
	q := r.URL.Query().Get("sysparm_query")
	ft.lastQ = q

	bound := ""
	for _, part := range strings.Split(q, "^") {
		if strings.HasPrefix(part, "sys_created_on>=") {
			bound = strings.TrimPrefix(part, "sys_created_on>=")
		}
	}

	var out []map[string]any
	for _, row := range ft.rows {
		if bound == "" || row["sys_created_on"].(string) >= bound {
			out = append(out, row)
		}
	}
	json.NewEncoder(w).Encode(map[string]any{"result": out})
}

func newTestConnector(t *testing.T, instance string, extra source.Options) *Connector {
	t.Helper()
	opts := source.Options{"instance": instance, "username": "admin", "password": "secret"}
	for k, v := range extra {
		opts[k] = v
	}
	conn, err := New("itsm", opts)
	require.NoError(t, err)
	return conn
}

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig("itsm", source.Options{
		"instance": "https://dev1.example.com/",
		"username": "admin",
		"password": "secret",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://dev1.example.com", cfg.Instance)
	assert.Equal(t, "incident", cfg.Table)
	assert.Equal(t, 5*time.Second, cfg.Interval)
	assert.Equal(t, 1000, cfg.Limit)
}

func TestNewConfigValidation(t *testing.T) {
	cases := []struct {
		name   string
		opts   source.Options
		option string
	}{
		{"missing instance", source.Options{"username": "u", "password": "p"}, "instance"},
		{"missing username", source.Options{"instance": "i", "password": "p"}, "username"},
		{"missing password", source.Options{"instance": "i", "username": "u"}, "password"},
		{"bad limit", source.Options{"instance": "i", "username": "u", "password": "p", "limit": 0}, "limit"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig("itsm", tc.opts)
			var cfgErr *source.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.option, cfgErr.Option)
		})
	}
}

func TestOpenRejectsBadCredentials(t *testing.T) {
	ft := newFakeTable()
	defer ft.srv.Close()

	conn := newTestConnector(t, ft.srv.URL, source.Options{"password": "wrong"})
	err := conn.Open(context.Background())
	var authErr *source.AuthError
	assert.ErrorAs(t, err, &authErr)
	assert.NoError(t, conn.Close())
}

func TestFirstCycleSkipsHistory(t *testing.T) {
	ft := newFakeTable()
	defer ft.srv.Close()
	ft.add("old1", "2020-01-01 00:00:00", "ancient incident")

	conn := newTestConnector(t, ft.srv.URL, nil)
	conn.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	records, marker, err := conn.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, records)

	// The start-time marker is persisted even with no records.
	m := marker.(map[string]any)
	assert.Equal(t, "2026-03-01 12:00:00", m["created"])
}

func TestFetchAdvancesMarkerAndBreaksTiesBySysID(t *testing.T) {
	ft := newFakeTable()
	defer ft.srv.Close()

	conn := newTestConnector(t, ft.srv.URL, nil)
	conn.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	}
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	ft.add("a", "2026-03-01 12:00:05", "first")
	ft.add("b", "2026-03-01 12:00:05", "same second")

	records, marker, err := conn.Fetch(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "first", records[0].Payload["short_description"])
	assert.Equal(t, "incident", records[0].Meta["table"])

	// A third record lands in the same second: only it comes back.
	ft.add("c", "2026-03-01 12:00:05", "late arrival")
	records, marker, err = conn.Fetch(context.Background(), marker)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "late arrival", records[0].Payload["short_description"])

	// Nothing new: no records, no marker movement.
	records, next, err := conn.Fetch(context.Background(), marker)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Nil(t, next)
}

func TestMarkerSurvivesJSONRoundTrip(t *testing.T) {
	ft := newFakeTable()
	defer ft.srv.Close()

	conn := newTestConnector(t, ft.srv.URL, nil)
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	ft.add("a", "2099-01-01 00:00:01", "one")
	_, marker, err := conn.Fetch(context.Background(), nil)
	require.NoError(t, err)

	// Simulate a durable store round-trip.
	raw, err := json.Marshal(marker)
	require.NoError(t, err)
	var restored any
	require.NoError(t, json.Unmarshal(raw, &restored))

	records, _, err := conn.Fetch(context.Background(), restored)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestBuildQueryComposesUserFragment(t *testing.T) {
	ft := newFakeTable()
	defer ft.srv.Close()

	conn := newTestConnector(t, ft.srv.URL, source.Options{"query": "active=true"})
	require.NoError(t, conn.Open(context.Background()))
	defer conn.Close()

	_, _, err := conn.Fetch(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ft.lastQuery(), "active=true^sys_created_on>="))
	assert.True(t, strings.HasSuffix(ft.lastQuery(), "^ORDERBYsys_created_on"))
}

func TestGetClassifiesHTTPErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		check  func(t *testing.T, err error)
	}{
		{"bad request", http.StatusBadRequest, func(t *testing.T, err error) {
			var cfgErr *source.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		}},
		{"server error", http.StatusInternalServerError, func(t *testing.T, err error) {
			var trErr *source.TransientError
			assert.ErrorAs(t, err, &trErr)
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			conn := newTestConnector(t, srv.URL, nil)
			conn.client = &http.Client{}
			conn.start = time.Now().UTC()

			_, _, err := conn.Fetch(context.Background(), nil)
			tc.check(t, err)
		})
	}
}

func TestFetchAgainstUnreachableInstance(t *testing.T) {
	conn := newTestConnector(t, "http://127.0.0.1:1", nil)
	err := conn.Open(context.Background())
	var connErr *source.ConnectionError
	assert.ErrorAs(t, err, &connErr)
}
