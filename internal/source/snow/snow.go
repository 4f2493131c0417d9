// Package snow implements the table-poller connector for ServiceNow-style
// REST table APIs. The marker is the last record's sys_created_on plus the
// sys_ids already emitted at that second; fetches use an inclusive lower
// bound with the id set as tie-break, so records sharing the boundary
// second are never lost across a crash-and-resume.
package snow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/conresinc/cloin.eda/internal/cursor"
	"github.com/conresinc/cloin.eda/internal/event"
	"github.com/conresinc/cloin.eda/internal/metrics"
	"github.com/conresinc/cloin.eda/internal/source"
)

// createdFormat is the timestamp layout the table API uses (UTC).
const createdFormat = "2006-01-02 15:04:05"

// Config is the validated configuration for one snow source.
type Config struct {
	Instance string
	Username string
	Password string
	Table    string
	Query    string
	Interval time.Duration
	Limit    int
}

// NewConfig builds and validates a Config from raw options.
func NewConfig(name string, opts source.Options) (Config, error) {
	var cfg Config
	var err error

	if cfg.Instance, err = opts.RequiredString(name, "instance"); err != nil {
		return Config{}, err
	}
	cfg.Instance = strings.TrimRight(cfg.Instance, "/")
	if cfg.Username, err = opts.RequiredString(name, "username"); err != nil {
		return Config{}, err
	}
	if cfg.Password, err = opts.RequiredString(name, "password"); err != nil {
		return Config{}, err
	}
	if cfg.Table, err = opts.String(name, "table", "incident"); err != nil {
		return Config{}, err
	}
	if cfg.Query, err = opts.String(name, "query", ""); err != nil {
		return Config{}, err
	}
	if cfg.Interval, err = opts.Interval(name, "interval", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Limit, err = opts.Int(name, "limit", 1000); err != nil {
		return Config{}, err
	}
	if cfg.Limit <= 0 {
		return Config{}, source.NewConfigError(name, "limit", "must be positive")
	}

	return cfg, nil
}

// Connector polls one table for newly created records.
type Connector struct {
	name   string
	cfg    Config
	client *http.Client
	start  time.Time
	now    func() time.Time
}

// New creates a snow connector from raw options.
func New(name string, opts source.Options) (*Connector, error) {
	cfg, err := NewConfig(name, opts)
	if err != nil {
		return nil, err
	}
	return &Connector{name: name, cfg: cfg, now: time.Now}, nil
}

func (c *Connector) Name() string { return c.name }
func (c *Connector) Kind() string { return "snow" }

// Interval returns the configured polling interval.
func (c *Connector) Interval() time.Duration { return c.cfg.Interval }

// Open validates the instance and credentials with a one-record probe.
// The probe also pins the start time used when no marker exists yet, so
// a fresh source never replays table history.
func (c *Connector) Open(ctx context.Context) error {
	c.client = &http.Client{Timeout: 30 * time.Second}
	c.start = c.now().UTC()

	probe := url.Values{}
	probe.Set("sysparm_limit", "1")
	_, err := c.get(ctx, probe)
	return err
}

// Close releases the HTTP client.
func (c *Connector) Close() error {
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	return nil
}

// tableMarker is the decoded cursor for this connector.
type tableMarker struct {
	created string
	seenIDs map[string]bool
}

// Fetch queries for records created at or after the marker, ascending,
// and drops the sys_ids already emitted at the boundary second.
func (c *Connector) Fetch(ctx context.Context, marker cursor.Marker) ([]source.RawRecord, cursor.Marker, error) {
	m := c.decodeMarker(marker)

	params := url.Values{}
	params.Set("sysparm_query", c.buildQuery(m.created))
	params.Set("sysparm_limit", fmt.Sprintf("%d", c.cfg.Limit))
	params.Set("sysparm_display_value", "false")

	rows, err := c.get(ctx, params)
	if err != nil {
		return nil, nil, err
	}

	var records []source.RawRecord
	next := tableMarker{created: m.created, seenIDs: m.seenIDs}
	for _, row := range rows {
		sysID, _ := row["sys_id"].(string)
		created, _ := row["sys_created_on"].(string)
		if created == m.created && m.seenIDs[sysID] {
			metrics.DuplicatesSuppressed.WithLabelValues(c.name, c.Kind()).Inc()
			continue
		}

		records = append(records, source.RawRecord{
			Payload: row,
			Meta:    map[string]any{"table": c.cfg.Table, "instance": c.cfg.Instance},
		})

		if created != next.created {
			next.created = created
			next.seenIDs = make(map[string]bool)
		}
		if sysID != "" {
			next.seenIDs[sysID] = true
		}
	}

	if len(records) == 0 {
		if marker == nil {
			// Persist the start-time marker so a restart before the
			// first record still skips history.
			return nil, encodeMarker(next), nil
		}
		return nil, nil, nil
	}
	return records, encodeMarker(next), nil
}

// buildQuery composes the user query fragment with the cursor bound and
// the ascending order clause.
func (c *Connector) buildQuery(created string) string {
	parts := make([]string, 0, 3)
	if c.cfg.Query != "" {
		parts = append(parts, c.cfg.Query)
	}
	parts = append(parts, "sys_created_on>="+created, "ORDERBYsys_created_on")
	return strings.Join(parts, "^")
}

// Envelope passes the table row through.
func (c *Connector) Envelope(rec source.RawRecord) event.Envelope {
	return event.New(rec.Payload, rec.Meta)
}

// get issues one authenticated table API request and classifies failures.
func (c *Connector) get(ctx context.Context, params url.Values) ([]map[string]any, error) {
	endpoint := fmt.Sprintf("%s/api/now/table/%s?%s", c.cfg.Instance, c.cfg.Table, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, source.NewConfigError(c.name, "instance", err.Error())
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &source.ConnectionError{Source: c.name, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &source.AuthError{Source: c.name, Err: fmt.Errorf("table api returned %s", resp.Status)}
	case resp.StatusCode == http.StatusBadRequest:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, source.NewConfigError(c.name, "query", fmt.Sprintf("rejected by server: %s", strings.TrimSpace(string(detail))))
	case resp.StatusCode != http.StatusOK:
		return nil, &source.TransientError{Source: c.name, Err: fmt.Errorf("table api returned %s", resp.Status)}
	}

	var body struct {
		Result []map[string]any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &source.TransientError{Source: c.name, Err: fmt.Errorf("decoding table response: %w", err)}
	}
	return body.Result, nil
}

// decodeMarker accepts a stored marker or falls back to the start time.
// JSON round-trips the id list as []any.
func (c *Connector) decodeMarker(marker cursor.Marker) tableMarker {
	m := tableMarker{
		created: c.start.Format(createdFormat),
		seenIDs: make(map[string]bool),
	}
	raw, ok := marker.(map[string]any)
	if !ok {
		return m
	}
	if created, ok := raw["created"].(string); ok && created != "" {
		m.created = created
	}
	switch ids := raw["ids"].(type) {
	case []any:
		for _, id := range ids {
			m.seenIDs[fmt.Sprint(id)] = true
		}
	case []string:
		for _, id := range ids {
			m.seenIDs[id] = true
		}
	}
	return m
}

func encodeMarker(m tableMarker) cursor.Marker {
	ids := make([]string, 0, len(m.seenIDs))
	for id := range m.seenIDs {
		ids = append(ids, id)
	}
	return map[string]any{"created": m.created, "ids": ids}
}
