// Package elastic implements the query-poller connector: a time-bounded
// search against an Elasticsearch/OpenSearch index pattern, restricted by
// a user-supplied filter fragment.
//
// Cursor policy: the marker is the highest value of the configured
// timestamp field observed in the last successful fetch. The next request
// filters with an exclusive lower bound (range gt), so a document whose
// timestamp equals the marker is never re-delivered. A document sharing
// the boundary timestamp that was never delivered can be lost across a
// crash; the inclusive alternative re-delivers the whole boundary
// timestamp every cycle instead.
package elastic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/conresinc/cloin.eda/internal/cursor"
	"github.com/conresinc/cloin.eda/internal/event"
	"github.com/conresinc/cloin.eda/internal/source"
)

// Config is the validated configuration for one elastic source.
type Config struct {
	Host           string
	Port           int
	Scheme         string
	Username       string
	Password       string
	IndexPattern   string
	Query          map[string]any // user filter fragment, may be nil
	TimestampField string
	Size           int
	Interval       time.Duration
	VerifyCerts    bool
}

// NewConfig builds and validates a Config from raw options, applying the
// documented defaults.
func NewConfig(name string, opts source.Options) (Config, error) {
	var cfg Config
	var err error

	if cfg.Host, err = opts.RequiredString(name, "elastic_host"); err != nil {
		return Config{}, err
	}
	if cfg.Port, err = opts.Int(name, "elastic_port", 9200); err != nil {
		return Config{}, err
	}
	if cfg.Scheme, err = opts.String(name, "elastic_scheme", "https"); err != nil {
		return Config{}, err
	}
	if cfg.Scheme != "http" && cfg.Scheme != "https" {
		return Config{}, source.NewConfigError(name, "elastic_scheme", "must be http or https")
	}
	if cfg.Username, err = opts.String(name, "elastic_username", "elastic"); err != nil {
		return Config{}, err
	}
	if cfg.Password, err = opts.String(name, "elastic_password", "changeme"); err != nil {
		return Config{}, err
	}
	if cfg.IndexPattern, err = opts.String(name, "elastic_index_pattern", "*"); err != nil {
		return Config{}, err
	}
	if cfg.TimestampField, err = opts.String(name, "timestamp_field", "@timestamp"); err != nil {
		return Config{}, err
	}
	if cfg.Size, err = opts.Int(name, "size", 100); err != nil {
		return Config{}, err
	}
	if cfg.Size <= 0 {
		return Config{}, source.NewConfigError(name, "size", "must be positive")
	}
	if cfg.Interval, err = opts.Interval(name, "interval", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.VerifyCerts, err = opts.Bool(name, "verify_certs", true); err != nil {
		return Config{}, err
	}

	rawQuery, err := opts.String(name, "query", "")
	if err != nil {
		return Config{}, err
	}
	if rawQuery != "" {
		if err := json.Unmarshal([]byte(rawQuery), &cfg.Query); err != nil {
			return Config{}, source.NewConfigError(name, "query", fmt.Sprintf("invalid JSON: %v", err))
		}
	}

	return cfg, nil
}

// Connector polls the search API on a fixed interval.
type Connector struct {
	name   string
	cfg    Config
	client *opensearch.Client
}

// New creates an elastic connector from raw options.
func New(name string, opts source.Options) (*Connector, error) {
	cfg, err := NewConfig(name, opts)
	if err != nil {
		return nil, err
	}
	return &Connector{name: name, cfg: cfg}, nil
}

func (c *Connector) Name() string { return c.name }
func (c *Connector) Kind() string { return "elastic" }

// Interval returns the configured polling interval.
func (c *Connector) Interval() time.Duration { return c.cfg.Interval }

// Open creates the client and verifies the cluster is reachable and the
// credentials are accepted.
func (c *Connector) Open(ctx context.Context) error {
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !c.cfg.VerifyCerts,
			},
		},
	}

	osCfg := opensearch.Config{
		Addresses: []string{fmt.Sprintf("%s://%s:%d", c.cfg.Scheme, c.cfg.Host, c.cfg.Port)},
		Username:  c.cfg.Username,
		Password:  c.cfg.Password,
		Transport: httpClient.Transport,
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return &source.ConnectionError{Source: c.name, Err: err}
	}

	info, err := client.Info(client.Info.WithContext(ctx))
	if err != nil {
		return &source.ConnectionError{Source: c.name, Err: err}
	}
	defer info.Body.Close()

	if info.StatusCode == http.StatusUnauthorized || info.StatusCode == http.StatusForbidden {
		return &source.AuthError{Source: c.name, Err: fmt.Errorf("cluster returned %s", info.Status())}
	}
	if info.IsError() {
		return &source.ConnectionError{Source: c.name, Err: fmt.Errorf("cluster returned %s", info.Status())}
	}

	c.client = client
	return nil
}

// Close releases the HTTP client. Safe after a failed Open.
func (c *Connector) Close() error {
	c.client = nil
	return nil
}

// Fetch runs one bounded search for documents past the marker, sorted
// ascending on the timestamp field, and returns the new marker.
func (c *Connector) Fetch(ctx context.Context, marker cursor.Marker) ([]source.RawRecord, cursor.Marker, error) {
	body, err := json.Marshal(c.buildQuery(marker))
	if err != nil {
		return nil, nil, &source.TransientError{Source: c.name, Err: err}
	}

	res, err := c.client.Search(
		c.client.Search.WithContext(ctx),
		c.client.Search.WithIndex(c.cfg.IndexPattern),
		c.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, nil, &source.ConnectionError{Source: c.name, Err: err}
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, nil, &source.AuthError{Source: c.name, Err: fmt.Errorf("search returned %s", res.Status())}
	case res.StatusCode == http.StatusBadRequest:
		// A query the server cannot parse will never succeed on retry.
		detail, _ := io.ReadAll(res.Body)
		return nil, nil, source.NewConfigError(c.name, "query",
			fmt.Sprintf("rejected by server: %s", strings.TrimSpace(string(detail))))
	case res.IsError():
		return nil, nil, &source.TransientError{Source: c.name, Err: fmt.Errorf("search returned %s", res.Status())}
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Index  string         `json:"_index"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, nil, &source.TransientError{Source: c.name, Err: fmt.Errorf("decode search response: %w", err)}
	}

	var records []source.RawRecord
	next := marker
	for _, hit := range searchResp.Hits.Hits {
		records = append(records, source.RawRecord{
			Payload: hit.Source,
			Meta: map[string]any{
				"index":       hit.Index,
				"document_id": hit.ID,
			},
		})
		if ts, ok := hit.Source[c.cfg.TimestampField].(string); ok {
			if s, isStr := next.(string); !isStr || ts > s {
				next = ts
			}
		}
	}

	if len(records) == 0 {
		return nil, nil, nil
	}
	return records, next, nil
}

// buildQuery combines the user filter fragment with the exclusive
// lower-bound range on the timestamp field.
func (c *Connector) buildQuery(marker cursor.Marker) map[string]any {
	var must []any
	if c.cfg.Query != nil {
		must = append(must, c.cfg.Query)
	}
	if ts, ok := marker.(string); ok && ts != "" {
		must = append(must, map[string]any{
			"range": map[string]any{
				c.cfg.TimestampField: map[string]any{"gt": ts},
			},
		})
	}

	query := map[string]any{
		"size": c.cfg.Size,
		"sort": []any{
			map[string]any{c.cfg.TimestampField: map[string]any{"order": "asc"}},
		},
	}
	if len(must) > 0 {
		query["query"] = map[string]any{"bool": map[string]any{"must": must}}
	} else {
		query["query"] = map[string]any{"match_all": map[string]any{}}
	}
	return query
}

// Envelope maps one document to an envelope. Documents are already maps,
// so this never fails; the meta carries index and document id.
func (c *Connector) Envelope(rec source.RawRecord) event.Envelope {
	return event.New(rec.Payload, rec.Meta)
}
