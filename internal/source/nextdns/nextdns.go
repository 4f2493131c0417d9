// Package nextdns implements the log-streamer connector. The provider
// exposes a long-lived server-sent-events stream with no resumable
// cursor; a disconnect simply reopens the stream, so short gap or
// duplicate windows around a reconnect are expected and documented
// rather than compensated for.
package nextdns

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/conresinc/cloin.eda/internal/event"
	"github.com/conresinc/cloin.eda/internal/source"
)

// Config is the validated configuration for one nextdns source.
type Config struct {
	APIKey    string
	ProfileID string
	Endpoint  string
}

// NewConfig builds and validates a Config from raw options.
func NewConfig(name string, opts source.Options) (Config, error) {
	var cfg Config
	var err error

	if cfg.APIKey, err = opts.RequiredString(name, "api_key"); err != nil {
		return Config{}, err
	}
	if cfg.ProfileID, err = opts.RequiredString(name, "profile_id"); err != nil {
		return Config{}, err
	}
	if cfg.Endpoint, err = opts.String(name, "endpoint", "https://api.nextdns.io"); err != nil {
		return Config{}, err
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return cfg, nil
}

// streamItem is one unit off the reader goroutine: a record or the
// error that ended the stream.
type streamItem struct {
	rec source.RawRecord
	err error
}

// Connector holds one open SSE stream.
type Connector struct {
	name   string
	cfg    Config
	client *http.Client

	items  chan streamItem
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a nextdns connector from raw options.
func New(name string, opts source.Options) (*Connector, error) {
	cfg, err := NewConfig(name, opts)
	if err != nil {
		return nil, err
	}
	return &Connector{
		name: name,
		cfg:  cfg,
		// No read timeout: the stream is expected to stay open for hours.
		client: &http.Client{},
	}, nil
}

func (c *Connector) Name() string { return c.name }
func (c *Connector) Kind() string { return "nextdns" }

// Open establishes the stream and starts the reader. The HTTP status is
// checked synchronously so credential problems surface to the caller
// instead of the first Receive.
func (c *Connector) Open(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(context.Background())

	endpoint := fmt.Sprintf("%s/profiles/%s/logs/stream", c.cfg.Endpoint, c.cfg.ProfileID)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		cancel()
		return source.NewConfigError(c.name, "endpoint", err.Error())
	}
	req.Header.Set("X-Api-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return &source.ConnectionError{Source: c.name, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		cancel()
		return &source.AuthError{Source: c.name, Err: fmt.Errorf("stream returned %s", resp.Status)}
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		cancel()
		return source.NewConfigError(c.name, "profile_id", "unknown profile")
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		cancel()
		return &source.ConnectionError{Source: c.name, Err: fmt.Errorf("stream returned %s", resp.Status)}
	}

	c.cancel = cancel
	c.items = make(chan streamItem, 128)
	c.done = make(chan struct{})
	go c.readStream(resp.Body)
	return nil
}

// readStream scans SSE lines off the response body until it ends.
func (c *Connector) readStream(body io.ReadCloser) {
	defer close(c.done)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// Comments, event names and keep-alive blank lines.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var payload map[string]any
		if err := json.Unmarshal([]byte(data), &payload); err != nil || payload == nil {
			payload = map[string]any{"raw": data}
		}
		c.items <- streamItem{rec: source.RawRecord{
			Payload: payload,
			Meta:    map[string]any{"profile_id": c.cfg.ProfileID},
		}}
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.items <- streamItem{err: &source.ConnectionError{Source: c.name, Err: fmt.Errorf("stream ended: %w", err)}}
}

// Receive blocks until the next log line, a stream failure, or
// cancellation. A stream failure comes back as a ConnectionError so the
// caller reopens.
func (c *Connector) Receive(ctx context.Context) (source.RawRecord, error) {
	select {
	case <-ctx.Done():
		return source.RawRecord{}, ctx.Err()
	case item := <-c.items:
		return item.rec, item.err
	}
}

// Envelope passes the log entry through.
func (c *Connector) Envelope(rec source.RawRecord) event.Envelope {
	return event.New(rec.Payload, rec.Meta)
}

// Close tears the stream down and waits for the reader to exit. Safe
// after a failed Open and safe to call twice.
func (c *Connector) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.cancel = nil

	// The reader may be blocked sending; drain until it finishes.
	for {
		select {
		case <-c.items:
		case <-c.done:
			return nil
		case <-time.After(5 * time.Second):
			return fmt.Errorf("stream reader did not stop")
		}
	}
}
