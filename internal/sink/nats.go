package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/conresinc/cloin.eda/internal/event"
	"github.com/conresinc/cloin.eda/internal/metrics"
)

// NATSConfig holds NATS sink configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for connection identification.
	Name string

	// SubjectPrefix is prepended to the per-source subject. Envelopes are
	// published to "<prefix>.<kind>.<source>".
	SubjectPrefix string

	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout is the connection timeout.
	Timeout time.Duration

	// Username and Password for authentication (optional).
	Username string
	Password string
}

// DefaultNATSConfig returns a NATSConfig with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "edase-sink",
		SubjectPrefix: "edase.events",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATS publishes envelopes to a NATS subject per source, for deployments
// where the rule engine runs out of process. Reconnection is handled by
// the client; publishes during a reconnect window are buffered by nats.go.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// NewNATS connects to the NATS server.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "edase.events"
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATS{conn: conn, prefix: cfg.SubjectPrefix}, nil
}

// Push publishes one envelope as JSON.
func (n *NATS) Push(ctx context.Context, env event.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	subject := n.prefix
	if kind, ok := env.Meta[event.MetaKind].(string); ok && kind != "" {
		subject += "." + kind
	}
	if src, ok := env.Meta[event.MetaSource].(string); ok && src != "" {
		subject += "." + src
	}

	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish envelope: %w", err)
	}
	metrics.SinkPushes.Inc()
	return nil
}

// Close drains the connection, allowing in-flight publishes to complete.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
