// Package mqtt implements the topic-subscriber connector. The broker's
// delivery guarantee (at-least-once at QoS 1) is relied on instead of a
// cursor; a dropped connection resubscribes to the identical topic filter
// before new messages flow.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"

	"github.com/conresinc/cloin.eda/internal/event"
	"github.com/conresinc/cloin.eda/internal/source"
)

// Config is the validated configuration for one mqtt source.
type Config struct {
	Host          string
	Port          int
	Topic         string
	Username      string
	Password      string
	ClientID      string
	QoS           int
	UseTLS        bool
	ValidateCerts bool
}

// NewConfig builds and validates a Config from raw options.
func NewConfig(name string, opts source.Options) (Config, error) {
	var cfg Config
	var err error

	if cfg.Host, err = opts.RequiredString(name, "host"); err != nil {
		return Config{}, err
	}
	if cfg.Port, err = opts.Int(name, "port", 1883); err != nil {
		return Config{}, err
	}
	if cfg.Topic, err = opts.RequiredString(name, "topic"); err != nil {
		return Config{}, err
	}
	if cfg.Username, err = opts.String(name, "username", ""); err != nil {
		return Config{}, err
	}
	if cfg.Password, err = opts.String(name, "password", ""); err != nil {
		return Config{}, err
	}
	if cfg.ClientID, err = opts.String(name, "client_id", "edase-"+uuid.NewString()[:8]); err != nil {
		return Config{}, err
	}
	if cfg.QoS, err = opts.Int(name, "qos", 1); err != nil {
		return Config{}, err
	}
	if cfg.QoS < 0 || cfg.QoS > 2 {
		return Config{}, source.NewConfigError(name, "qos", "must be 0, 1 or 2")
	}
	if cfg.UseTLS, err = opts.Bool(name, "tls", false); err != nil {
		return Config{}, err
	}
	if cfg.ValidateCerts, err = opts.Bool(name, "validate_certs", true); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Connector maintains a persistent subscription on one topic filter.
type Connector struct {
	name     string
	cfg      Config
	client   pahomqtt.Client
	messages chan source.RawRecord
}

// New creates an mqtt connector from raw options.
func New(name string, opts source.Options) (*Connector, error) {
	cfg, err := NewConfig(name, opts)
	if err != nil {
		return nil, err
	}
	return &Connector{
		name:     name,
		cfg:      cfg,
		messages: make(chan source.RawRecord, 128),
	}, nil
}

func (c *Connector) Name() string { return c.name }
func (c *Connector) Kind() string { return "mqtt" }

// Open connects to the broker and subscribes. The subscription is
// re-established inside the OnConnect hook so paho's automatic
// reconnection always restores the identical topic filter.
func (c *Connector) Open(ctx context.Context) error {
	scheme := "tcp"
	if c.cfg.UseTLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.cfg.Host, c.cfg.Port)).
		SetClientID(c.cfg.ClientID).
		SetAutoReconnect(true).
		SetOrderMatters(true)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: !c.cfg.ValidateCerts})
	}

	opts.SetOnConnectHandler(func(client pahomqtt.Client) {
		token := client.Subscribe(c.cfg.Topic, byte(c.cfg.QoS), c.onMessage)
		token.Wait()
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		if isAuthFailure(err) {
			return &source.AuthError{Source: c.name, Err: err}
		}
		return &source.ConnectionError{Source: c.name, Err: err}
	}

	c.client = client
	return nil
}

func isAuthFailure(err error) bool {
	switch err {
	case packets.ConnErrors[packets.ErrRefusedBadUsernameOrPassword],
		packets.ConnErrors[packets.ErrRefusedNotAuthorised],
		packets.ConnErrors[packets.ErrRefusedIDRejected]:
		return true
	}
	return false
}

// onMessage normalizes one broker message into a RawRecord. JSON bodies
// become the payload; anything else is carried verbatim under "message".
func (c *Connector) onMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil || payload == nil {
		payload = map[string]any{"message": string(msg.Payload())}
	}

	c.messages <- source.RawRecord{
		Payload: payload,
		Meta: map[string]any{
			"topic": msg.Topic(),
			"qos":   int(msg.Qos()),
		},
	}
}

// Receive blocks until the next broker message or cancellation.
func (c *Connector) Receive(ctx context.Context) (source.RawRecord, error) {
	select {
	case <-ctx.Done():
		return source.RawRecord{}, ctx.Err()
	case rec := <-c.messages:
		return rec, nil
	}
}

// Envelope passes the normalized message through.
func (c *Connector) Envelope(rec source.RawRecord) event.Envelope {
	return event.New(rec.Payload, rec.Meta)
}

// Close disconnects from the broker. Safe after a failed Open.
func (c *Connector) Close() error {
	if c.client != nil {
		c.client.Disconnect(250)
		c.client = nil
	}
	return nil
}
