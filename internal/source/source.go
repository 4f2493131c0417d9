// Package source defines the contract every event source connector
// implements, plus the option plumbing and error taxonomy shared by the
// reference connectors.
package source

import (
	"context"

	"github.com/conresinc/cloin.eda/internal/cursor"
	"github.com/conresinc/cloin.eda/internal/event"
)

// RawRecord is one record as obtained from the external system, before
// normalization. Meta carries connector-assigned metadata that ends up in
// the envelope's meta map.
type RawRecord struct {
	Payload map[string]any
	Meta    map[string]any
}

// Connector owns one session with an external system. Open establishes
// the session; Close releases it and must be safe to call after a failed
// Open. Envelope is a pure mapping and must not fail on well-formed
// input; on malformed input it returns an envelope carrying the raw
// payload unchanged rather than dropping data.
type Connector interface {
	// Name is the configured source instance name.
	Name() string

	// Kind is the connector kind (elastic, mqtt, rss, snow, nextdns).
	Kind() string

	Open(ctx context.Context) error
	Close() error

	Envelope(rec RawRecord) event.Envelope
}

// Poller is a Connector driven on a fixed interval. Fetch returns the
// records not yet seen relative to the given marker, in ascending order,
// together with the advanced marker. Dedup semantics (inclusive vs
// exclusive boundaries, set diffing) live here, not in the cursor store.
// A nil returned marker means the cursor did not move.
type Poller interface {
	Connector

	Fetch(ctx context.Context, marker cursor.Marker) ([]RawRecord, cursor.Marker, error)
}

// Subscriber is a Connector with a persistent subscription. Receive
// blocks until the next pushed message arrives or ctx is cancelled, and
// returns exactly one record per call.
type Subscriber interface {
	Connector

	Receive(ctx context.Context) (RawRecord, error)
}
