// Package event defines the normalized envelope every source emits.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Common meta keys set by the engine on every envelope. Connectors add
// their own keys (topic, feed_url, index, table) next to these.
const (
	MetaSource     = "source"
	MetaKind       = "kind"
	MetaUID        = "uid"
	MetaReceivedAt = "received_at"
)

// Envelope is the unit of data handed to the sink. Payload mirrors the
// external system's record shape; Meta holds source-assigned metadata and
// is kept separate to avoid key collisions. Both maps are always non-nil.
type Envelope struct {
	Payload map[string]any `json:"payload"`
	Meta    map[string]any `json:"meta"`
}

// New builds an envelope, normalizing nil maps to empty ones.
func New(payload, meta map[string]any) Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	if meta == nil {
		meta = map[string]any{}
	}
	return Envelope{Payload: payload, Meta: meta}
}

// Stamp returns a copy of the envelope with the engine-assigned meta keys
// set. Called by the runner immediately before the sink push so connector
// code never has to care about them.
func (e Envelope) Stamp(sourceName, kind string, now time.Time) Envelope {
	meta := make(map[string]any, len(e.Meta)+4)
	for k, v := range e.Meta {
		meta[k] = v
	}
	meta[MetaSource] = sourceName
	meta[MetaKind] = kind
	meta[MetaUID] = uuid.NewString()
	meta[MetaReceivedAt] = now.UTC().Format(time.RFC3339Nano)
	return Envelope{Payload: e.Payload, Meta: meta}
}

// Empty reports whether the envelope carries no payload. Empty envelopes
// are never pushed to the sink.
func (e Envelope) Empty() bool {
	return len(e.Payload) == 0
}
