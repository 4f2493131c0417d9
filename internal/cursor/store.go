// Package cursor tracks the last-seen position per source instance so
// polling connectors do not re-emit records they already delivered.
//
// The store is a plain key/value holder: marker shape and ordering are
// owned by each connector, never by the store.
package cursor

import (
	"context"
	"sync"
)

// Marker is an opaque position indicator. Connectors use timestamps,
// record IDs, or ID sets; durable backends require it to be
// JSON-serializable.
type Marker = any

// Store persists markers per source instance. Advance overwrites
// unconditionally; Reset is the explicit operator action that clears a
// marker and is never called by the engine itself.
type Store interface {
	Get(ctx context.Context, instanceID string) (Marker, error)
	Advance(ctx context.Context, instanceID string, marker Marker) error
	Reset(ctx context.Context, instanceID string) error
	Close() error
}

// Memory is the default Store. Markers live for the process lifetime.
type Memory struct {
	mu      sync.RWMutex
	markers map[string]Marker
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{markers: make(map[string]Marker)}
}

func (m *Memory) Get(_ context.Context, instanceID string) (Marker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.markers[instanceID], nil
}

func (m *Memory) Advance(_ context.Context, instanceID string, marker Marker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markers[instanceID] = marker
	return nil
}

func (m *Memory) Reset(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markers, instanceID)
	return nil
}

func (m *Memory) Close() error { return nil }
