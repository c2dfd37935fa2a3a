package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EventRecord is one diagnostic event as persisted.
// Keep it compact and schema-stable.
type EventRecord struct {
	At       time.Time `json:"at"`
	Type     string    `json:"type"`
	DataJSON string    `json:"data,omitempty"`
}

// SnapshotRecord is one periodic scheduler snapshot as persisted.
type SnapshotRecord struct {
	At        time.Time `json:"at"`
	StateJSON string    `json:"state"`
}
