// Package protocol implements the pull/push exchange with the sync
// server. The wire shape is per-table change sets keyed by a millisecond
// pull timestamp.
package protocol

import (
	"context"
	"errors"
)

// RawRecord is one record on the wire: column name to JSON value.
// "id" and "updated_at" (unix milliseconds) are always present.
type RawRecord map[string]interface{}

// ID returns the record's stable identifier, empty if missing.
func (r RawRecord) ID() string {
	id, _ := r["id"].(string)
	return id
}

// UpdatedAt returns the record's updated_at in unix milliseconds.
// JSON decoding yields float64 for numbers.
func (r RawRecord) UpdatedAt() int64 {
	switch v := r["updated_at"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// TableChanges partitions one table's delta into created, updated and
// deleted identifier lists.
type TableChanges struct {
	Created []RawRecord `json:"created"`
	Updated []RawRecord `json:"updated"`
	Deleted []string    `json:"deleted"`
}

// Empty reports whether the change set carries nothing.
func (tc TableChanges) Empty() bool {
	return len(tc.Created) == 0 && len(tc.Updated) == 0 && len(tc.Deleted) == 0
}

// Changes maps table name to its delta.
type Changes map[string]TableChanges

// Empty reports whether no table carries changes.
func (c Changes) Empty() bool {
	for _, tc := range c {
		if !tc.Empty() {
			return false
		}
	}
	return true
}

// Count returns the total number of records across all tables.
func (c Changes) Count() int {
	n := 0
	for _, tc := range c {
		n += len(tc.Created) + len(tc.Updated) + len(tc.Deleted)
	}
	return n
}

// PullResponse is the server's answer to a pull request.
type PullResponse struct {
	Changes   Changes `json:"changes"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds, becomes the next cursor
}

// ErrConflict is returned by Push when the server rejects the payload
// due to an optimistic-concurrency mismatch against lastPulledAt.
var ErrConflict = errors.New("push rejected: server state changed since last pull")

// Client is the sync protocol consumed by the engine.
// lastPulledAt is unix milliseconds; zero means "never pulled".
type Client interface {
	// Pull requests all server-side changes with updated_at > lastPulledAt.
	Pull(ctx context.Context, lastPulledAt int64) (*PullResponse, error)

	// Push submits local changes along with the lastPulledAt the caller
	// most recently observed. Returns ErrConflict (possibly wrapped) on
	// an optimistic-concurrency rejection.
	Push(ctx context.Context, changes Changes, lastPulledAt int64) error
}
