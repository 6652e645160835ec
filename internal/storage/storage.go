// Package storage defines the identity store: the persistent mapping from
// source-tracker identifiers to target-tracker identifiers, plus the
// per-project sync watermarks.
//
// The identity store is the single source of truth for idempotency. "Was
// this already created in the target?" is answered by a mapping lookup, never
// by querying the target tracker.
//
// The durable implementation lives in the sqlite sub-package; the memory
// sub-package provides a fake with identical semantics for tests.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/steveyegge/mpsync/internal/types"
)

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("identity store closed")

// ErrUnknownKind is returned for an EntityKind outside the four namespaces.
var ErrUnknownKind = errors.New("unknown entity kind")

// IdentityStore is satisfied by *sqlite.Store and *memory.Store.
// Consumers depend on this interface so instrumented wrappers and fakes can
// be substituted.
type IdentityStore interface {
	// GetMapping looks up the target ID for a source key. ok is false when
	// no mapping exists. Lookups have no side effects.
	GetMapping(ctx context.Context, kind types.EntityKind, sourceKey string) (targetID int64, ok bool, err error)

	// PutMapping upserts a mapping. Putting an existing key overwrites the
	// target ID and synced_at; it never creates a second record.
	PutMapping(ctx context.Context, kind types.EntityKind, sourceKey string, targetID int64) error

	// GetWatermark returns the last sync time of a project. ok is false
	// until the first successful run of that project.
	GetWatermark(ctx context.Context, projectID string) (t time.Time, ok bool, err error)

	// SetWatermark upserts the last sync time of a project.
	SetWatermark(ctx context.Context, projectID string, t time.Time) error

	// CountMappings returns the number of mappings in one namespace.
	CountMappings(ctx context.Context, kind types.EntityKind) (int, error)

	// ListWatermarks returns every stored watermark keyed by project ID.
	ListWatermarks(ctx context.Context) (map[string]time.Time, error)

	Close() error
}

// TimeFormat is the on-disk format of synced_at and last_sync values.
// Fixed-width fractional seconds keep lexical and chronological order equal.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeFormat (always UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime parses a value written by FormatTime. RFC3339 is accepted too
// so hand-edited databases keep working.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
