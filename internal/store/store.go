// Package store persists whole JSON documents by name. Writes replace the
// previous document; there are no partial updates.
package store

import (
	"context"
	"errors"
)

// Well-known document names.
const (
	DocEvents        = "events"
	DocUsers         = "users"
	DocApprovals     = "approvals"
	DocNotifications = "pending_notifications"
)

// ErrCorrupt marks a document that failed to decode. Backends quarantine the
// bad copy and report the document as absent.
var ErrCorrupt = errors.New("store: corrupt document")

// Documents is a named-document store.
type Documents interface {
	// Load decodes the document into v. found is false when the document does
	// not exist or was quarantined as corrupt.
	Load(ctx context.Context, name string, v any) (found bool, err error)
	// Save replaces the document with the JSON encoding of v.
	Save(ctx context.Context, name string, v any) error
}
