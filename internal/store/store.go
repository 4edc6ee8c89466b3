// Package store defines the document store contract shared by the cloud
// process (SQLite-backed) and the physical client (remote sync API).
package store

import (
	"context"
	"errors"
)

// Collection names used by the bridge.
const (
	Devices      = "devices"
	AccessTokens = "access_tokens"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned by Create when the document id is occupied.
	ErrExists = errors.New("document already exists")
)

// Document is a JSON document. Nested objects decode to map[string]any,
// numbers to float64, per encoding/json defaults.
type Document = map[string]any

// Change is a document change notification delivered to watchers.
// Origin carries the writer's session tag so a client can ignore the
// echo of its own writes.
type Change struct {
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Doc        Document `json:"doc"`
	Origin     string   `json:"origin"`
	EventID    string   `json:"eventId"`
}

// Store is the document store used by the intent dispatcher, the token
// layer and the physical client.
type Store interface {
	// Get returns the document, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Set replaces the document, creating it if absent.
	Set(ctx context.Context, collection, id string, doc Document, origin string) error

	// Merge deep-merges doc into the existing document (creating it if
	// absent): nested objects merge recursively, scalar fields are
	// last-writer-wins.
	Merge(ctx context.Context, collection, id string, doc Document, origin string) error

	// Create writes the document only if the id is unoccupied.
	// Returns ErrExists otherwise, leaving the existing document intact.
	Create(ctx context.Context, collection, id string, doc Document) error

	// Query returns all documents whose top-level field equals value.
	Query(ctx context.Context, collection, field string, value any) (map[string]Document, error)

	// Watch subscribes to changes of one document. The returned cancel
	// function releases the subscription; the channel is closed when the
	// subscription ends.
	Watch(ctx context.Context, collection, id string) (<-chan Change, func(), error)
}

// MergeDocs merges src into dst recursively and returns dst. Nested
// map values merge field by field; any other value overwrites.
func MergeDocs(dst, src Document) Document {
	if dst == nil {
		dst = Document{}
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = MergeDocs(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}
