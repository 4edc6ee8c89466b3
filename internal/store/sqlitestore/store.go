// Package sqlitestore implements the document store over SQLite with
// in-process change fan-out.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/eventbus"
	"github.com/dokzlo13/glowbridge/internal/store"
)

// watchBuffer is the per-subscription channel capacity. A watcher that
// falls this far behind loses intermediate states, which is acceptable:
// only the latest desired state matters to an actuator.
const watchBuffer = 16

// Store provides document storage with JSON payloads keyed by
// (collection, id), with change notifications through an event bus.
type Store struct {
	db  *sql.DB
	bus *eventbus.Bus
	mu  sync.RWMutex
}

// New creates a new SQLite-backed document store.
func New(db *sql.DB, bus *eventbus.Bus) *Store {
	return &Store{db: db, bus: bus}
}

// Get retrieves a document. Returns store.ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM documents
		WHERE collection = ? AND id = ?
	`, collection, id).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return decode(payload)
}

// Set replaces the document, creating it if absent.
func (s *Store) Set(ctx context.Context, collection, id string, doc store.Document, origin string) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	s.mu.Lock()
	now := time.Now().UTC().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, collection, id, string(payload), now)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}

	s.notify(collection, id, doc, origin)
	return nil
}

// Merge deep-merges doc into the stored document, creating it if absent.
// The read-merge-write runs under the store lock so concurrent merges on
// the same document serialize at the field level.
func (s *Store) Merge(ctx context.Context, collection, id string, doc store.Document, origin string) error {
	s.mu.Lock()

	var payload string
	current := store.Document{}
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM documents
		WHERE collection = ? AND id = ?
	`, collection, id).Scan(&payload)
	switch {
	case err == sql.ErrNoRows:
		// Merge into an absent document creates it.
	case err != nil:
		s.mu.Unlock()
		return fmt.Errorf("failed to read document for merge: %w", err)
	default:
		if current, err = decode(payload); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	merged := store.MergeDocs(current, doc)
	data, err := json.Marshal(merged)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	now := time.Now().UTC().Unix()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, collection, id, string(data), now)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to merge document: %w", err)
	}

	s.notify(collection, id, merged, origin)
	return nil
}

// Create writes the document only if the id is unoccupied.
// Returns store.ErrExists otherwise, never overwriting.
func (s *Store) Create(ctx context.Context, collection, id string, doc store.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	s.mu.Lock()
	now := time.Now().UTC().Unix()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(collection, id) DO NOTHING
	`, collection, id, string(payload), now)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check create result: %w", err)
	}
	if affected == 0 {
		return store.ErrExists
	}

	return nil
}

// Query returns all documents in a collection whose top-level field
// equals value.
func (s *Store) Query(ctx context.Context, collection, field string, value any) (map[string]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, payload FROM documents WHERE collection = ?
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	result := make(map[string]store.Document)
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		doc, err := decode(payload)
		if err != nil {
			return nil, err
		}

		if doc[field] == value {
			result[id] = doc
		}
	}

	return result, rows.Err()
}

// Watch subscribes to changes of one document.
func (s *Store) Watch(ctx context.Context, collection, id string) (<-chan store.Change, func(), error) {
	ch := make(chan store.Change, watchBuffer)

	// A queued handler may still run briefly after unsubscribe, so the
	// closed flag is checked under the same lock that guards close(ch).
	var mu sync.Mutex
	closed := false

	unsubscribe := s.bus.Subscribe(topic(collection, id), func(ev eventbus.Event) {
		change, ok := ev.Data.(store.Change)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- change:
		default:
			log.Warn().
				Str("collection", collection).
				Str("id", id).
				Msg("Watch channel full, dropping change")
		}
	})

	cancel := func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(ch)
		}
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel, nil
}

func (s *Store) notify(collection, id string, doc store.Document, origin string) {
	change := store.Change{
		Collection: collection,
		ID:         id,
		Doc:        doc,
		Origin:     origin,
		EventID:    uuid.NewString(),
	}

	log.Debug().
		Str("collection", collection).
		Str("id", id).
		Str("origin", origin).
		Str("event_id", change.EventID).
		Msg("Document changed")

	s.bus.Publish(eventbus.Event{Topic: topic(collection, id), Data: change})
}

func topic(collection, id string) string {
	return collection + "/" + id
}

func decode(payload string) (store.Document, error) {
	var doc store.Document
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return doc, nil
}
