package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dokzlo13/glowbridge/internal/store"
)

// ErrTokenExists is returned when a token id is already occupied.
// Access tokens are create-once: they are never rotated or updated.
var ErrTokenExists = errors.New("access token already exists")

// Store restricts access-token documents to create-once, read-by-id.
// No update or delete surface exists on purpose.
type Store struct {
	docs store.Store
}

// NewStore creates the token policy layer over the document store.
func NewStore(docs store.Store) *Store {
	return &Store{docs: docs}
}

// Insert writes a new access token bound to uid. Fails with
// ErrTokenExists if the token value collides with an existing document,
// leaving the existing binding untouched.
func (s *Store) Insert(ctx context.Context, token, uid string, createdAt time.Time) error {
	doc := store.Document{
		"uid":       uid,
		"createdAt": createdAt.UnixMilli(),
	}
	err := s.docs.Create(ctx, store.AccessTokens, token, doc)
	if errors.Is(err, store.ErrExists) {
		return ErrTokenExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert access token: %w", err)
	}
	return nil
}

// Lookup resolves a token value to its bound uid. Returns an empty uid
// without error when the token is unknown.
func (s *Store) Lookup(ctx context.Context, token string) (string, error) {
	doc, err := s.docs.Get(ctx, store.AccessTokens, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up access token: %w", err)
	}

	uid, _ := doc["uid"].(string)
	return uid, nil
}
