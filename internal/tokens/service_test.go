package tokens

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/glowbridge/internal/db"
	"github.com/dokzlo13/glowbridge/internal/eventbus"
	"github.com/dokzlo13/glowbridge/internal/identity"
	"github.com/dokzlo13/glowbridge/internal/store/sqlitestore"
)

type fakeVerifier map[string]string

func (v fakeVerifier) Verify(_ context.Context, idToken string) (string, error) {
	uid, ok := v[idToken]
	if !ok {
		return "", identity.ErrInvalidAssertion
	}
	return uid, nil
}

func newTokenStore(t *testing.T) *Store {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	bus := eventbus.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	})

	return NewStore(sqlitestore.New(database.DB, bus))
}

func newService(t *testing.T) (*Service, *Store) {
	ts := newTokenStore(t)
	svc := NewService("client-1", "https://redirect.example/r/project", fakeVerifier{"valid-assertion": "user-1"}, ts)
	return svc, ts
}

func TestIssueValidatesClientID(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Issue(context.Background(), "wrong-client", "https://redirect.example/r/project", "valid-assertion")
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestIssueValidatesRedirectURI(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Issue(context.Background(), "client-1", "https://evil.example", "valid-assertion")
	assert.ErrorIs(t, err, ErrInvalidRedirect)
}

func TestIssueRejectsInvalidAssertion(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Issue(context.Background(), "client-1", "https://redirect.example/r/project", "garbage")
	assert.ErrorIs(t, err, identity.ErrInvalidAssertion)
}

func TestIssueMintsResolvableToken(t *testing.T) {
	svc, ts := newService(t)

	resp, err := svc.Issue(context.Background(), "client-1", "https://redirect.example/r/project", "valid-assertion")
	require.NoError(t, err)

	assert.Equal(t, "bearer", resp.TokenType)
	assert.Len(t, resp.AccessToken, tokenBytes*2, "hex-encoded token")

	uid, err := ts.Lookup(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid, "token resolves to the uid bound at issuance")
}

func TestIssueTokensAreUnique(t *testing.T) {
	svc, _ := newService(t)

	first, err := svc.Issue(context.Background(), "client-1", "https://redirect.example/r/project", "valid-assertion")
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), "client-1", "https://redirect.example/r/project", "valid-assertion")
	require.NoError(t, err)

	assert.NotEqual(t, first.AccessToken, second.AccessToken)
}

func TestInsertIsCreateOnce(t *testing.T) {
	ts := newTokenStore(t)
	ctx := context.Background()

	require.NoError(t, ts.Insert(ctx, "tok", "user-1", time.Now()))

	err := ts.Insert(ctx, "tok", "user-2", time.Now())
	assert.ErrorIs(t, err, ErrTokenExists)

	uid, err := ts.Lookup(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid, "first binding survives a colliding insert")
}

func TestLookupUnknownToken(t *testing.T) {
	ts := newTokenStore(t)

	uid, err := ts.Lookup(context.Background(), "never-issued")
	require.NoError(t, err)
	assert.Empty(t, uid)
}
