package syncapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/glowbridge/internal/db"
	"github.com/dokzlo13/glowbridge/internal/eventbus"
	"github.com/dokzlo13/glowbridge/internal/identity"
	"github.com/dokzlo13/glowbridge/internal/store"
	"github.com/dokzlo13/glowbridge/internal/store/remote"
	"github.com/dokzlo13/glowbridge/internal/store/sqlitestore"
	"github.com/dokzlo13/glowbridge/internal/syncapi"
)

type fakeVerifier map[string]string

func (v fakeVerifier) Verify(_ context.Context, idToken string) (string, error) {
	uid, ok := v[idToken]
	if !ok {
		return "", identity.ErrInvalidAssertion
	}
	return uid, nil
}

type env struct {
	docs   *sqlitestore.Store
	server *httptest.Server
}

func newEnv(t *testing.T) *env {
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

	docs := sqlitestore.New(database.DB, bus)
	verifier := fakeVerifier{"idt-alice": "alice", "idt-bob": "bob"}

	r := chi.NewRouter()
	r.Mount("/v1", syncapi.NewServer(docs, verifier).Routes())

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	return &env{docs: docs, server: server}
}

func (e *env) client(idToken, deviceID string) *remote.Client {
	return remote.New(e.server.URL, deviceID, idToken, time.Second)
}

func TestRejectsMissingToken(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Get(e.server.URL + "/v1/devices/lamp-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsInvalidToken(t *testing.T) {
	e := newEnv(t)

	_, err := e.client("idt-forged", "lamp-1").Get(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestGetMissingDevice(t *testing.T) {
	e := newEnv(t)

	_, err := e.client("idt-alice", "lamp-1").Get(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMergeStampsOwnerOnCreation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client("idt-alice", "lamp-1")

	require.NoError(t, c.Merge(ctx, store.Document{"name": "desk"}))

	doc, err := e.docs.Get(ctx, store.Devices, "lamp-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", doc["ownerUserId"])
	assert.Equal(t, "desk", doc["name"])
}

func TestMergeCannotReassignOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := e.client("idt-alice", "lamp-1")

	require.NoError(t, c.Merge(ctx, store.Document{"name": "desk"}))
	require.NoError(t, c.Merge(ctx, store.Document{"ownerUserId": "mallory", "name": "shelf"}))

	doc, err := e.docs.Get(ctx, store.Devices, "lamp-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", doc["ownerUserId"], "owner is immutable after creation")
	assert.Equal(t, "shelf", doc["name"])
}

func TestForeignDeviceLooksMissing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.client("idt-bob", "lamp-bob").Merge(ctx, store.Document{"name": "bob's"}))

	alice := e.client("idt-alice", "lamp-bob")
	_, err := alice.Get(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Error(t, alice.Merge(ctx, store.Document{"name": "mine now"}))

	doc, err := e.docs.Get(ctx, store.Devices, "lamp-bob")
	require.NoError(t, err)
	assert.Equal(t, "bob's", doc["name"])
}

func TestWatchStreamsChangesWithOrigin(t *testing.T) {
	e := newEnv(t)
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	watcher := e.client("idt-alice", "lamp-1")
	require.NoError(t, watcher.Merge(ctx, store.Document{"name": "desk"}))

	changes, cancel, err := watcher.Watch(ctx)
	require.NoError(t, err)
	defer cancel()

	writer := e.client("idt-alice", "lamp-1")
	require.NoError(t, writer.Merge(ctx, store.Document{
		"states": map[string]any{"on": true},
	}))

	select {
	case change := <-changes:
		assert.Equal(t, "lamp-1", change.ID)
		assert.Equal(t, writer.Origin(), change.Origin)
		assert.NotEqual(t, watcher.Origin(), change.Origin)
		assert.Equal(t, map[string]any{"on": true}, change.Doc["states"])
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered over the watch feed")
	}
}

func TestWatchEchoesOwnWrites(t *testing.T) {
	e := newEnv(t)
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	c := e.client("idt-alice", "lamp-1")
	require.NoError(t, c.Merge(ctx, store.Document{"name": "desk"}))

	changes, cancel, err := c.Watch(ctx)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, c.Merge(ctx, store.Document{"states": map[string]any{"on": false}}))

	// The feed does not filter; recognizing one's own origin is the
	// subscriber's job.
	select {
	case change := <-changes:
		assert.Equal(t, c.Origin(), change.Origin)
	case <-time.After(2 * time.Second):
		t.Fatal("own write not echoed over the watch feed")
	}
}

func TestWatchCancelClosesFeed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	c := e.client("idt-alice", "lamp-1")
	require.NoError(t, c.Merge(ctx, store.Document{"name": "desk"}))

	changes, cancel, err := c.Watch(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-changes:
		assert.False(t, open, "feed should close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("feed not closed after cancel")
	}
}
