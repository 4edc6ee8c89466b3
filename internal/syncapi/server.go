// Package syncapi exposes the document store to physical clients over
// HTTP, with a WebSocket change feed for subscriptions.
package syncapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/identity"
	"github.com/dokzlo13/glowbridge/internal/store"
)

// OriginHeader carries the writer's session tag on mutating requests.
// It is echoed back on every change notification the write produces.
const OriginHeader = "X-Glow-Origin"

type contextKey string

const uidContextKey contextKey = "uid"

var bearerRegexp = regexp.MustCompile(`^Bearer (.+)$`)

// Server serves the /v1 sync API. Clients authenticate with their
// provider ID token; all access is scoped to the verified user's own
// device documents. Access-token documents are never reachable here.
type Server struct {
	docs     store.Store
	verifier identity.Verifier
	upgrader websocket.Upgrader
}

// NewServer creates the sync API server.
func NewServer(docs store.Store, verifier identity.Verifier) *Server {
	return &Server{
		docs:     docs,
		verifier: verifier,
	}
}

// Routes returns the /v1 router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.authenticate)

	r.Get("/devices/{id}", s.handleGet)
	r.Patch("/devices/{id}", s.handleMerge)
	r.Get("/watch/devices/{id}", s.handleWatch)

	return r
}

// authenticate verifies the Authorization bearer as a provider ID token
// and stores the resulting uid in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		match := bearerRegexp.FindStringSubmatch(r.Header.Get("Authorization"))
		if match == nil {
			http.Error(w, "Missing bearer token", http.StatusUnauthorized)
			return
		}

		uid, err := s.verifier.Verify(r.Context(), match[1])
		if err != nil {
			if errors.Is(err, identity.ErrInvalidAssertion) {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			log.Error().Err(err).Msg("Assertion verification failed")
			http.Error(w, "Verification unavailable", http.StatusServiceUnavailable)
			return
		}

		ctx := context.WithValue(r.Context(), uidContextKey, uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func uidFrom(ctx context.Context) string {
	uid, _ := ctx.Value(uidContextKey).(string)
	return uid
}

// authorized reports whether the caller may touch the device document.
// A document that exists but belongs to someone else looks exactly like
// a missing one.
func (s *Server) authorized(ctx context.Context, id string) (store.Document, bool, error) {
	doc, err := s.docs.Get(ctx, store.Devices, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	owner, _ := doc["ownerUserId"].(string)
	return doc, owner == uidFrom(ctx), nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	doc, ok, err := s.authorized(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("device", id).Msg("Document read failed")
		http.Error(w, "Read failed", http.StatusInternalServerError)
		return
	}
	if !ok || doc == nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

// handleMerge merge-upserts a device document. The owner is always the
// verified caller; a registration cannot reassign ownership.
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var doc store.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, "Invalid document body", http.StatusBadRequest)
		return
	}

	existing, ok, err := s.authorized(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("device", id).Msg("Document read failed")
		http.Error(w, "Write failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// ownerUserId is set at creation and immutable thereafter.
	if existing == nil {
		doc["ownerUserId"] = uidFrom(r.Context())
	} else {
		delete(doc, "ownerUserId")
	}

	if err := s.docs.Merge(r.Context(), store.Devices, id, doc, r.Header.Get(OriginHeader)); err != nil {
		log.Error().Err(err).Str("device", id).Msg("Document merge failed")
		http.Error(w, "Write failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleWatch upgrades to a WebSocket and streams change notifications
// for one device document until either side closes.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	_, ok, err := s.authorized(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("device", id).Msg("Document read failed")
		http.Error(w, "Watch failed", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancelCtx := context.WithCancel(r.Context())
	defer cancelCtx()

	changes, cancel, err := s.docs.Watch(ctx, store.Devices, id)
	if err != nil {
		log.Error().Err(err).Str("device", id).Msg("Watch subscription failed")
		return
	}
	defer cancel()

	// Read pump: discard client frames, detect disconnect.
	go func() {
		defer cancelCtx()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("device", id).Str("uid", uidFrom(r.Context())).Msg("Watch started")

	for {
		select {
		case <-ctx.Done():
			return
		case change, open := <-changes:
			if !open {
				return
			}
			if err := conn.WriteJSON(change); err != nil {
				log.Debug().Err(err).Str("device", id).Msg("Watch write failed, closing")
				return
			}
		}
	}
}
