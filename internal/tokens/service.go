// Package tokens mints and resolves the bearer access tokens used by the
// fulfillment endpoint.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/identity"
)

var (
	// ErrInvalidClient is returned when the request's client id does not
	// match the registered one.
	ErrInvalidClient = errors.New("invalid client id")
	// ErrInvalidRedirect is returned when the redirect URI does not match
	// the provider-issued one for this deployment.
	ErrInvalidRedirect = errors.New("invalid redirect uri")
)

// tokenBytes is the entropy of a minted access token. 32 random bytes
// make an id collision negligible, but Insert still guards against it.
const tokenBytes = 32

// Response is the token endpoint's success payload.
type Response struct {
	TokenType   string `json:"tokenType"`
	AccessToken string `json:"accessToken"`
}

// Service verifies an identity assertion and mints a bearer access token
// bound to the asserted user id.
type Service struct {
	clientID    string
	redirectURI string
	verifier    identity.Verifier
	store       *Store
	now         func() time.Time
}

// NewService creates the access token service.
func NewService(clientID, redirectURI string, verifier identity.Verifier, store *Store) *Service {
	return &Service{
		clientID:    clientID,
		redirectURI: redirectURI,
		verifier:    verifier,
		store:       store,
		now:         time.Now,
	}
}

// Issue validates the request, verifies the assertion and mints a token.
// A token-id collision is surfaced as ErrTokenExists; the caller retries
// with a fresh request.
func (s *Service) Issue(ctx context.Context, clientID, redirectURI, idToken string) (Response, error) {
	if clientID != s.clientID {
		log.Error().Str("client_id", clientID).Msg("Invalid client id")
		return Response{}, ErrInvalidClient
	}
	if redirectURI != s.redirectURI {
		log.Error().Str("redirect_uri", redirectURI).Msg("Invalid redirect uri")
		return Response{}, ErrInvalidRedirect
	}

	uid, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidAssertion) {
			return Response{}, err
		}
		return Response{}, fmt.Errorf("assertion verification failed: %w", err)
	}

	token, err := randomToken()
	if err != nil {
		return Response{}, fmt.Errorf("failed to generate token: %w", err)
	}

	if err := s.store.Insert(ctx, token, uid, s.now()); err != nil {
		return Response{}, err
	}

	log.Info().Str("uid", uid).Msg("Issued access token")
	return Response{TokenType: "bearer", AccessToken: token}, nil
}

func randomToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
