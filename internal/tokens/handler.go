package tokens

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/identity"
)

// Handler serves the account-linking token endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates the token endpoint handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type tokenRequest struct {
	ClientID    string `json:"clientId"`
	RedirectURI string `json:"redirectUri"`
	IDToken     string `json:"idToken"`
}

// ServeHTTP handles POST /token.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		log.Error().Str("method", r.Method).Msg("Unsupported method on token endpoint")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.service.Issue(r.Context(), req.ClientID, req.RedirectURI, req.IDToken)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidClient):
			http.Error(w, "Invalid clientId", http.StatusUnauthorized)
		case errors.Is(err, ErrInvalidRedirect):
			http.Error(w, "Invalid redirectUri", http.StatusUnauthorized)
		case errors.Is(err, identity.ErrInvalidAssertion):
			http.Error(w, "Invalid idToken", http.StatusUnauthorized)
		default:
			log.Error().Err(err).Msg("Failed generating access token")
			http.Error(w, "Token generation failure", http.StatusUnauthorized)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
