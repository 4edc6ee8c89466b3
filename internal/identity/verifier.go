// Package identity verifies provider-issued identity assertions.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrInvalidAssertion is returned when the provider rejects the assertion.
var ErrInvalidAssertion = errors.New("invalid identity assertion")

// Verifier resolves an identity assertion to the provider user id.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (uid string, err error)
}

// TokenInfoVerifier verifies ID tokens against the provider's tokeninfo
// endpoint.
type TokenInfoVerifier struct {
	endpoint   string
	httpClient *http.Client
}

// NewTokenInfoVerifier creates a verifier for the given tokeninfo endpoint.
func NewTokenInfoVerifier(endpoint string, timeout time.Duration) *TokenInfoVerifier {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &TokenInfoVerifier{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Verify posts the assertion to the tokeninfo endpoint and returns the
// subject claim. Any non-2xx response means the assertion is invalid or
// expired.
func (v *TokenInfoVerifier) Verify(ctx context.Context, idToken string) (string, error) {
	form := url.Values{"id_token": {idToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tokeninfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		log.Debug().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Tokeninfo rejected assertion")
		return "", ErrInvalidAssertion
	}

	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode tokeninfo response: %w", err)
	}
	if info.Sub == "" {
		return "", ErrInvalidAssertion
	}

	return info.Sub, nil
}
