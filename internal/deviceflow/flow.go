// Package deviceflow performs the OAuth2 device-authorization grant for
// the unattended client and persists the resulting credential.
package deviceflow

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

var (
	// ErrProviderUnavailable means the device-code request itself failed.
	// No progress is possible, so the process must stop.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrAuthorizationTimedOut means the user never completed the grant
	// within the provider's time budget.
	ErrAuthorizationTimedOut = errors.New("device authorization timed out")
)

// deviceGrantType is the legacy device-grant identifier the provider's
// token endpoint expects.
const deviceGrantType = "http://oauth.net/grant_type/device/1.0"

// State is the polling loop's current state.
type State int

// Flow states.
const (
	StateRequesting State = iota
	StatePending
	StateSucceeded
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StatePending:
		return "pending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Config holds the provider endpoints and client registration the flow
// needs.
type Config struct {
	ClientID       string
	ClientSecret   string
	DeviceCodeURL  string
	TokenURL       string
	Scope          string
	CredentialFile string
}

// Flow runs the device-authorization grant as an explicit state machine:
// Requesting -> Pending -> {Succeeded, Failed, TimedOut}.
type Flow struct {
	cfg        Config
	httpClient *http.Client
	clock      Clock
	state      State
}

// New creates a flow with the real clock.
func New(cfg Config) *Flow {
	return NewWithClock(cfg, &http.Client{Timeout: 30 * time.Second}, realClock{})
}

// NewWithClock creates a flow with an injected HTTP client and clock.
func NewWithClock(cfg Config, httpClient *http.Client, clock Clock) *Flow {
	return &Flow{
		cfg:        cfg,
		httpClient: httpClient,
		clock:      clock,
	}
}

// State returns the flow's current state.
func (f *Flow) State() State {
	return f.state
}

type deviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int64  `json:"expires_in"`
	Interval        int64  `json:"interval"`
}

type pollResponse struct {
	Credential
	Error string `json:"error"`
}

// Acquire returns the persisted credential if one exists, otherwise runs
// the device grant: request a device code, show the user code, poll the
// token endpoint until the user approves or the code expires.
func (f *Flow) Acquire(ctx context.Context) (*Credential, error) {
	cred, err := LoadCredential(f.cfg.CredentialFile)
	if err != nil {
		return nil, err
	}
	if cred != nil {
		// Expiry is recorded but deliberately not enforced on reload;
		// the cloud side rejects a stale assertion anyway.
		if cred.ExpiresAt > 0 && f.clock.Now().UnixMilli() > cred.ExpiresAt {
			log.Warn().
				Int64("expires_at", cred.ExpiresAt).
				Msg("Persisted credential is past its expiry, using it anyway")
		}
		log.Info().Str("file", f.cfg.CredentialFile).Msg("Loaded persisted credential")
		return cred, nil
	}

	f.state = StateRequesting
	code, err := f.requestDeviceCode(ctx)
	if err != nil {
		f.state = StateFailed
		return nil, err
	}

	log.Info().
		Str("verification_url", code.VerificationURL).
		Str("user_code", code.UserCode).
		Msgf("Please visit %s and enter %s", code.VerificationURL, code.UserCode)

	f.state = StatePending
	deadline := f.clock.Now().Add(time.Duration(code.ExpiresIn) * time.Second)
	interval := time.Duration(code.Interval) * time.Second

	for f.clock.Now().Before(deadline) {
		if err := f.clock.Sleep(ctx, interval); err != nil {
			f.state = StateFailed
			return nil, err
		}

		cred, err := f.poll(ctx, code.DeviceCode)
		if err != nil {
			f.state = StateFailed
			return nil, err
		}
		if cred == nil {
			// Authorization pending or provider rate limiting; both are
			// expected while the user completes the grant.
			continue
		}

		cred.ExpiresAt = f.clock.Now().UnixMilli() + cred.Token.ExpiresIn*1000
		if err := SaveCredential(f.cfg.CredentialFile, cred); err != nil {
			f.state = StateFailed
			return nil, err
		}

		f.state = StateSucceeded
		log.Info().Str("file", f.cfg.CredentialFile).Msg("Device authorization complete, credential persisted")
		return cred, nil
	}

	f.state = StateTimedOut
	return nil, ErrAuthorizationTimedOut
}

// requestDeviceCode asks the provider for a device and user code. Any
// failure here is fatal: without a code there is nothing to poll.
func (f *Flow) requestDeviceCode(ctx context.Context) (*deviceCode, error) {
	form := url.Values{
		"client_id": {f.cfg.ClientID},
		"scope":     {f.cfg.Scope},
	}

	resp, err := f.postForm(ctx, f.cfg.DeviceCodeURL, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		log.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Device code request rejected")
		return nil, fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	var code deviceCode
	if err := json.NewDecoder(resp.Body).Decode(&code); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return &code, nil
}

// poll makes one token-endpoint attempt. A nil credential with nil error
// means "keep polling": non-2xx statuses and error-field bodies are
// transient while the user completes the grant. Transport failures are
// returned as errors.
func (f *Flow) poll(ctx context.Context, deviceCode string) (*Credential, error) {
	form := url.Values{
		"client_id":     {f.cfg.ClientID},
		"client_secret": {f.cfg.ClientSecret},
		"code":          {deviceCode},
		"grant_type":    {deviceGrantType},
	}

	resp, err := f.postForm(ctx, f.cfg.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("token poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		log.Warn().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Token poll not ready")
		return nil, nil
	}

	var poll pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&poll); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if poll.Error != "" {
		log.Info().Str("error", poll.Error).Msg("Authorization pending")
		return nil, nil
	}

	return &poll.Credential, nil
}

func (f *Flow) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.httpClient.Do(req)
}
