package deviceflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// Credential is the provider-issued credential the client persists after
// a successful device-authorization grant. The embedded oauth2.Token
// carries the raw grant response; IDToken is the identity assertion the
// cloud side verifies; ExpiresAt is epoch millis recorded at issuance.
type Credential struct {
	oauth2.Token
	IDToken   string `json:"id_token"`
	ExpiresAt int64  `json:"expires_at"`
}

// LoadCredential reads a persisted credential. A missing file returns
// (nil, nil) and triggers the device flow; an unreadable or corrupt file
// is an error, since silently redoing the grant would orphan the old
// credential.
func LoadCredential(path string) (*Credential, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential file: %w", err)
	}
	if cred.IDToken == "" {
		return nil, fmt.Errorf("credential file %s has no id_token", path)
	}

	return &cred, nil
}

// SaveCredential persists the credential atomically: a partial write
// never leaves a corrupt file behind (write to a temp file in the same
// directory, then rename).
func SaveCredential(path string, cred *Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to marshal credential: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credential file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close credential file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set credential file mode: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename credential file: %w", err)
	}
	return nil
}
