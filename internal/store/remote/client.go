// Package remote is the physical client's view of the document store,
// speaking the cloud sync API: HTTP for reads and writes, WebSocket for
// the change feed.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/glowbridge/internal/store"
	"github.com/dokzlo13/glowbridge/internal/syncapi"
)

// Client is a session against one device document. Every write carries
// the session's origin tag, so changes echoed back over the watch feed
// can be recognized as the session's own.
type Client struct {
	baseURL    string
	deviceID   string
	idToken    string
	origin     string
	httpClient *http.Client
}

// New creates a sync session for a device. The idToken authenticates the
// session to the cloud; the origin tag is unique per session.
func New(baseURL, deviceID, idToken string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		idToken:  idToken,
		origin:   uuid.NewString(),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Origin returns the session's change-origin tag.
func (c *Client) Origin() string {
	return c.origin
}

// Get fetches the device document. Returns store.ErrNotFound when the
// document does not exist.
func (c *Client) Get(ctx context.Context) (store.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.docURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.idToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, store.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("document fetch failed: status %d: %s", resp.StatusCode, string(body))
	}

	var doc store.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

// Merge merge-upserts fields into the device document.
func (c *Client) Merge(ctx context.Context, doc store.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.docURL(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.idToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(syncapi.OriginHeader, c.origin)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("document merge failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("document merge failed: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Watch subscribes to the device document's change feed. The channel is
// closed when the feed ends, whether by cancel or by a transport error;
// transport errors are logged, not returned.
func (c *Client) Watch(ctx context.Context) (<-chan store.Change, func(), error) {
	wsURL, err := c.watchURL()
	if err != nil {
		return nil, nil, err
	}

	header := http.Header{"Authorization": {"Bearer " + c.idToken}}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, nil, fmt.Errorf("watch dial failed: %w", err)
	}

	ch := make(chan store.Change)
	cancel := func() { conn.Close() }

	go func() {
		defer close(ch)
		for {
			var change store.Change
			if err := conn.ReadJSON(&change); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					log.Error().Err(err).Str("device", c.deviceID).Msg("Watch feed error")
				}
				return
			}
			select {
			case ch <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	return ch, cancel, nil
}

func (c *Client) docURL() string {
	return fmt.Sprintf("%s/v1/devices/%s", c.baseURL, url.PathEscape(c.deviceID))
}

func (c *Client) watchURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/watch/devices/" + url.PathEscape(c.deviceID)
	return u.String(), nil
}
