// backend/src/store/client.go
package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/username/ledgersync/backend/src/models"
)

// Sentinel errors of the remote store boundary.
//
// ErrConflict means the blob moved to a different revision than the one the
// writer last read; it is not retryable at this layer. ErrTransient covers
// network failures and every non-2xx response that is neither "not found" on
// read nor a version conflict on write.
var (
	ErrConflict  = errors.New("store: version conflict")
	ErrTransient = errors.New("store: transient error")
)

// Client reads and conditionally writes named blobs in a versioned file
// store over HTTP. Content travels base64-encoded in both directions.
type Client struct {
	baseURL    string
	authToken  string
	httpClient http.Client
}

// NewClient builds a store client for the given API base URL. The auth token
// may be empty for stores that do not require one.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: http.Client{Timeout: timeout},
	}
}

// --- Wire format ---

type readResponse struct {
	Content string `json:"content"`
	Version string `json:"version"`
}

type writeRequest struct {
	Content string `json:"content"`
	Message string `json:"message"`
	Version string `json:"version,omitempty"`
}

type writeResponse struct {
	Version string `json:"version"`
}

// Read fetches the blob at path. A 404 from the store is a successful
// outcome: it returns an empty snapshot with Found=false and no error.
func (c *Client) Read(ctx context.Context, path string) (models.StoreSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("store: building read request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: read %s: %v", ErrTransient, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.StoreSnapshot{}, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return models.StoreSnapshot{}, fmt.Errorf("%w: read %s: unexpected status %d", ErrTransient, path, resp.StatusCode)
	}

	var body readResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: read %s: decoding response: %v", ErrTransient, path, err)
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		return models.StoreSnapshot{}, fmt.Errorf("%w: read %s: decoding content: %v", ErrTransient, path, err)
	}

	return models.StoreSnapshot{
		Content:      string(content),
		VersionToken: body.Version,
		Found:        true,
	}, nil
}

// Write replaces the blob at path, but only if the store's current revision
// still matches expectedVersionToken. Pass an empty token when creating a
// blob that did not exist at read time. On success the new version token is
// returned; a stale token yields ErrConflict.
func (c *Client) Write(ctx context.Context, path, content, message, expectedVersionToken string) (string, error) {
	payload := writeRequest{
		Content: base64.StdEncoding.EncodeToString([]byte(content)),
		Message: message,
		Version: expectedVersionToken,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("store: encoding write request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url(path), bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("store: building write request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: write %s: %v", ErrTransient, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusPreconditionFailed:
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: write %s", ErrConflict, path)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return "", fmt.Errorf("%w: write %s: unexpected status %d", ErrTransient, path, resp.StatusCode)
	}

	var body writeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: write %s: decoding response: %v", ErrTransient, path, err)
	}
	return body.Version, nil
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}
