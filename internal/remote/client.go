// Package remote provides the HTTP client for the campus directory service.
//
// The remote collaborator is opaque: it serves full roster snapshots and
// incremental changelogs, and is reachable only from the campus network or
// over VPN. Every failure here is recoverable by falling back to the local
// snapshot, so the client reports errors rather than retrying.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/yatin-bhojwani/compass/internal/directory"
)

// Client calls the remote directory service.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *log.Logger
}

// errorBody is the shape the service uses for non-2xx responses.
type errorBody struct {
	Error string `json:"error"`
}

// snapshotBody wraps the full-roster response.
type snapshotBody struct {
	Profiles []directory.StudentRecord `json:"profiles"`
}

// changelogRequest is the body of a changelog fetch.
type changelogRequest struct {
	LastUpdateTime string `json:"lastUpdateTime"`
}

// New creates a client for the directory service rooted at baseURL
// (e.g. "https://search.example.edu").
//
// If logger is nil, a default logger writing to stderr is used.
func New(baseURL string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// NewWithHTTPClient creates a client using the given http.Client. Tests use
// this to point at an httptest server with a short timeout.
func NewWithHTTPClient(baseURL string, httpc *http.Client, logger *log.Logger) *Client {
	c := New(baseURL, logger)
	if httpc != nil {
		c.httpc = httpc
	}
	return c
}

// FetchFullSnapshot retrieves the complete student roster.
//
// Any HTTP-level or parse failure is returned as an error; callers must
// treat it as "could not refresh" and fall back to the local snapshot.
func (c *Client) FetchFullSnapshot(ctx context.Context) ([]directory.StudentRecord, error) {
	url := c.baseURL + "/api/search/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build snapshot request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Printf("Snapshot fetch failed: %v", err)
		return nil, fmt.Errorf("snapshot fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := c.readErrorBody(resp.Body)
		c.logger.Printf("Snapshot fetch returned %d: %s", resp.StatusCode, msg)
		return nil, fmt.Errorf("snapshot fetch returned status %d: %s", resp.StatusCode, msg)
	}

	var body snapshotBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Printf("Snapshot parse failed: %v", err)
		return nil, fmt.Errorf("failed to parse snapshot response: %w", err)
	}
	if body.Profiles == nil {
		return nil, fmt.Errorf("snapshot response carried no profiles array")
	}

	c.logger.Printf("Fetched full snapshot: %d profiles", len(body.Profiles))
	return body.Profiles, nil
}

// FetchChangelog retrieves the incremental delta since the given epoch
// milliseconds. The server reports additions/updates, deletions, and the
// time the request was served at; that time becomes the next sync anchor.
func (c *Client) FetchChangelog(ctx context.Context, sinceMillis int64) (*directory.ChangeLog, error) {
	payload, err := json.Marshal(changelogRequest{
		LastUpdateTime: time.UnixMilli(sinceMillis).UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode changelog request: %w", err)
	}

	url := c.baseURL + "/api/search/changeLog"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build changelog request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		c.logger.Printf("Changelog fetch failed: %v", err)
		return nil, fmt.Errorf("changelog fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := c.readErrorBody(resp.Body)
		c.logger.Printf("Changelog fetch returned %d: %s", resp.StatusCode, msg)
		return nil, fmt.Errorf("changelog fetch returned status %d: %s", resp.StatusCode, msg)
	}

	var delta directory.ChangeLog
	if err := json.NewDecoder(resp.Body).Decode(&delta); err != nil {
		c.logger.Printf("Changelog parse failed: %v", err)
		return nil, fmt.Errorf("failed to parse changelog response: %w", err)
	}

	c.logger.Printf("Fetched changelog since %s: %d additions, %d deletions",
		time.UnixMilli(sinceMillis).UTC().Format(time.RFC3339),
		len(delta.AddProfiles), len(delta.DeleteUserID))
	return &delta, nil
}

// readErrorBody extracts the server-supplied {"error": ...} message, falling
// back to the raw body when the shape is something else.
func (c *Client) readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "no error detail"
	}
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}
