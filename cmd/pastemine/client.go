package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"pastemine/internal/storage"
	"pastemine/internal/storage/sqlite"
	"pastemine/pkg/types"
)

// history is what the one-shot commands need from the clipboard history.
// While a daemon is running they go through its API so that only one
// process ever writes the database and the image directory.
type history interface {
	List(ctx context.Context, filter storage.Filter) ([]*types.Entry, error)
	SourceApps(ctx context.Context) ([]storage.AppCount, error)
	SetPinned(ctx context.Context, id string, pinned bool) (*types.Entry, error)
	Delete(ctx context.Context, id string) error
	ClearAll(ctx context.Context) error
	SweepOrphans(ctx context.Context) (int, error)
}

// localHistory drives the store directly when no daemon is running.
type localHistory struct {
	*sqlite.SQLiteStorage
}

func (l localHistory) SetPinned(ctx context.Context, id string, pinned bool) (*types.Entry, error) {
	if err := l.SQLiteStorage.SetPinned(ctx, id, pinned); err != nil {
		return nil, err
	}
	return l.Get(ctx, id)
}

// apiClient talks to a running daemon's local HTTP API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(port int) *apiClient {
	return &apiClient{
		base: fmt.Sprintf("http://127.0.0.1:%d", port),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// apiError is the daemon's JSON error body.
type apiError struct {
	Status  int
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return e.Message
}

// Unwrap lets callers match errors.Is(err, storage.ErrNotFound).
func (e *apiError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return storage.ErrNotFound
	}
	return nil
}

// call sends a request and decodes the JSON response into out, if given.
func (c *apiClient) call(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}

func (c *apiClient) List(ctx context.Context, filter storage.Filter) ([]*types.Entry, error) {
	q := url.Values{}
	if filter.Keyword != "" {
		q.Set("q", filter.Keyword)
	}
	if filter.SourceApp != "" {
		q.Set("app", filter.SourceApp)
	}
	path := "/api/entries"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var entries []*types.Entry
	if err := c.call(ctx, http.MethodGet, path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *apiClient) SourceApps(ctx context.Context) ([]storage.AppCount, error) {
	var apps []storage.AppCount
	if err := c.call(ctx, http.MethodGet, "/api/apps", &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

func (c *apiClient) SetPinned(ctx context.Context, id string, pinned bool) (*types.Entry, error) {
	method := http.MethodPost
	if !pinned {
		method = http.MethodDelete
	}
	var entry types.Entry
	if err := c.call(ctx, method, "/api/entries/"+url.PathEscape(id)+"/pin", &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *apiClient) Delete(ctx context.Context, id string) error {
	return c.call(ctx, http.MethodDelete, "/api/entries/"+url.PathEscape(id), nil)
}

func (c *apiClient) ClearAll(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/entries", nil)
}

func (c *apiClient) SweepOrphans(ctx context.Context) (int, error) {
	var body struct {
		Removed int `json:"removed"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/images/sweep", &body); err != nil {
		return 0, err
	}
	return body.Removed, nil
}

// Status returns the daemon's /status body.
func (c *apiClient) Status(ctx context.Context) (map[string]any, error) {
	var status map[string]any
	if err := c.call(ctx, http.MethodGet, "/status", &status); err != nil {
		return nil, err
	}
	return status, nil
}

// Paste puts an entry back on the clipboard and pastes it into the
// frontmost app. It returns the outcome name.
func (c *apiClient) Paste(ctx context.Context, id string) (string, error) {
	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := c.call(ctx, http.MethodPost, "/api/entries/"+url.PathEscape(id)+"/paste", &body); err != nil {
		return "", err
	}
	return body.Outcome, nil
}

// ShowWindow tells the daemon a picker is open, so it remembers which app
// to paste back into.
func (c *apiClient) ShowWindow(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/window/show", nil)
}
