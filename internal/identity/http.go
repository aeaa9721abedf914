package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPDirectory reads users from a remote directory service exposing
// GET /users and GET /users/{id}.
type HTTPDirectory struct {
	baseURL    string
	httpClient *http.Client
	headers    map[string]string
}

// HTTPOption customizes an HTTPDirectory.
type HTTPOption func(*HTTPDirectory)

// WithHTTPClient overrides the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDirectory) { d.httpClient = c }
}

// WithHeader adds a static header to every request, e.g. a service token.
func WithHeader(key, value string) HTTPOption {
	return func(d *HTTPDirectory) { d.headers[key] = value }
}

// NewHTTPDirectory creates a client for the directory at baseURL.
func NewHTTPDirectory(baseURL string, opts ...HTTPOption) *HTTPDirectory {
	d := &HTTPDirectory{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		headers:    map[string]string{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// directoryUser is the wire form. The directory keeps the department under
// metadata; a top-level department is accepted as a fallback.
type directoryUser struct {
	User
	Metadata struct {
		Department string `json:"department"`
	} `json:"metadata"`
}

func (w directoryUser) user() User {
	u := w.User
	if w.Metadata.Department != "" {
		u.Department = w.Metadata.Department
	}
	return u
}

func (d *HTTPDirectory) GetUser(ctx context.Context, id string) (User, error) {
	var w directoryUser
	status, err := d.get(ctx, "/users/"+url.PathEscape(id), &w)
	if err != nil {
		return User{}, err
	}
	if status == http.StatusNotFound {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	u := w.user()
	if u.ID == "" {
		u.ID = id
	}
	return u, nil
}

func (d *HTTPDirectory) ListUsers(ctx context.Context) ([]User, error) {
	var wire []directoryUser
	if _, err := d.get(ctx, "/users", &wire); err != nil {
		return nil, err
	}
	users := make([]User, len(wire))
	for i, w := range wire {
		users[i] = w.user()
	}
	return users, nil
}

// get decodes a 2xx body into out. A 404 is reported through the status
// without an error so callers can map it.
func (d *HTTPDirectory) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request to directory failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("directory returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode directory response: %w", err)
	}
	return resp.StatusCode, nil
}
