package rosterclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Student is the roster's view of a student, used only for display
// enrichment. Nothing here feeds authorization decisions.
type Student struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Grade string `json:"grade,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Client calls the external student-roster service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client with a short timeout; roster lookups are
// best-effort display sugar and must not stall engine responses.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

// Lookup fetches a single student. In skip mode (local dev, tests) it
// returns a placeholder so callers need no nil checks.
func (c *Client) Lookup(ctx context.Context, studentID string) (*Student, error) {
	if c.Skip {
		return &Student{ID: studentID, Name: studentID}, nil
	}

	u := c.BaseURL + "/v1/students/" + url.PathEscape(studentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("roster lookup %s: status %d", studentID, resp.StatusCode)
	}

	var s Student
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LookupMany resolves a batch of ids, dropping failures. Missing or
// unreachable entries simply stay unenriched.
func (c *Client) LookupMany(ctx context.Context, studentIDs []string) map[string]Student {
	out := make(map[string]Student, len(studentIDs))
	for _, id := range studentIDs {
		s, err := c.Lookup(ctx, id)
		if err != nil || s == nil {
			continue
		}
		out[id] = *s
	}
	return out
}

// Health pings the roster service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("roster health: status %d", resp.StatusCode)
	}
	return nil
}
