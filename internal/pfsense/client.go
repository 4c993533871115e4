// Package pfsense talks to the pfSense REST API package on lab
// firewalls, and restores their baseline configuration over SSH.
package pfsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Lab firewalls run self-signed certs; verification is intentionally off.
var httpClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConnsPerHost: 2,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
	},
	Timeout: 12 * time.Second,
}

// APIError is a non-2xx response from the firewall.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s failed (HTTP %d): %s", e.Method, e.Path, e.Status, e.Body)
}

// Client is a pfSense REST API client. Auth is an API key (preferred) or
// HTTP basic credentials.
type Client struct {
	Host     string
	APIKey   string
	Username string
	Password string

	// BaseURL overrides https://<host> (tests).
	BaseURL string

	prefix string
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "https://" + c.Host
}

// Response is the generic pfSense API envelope.
type Response struct {
	Status  string          `json:"status,omitempty"`
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (c *Client) request(ctx context.Context, method, path string, payload any) (*Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base()+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	} else if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &APIError{Method: method, Path: path, Status: res.StatusCode, Body: excerpt(raw)}
	}

	out := &Response{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%s %s: decoding response: %w", method, path, err)
		}
	}
	return out, nil
}

func excerpt(b []byte) string {
	const n = 300
	s := string(b)
	if len(s) > n {
		s = s[:n] + "..."
	}
	return s
}

// Get issues a GET against the API.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.request(ctx, http.MethodGet, path, nil)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload any) (*Response, error) {
	return c.request(ctx, http.MethodPost, path, payload)
}

// Patch issues a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, payload any) (*Response, error) {
	return c.request(ctx, http.MethodPatch, path, payload)
}

// DetectPrefix probes for the REST API version, newest first, and
// remembers the answer.
func (c *Client) DetectPrefix(ctx context.Context) (string, error) {
	if c.prefix != "" {
		return c.prefix, nil
	}
	for _, prefix := range []string{"/api/v2", "/api/v1"} {
		if _, err := c.Get(ctx, prefix+"/firewall/rules"); err == nil {
			c.prefix = prefix
			return prefix, nil
		}
	}
	return "", fmt.Errorf("no pfSense REST API on %s (tried /api/v2 and /api/v1); is the API package installed?", c.Host)
}
