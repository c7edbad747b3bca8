// Package transport provides the authenticated HTTP client modules use
// to call backend APIs. The client resolves the current bearer token
// before every request, so callers never touch authentication state
// themselves.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/microshell/shell_host/internal/errors"
	"github.com/microshell/shell_host/internal/logging"
)

// TokenSource yields the bearer token for an outgoing request. An empty
// token means the request goes out unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenSourceFunc adapts a function to the TokenSource interface.
type TokenSourceFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenSourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Client is a bearer-token decorating HTTP client. The token is
// resolved fresh per request; a token source failure downgrades the
// request to unauthenticated rather than failing it.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	baseURL    string
	log        *logging.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *logging.Logger
}

// NewClient creates an authenticated client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		log:        log,
	}
}

// Do executes a request against baseURL+path, JSON-encoding body when
// present and attaching the current bearer token when one is available.
// Responses outside the 2xx range are consumed and returned as a
// transport failure, never as a success.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.decorate(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, errors.TransportFailure(resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

// decorate attaches the Authorization header. Requests that already
// carry one keep it. Token source failures are absorbed: the request
// simply goes out without credentials.
func (c *Client) decorate(ctx context.Context, req *http.Request) {
	if c.tokens == nil || req.Header.Get("Authorization") != "" {
		return
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.log.WithError(err).Debug("token source failed; sending unauthenticated request")
		return
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with JSON body.
func (c *Client) Put(ctx context.Context, path string, body interface{}) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// GetJSON performs a GET request and decodes the response into target.
func (c *Client) GetJSON(ctx context.Context, path string, target interface{}) error {
	resp, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

// PostJSON performs a POST request and decodes the response into target.
func (c *Client) PostJSON(ctx context.Context, path string, body, target interface{}) error {
	resp, err := c.Post(ctx, path, body)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

// PutJSON performs a PUT request and decodes the response into target.
func (c *Client) PutJSON(ctx context.Context, path string, body, target interface{}) error {
	resp, err := c.Put(ctx, path, body)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

// DeleteJSON performs a DELETE request and discards or decodes the
// response body.
func (c *Client) DeleteJSON(ctx context.Context, path string, target interface{}) error {
	resp, err := c.Delete(ctx, path)
	if err != nil {
		return err
	}
	return DecodeResponse(resp, target)
}

// DecodeResponse decodes a JSON response into target. Non-2xx statuses
// become a transport failure carrying the truncated response body.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		return errors.TransportFailure(resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<20)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
