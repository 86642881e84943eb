package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/logger"
)

// HTTPClient is an interface for making HTTP requests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSource provides the bearer token for every attempt and refreshes it
// after a 401.
type TokenSource interface {
	Token() (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StatusError is returned for any non-2xx response
type StatusError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.StatusText())
}

// StatusText returns the reason phrase of the response
func (e *StatusError) StatusText() string {
	text := strings.TrimSpace(strings.TrimPrefix(e.Status, strconv.Itoa(e.StatusCode)))
	if text == "" {
		return http.StatusText(e.StatusCode)
	}
	return text
}

// Client issues requests authorized with the current bearer token, refreshing
// once and retrying once when the API answers 401.
type Client struct {
	tokens     TokenSource
	httpClient HTTPClient
	logger     zerolog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default *http.Client
func WithHTTPClient(c HTTPClient) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// NewHTTPClient creates the default HTTP client
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func New(tokens TokenSource, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		tokens:     tokens,
		httpClient: NewHTTPClient(0),
		logger:     logger.Component(log, "apiclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get issues an authorized GET and returns the response body
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, url, nil, "application/json")
	if err != nil {
		return nil, err
	}
	return readBody(resp)
}

// GetJSON issues an authorized GET and decodes the JSON body into v
func (c *Client) GetJSON(ctx context.Context, url string, v interface{}) error {
	body, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

// Put issues an authorized PUT with a JSON body
func (c *Client) Put(ctx context.Context, url string, body interface{}) ([]byte, error) {
	return c.send(ctx, http.MethodPut, url, body)
}

// Post issues an authorized POST with a JSON body
func (c *Client) Post(ctx context.Context, url string, body interface{}) ([]byte, error) {
	return c.send(ctx, http.MethodPost, url, body)
}

func (c *Client) send(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, method, url, payload, "application/json")
	if err != nil {
		return nil, err
	}
	return readBody(resp)
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return payload, nil
}

// do performs the request with at most one refresh-and-retry. The returned
// response always has a 2xx status; callers own its body.
func (c *Client) do(ctx context.Context, method, url string, body []byte, accept string) (*http.Response, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	resp, err := c.attempt(ctx, method, url, body, accept, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return checkStatus(resp)
	}

	c.logger.Warn().
		Str("method", method).
		Str("url", url).
		Msg("Received 401 Unauthorized, attempting token refresh...")

	// Drain the first response since we're going to retry
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to refresh credentials after 401 error")
		return nil, fmt.Errorf("token expired and refresh failed: %w", err)
	}

	c.logger.Info().Msg("Successfully refreshed credentials, retrying request...")

	resp, err = c.attempt(ctx, method, url, body, accept, token)
	if err != nil {
		return nil, fmt.Errorf("retry request failed: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.logger.Error().Str("url", url).Msg("Still received 401 after token refresh, giving up")
	} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info().Str("url", url).Msg("Request succeeded after token refresh")
	}

	return checkStatus(resp)
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, accept, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Normalize token to avoid double "Bearer "
	bareToken := strings.TrimSpace(token)
	if len(bareToken) >= 7 && strings.EqualFold(bareToken[:7], "Bearer ") {
		bareToken = strings.TrimSpace(bareToken[7:])
	}

	req.Header.Set("Authorization", "Bearer "+bareToken)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", url).
		Str("authorization_preview", "Bearer "+logger.TokenPreview(bareToken)).
		Msg("Outbound API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return nil, &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       body,
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
