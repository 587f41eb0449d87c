package sdk

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnauthorized is returned when boostd rejects the client's token.
var ErrUnauthorized = errors.New("unauthorized")

const defaultAttempts = 3

// Client is a DocumentStore backed by a remote boostd over HTTP.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	attempts int
	backoff  time.Duration
}

var (
	_ DocumentStore = (*Client)(nil)
	_ Pinger        = (*Client)(nil)
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token presented on every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithInsecureTLS accepts boostd's self-signed certificate.
func WithInsecureTLS() ClientOption {
	return func(c *Client) {
		c.http.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets how many times a request is tried and the base delay
// between tries.
func WithRetry(attempts int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		c.backoff = backoff
	}
}

// NewClient creates a client for the boostd at baseURL, e.g. https://localhost:7001.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		attempts: defaultAttempts,
		backoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Get(ctx context.Context, path string) (Document, error) {
	var doc Document
	if err := c.do(ctx, http.MethodGet, "/api/v1/docs/"+escapePath(path), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *Client) Set(ctx context.Context, path string, doc Document, merge bool) error {
	target := "/api/v1/docs/" + escapePath(path)
	if merge {
		target += "?merge=true"
	}
	return c.do(ctx, http.MethodPut, target, doc, nil)
}

func (c *Client) Query(ctx context.Context, collection string) ([]Snapshot, error) {
	var snaps []Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/collections/"+escapePath(collection), nil, &snaps); err != nil {
		return nil, err
	}
	return snaps, nil
}

func (c *Client) Delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/docs/"+escapePath(path), nil, nil)
}

// Ping measures a round trip to boostd's health endpoint.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// do sends one request, retrying transport failures and 5xx responses
// with linear backoff.
func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * c.backoff):
			}
		}

		retry, err := c.once(ctx, method, target, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.attempts, lastErr)
}

func (c *Client) once(ctx context.Context, method, target string, payload []byte, out any) (retry bool, err error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, body)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.Unmarshal(raw, &apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status
		}
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return false, fmt.Errorf("%w: %s", ErrNotFound, msg)
		case resp.StatusCode == http.StatusBadRequest:
			return false, fmt.Errorf("%w: %s", ErrInvalidPath, msg)
		case resp.StatusCode == http.StatusUnauthorized:
			return false, ErrUnauthorized
		case resp.StatusCode >= 500:
			return true, fmt.Errorf("server error %d: %s", resp.StatusCode, msg)
		default:
			return false, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}

func escapePath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Decode converts a document into T.
func Decode[T any](doc Document) (T, error) {
	var target T
	raw, err := json.Marshal(doc)
	if err != nil {
		return target, err
	}
	err = json.Unmarshal(raw, &target)
	return target, err
}
