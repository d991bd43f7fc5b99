// Package client is the CLI's HTTP client for the MarketLens gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultBackoff        = time.Second
)

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.attemptTimeout = d }
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

type Client struct {
	baseURL        string
	token          string
	http           *http.Client
	attempts       int
	attemptTimeout time.Duration
	backoff        time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		attempts:       DefaultAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		backoff:        DefaultBackoff,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetToken sets the session JWT sent as a bearer token. Empty clears it.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Request performs one logical call. Transport failures and per-attempt
// timeouts are retried with a linear backoff; any HTTP response, whatever its
// status, ends the loop.
func (c *Client) Request(ctx context.Context, method, url string, body []byte) (*Response, error) {
	var (
		lastErr error
		made    int
	)
	for attempt := 1; attempt <= c.attempts; attempt++ {
		made = attempt
		resp, err := c.attempt(ctx, method, url, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
		log.Debug().
			Err(err).
			Str("method", method).
			Str("url", url).
			Int("attempt", attempt).
			Msg("request attempt failed")

		if attempt < c.attempts {
			if err := c.sleep(ctx, time.Duration(attempt)*c.backoff); err != nil {
				break
			}
		}
	}
	return nil, &NetworkError{URL: url, Attempts: made, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "marketlens-cli")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return nil, fmt.Errorf("timed out after %s", c.attemptTimeout)
		}
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: raw}, nil
}

// APIRequest calls endpoint on the gateway, encoding in (when non-nil) as the
// JSON body and decoding the response into out (when non-nil).
func (c *Client) APIRequest(ctx context.Context, method, endpoint string, in, out any) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}

	resp, err := c.Request(ctx, method, c.baseURL+"/"+strings.TrimLeft(endpoint, "/"), body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return newHTTPError(resp.Status, resp.Body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &MalformedResponseError{
			Excerpt: excerpt(strings.TrimSpace(string(resp.Body)), excerptLimit),
			Err:     err,
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
