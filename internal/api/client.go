// Package api is the typed client of the composition REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrorSink collects user-facing failures. The application error collector
// implements it.
type ErrorSink interface {
	Add(title, content string) int
}

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d (%s)", e.Method, e.Path, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client talks to the REST API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
	errors  ErrorSink
	log     zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its cookie jar, if
// any, is kept.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sends the token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithErrorSink reports non-silent failures to sink.
func WithErrorSink(sink ErrorSink) Option {
	return func(c *Client) { c.errors = sink }
}

// NewClient creates a Client rooted at baseURL with a session cookie jar.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger, opts ...Option) *Client {
	jar, _ := cookiejar.New(nil) // never fails with nil options

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout, Jar: jar},
		log:     log.With().Str("component", "api_client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the REST root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Jar exposes the session cookies so the realtime channel can reuse them.
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// Token returns the bearer token, empty when cookies carry the session.
func (c *Client) Token() string {
	return c.token
}

// RequestOption tunes a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	failSilently bool
}

// FailSilently keeps the failure out of the error sink. The error is still
// returned to the caller.
func FailSilently() RequestOption {
	return func(rc *requestConfig) { rc.failSilently = true }
}

// GetJSON issues a GET and decodes the JSON answer into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any, opts ...RequestOption) error {
	return c.do(ctx, http.MethodGet, path, nil, out, opts...)
}

// PostJSON issues a POST with a JSON body and decodes the answer into out.
// A nil out discards the body.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any, opts ...RequestOption) error {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode %s body: %w", path, err)
		}
	}
	return c.do(ctx, http.MethodPost, path, raw, out, opts...)
}

// Delete issues a DELETE and ignores the body.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil, opts...)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any, opts ...RequestOption) error {
	var rc requestConfig
	for _, opt := range opts {
		opt(&rc)
	}

	err := c.roundTrip(ctx, method, path, body, out)
	if err != nil && !rc.failSilently {
		c.report(err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	reqID := uuid.New().String()
	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("request_id", reqID).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("REST call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp, method, path)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response, method, path string) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Method: method, Path: path}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message     string `json:"message"`
		Description string `json:"description"`
		Error       *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Message != "":
			apiErr.Message = body.Message
		case body.Description != "":
			apiErr.Message = body.Description
		case body.Error != nil:
			apiErr.Message = body.Error.Message
		}
	}
	return apiErr
}

func (c *Client) report(err error) {
	if c.errors == nil || errors.Is(err, context.Canceled) {
		return
	}
	title := "Request error"
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		title = "Network error"
	}
	c.errors.Add(title, err.Error())
}
