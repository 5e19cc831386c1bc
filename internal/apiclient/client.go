// Package apiclient talks to the storefront REST backend. It attaches the
// bearer credential, normalizes failures into APIError / NetworkError and
// never retries: every call is delivered at most once.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"storefront/shopclient/internal/observability"
)

const (
	maxErrorBody    = 64 << 10
	maxResponseBody = 8 << 20

	IdempotencyKeyHeader = "Idempotency-Key"
)

// CredentialStore is the token slot the client reads before authenticated
// calls and clears when the backend rejects the token.
type CredentialStore interface {
	Token(ctx context.Context) (string, bool, error)
	Clear(ctx context.Context) error
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64
	RateBurst  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	creds      CredentialStore
	limiter    *rate.Limiter
	log        *slog.Logger
}

func New(cfg Config, creds CredentialStore) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if creds == nil {
		return nil, fmt.Errorf("credential store is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		creds:      creds,
		limiter:    limiter,
		log:        logger,
	}, nil
}

type call struct {
	method       string
	path         string
	route        string
	query        url.Values
	body         io.Reader
	contentType  string
	requiresAuth bool
	header       http.Header
}

// Do sends a JSON request and decodes a 2xx JSON answer into out (which may be nil).
func (c *Client) Do(ctx context.Context, method, path string, body any, requiresAuth bool, out any) error {
	return c.jsonCall(ctx, method, path, path, body, requiresAuth, out)
}

func (c *Client) send(ctx context.Context, cl call, out any) error {
	op := cl.method + " " + cl.route

	var token string
	if cl.requiresAuth {
		tok, ok, err := c.creds.Token(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if !ok {
			observability.RecordAPIRequest(cl.method, cl.route, "no_credential")
			return fmt.Errorf("%s: %w", op, ErrNoCredential)
		}
		token = tok
	}

	target := c.baseURL + cl.path
	if len(cl.query) > 0 {
		target += "?" + cl.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, target, cl.body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	for k, vs := range cl.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: rate limit wait: %w", op, err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		observability.RecordAPIRequest(cl.method, cl.route, "network_error")
		c.log.Warn("storefront backend unreachable", "op", op, "error", err)
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
		observability.RecordAPIRequest(cl.method, cl.route, fmt.Sprintf("%d", resp.StatusCode))

		if resp.StatusCode == http.StatusUnauthorized && cl.requiresAuth {
			if err := c.creds.Clear(ctx); err != nil {
				c.log.Error("clear rejected credential", "op", op, "error", err)
			} else {
				c.log.Info("credential rejected by backend and cleared", "op", op)
			}
		}
		return apiErr
	}
	observability.RecordAPIRequest(cl.method, cl.route, "ok")

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// IsUnauthorized reports whether err is a backend rejection of the credential
// or a missing credential.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoCredential)
}
