package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Default HTTP settings shared by the tracker clients.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3
	userAgent         = "mpsync/1.0"
)

// HTTPClient is a Basic-auth JSON client with retry on rate limiting and,
// for idempotent methods, transport errors. Other non-2xx responses become
// *RemoteError, except 401 which becomes *AuthError.
type HTTPClient struct {
	Service    string // Name used in errors and logs
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	MaxRetries int
	Logger     *zap.Logger

	// newBackOff returns a fresh policy per request.
	newBackOff func() backoff.BackOff
}

// NewHTTPClient creates a client for one tracker.
func NewHTTPClient(service, baseURL, username, password string, timeout time.Duration, maxRetries int, logger *zap.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		Service:    service,
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		Username:   username,
		Password:   password,
		HTTPClient: &http.Client{Timeout: timeout},
		MaxRetries: maxRetries,
		Logger:     logger.With(zap.String("service", service)),
		newBackOff: func() backoff.BackOff {
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 500 * time.Millisecond
			bo.MaxElapsedTime = 2 * time.Minute
			return bo
		},
	}
}

// SetBackOff overrides the retry policy. Tests use it to avoid sleeping.
func (c *HTTPClient) SetBackOff(fn func() backoff.BackOff) {
	c.newBackOff = fn
}

// Request describes one API call. Body is a factory so the body can be
// replayed on retry.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        func() (io.Reader, error)
	ContentType string
}

// idempotent reports whether a request may be resent after a transport
// error. A POST may already have been applied when its response is lost.
// PATCH is included because OpenProject rejects a stale lockVersion.
func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// errRetryable marks an attempt that may be repeated.
type errRetryable struct{ err error }

func (e *errRetryable) Error() string { return e.err.Error() }
func (e *errRetryable) Unwrap() error { return e.err }

// Do performs the request and returns the response of the first attempt
// that was not retried. On success the caller must close the body.
func (c *HTTPClient) Do(ctx context.Context, r Request) (*http.Response, error) {
	reqURL := c.BaseURL + "/" + strings.TrimPrefix(r.Path, "/")
	if len(r.Query) > 0 {
		reqURL += "?" + r.Query.Encode()
	}

	var resp *http.Response
	attempt := 0
	op := func() error {
		attempt++
		var body io.Reader
		if r.Body != nil {
			b, err := r.Body()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("failed to build request body: %w", err))
			}
			body = b
		}

		req, err := http.NewRequestWithContext(ctx, r.Method, reqURL, body)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.SetBasicAuth(c.Username, c.Password)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		if r.ContentType != "" {
			req.Header.Set("Content-Type", r.ContentType)
		}

		start := time.Now()
		res, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			c.Logger.Debug("request failed",
				zap.String("method", r.Method), zap.String("url", reqURL),
				zap.Int("attempt", attempt), zap.Error(err))
			if !idempotent(r.Method) {
				return backoff.Permanent(fmt.Errorf("request failed: %w", err))
			}
			return &errRetryable{fmt.Errorf("request failed: %w", err)}
		}
		c.Logger.Debug("request",
			zap.String("method", r.Method), zap.String("url", reqURL),
			zap.Int("status", res.StatusCode), zap.Int("attempt", attempt),
			zap.Duration("elapsed", time.Since(start)))

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			resp = res
			return nil
		}

		respBody, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
		_ = res.Body.Close()

		switch res.StatusCode {
		case http.StatusTooManyRequests:
			return &errRetryable{c.remoteError(r.Method, reqURL, res.StatusCode, respBody)}
		case http.StatusUnauthorized:
			return backoff.Permanent(&AuthError{
				Service: c.Service,
				Reason:  fmt.Sprintf("%s %s returned 401", r.Method, reqURL),
			})
		}
		return backoff.Permanent(c.remoteError(r.Method, reqURL, res.StatusCode, respBody))
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), uint64(c.MaxRetries)), ctx)
	err := backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		c.Logger.Info("retrying request",
			zap.String("method", r.Method), zap.String("url", reqURL),
			zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		var retryable *errRetryable
		if errors.As(err, &retryable) {
			return nil, retryable.err
		}
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) remoteError(method, reqURL string, status int, body []byte) *RemoteError {
	return &RemoteError{
		Service:    c.Service,
		Method:     method,
		URL:        reqURL,
		StatusCode: status,
		Body:       string(body),
	}
}

// DoJSON sends in as a JSON body (when non-nil) and decodes the response
// into out (when non-nil).
func (c *HTTPClient) DoJSON(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	r := Request{Method: method, Path: path, Query: query}
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		r.Body = func() (io.Reader, error) { return bytes.NewReader(data), nil }
		r.ContentType = "application/json"
	}

	resp, err := c.Do(ctx, r)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s response: %w", c.Service, err)
	}
	return nil
}

// Download streams the response body of a GET into dest.
func (c *HTTPClient) Download(ctx context.Context, path, dest string) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path})
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	f, err := os.Create(dest) // #nosec G304 - dest is inside an engine-owned temp dir
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", dest, err)
	}
	return f.Close()
}
