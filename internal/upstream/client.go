// Package upstream is the shared JSON-over-HTTP transport used by the
// messaging platform and channel gateway clients.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrUnavailable marks any failure to get a 2xx answer from an upstream system.
var ErrUnavailable = errors.New("upstream unavailable")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	System     string
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s failed: status=%d message=%s", e.System, e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type transportError struct {
	system string
	err    error
}

func (e *transportError) Error() string { return e.system + ": " + e.err.Error() }

func (e *transportError) Unwrap() []error { return []error{ErrUnavailable, e.err} }

type Options struct {
	// System names the upstream in errors and logs ("platform", "gateway").
	System     string
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client issues JSON requests with bounded timeouts and retries on 429/5xx.
type Client struct {
	system     string
	baseURL    string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	} else if maxRetries == 0 {
		maxRetries = 2
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	system := opts.System
	if system == "" {
		system = "upstream"
	}
	return &Client{
		system:     system,
		baseURL:    strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// WithBaseURL returns a copy pointed at another host (per-tenant base URLs).
func (c *Client) WithBaseURL(baseURL string) *Client {
	cp := *c
	cp.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return &cp
}

func (c *Client) BaseURL() string { return c.baseURL }

// Request describes one call. Headers carry the per-tenant or per-instance auth.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    any
}

// Do sends req and decodes a JSON response into out (when non-nil).
// POST is only retried on 429 because the upstream may have applied it.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if c == nil {
		return fmt.Errorf("upstream client is nil")
	}
	if c.baseURL == "" {
		return &transportError{system: c.system, err: errors.New("base url is empty")}
	}
	var bodyBytes []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return err
		}
		bodyBytes = b
	}
	url := c.baseURL + req.Path
	retryable5xx := req.Method != http.MethodPost

	for attempt := 0; ; attempt++ {
		var body io.Reader
		if bodyBytes != nil {
			body = bytes.NewReader(bodyBytes)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
		if err != nil {
			return err
		}
		httpReq.Header.Set("Accept", "application/json")
		if bodyBytes != nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			httpReq.Header.Set("User-Agent", c.userAgent)
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if retryable5xx && attempt < c.maxRetries && ctx.Err() == nil {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return &transportError{system: c.system, err: waitErr}
				}
				continue
			}
			return &transportError{system: c.system, err: err}
		}

		respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return &transportError{system: c.system, err: readErr}
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("%s %s %s: decode response: %w", c.system, req.Method, req.Path, err)
			}
			return nil
		}

		retry := resp.StatusCode == http.StatusTooManyRequests ||
			(retryable5xx && resp.StatusCode >= 500 && resp.StatusCode <= 599)
		if retry && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return &transportError{system: c.system, err: waitErr}
			}
			continue
		}

		return &StatusError{
			System:     c.system,
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(respBody),
		}
	}
}

func errorMessage(body []byte) string {
	msg := strings.TrimSpace(string(body))
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		for _, k := range []string{"message", "error", "errors"} {
			if s, ok := parsed[k].(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return msg
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
