package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ohmynofan/wos-giftcode-bot/internal/domain/model"
	"github.com/ohmynofan/wos-giftcode-bot/internal/platform/logger"
	"github.com/ohmynofan/wos-giftcode-bot/pkg/utils"
)

type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP Error %d: %s", e.StatusCode, e.Status)
}

// TransportError is returned once every retry for a request is spent.
type TransportError struct {
	Endpoint string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure after %d attempts to %s: %v", e.Attempts, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func IsTransportFailure(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

type RetryPolicy struct {
	MaxRetries       int
	RetryDelay       time.Duration
	RateLimitRetries int
	RateLimitBackoff time.Duration
}

type FetchOptions struct {
	Method            string
	Form              url.Values
	Body              interface{}
	RawBody           []byte
	AdditionalHeaders map[string]string
}

type APIClient struct {
	Proxy      string
	UserAgent  string
	Origin     string
	HTTPClient *http.Client
	Retry      RetryPolicy
	Log        *logger.ClassLogger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewAPIClient(proxy, origin string, timeout time.Duration, retry RetryPolicy, session *model.Session) (*APIClient, error) {
	transport := &http.Transport{}

	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	apiClient := &APIClient{
		Proxy:     proxy,
		UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36",
		Origin:    origin,
		HTTPClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			Jar:       newSessionJar(),
		},
		Retry: retry,
		sleep: utils.Sleep,
	}
	apiClient.Log = logger.NewLogger(apiClient, session)

	return apiClient, nil
}

func (c *APIClient) HasCookies() bool {
	if jar, ok := c.HTTPClient.Jar.(*sessionJar); ok {
		return jar.HasCookies()
	}
	return false
}

// SessionOwner is the account the current cookies belong to.
func (c *APIClient) SessionOwner() string {
	if jar, ok := c.HTTPClient.Jar.(*sessionJar); ok {
		return jar.Owner()
	}
	return ""
}

// ResetSession starts a cookie session for owner and rebinds the client's
// log lines to the account.
func (c *APIClient) ResetSession(owner string, session *model.Session) {
	if jar, ok := c.HTTPClient.Jar.(*sessionJar); ok {
		jar.Reset(owner)
	}
	c.Log = c.Log.WithSession(session)
}

func (c *APIClient) _generateHeaders() map[string]string {
	headers := map[string]string{
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Content-Type":    "application/json",
		"User-Agent":      c.UserAgent,
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
	}
	if c.Origin != "" {
		headers["Origin"] = c.Origin
		headers["Referer"] = c.Origin + "/"
	}
	return headers
}

// Fetch performs the request with the client's retry policy. Connection
// errors and non-2xx answers are retried after a fixed delay; 429 answers are
// retried with exponential backoff on a separate budget.
func (c *APIClient) Fetch(ctx context.Context, endpoint string, opts *FetchOptions) (interface{}, error) {
	if opts == nil {
		opts = &FetchOptions{}
	}

	attempts := 0
	failures := 0
	rateLimited := 0
	for {
		attempts++
		data, err := c.fetchOnce(ctx, endpoint, opts)
		if err == nil {
			return data, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
			if rateLimited >= c.Retry.RateLimitRetries {
				return nil, &TransportError{Endpoint: endpoint, Attempts: attempts, Err: err}
			}
			delay := c.Retry.RateLimitBackoff << rateLimited
			if httpErr.RetryAfter > delay {
				delay = httpErr.RetryAfter
			}
			rateLimited++
			c.Log.JustLog(fmt.Sprintf("%s rate limited (429), retry %d/%d in %s", endpoint, rateLimited, c.Retry.RateLimitRetries, delay))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		if failures >= c.Retry.MaxRetries {
			return nil, &TransportError{Endpoint: endpoint, Attempts: attempts, Err: err}
		}
		failures++
		c.Log.JustLog(fmt.Sprintf("%s failed: %v, retry %d/%d in %s", endpoint, err, failures, c.Retry.MaxRetries, c.Retry.RetryDelay))
		if err := c.sleep(ctx, c.Retry.RetryDelay); err != nil {
			return nil, err
		}
	}
}

func (c *APIClient) fetchOnce(ctx context.Context, endpoint string, opts *FetchOptions) (interface{}, error) {
	method := opts.Method
	if method == "" {
		method = "GET"
	}

	var reqBody io.Reader = nil
	set := 0
	for _, present := range []bool{opts.RawBody != nil, opts.Body != nil, opts.Form != nil} {
		if present {
			set++
		}
	}
	if set > 1 {
		return nil, fmt.Errorf("cannot specify more than one of Body, RawBody and Form")
	}

	contentType := "application/json"
	hasBody := method != "GET" && set == 1
	var bodyCopy []byte
	if hasBody {
		switch {
		case opts.RawBody != nil:
			bodyCopy = opts.RawBody
		case opts.Form != nil:
			bodyCopy = []byte(opts.Form.Encode())
			contentType = "application/x-www-form-urlencoded"
		default:
			jsonBody, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request body: %w", err)
			}
			bodyCopy = jsonBody
		}
		reqBody = bytes.NewReader(bodyCopy)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c._generateHeaders() {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", contentType)
	for key, value := range opts.AdditionalHeaders {
		req.Header.Set(key, value)
	}
	if !hasBody {
		req.Header.Del("Content-Type")
	}

	if hasBody {
		c.Log.JustLog(fmt.Sprintf("%s %s\nBody:\n%s", method, endpoint, string(bodyCopy)))
	} else {
		c.Log.JustLog(fmt.Sprintf("%s %s", method, endpoint))
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer res.Body.Close()

	resBodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.Log.JustLog(fmt.Sprintf("Response %d Body:\n%s", res.StatusCode, utils.TruncateForLog(utils.BeautifyJSON(resBodyBytes), 2048)))

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		var data interface{}
		if err := json.Unmarshal(resBodyBytes, &data); err == nil {
			return data, nil
		}
		return string(resBodyBytes), nil
	}

	return nil, &HTTPError{
		StatusCode: res.StatusCode,
		Status:     res.Status,
		Body:       resBodyBytes,
		RetryAfter: parseRetryAfter(res.Header.Get("Retry-After")),
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// DecodeInto re-decodes a generic Fetch result into out.
func DecodeInto(raw interface{}, out interface{}) error {
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		b = encoded
	}
	return json.Unmarshal(b, out)
}
