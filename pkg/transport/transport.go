// Package transport issues HTTP requests against the portal with the default
// browser-like header set, a per-attempt timeout, and exponential backoff on
// transient network failures. Responses that reached the server are never
// retried; a 4xx/5xx is a definitive answer and surfaces as an HTTPError.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"

	"github.com/kyosol/kyosol/pkg/common"
	"github.com/kyosol/kyosol/pkg/log"
)

// DefaultMaxRetries is the total number of attempts made for a request when
// the caller does not override it.
const DefaultMaxRetries = 3

// requestTimeout applies to each attempt individually, not cumulatively
// across retries.
const requestTimeout = 30 * time.Second

// HTTPError is returned when the server answered with a failure status. It
// carries the (charset-decoded) body for diagnostics.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NetworkError is returned after connection-level failures exhausted every
// retry attempt. It wraps the final cause.
type NetworkError struct {
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error after %d attempts: %v", e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Request describes a single portal request.
type Request struct {
	Method string
	URL    string
	// Query is appended to the URL.
	Query url.Values
	// Form is url-encoded into the body with the matching Content-Type
	// unless the caller already set one.
	Form url.Values
	// Header entries override the default header set on conflict.
	Header http.Header
	// MaxRetries is the total attempt budget; 0 means DefaultMaxRetries.
	MaxRetries int
}

// Transport is bound to a cookie jar at construction: cookies on every
// response are absorbed into that jar as a side effect of Do.
type Transport struct {
	client       *http.Client
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// New returns a Transport whose requests carry the cookies in jar.
func New(jar http.CookieJar) *Transport {
	return &Transport{
		client:       common.HTTPClient(requestTimeout, jar),
		retryWaitMin: time.Second,
		retryWaitMax: 30 * time.Second,
	}
}

// checkRetry retries only transport-level failures (DNS, timeout, reset).
// Any status code means the request reached the server and got a definitive
// answer, so the response is always final.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	return false, nil
}

// Do performs the request and returns the decoded response body.
func (t *Transport) Do(ctx context.Context, r Request) (string, error) {
	finalURL := r.URL
	if len(r.Query) > 0 {
		delimiter := "?"
		if strings.Contains(finalURL, "?") {
			delimiter = "&"
		}
		finalURL += delimiter + r.Query.Encode()
	}

	var body []byte
	if r.Form != nil {
		body = []byte(r.Form.Encode())
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, strings.ToUpper(r.Method), finalURL, body)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Connection", "keep-alive")
	for key, values := range r.Header {
		req.Header[http.CanonicalHeaderKey(key)] = values
	}
	if r.Form != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	attempts := r.MaxRetries
	if attempts <= 0 {
		attempts = DefaultMaxRetries
	}

	// The per-call client shares t.client so every attempt reuses the same
	// jar, timeout, and user agent; 1s min wait with the default backoff
	// yields 1s, 2s, 4s, ... between attempts.
	rc := &retryablehttp.Client{
		HTTPClient:   t.client,
		RetryMax:     attempts - 1,
		RetryWaitMin: t.retryWaitMin,
		RetryWaitMax: t.retryWaitMax,
		CheckRetry:   checkRetry,
		Backoff:      retryablehttp.DefaultBackoff,
	}

	resp, err := rc.Do(req)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "request failed",
			slog.String("method", r.Method),
			slog.String("url", r.URL),
			slog.Int("attempts", attempts),
			slog.Any("error", err),
		)
		return "", &NetworkError{Attempts: attempts, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Attempts: attempts, Err: err}
	}

	text := decodeBody(ctx, raw, resp.Header.Get("Content-Type"))
	if resp.StatusCode >= 400 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: text}
	}
	return text, nil
}

// decodeBody converts raw response bytes to UTF-8. A charset declared in the
// Content-Type header or a BOM wins; without one, valid UTF-8 passes through
// and anything else is sniffed with chardet before decoding. Undecodable
// bytes fall back to the raw string rather than failing the request.
func decodeBody(ctx context.Context, raw []byte, contentType string) string {
	_, label, certain := charset.DetermineEncoding(raw, contentType)
	if !certain {
		if utf8.Valid(raw) {
			return string(raw)
		}
		if det, err := chardet.NewTextDetector().DetectBest(raw); err == nil && det != nil {
			label = det.Charset
		}
	}

	reader, err := charset.NewReaderLabel(label, bytes.NewReader(raw))
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "could not determine response charset",
			slog.String("charset", label), slog.Any("error", err))
		return string(raw)
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		log.Ctx(ctx).DebugContext(ctx, "failed to decode response body", slog.Any("error", err))
		return string(raw)
	}
	return string(decoded)
}
