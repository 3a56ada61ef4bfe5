package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/restprobe/restprobe/internal/metrics"
	"github.com/restprobe/restprobe/pkg/contract"
)

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultTimeout         = 30 * time.Second
	defaultMaxRedirects    = 10
)

// Config configures the probe HTTP client.
type Config struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	FollowRedirects bool
	MaxRedirects    int
	TLSSkipVerify   bool
	UserAgent       string
}

// Auth describes request authentication. Exactly one scheme applies,
// selected by Type.
type Auth struct {
	Type        string // bearer, basic, api_key
	Token       string
	Username    string
	Password    string
	HeaderName  string
	HeaderValue string
}

// Client issues probe requests and converts raw HTTP responses into the
// structured form the rest of the engine consumes. It is safe for
// concurrent use.
type Client struct {
	config    Config
	transport http.RoundTripper
	logger    *slog.Logger
}

// New creates a Client with defaults filled in for any zero config fields.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{config: cfg, transport: transport, logger: logger}
}

// Do issues the request and returns the structured response. Every HTTP
// status, including errors, yields a response: callers decide what a
// status means. Only transport-level failures return an error.
func (c *Client) Do(ctx context.Context, req contract.Request, baseURL string, auth *Auth) (*contract.ResponseInfo, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := resolveURL(baseURL, req.URL)
	if err != nil {
		return nil, err
	}

	timeout := c.config.DefaultTimeout
	if req.Timeout != "" {
		if d, perr := time.ParseDuration(req.Timeout); perr == nil && d > 0 {
			timeout = d
		}
	}

	bodyReader, contentType, err := encodeBody(req.Body, req.Headers)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, method, target, bodyReader)
	if err != nil {
		return nil, contract.NewErrorf(contract.ErrCodeExecution, "cannot build request %s %s", method, target).WithCause(err)
	}

	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if c.config.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}
	httpReq.Header.Set("X-Request-ID", uuid.NewString())

	applyAuth(httpReq, auth)

	httpClient := &http.Client{Transport: c.transport}
	if !c.config.FollowRedirects {
		httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else {
		limit := c.config.MaxRedirects
		httpClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}

	c.logger.DebugContext(ctx, "issuing request", "method", method, "url", target)

	start := time.Now()
	resp, err := httpClient.Do(httpReq)
	elapsed := time.Since(start)
	metrics.RequestLatency.WithLabelValues(method).Observe(elapsed.Seconds())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(method, "error").Inc()
		code := contract.ErrCodeExecution
		if errors.Is(err, context.DeadlineExceeded) {
			code = contract.ErrCodeTimeout
		}
		return nil, contract.NewErrorf(code, "request %s %s failed", method, target).WithCause(err)
	}
	defer resp.Body.Close()

	metrics.RequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.RateLimitHits.Inc()
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBody))
	if err != nil {
		return nil, contract.NewErrorf(contract.ErrCodeExecution, "cannot read response body from %s", target).WithCause(err)
	}

	info := &contract.ResponseInfo{
		StatusCode:  resp.StatusCode,
		Status:      resp.Status,
		Headers:     flattenHeaders(resp.Header),
		Body:        parseBody(bodyBytes, resp.Header.Get("Content-Type")),
		ContentType: resp.Header.Get("Content-Type"),
		DurationMs:  elapsed.Milliseconds(),
	}

	c.logger.DebugContext(ctx, "request finished",
		"method", method, "url", target,
		"status", resp.StatusCode, "duration_ms", info.DurationMs)

	return info, nil
}

func resolveURL(baseURL, raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", contract.NewErrorf(contract.ErrCodeExecution, "invalid url %q", raw).WithCause(err)
	}
	if u.IsAbs() {
		return raw, nil
	}
	if baseURL == "" {
		return "", contract.NewErrorf(contract.ErrCodeExecution, "relative url %q with no base url", raw)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", contract.NewErrorf(contract.ErrCodeExecution, "invalid base url %q", baseURL).WithCause(err)
	}
	return base.ResolveReference(u).String(), nil
}

// encodeBody serializes the request body. JSON is the default; a caller
// Content-Type of form or plain text switches the encoding.
func encodeBody(body any, headers map[string]string) (io.Reader, string, error) {
	if body == nil {
		return nil, "", nil
	}

	declared := ""
	for k, v := range headers {
		if http.CanonicalHeaderKey(k) == "Content-Type" {
			declared = v
		}
	}

	switch {
	case strings.Contains(declared, "application/x-www-form-urlencoded"):
		form, ok := body.(map[string]any)
		if !ok {
			return nil, "", contract.NewError(contract.ErrCodeExecution, "form body must be an object")
		}
		vals := url.Values{}
		for k, v := range form {
			vals.Set(k, fmt.Sprintf("%v", v))
		}
		return strings.NewReader(vals.Encode()), "", nil
	case strings.HasPrefix(declared, "text/"):
		return strings.NewReader(fmt.Sprintf("%v", body)), "", nil
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return nil, "", contract.NewError(contract.ErrCodeExecution, "cannot marshal request body as JSON").WithCause(err)
		}
		ct := ""
		if declared == "" {
			ct = "application/json"
		}
		return strings.NewReader(string(b)), ct, nil
	}
}

func applyAuth(req *http.Request, auth *Auth) {
	if auth == nil {
		return
	}
	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "api_key":
		if auth.HeaderName != "" {
			req.Header.Set(auth.HeaderName, auth.HeaderValue)
		}
	}
}

// parseBody decodes JSON bodies into structured values; everything else
// stays a string. An empty body is nil.
func parseBody(raw []byte, contentType string) any {
	if len(raw) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
