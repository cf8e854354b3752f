package platform

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

	"github.com/ppiankov/labelwire/internal/cache"
	"github.com/ppiankov/labelwire/internal/config"
	"github.com/ppiankov/labelwire/internal/logging"
	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/ndjson"
	"github.com/ppiankov/labelwire/internal/ontology"
	"github.com/ppiankov/labelwire/internal/util"
	"github.com/ppiankov/labelwire/internal/worker"
)

// sleepFunc waits between retries; tests replace it.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const maxErrorBody = 512

// Client talks to the platform's REST API. It implements OntologySource,
// DataRowSource, Uploader and Downloader.
type Client struct {
	baseURL     *url.URL
	apiKey      string
	userAgent   string
	maxBytes    int64
	maxRetries  int
	httpClient  *http.Client
	limiter     *worker.Limiter
	cache       cache.Cache
	ontologyTTL time.Duration
}

var (
	_ OntologySource = (*Client)(nil)
	_ DataRowSource  = (*Client)(nil)
	_ Uploader       = (*Client)(nil)
	_ Downloader     = (*Client)(nil)
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCache caches raw ontology documents in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) ClientOption {
	return func(cl *Client) {
		cl.cache = c
		cl.ontologyTTL = ttl
	}
}

// WithLimiter paces requests through l.
func WithLimiter(l *worker.Limiter) ClientOption {
	return func(cl *Client) { cl.limiter = l }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = hc }
}

// NewClient creates a client for the platform at cfg.BaseURL.
func NewClient(cfg config.PlatformConfig, opts ...ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("platform base url is not configured")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	c := &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		userAgent:  cfg.UserAgent,
		maxBytes:   cfg.MaxBodyBytes,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy, cfg.NoProxy),
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		cache: cache.Nop{},
	}
	if c.maxBytes <= 0 {
		c.maxBytes = config.DefaultConfig().Platform.MaxBodyBytes
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchOntology returns the project's ontology, from cache when possible.
func (c *Client) FetchOntology(ctx context.Context, projectID string) (*ontology.Ontology, error) {
	key := cache.Key(c.baseURL.String(), "ontology", projectID)
	if doc, ok := c.cache.Get(key); ok {
		o, err := ontology.Parse(doc)
		if err == nil {
			logging.Debug("ontology cache hit", "project", projectID)
			return o, nil
		}
		logging.Warn("dropping unreadable cached ontology", "project", projectID, "error", err)
		_ = c.cache.Delete(key)
	}

	doc, err := c.getBytes(ctx, c.endpoint("v1", "projects", projectID, "ontology"))
	if err != nil {
		return nil, fmt.Errorf("fetch ontology: %w", err)
	}
	o, err := ontology.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse ontology: %w", err)
	}
	if err := c.cache.Set(key, doc, c.ontologyTTL); err != nil {
		logging.Warn("cache ontology", "project", projectID, "error", err)
	}
	return o, nil
}

type dataRowPage struct {
	DataRows []struct {
		ID        string `json:"id"`
		GlobalKey string `json:"globalKey"`
	} `json:"dataRows"`
	Next string `json:"next"`
}

// FetchDataRowRefs pages through the project's data rows. Each row is
// addressable by its id and, when set, its global key.
func (c *Client) FetchDataRowRefs(ctx context.Context, projectID string) (model.DataRowSet, error) {
	rows := model.NewDataRowSet()
	cursor := ""
	for page := 1; ; page++ {
		u := c.endpoint("v1", "projects", projectID, "data-rows")
		if cursor != "" {
			u.RawQuery = url.Values{"cursor": {cursor}}.Encode()
		}
		body, err := c.getBytes(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("fetch data rows: %w", err)
		}
		var p dataRowPage
		if err := json.Unmarshal(body, &p); err != nil {
			return nil, fmt.Errorf("decode data rows page %d: %w", page, err)
		}
		for _, r := range p.DataRows {
			if r.ID != "" {
				rows.Add(model.DataRowID(r.ID))
			}
			if r.GlobalKey != "" {
				rows.Add(model.DataRowGlobalKey(r.GlobalKey))
			}
		}
		logging.Debug("data rows page", "project", projectID, "page", page, "rows", len(p.DataRows))
		if p.Next == "" || p.Next == cursor {
			return rows, nil
		}
		cursor = p.Next
	}
}

// PostNDJSON streams body as an import named name. The body is sent once;
// failed uploads are not retried.
func (c *Client) PostNDJSON(ctx context.Context, body io.Reader, name string) (*UploadHandle, error) {
	u := c.endpoint("v1", "imports")
	u.RawQuery = url.Values{"name": {name}}.Encode()

	req, err := c.newRequest(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", ndjson.MIMEType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("post ndjson: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var h UploadHandle
	if err := json.NewDecoder(io.LimitReader(resp.Body, c.maxBytes)).Decode(&h); err != nil {
		return nil, fmt.Errorf("decode upload handle: %w", err)
	}
	if h.Name == "" {
		h.Name = name
	}
	logging.Info("upload accepted", "id", h.ID, "name", h.Name, "status", h.Status)
	return &h, nil
}

// GetNDJSON opens the export at rawURL, which may be absolute or relative
// to the base URL.
func (c *Client) GetNDJSON(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := c.baseURL.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse export url: %w", err)
	}
	resp, err := c.getWithRetry(ctx, u, ndjson.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("get ndjson: %w", err)
	}
	return limitedBody{Reader: io.LimitReader(resp.Body, c.maxBytes), Closer: resp.Body}, nil
}

type limitedBody struct {
	io.Reader
	io.Closer
}

func (c *Client) endpoint(parts ...string) *url.URL {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.baseURL.JoinPath(escaped...)
}

func (c *Client) getBytes(ctx context.Context, u *url.URL) ([]byte, error) {
	resp, err := c.getWithRetry(ctx, u, "application/json")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// getWithRetry retries transient failures with exponential backoff,
// honouring Retry-After on 429 and 503 responses.
func (c *Client) getWithRetry(ctx context.Context, u *url.URL, accept string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := time.Duration(1<<uint(attempt-1)) * time.Second
			var se *retryAfterError
			if errors.As(lastErr, &se) && se.after > 0 {
				wait = se.after
			}
			logging.Debug("retrying request", "url", u.Redacted(), "attempt", attempt, "wait", wait, "error", lastErr)
			if err := sleepFunc(ctx, wait); err != nil {
				return nil, err
			}
		}

		req, err := c.newRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", accept)
		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// do sends req after the rate limiter allows it and turns non-2xx responses
// into errors.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context(), req.URL); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	logging.Debug("platform request", "method", req.Method, "url", req.URL.Redacted(),
		"status", resp.StatusCode, "elapsed", time.Since(start))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer func() { _ = resp.Body.Close() }()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(bytes.ToValidUTF8(snippet, nil))),
	}
	if after := retryAfter(resp.Header.Get("Retry-After")); after > 0 {
		if c.limiter != nil {
			c.limiter.Pause(req.URL.Host, after)
		}
		return nil, &retryAfterError{StatusError: se, after: after}
	}
	return nil, se
}

type retryAfterError struct {
	*StatusError
	after time.Duration
}

func (e *retryAfterError) Unwrap() error { return e.StatusError }

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// isRetryable reports whether err is a transient failure: 429, 5xx, or a
// network timeout or reset.
func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "timeout") ||
		strings.Contains(s, "connection refused") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "eof")
}
