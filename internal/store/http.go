package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/systemshift/docmigrate/internal/config"
	"github.com/systemshift/docmigrate/internal/core"
	"github.com/systemshift/docmigrate/internal/logger"
)

// Options is the immutable configuration of an HTTPClient
type Options struct {
	BaseURL        string
	Project        string
	Dataset        string
	Token          string
	RateLimit      float64       // requests per second
	Timeout        time.Duration // per attempt
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
}

// OptionsFromConfig builds client options from loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:     cfg.APIURL,
		Project:     cfg.Project,
		Dataset:     cfg.Dataset,
		Token:       cfg.Token,
		RateLimit:   cfg.RateLimit,
		Timeout:     cfg.Timeout,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// HTTPClient talks to the content API over HTTP. Requests are released one at
// a time at a fixed interval and retried with exponential backoff on
// transient failures.
type HTTPClient struct {
	opts    Options
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// errorBody is the JSON error envelope written by the content API
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type queryResponse struct {
	Documents []*core.Document `json:"documents"`
	Total     int              `json:"total"`
}

// NewHTTPClient creates a new content API client
func NewHTTPClient(opts Options, log *zap.Logger) (*HTTPClient, error) {
	if opts.BaseURL == "" || opts.Project == "" || opts.Dataset == "" {
		return nil, &core.ConfigurationError{Reason: "store client needs base url, project and dataset"}
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	base := fmt.Sprintf("%s/v1/%s/%s",
		strings.TrimSuffix(opts.BaseURL, "/"),
		url.PathEscape(opts.Project),
		url.PathEscape(opts.Dataset))

	return &HTTPClient{
		opts:    opts,
		base:    base,
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		log:     logger.OrNop(log).With(zap.String("component", "store")),
	}, nil
}

// Query returns the documents matching q
func (c *HTTPClient) Query(ctx context.Context, q core.Query) ([]*core.Document, error) {
	var resp queryResponse
	if err := c.do(ctx, "query", http.MethodPost, c.base+"/query", q, &resp); err != nil {
		return nil, err
	}
	return resp.Documents, nil
}

// Get retrieves a document by id
func (c *HTTPClient) Get(ctx context.Context, id string) (core.Lookup, error) {
	var doc core.Document
	err := c.do(ctx, "get", http.MethodGet, c.docURL(id), nil, &doc)
	if errors.Is(err, core.ErrNotFound) {
		return core.NotFound(), nil
	}
	if err != nil {
		return core.Lookup{}, err
	}
	return core.FoundDocument(&doc), nil
}

// Create stores a new document and fails with core.ErrAlreadyExists when the id is taken
func (c *HTTPClient) Create(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	var out core.Document
	if err := c.do(ctx, "create", http.MethodPost, c.base+"/documents", doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateOrReplace upserts a document
func (c *HTTPClient) CreateOrReplace(ctx context.Context, doc *core.Document) (*core.Document, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	var out core.Document
	if err := c.do(ctx, "createOrReplace", http.MethodPut, c.docURL(doc.ID), doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Patch applies field diffs to an existing document
func (c *HTTPClient) Patch(ctx context.Context, id string, p core.Patch) (*core.Document, error) {
	var out core.Document
	if err := c.do(ctx, "patch", http.MethodPatch, c.docURL(id), p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a document. An absent id is acknowledged, not an error.
func (c *HTTPClient) Delete(ctx context.Context, id string) (core.Ack, error) {
	var ack core.Ack
	err := c.do(ctx, "delete", http.MethodDelete, c.docURL(id), nil, &ack)
	if errors.Is(err, core.ErrNotFound) {
		return core.Ack{ID: id, Existed: false}, nil
	}
	if err != nil {
		return core.Ack{}, err
	}
	ack.ID = id
	return ack, nil
}

// Ping checks that the content API is reachable
func (c *HTTPClient) Ping(ctx context.Context) error {
	root := strings.TrimSuffix(c.opts.BaseURL, "/")
	return c.do(ctx, "ping", http.MethodGet, root+"/health", nil, nil)
}

func (c *HTTPClient) docURL(id string) string {
	return c.base + "/documents/" + url.PathEscape(id)
}

// do performs one logical call: rate limited, retried on transient failures.
func (c *HTTPClient) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return &core.ValidationError{Reason: fmt.Sprintf("%s: encoding request: %v", op, err)}
		}
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.InitialBackoff
	exp.MaxInterval = c.opts.MaxBackoff
	exp.MaxElapsedTime = 0
	hinted := &retryAfterBackOff{BackOff: exp}
	policy := backoff.WithContext(backoff.WithMaxRetries(hinted, uint64(c.opts.MaxAttempts-1)), ctx)

	attempt := 0
	call := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.attempt(ctx, op, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		var terr *core.TransientError
		if errors.As(err, &terr) {
			hinted.hint = terr.RetryAfter
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.RetryNotify(call, policy, func(err error, wait time.Duration) {
		c.log.Warn("retrying store call",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	})
	if err == nil {
		return nil
	}

	var terr *core.TransientError
	if errors.As(err, &terr) && terr.StatusCode == 0 && ctx.Err() == nil && connectionRefused(terr.Err) {
		return &core.UnavailableError{Err: err}
	}
	return err
}

// connectionRefused reports whether err means no connection to the store
// could be opened. A request that times out on an open connection is not one.
func connectionRefused(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var op *net.OpError
	return errors.As(err, &op) && op.Op == "dial"
}

// maxRetryAfter caps how long a Retry-After header can hold a call
const maxRetryAfter = time.Minute

// retryAfterBackOff waits at least as long as the last Retry-After hint
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next == backoff.Stop {
		return next
	}
	next = max(next, min(b.hint, maxRetryAfter))
	b.hint = 0
	return next
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (c *HTTPClient) attempt(ctx context.Context, op, method, endpoint string, payload []byte, out any) error {
	actx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, method, endpoint, reader)
	if err != nil {
		return &core.ValidationError{Reason: fmt.Sprintf("%s: building request: %v", op, err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &core.TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &core.TransientError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	c.log.Debug("store call",
		zap.String("op", op),
		zap.String("method", method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &core.ValidationError{Reason: fmt.Sprintf("%s: decoding response: %v", op, err)}
		}
		return nil
	}
	return classify(op, resp.StatusCode, resp.Header, data)
}

// classify maps a non-2xx response to the error taxonomy
func classify(op string, status int, header http.Header, data []byte) error {
	var eb errorBody
	_ = json.Unmarshal(data, &eb)
	msg := eb.Error
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, core.ErrNotFound)
	case status == http.StatusConflict && eb.Code == "exists":
		return fmt.Errorf("%s: %w", op, core.ErrAlreadyExists)
	case status == http.StatusConflict:
		return fmt.Errorf("%s: %s: %w", op, msg, core.ErrConflict)
	case status == http.StatusTooManyRequests, status >= 500:
		return &core.TransientError{Op: op, StatusCode: status, RetryAfter: retryAfter(header), Err: errors.New(msg)}
	default:
		return &core.ValidationError{Reason: fmt.Sprintf("%s failed with status %d: %s", op, status, msg)}
	}
}
