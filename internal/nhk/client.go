// Package nhk talks to the NHK radio schedule and stream-configuration
// endpoints and normalises their heterogeneous payloads into canonical form.
package nhk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/airwavehq/aircheck/internal/clock"
	"github.com/airwavehq/aircheck/internal/log"
	"github.com/airwavehq/aircheck/internal/metrics"
)

const requestTimeout = 60 * time.Second

// Options configures a Client.
type Options struct {
	SeriesBaseURL   string
	EventBaseURL    string
	StreamConfigURL string
	CacheTTL        time.Duration
	HTTPClient      *http.Client
	Clock           clock.Clock
}

// Client fetches series, events and the stream catalog. Series list and
// stream catalog are cached process-wide with a TTL; concurrent refreshes
// are coalesced through singleflight.
type Client struct {
	seriesBase string
	eventBase  string
	configURL  string
	cacheTTL   time.Duration
	http       *http.Client
	clock      clock.Clock
	limiter    *rate.Limiter
	group      singleflight.Group
	logger     zerolog.Logger

	mu           sync.Mutex
	seriesCache  []Series
	seriesExpiry time.Time
	catalogCache *Catalog
	catalogExp   time.Time
}

// New builds a Client from opts, filling unset fields with defaults.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &Client{
		seriesBase: strings.TrimRight(opts.SeriesBaseURL, "/"),
		eventBase:  strings.TrimRight(opts.EventBaseURL, "/"),
		configURL:  opts.StreamConfigURL,
		cacheTTL:   ttl,
		http:       httpClient,
		clock:      clk,
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		logger:     log.WithComponent("nhk"),
	}
}

// getJSON fetches url and decodes the body into a generic value. Transient
// failures (transport errors, timeouts, 5xx) are retried with exponential
// backoff; 404 is reported via the returned status so callers can treat it
// as empty; other 4xx surface immediately.
func (c *Client) getJSON(ctx context.Context, endpoint, url string, headers map[string]string) (int, any, error) {
	var status int
	var payload any

	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		res, err := c.http.Do(req)
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer func() { _ = res.Body.Close() }()

		status = res.StatusCode
		switch {
		case status >= 500:
			return &APIError{Sentinel: ErrUpstream, Operation: endpoint, Status: status}
		case status == http.StatusNotFound:
			payload = nil
			return nil
		case status >= 400:
			return backoff.Permanent(&APIError{Sentinel: ErrNotFound, Operation: endpoint, Status: status})
		}

		body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
		if err != nil {
			return err
		}
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return backoff.Permanent(&APIError{Sentinel: ErrMalformed, Operation: endpoint, Status: status, Err: err})
		}
		payload = v
		return nil
	}

	err := backoff.Retry(op, c.retryPolicy(ctx))
	if err != nil {
		metrics.IncUpstreamRequest(endpoint, "error")
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return status, nil, err
		}
		return status, nil, &APIError{Sentinel: ErrUnavailable, Operation: endpoint, Err: err}
	}
	metrics.IncUpstreamRequest(endpoint, "ok")
	return status, payload, nil
}

func (c *Client) getText(ctx context.Context, endpoint, url string) (string, error) {
	var body string
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := c.http.Do(req)
		if err != nil {
			if transient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		defer func() { _ = res.Body.Close() }()
		if res.StatusCode >= 500 {
			return &APIError{Sentinel: ErrUpstream, Operation: endpoint, Status: res.StatusCode}
		}
		if res.StatusCode >= 400 {
			return backoff.Permanent(&APIError{Sentinel: ErrNotFound, Operation: endpoint, Status: res.StatusCode})
		}
		raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
		if err != nil {
			return err
		}
		body = string(raw)
		return nil
	}

	err := backoff.Retry(op, c.retryPolicy(ctx))
	if err != nil {
		metrics.IncUpstreamRequest(endpoint, "error")
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", err
		}
		return "", &APIError{Sentinel: ErrUnavailable, Operation: endpoint, Err: err}
	}
	metrics.IncUpstreamRequest(endpoint, "ok")
	return body, nil
}

func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 20 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(policy, 3), ctx)
}

func transient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// Connection resets and refused connections arrive as *url.Error
	// wrapping syscall errors; retry anything that is not a context error.
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func payloadIs404(payload any) bool {
	m, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	errBlock, ok := m["error"].(map[string]any)
	if !ok {
		return false
	}
	for _, key := range []string{"statuscode", "code"} {
		if v, ok := errBlock[key]; ok {
			if f, ok := v.(float64); ok && int(f) == http.StatusNotFound {
				return true
			}
		}
	}
	return false
}

func (c *Client) debugf(format string, args ...any) {
	c.logger.Debug().Msg(fmt.Sprintf(format, args...))
}
