package reliable

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned without issuing a request while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

const (
	defaultThrottle   = 100
	defaultMaxRetries = 3
	defaultTimeout    = 30 * time.Second
	baseBackoff       = 100 * time.Millisecond
)

// Options configures a Client.
type Options struct {
	// Throttle caps the number of calls in flight across the process.
	Throttle int
	// BatchSize is how many calls the pacer releases in one burst.
	BatchSize int
	// RatePerSecond paces outbound calls; zero disables pacing.
	RatePerSecond float64
	// MaxRetries defaults to 3 when zero; a negative value disables retries.
	MaxRetries       int
	BreakerThreshold int
	BreakerTimeout   time.Duration
	Timeout          time.Duration
}

func (o Options) normalized() Options {
	n := o
	if n.Throttle <= 0 {
		n.Throttle = defaultThrottle
	}
	if n.BatchSize <= 0 {
		n.BatchSize = n.Throttle
	}
	if n.MaxRetries < 0 {
		n.MaxRetries = 0
	} else if n.MaxRetries == 0 {
		n.MaxRetries = defaultMaxRetries
	}
	if n.BreakerThreshold <= 0 {
		n.BreakerThreshold = 5
	}
	if n.BreakerTimeout <= 0 {
		n.BreakerTimeout = 10 * time.Second
	}
	if n.Timeout <= 0 {
		n.Timeout = defaultTimeout
	}
	return n
}

// TokenSource supplies the bearer token attached to outbound calls.
// An empty token means "no token available".
type TokenSource interface {
	Token() string
}

// Response is a fully read HTTP response. Coalesced GETs share one Response; treat it as read-only.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Client wraps http.Client with throttling, pacing, retry-with-backoff,
// circuit breaking and coalescing of identical concurrent GETs.
type Client struct {
	http    *http.Client
	opts    Options
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *Breaker
	gets    singleflight.Group
	tokens  TokenSource
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient creates a reliable client. tokens may be nil when security is disabled.
func NewClient(opts Options, tokens TokenSource) *Client {
	opts = opts.normalized()

	limiter := rate.NewLimiter(rate.Inf, opts.BatchSize)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.BatchSize)
	}

	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		opts:    opts,
		sem:     semaphore.NewWeighted(int64(opts.Throttle)),
		limiter: limiter,
		breaker: NewBreaker(opts.BreakerThreshold, opts.BreakerTimeout),
		tokens:  tokens,
		sleep:   sleepContext,
	}
}

// Throttle returns the configured concurrency limit.
func (c *Client) Throttle() int {
	return c.opts.Throttle
}

// BreakerState exposes the breaker state for status reporting.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}

// Get issues a GET. Concurrent GETs for the same URL share a single request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	v, err, shared := c.gets.Do(url, func() (interface{}, error) {
		return c.do(ctx, http.MethodGet, url, nil)
	})
	if shared {
		slog.Debug("[Reliable] Coalesced GET", "url", url)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

// Post issues a POST with body encoded as JSON.
func (c *Client) Post(ctx context.Context, url string, body interface{}) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, payload)
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) (*Response, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("throttle: %w", err)
	}
	defer c.sem.Release(1)

	if !c.breaker.Allow() {
		return nil, fmt.Errorf("%s %s: %w", method, url, ErrCircuitOpen)
	}

	var (
		resp      *Response
		err       error
		attempted bool
	)
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if serr := c.sleep(ctx, backoff(attempt-1)); serr != nil {
				err = serr
				break
			}
		}
		if werr := c.limiter.Wait(ctx); werr != nil {
			err = werr
			break
		}

		attempted = true
		resp, err = c.once(ctx, method, url, payload)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			c.breaker.Success()
			return resp, nil
		}

		slog.Debug("[Reliable] Call failed",
			"method", method,
			"url", url,
			"attempt", attempt+1,
			"error", err,
			"status", statusOf(resp),
		)
	}

	if !attempted {
		// Abandoned before reaching the remote: says nothing about its health.
		c.breaker.Release()
		return nil, err
	}
	c.breaker.Failure()
	if err != nil {
		return nil, err
	}
	// Exhausted retries on 5xx: hand the last response to the caller.
	return resp, nil
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// backoff is base * 2^i plus up to 50ms of jitter.
func backoff(i int) time.Duration {
	d := time.Duration(math.Pow(2, float64(i))) * baseBackoff
	if n, err := rand.Int(rand.Reader, big.NewInt(50)); err == nil {
		d += time.Duration(n.Int64()) * time.Millisecond
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func statusOf(r *Response) int {
	if r == nil {
		return 0
	}
	return r.StatusCode
}
