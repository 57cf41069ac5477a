package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 4 << 20

// Degrader is the freshness gate as seen by the fetch layer.
type Degrader interface {
	EnterDegraded(ctx context.Context, reason string) bool
}

// Request describes one outbound call.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Header  http.Header
	Cookies []*http.Cookie
	Body    []byte
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ClientOptions parameterise the resilient client.
type ClientOptions struct {
	Name              string
	MaxAttempts       int
	BackoffUnit       time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	// Degrader is notified when the retry budget runs out. Nil means
	// exhaustion is reported to the caller only.
	Degrader Degrader
}

// Client issues requests with bounded retries and exponential backoff.
type Client struct {
	opts    ClientOptions
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient constructs a resilient client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "http"
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		opts:    opts,
		http:    &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		logger:  logger.With().Str("component", "fetcher").Str("target", opts.Name).Logger(),
		sleep:   sleep,
	}
}

// Fetch runs req up to MaxAttempts times. After failed attempt n it waits
// BackoffUnit*2^n. When every attempt fails the degrader is tripped and
// ErrRetriesExhausted is returned. Cancellation of ctx never trips it.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.once(ctx, req)
		if err == nil {
			if attempt > 1 {
				c.logger.Info().Int("attempt", attempt).Msg("request succeeded after retry")
			}
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		if attempt == c.opts.MaxAttempts {
			break
		}

		backoff := c.opts.BackoffUnit * time.Duration(1<<attempt)
		c.logger.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("request failed; retrying")
		if err := c.sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	c.logger.Error().Err(lastErr).Int("attempts", c.opts.MaxAttempts).Msg("retry budget exhausted")
	if c.opts.Degrader != nil {
		reason := fmt.Sprintf("%s unreachable after %d attempts: %v", c.opts.Name, c.opts.MaxAttempts, lastErr)
		c.opts.Degrader.EnterDegraded(ctx, reason)
	}
	return nil, fmt.Errorf("%s: %w: %v", c.opts.Name, ErrRetriesExhausted, lastErr)
}

func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" && c.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	}
	for _, cookie := range req.Cookies {
		httpReq.AddCookie(cookie)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(strings.TrimSpace(string(payload)), 256)}
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
