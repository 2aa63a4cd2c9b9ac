package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalogsync/internal/resilience"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 16 << 20

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RatePerSec float64
	Burst      int
	// BreakerThreshold is the run of transient failures that stops calls
	// for BreakerCooldown. Defaults: 5 and 30s.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Client calls the catalog API with rate limiting and retry of transient
// failures. It is safe for concurrent use.
type Client struct {
	http    *http.Client
	base    *url.URL
	token   string
	ua      string
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Client. Zero options take defaults.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, eris.New("catalog: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, eris.Wrap(err, "catalog: parse base url")
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = max(int(opts.RatePerSec), 1)
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "catalogsync/1.0"
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxRetries

	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		base:    base,
		token:   opts.Token,
		ua:      opts.UserAgent,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		retry:   retry,
		breaker: resilience.NewCircuitBreaker(resilience.BreakerConfig{
			FailureThreshold: opts.BreakerThreshold,
			Cooldown:         opts.BreakerCooldown,
			OnStateChange: func(from, to resilience.CircuitState) {
				zap.L().Warn("catalog: circuit breaker",
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
	}, nil
}

// Do sends req and classifies the response.
func (c *Client) Do(ctx context.Context, req Request) (Result, error) {
	var body []byte
	if req.Endpoint.Method() == http.MethodPost {
		var err error
		body, err = json.Marshal(req.Payload)
		if err != nil {
			return nil, eris.Wrapf(err, "catalog: marshal %s payload", req.Endpoint)
		}
	}

	cfg := c.retry
	cfg.OnRetry = resilience.RetryLogger(string(req.Endpoint))
	raw, err := resilience.Call(ctx, c.breaker, func(ctx context.Context) ([]byte, error) {
		return resilience.Do(ctx, cfg, func(ctx context.Context) ([]byte, error) {
			return c.send(ctx, req, body)
		})
	})
	if err != nil {
		return nil, err
	}
	return ParseResult(raw)
}

// BreakerState reports whether calls are currently being let through.
func (c *Client) BreakerState() resilience.CircuitState { return c.breaker.State() }

func (c *Client) send(ctx context.Context, req Request, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "catalog: rate limiter wait")
	}

	u := *c.base
	u.Path += req.Endpoint.Path()
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Endpoint.Method(), u.String(), rdr)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: build %s request", req.Endpoint)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.ua)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: %s", req.Endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s response", req.Endpoint)
	}

	zap.L().Debug("catalog request",
		zap.String("endpoint", string(req.Endpoint)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &resilience.StatusError{
			StatusCode: resp.StatusCode,
			Endpoint:   string(req.Endpoint),
			Body:       snippet,
		}
	}
	return data, nil
}
