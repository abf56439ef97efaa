package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "nftwatch/pkg/logx"
	"nftwatch/pkg/tgui"
)

var (
	// ErrThrottled means every attempt was answered with 429. The caller
	// should skip the current tick.
	ErrThrottled = errors.New("indexer: rate limited")
	ErrNotFound  = errors.New("indexer: not found")
)

// HTTPError is a non-2xx, non-429 response. It is never retried.
type HTTPError struct {
	Status int
	Path   string
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("indexer: %s: HTTP %d: %s", e.Path, e.Status, e.Body)
}

func (e *HTTPError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

type BackoffMode string

const (
	BackoffLinear      BackoffMode = "linear"
	BackoffExponential BackoffMode = "exponential"
)

const maxBodyBytes = 8 << 20

type FetcherConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	Mode         BackoffMode
	BaseDelay    time.Duration
	MaxAttempts  int
	WarnInterval time.Duration
}

func (c FetcherConfig) withDefaults() FetcherConfig {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = "https://tonapi.io/v2"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Mode != BackoffLinear {
		c.Mode = BackoffExponential
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.WarnInterval <= 0 {
		c.WarnInterval = 5 * time.Second
	}
	return c
}

// Delay is the wait after the given zero-based failed attempt.
func (c FetcherConfig) Delay(attempt int) time.Duration {
	if c.Mode == BackoffLinear {
		return time.Duration(attempt+1) * c.BaseDelay
	}
	return c.BaseDelay << attempt
}

type Fetcher struct {
	cfg    FetcherConfig
	client *http.Client
	log    logx.Logger
	warn   *rate.Sometimes
	sleep  func(ctx context.Context, d time.Duration) error
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithSleep replaces the backoff wait; tests use it to avoid real delays.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *Fetcher) {
		if fn != nil {
			f.sleep = fn
		}
	}
}

func NewFetcher(cfg FetcherConfig, log logx.Logger, opts ...FetcherOption) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
		warn:   &rate.Sometimes{Interval: cfg.WarnInterval},
		sleep:  sleepCtx,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fetcher) Config() FetcherConfig { return f.cfg }

// Get issues GET BaseURL+path and returns the body of a 2xx response.
func (f *Fetcher) Get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := f.cfg.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		status, body, err := f.do(ctx, u)
		if err != nil {
			return nil, err
		}
		switch {
		case status >= 200 && status < 300:
			return body, nil
		case status != http.StatusTooManyRequests:
			return nil, &HTTPError{Status: status, Path: path, Body: snippet(body)}
		}

		if attempt == f.cfg.MaxAttempts-1 {
			break
		}
		wait := f.cfg.Delay(attempt)
		f.warn.Do(func() {
			f.log.Warn("indexer rate limited; backing off",
				logx.String("path", path),
				logx.Int("attempt", attempt+1),
				logx.Duration("wait", wait),
			)
		})
		if err := f.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s: %w after %d attempts", path, ErrThrottled, f.cfg.MaxAttempts)
}

func (f *Fetcher) do(ctx context.Context, u string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("indexer: request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("indexer: read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

// snippet keeps error bodies short in logs without splitting a rune.
func snippet(b []byte) string {
	return tgui.TruncRunes(strings.TrimSpace(string(b)), 200)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
