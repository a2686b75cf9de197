package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	errs "tgpipeline/pkg/errors"
	"tgpipeline/pkg/logger"
	"tgpipeline/pkg/ratelimit"
)

// ErrStop may be returned by an IterMessages callback to end iteration early.
var ErrStop = errors.New("stop iteration")

// Options configures a Client
type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// DefaultWait is reported when a 429 response has no Retry-After header.
	DefaultWait time.Duration
	// Limiter paces every request. Nil means unlimited.
	Limiter ratelimit.Limiter
	// MaxRetries bounds retries of network and 5xx failures. Rate-limit
	// responses are never retried here.
	MaxRetries   int
	RetryBackoff time.Duration
	HTTPClient   *http.Client
}

// Client reads public channel web previews
type Client struct {
	httpClient  *http.Client
	headers     map[string]string
	baseURL     string
	defaultWait time.Duration
	limiter     ratelimit.Limiter
	executor    failsafe.Executor[[]byte]
	logger      logger.Logger
}

// NewClient creates a new preview client
func NewClient(opts Options, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURL
	}
	if opts.DefaultWait <= 0 {
		opts.DefaultWait = 30 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.Unlimited{}
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	headers := map[string]string{
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
	}
	if opts.UserAgent != "" {
		headers["User-Agent"] = opts.UserAgent
	}

	policy := retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool {
			var e *errs.Error
			return errors.As(err, &e) && e.Type != errs.ErrorTypeRateLimit && errs.IsRetryable(e.Type)
		}).
		WithMaxRetries(opts.MaxRetries).
		WithBackoff(opts.RetryBackoff, opts.RetryBackoff*8).
		OnRetry(func(e failsafe.ExecutionEvent[[]byte]) {
			log.WarnWithFields("retrying request", map[string]interface{}{
				"attempt": e.Attempts(),
				"error":   e.LastError(),
			})
		}).
		Build()

	return &Client{
		httpClient:  httpClient,
		headers:     headers,
		baseURL:     opts.BaseURL,
		defaultWait: opts.DefaultWait,
		limiter:     opts.Limiter,
		executor:    failsafe.With[[]byte](policy),
		logger:      log,
	}
}

// ResolveChannel fetches the channel's metadata. A missing channel yields a
// not_found error.
func (c *Client) ResolveChannel(ctx context.Context, name string) (*Channel, error) {
	p, err := c.fetchPage(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	return p.channel, nil
}

// IterMessages calls fn for up to limit posts, newest first, walking back
// through preview pages until the limit is reached or pages run out.
func (c *Client) IterMessages(ctx context.Context, name string, limit int, fn func(Message) error) error {
	var before int64
	seen := 0

	for limit <= 0 || seen < limit {
		p, err := c.fetchPage(ctx, name, before)
		if err != nil {
			return err
		}
		if len(p.messages) == 0 {
			return nil
		}

		// Pages are served oldest first.
		for i := len(p.messages) - 1; i >= 0; i-- {
			msg := p.messages[i]
			if before > 0 && msg.ID >= before {
				continue
			}
			if err := fn(msg); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
			seen++
			if limit > 0 && seen >= limit {
				return nil
			}
		}

		next := p.minID()
		if next <= 1 || (before > 0 && next >= before) {
			return nil
		}
		before = next
	}
	return nil
}

// DownloadPhoto downloads a photo from the given URL
func (c *Client) DownloadPhoto(ctx context.Context, photoURL string) ([]byte, error) {
	c.logger.DebugWithFields("downloading photo", map[string]interface{}{
		"url": photoURL,
	})

	data, err := c.get(ctx, photoURL)
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("successfully downloaded photo", map[string]interface{}{
		"url":  photoURL,
		"size": len(data),
	})
	return data, nil
}

func (c *Client) fetchPage(ctx context.Context, name string, before int64) (*page, error) {
	url := PreviewURL(c.baseURL, name, before)
	c.logger.DebugWithFields("fetching preview page", map[string]interface{}{
		"channel": name,
		"before":  before,
	})

	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}
	return parsePage(bytes.NewReader(body), name)
}

// get runs one paced GET through the retry executor and returns the body
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	return c.executor.WithContext(ctx).Get(func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.doRequest(ctx, url)
	})
}

func (c *Client) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeUnknown, 0, fmt.Sprintf("failed to create request: %v", err))
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"url":      url,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.New(errs.ErrorTypeNetwork, 0, fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"url":      url,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if err := c.checkResponseStatus(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeNetwork, resp.StatusCode, fmt.Sprintf("failed to read response body: %v", err))
	}
	return body, nil
}

// checkResponseStatus maps the HTTP status onto a typed error
func (c *Client) checkResponseStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfter(resp.Header.Get("Retry-After"), c.defaultWait)
		c.logger.WarnWithFields("rate limit exceeded", map[string]interface{}{
			"url":  resp.Request.URL.String(),
			"wait": wait,
		})
		return errs.RateLimited(wait, "too many requests")
	case resp.StatusCode == http.StatusNotFound:
		return errs.New(errs.ErrorTypeNotFound, resp.StatusCode, "resource not found")
	case resp.StatusCode >= 500:
		return errs.New(errs.ErrorTypeServerError, resp.StatusCode, "server error")
	default:
		return errs.New(errs.ErrorTypeUnknown, resp.StatusCode, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date
func retryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d.Round(time.Second)
		}
		return 0
	}
	return fallback
}
