// Package client builds the outbound HTTP client shared by the YouTube source.
package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	defaultRetries = 3

	userAgentValue   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	initialBackoff   = 200 * time.Millisecond
	maxBackoff       = 3 * time.Second
	retryableMinCode = http.StatusInternalServerError
)

// defaultTransport is a tuned HTTP transport reused across clients.
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   10,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ResponseHeaderTimeout: 15 * time.Second,
	ForceAttemptHTTP2:     true,
	ReadBufferSize:        16 * 1024,
	WriteBufferSize:       16 * 1024,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Config holds optional client parameters. Zero values use defaults.
type Config struct {
	// Timeout bounds metadata requests. Media transfers are bounded by their
	// request context instead, see MediaClient.
	Timeout   time.Duration
	Retries   int
	UserAgent string
	ProxyURL  string
	// Fingerprint dials TLS with a browser ClientHello.
	Fingerprint bool
}

// Client wraps http.Client with retry/backoff and default headers.
type Client struct {
	HTTPClient *http.Client
	Retries    int
	UserAgent  string

	transport http.RoundTripper
}

// New creates a Client with a tuned Transport, default timeout and retries.
func New() *Client {
	c, _ := NewWith(Config{})
	return c
}

// NewWith creates a client from cfg. Zero values use defaults; a malformed
// proxy URL is an error.
func NewWith(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = userAgentValue
	}

	var proxy func(*http.Request) (*url.URL, error)
	if cfg.ProxyURL != "" {
		p, err := proxyFromURLString(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		proxy = p
	}

	var rt http.RoundTripper
	if cfg.Fingerprint {
		rt = newFingerprintTransport(proxy)
	} else {
		tr := defaultTransport.Clone()
		if proxy != nil {
			tr.Proxy = proxy
		}
		rt = tr
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: rt,
		},
		Retries:   retries,
		UserAgent: ua,
		transport: rt,
	}, nil
}

// MediaClient returns a client sharing this client's transport but without
// an overall timeout, for long ranged transfers cancelled through context.
func (c *Client) MediaClient() *http.Client {
	rt := c.transport
	if rt == nil {
		rt = c.HTTPClient.Transport
	}
	return &http.Client{Transport: rt}
}

// Get performs a GET request with a simple retry policy for transient errors
// (HTTP 5xx or network failures). It sets a desktop-like User-Agent header.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req, retrying on network errors and 5xx responses. Requests with a
// body are retried only when GetBody is set.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		ua := c.UserAgent
		if ua == "" {
			ua = userAgentValue
		}
		req.Header.Set("User-Agent", ua)
	}

	retries := c.Retries
	if retries < 1 {
		retries = 1
	}
	if req.Body != nil && req.GetBody == nil {
		retries = 1
	}

	var (
		resp *http.Response
		err  error
	)
	backoff := initialBackoff
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, berr
			}
			req.Body = body
		}

		resp, err = c.HTTPClient.Do(req)
		if err == nil && resp.StatusCode < retryableMinCode {
			return resp, nil
		}
		if attempt == retries-1 {
			break
		}
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if serr := Sleep(req.Context(), backoff); serr != nil {
			return nil, serr
		}
		backoff = NextBackoff(backoff)
	}
	return resp, err
}

// NextBackoff doubles d up to the maximum backoff.
func NextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// InitialBackoff is the first retry delay.
func InitialBackoff() time.Duration {
	return initialBackoff
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// proxyFromURLString parses a proxy URL and returns a Proxy function.
func proxyFromURLString(raw string) (func(*http.Request) (*url.URL, error), error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("missing scheme or host in %q", raw)
	}
	return http.ProxyURL(u), nil
}
