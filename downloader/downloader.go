// Package downloader fetches media over ranged HTTP GETs and exposes it as a
// plain io.ReadCloser.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ytget/ytrelay/client"
	"github.com/ytget/ytrelay/internal/logger"
)

const (
	// DefaultChunkSize is the size of one ranged request.
	DefaultChunkSize = 1 << 20
	// DefaultMaxRetries is the number of attempts per chunk.
	DefaultMaxRetries = 3

	headerRange         = "Range"
	headerContentRange  = "Content-Range"
	headerContentLength = "Content-Length"

	userAgentValue = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
)

// ErrStatus reports a non-success response to a chunk request.
var ErrStatus = errors.New("unexpected status")

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a Downloader. Zero values use defaults; RateLimitBps 0
// disables limiting.
type Options struct {
	ChunkSize    int64
	MaxRetries   int
	RateLimitBps int64
}

// Downloader opens media URLs as chunked readers.
type Downloader struct {
	doer         Doer
	chunkSize    int64
	maxRetries   int
	rateLimitBps int64
	log          *logger.ComponentLogger
}

// New creates a downloader. A nil doer uses http.DefaultClient.
func New(doer Doer, opts Options) *Downloader {
	if doer == nil {
		doer = http.DefaultClient
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Downloader{
		doer:         doer,
		chunkSize:    opts.ChunkSize,
		maxRetries:   opts.MaxRetries,
		rateLimitBps: opts.RateLimitBps,
		log:          logger.WithComponent(logger.ComponentSource),
	}
}

func isGoogleVideoHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	h := strings.ToLower(u.Hostname())
	return strings.HasSuffix(h, ".googlevideo.com") || h == "googlevideo.com"
}

func (d *Downloader) newRequest(ctx context.Context, method, urlStr string, start, end int64) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgentValue)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-cache")
	if !isGoogleVideoHost(urlStr) {
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	}
	req.Header.Set(headerRange, fmt.Sprintf("bytes=%d-%d", start, end))
	return req, nil
}

// totalFromHeaders reads the full size from Content-Range, or from
// Content-Length when the server ignored the range.
func totalFromHeaders(h http.Header, status int) (int64, bool) {
	if cr := h.Get(headerContentRange); cr != "" {
		if i := strings.LastIndexByte(cr, '/'); i >= 0 {
			if v, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil && v > 0 {
				return v, true
			}
		}
	}
	if status == http.StatusOK {
		if v, err := strconv.ParseInt(h.Get(headerContentLength), 10, 64); err == nil && v > 0 {
			return v, true
		}
	}
	return 0, false
}

// DetectTotalSize probes the media size. googlevideo hosts get a GET for the
// first two bytes; other hosts are asked with HEAD first.
func (d *Downloader) DetectTotalSize(ctx context.Context, urlStr string) (int64, error) {
	if !isGoogleVideoHost(urlStr) {
		if req, err := d.newRequest(ctx, http.MethodHead, urlStr, 0, 1); err == nil {
			if resp, err := d.doer.Do(req); err == nil {
				_ = resp.Body.Close()
				if v, ok := totalFromHeaders(resp.Header, resp.StatusCode); ok {
					return v, nil
				}
			}
		}
	}

	req, err := d.newRequest(ctx, http.MethodGet, urlStr, 0, 1)
	if err != nil {
		return 0, err
	}
	resp, err := d.doer.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if v, ok := totalFromHeaders(resp.Header, resp.StatusCode); ok {
		return v, nil
	}
	return 0, errors.New("cannot determine total size")
}

// Open returns a reader over urlStr. size is the known media size, or 0 to
// probe it. The returned size is 0 when it stays unknown.
func (d *Downloader) Open(ctx context.Context, urlStr string, size int64) (*ChunkReader, int64, error) {
	if _, err := url.ParseRequestURI(urlStr); err != nil {
		return nil, 0, fmt.Errorf("invalid media url: %w", err)
	}
	if size <= 0 {
		v, err := d.DetectTotalSize(ctx, urlStr)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			d.log.Warn("could not determine total size", map[string]interface{}{"error": err.Error()})
		}
		size = v
	}
	return &ChunkReader{ctx: ctx, d: d, url: urlStr, size: size}, size, nil
}

// ChunkReader streams media by requesting consecutive byte ranges. Each
// range is retried with backoff before the read fails.
type ChunkReader struct {
	ctx  context.Context
	d    *Downloader
	url  string
	size int64

	offset   int64
	body     io.ReadCloser
	chunkEnd int64 // inclusive end of the current range
	chunkGot int64
	whole    bool // server ignored Range and sent the full body
	done     bool
	closed   bool
}

// Size returns the media size, 0 if unknown.
func (r *ChunkReader) Size() int64 { return r.size }

// Offset returns the number of bytes delivered so far.
func (r *ChunkReader) Offset() int64 { return r.offset }

func (r *ChunkReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("read on closed reader")
	}
	for {
		if r.done || (r.size > 0 && r.offset >= r.size) {
			return 0, io.EOF
		}
		if r.body == nil {
			if err := r.next(); err != nil {
				return 0, err
			}
			if r.done {
				return 0, io.EOF
			}
		}

		n, err := r.body.Read(p)
		r.offset += int64(n)
		r.chunkGot += int64(n)
		if n > 0 {
			if werr := r.throttle(n); werr != nil {
				return n, werr
			}
		}
		switch {
		case err == io.EOF:
			_ = r.body.Close()
			r.body = nil
			want := r.chunkEnd - (r.offset - r.chunkGot) + 1
			if r.whole || (r.size == 0 && r.chunkGot < want) {
				r.done = true
			}
			if n > 0 {
				return n, nil
			}
		case err != nil:
			return n, err
		default:
			return n, nil
		}
	}
}

// next opens the range following offset.
func (r *ChunkReader) next() error {
	start := r.offset
	end := start + r.d.chunkSize - 1
	if r.size > 0 && end >= r.size {
		end = r.size - 1
	}

	var lastErr error
	backoff := client.InitialBackoff()
	for attempt := 0; attempt < r.d.maxRetries; attempt++ {
		if attempt > 0 {
			if err := client.Sleep(r.ctx, backoff); err != nil {
				return err
			}
			backoff = client.NextBackoff(backoff)
		}

		req, err := r.d.newRequest(r.ctx, http.MethodGet, r.url, start, end)
		if err != nil {
			return err
		}
		resp, err := r.d.doer.Do(req)
		if err != nil {
			if r.ctx.Err() != nil {
				return r.ctx.Err()
			}
			lastErr = err
			r.d.log.Debug("chunk request failed", map[string]interface{}{"attempt": attempt + 1, "error": err.Error()})
			continue
		}

		switch {
		case resp.StatusCode == http.StatusPartialContent:
			if r.size == 0 {
				if v, ok := totalFromHeaders(resp.Header, resp.StatusCode); ok {
					r.size = v
				}
			}
		case resp.StatusCode == http.StatusOK && start == 0:
			r.whole = true
			if r.size == 0 {
				if v, ok := totalFromHeaders(resp.Header, resp.StatusCode); ok {
					r.size = v
				}
			}
		case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && r.size == 0 && start > 0:
			_ = resp.Body.Close()
			r.done = true
			return nil
		default:
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("%w %d for range %d-%d", ErrStatus, resp.StatusCode, start, end)
			r.d.log.Debug("chunk request rejected", map[string]interface{}{"attempt": attempt + 1, "status": resp.StatusCode})
			if resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
				return lastErr
			}
			continue
		}

		r.body = resp.Body
		r.chunkEnd = end
		r.chunkGot = 0
		return nil
	}
	return fmt.Errorf("download chunk failed: %w", lastErr)
}

// throttle enforces the rate limit for n freshly read bytes.
func (r *ChunkReader) throttle(n int) error {
	if r.d.rateLimitBps <= 0 {
		return nil
	}
	dur := time.Duration(int64(time.Second) * int64(n) / r.d.rateLimitBps)
	if dur <= 0 {
		return nil
	}
	return client.Sleep(r.ctx, dur)
}

// Close releases the current chunk response.
func (r *ChunkReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.body != nil {
		err := r.body.Close()
		r.body = nil
		return err
	}
	return nil
}
