// Package relay drives one download from stream selection to the last byte
// written to the client.
package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ytget/ytrelay/catalog"
	"github.com/ytget/ytrelay/errs"
	"github.com/ytget/ytrelay/internal/logger"
	"github.com/ytget/ytrelay/internal/sanitize"
	"github.com/ytget/ytrelay/progress"
	"github.com/ytget/ytrelay/types"
)

const (
	defaultCopyBufferSize = 32 * 1024
	// Upper bound on the buffer reserved from a reported size; larger bodies
	// grow as they arrive.
	maxBufferedPrealloc = 64 << 20

	HeaderTransferID = "X-Transfer-ID"
	contentTypeMP4   = "video/mp4; charset=utf-8"
)

// Request is the body of a download request.
type Request struct {
	URL        string `json:"url"`
	Resolution string `json:"resolution"`
	TransferID string `json:"transfer_id,omitempty"`
}

// Options tunes delivery.
type Options struct {
	// Buffered reads the whole stream into memory before any header is
	// written. The default streams bytes as they arrive.
	Buffered bool
	// CopyBufferSize bounds memory per streaming transfer.
	CopyBufferSize int
}

// Relay copies media from a VideoSource to an HTTP response while feeding a
// progress.Tracker.
type Relay struct {
	source  types.VideoSource
	tracker *progress.Tracker
	opts    Options
	log     *logger.ComponentLogger
}

// New returns a Relay. tracker may be shared with a progress.Publisher.
func New(source types.VideoSource, tracker *progress.Tracker, opts Options) *Relay {
	if opts.CopyBufferSize <= 0 {
		opts.CopyBufferSize = defaultCopyBufferSize
	}
	return &Relay{
		source:  source,
		tracker: tracker,
		opts:    opts,
		log:     logger.WithComponent(logger.ComponentRelay),
	}
}

// TransferID returns requested when it is a well formed uuid and a fresh one
// otherwise. Download also replaces ids that belong to a running transfer.
func TransferID(requested string) string {
	if id, err := uuid.Parse(strings.TrimSpace(requested)); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Download validates req, resolves the stream and writes it to w.
//
// Errors returned before anything was written to w leave the response
// untouched so the caller can render them. In streaming mode a failure after
// the headers went out is still returned; the caller can only drop the
// connection.
func (r *Relay) Download(ctx context.Context, req Request, w http.ResponseWriter) error {
	if strings.TrimSpace(req.URL) == "" {
		return errs.InvalidInput("URL not provided")
	}
	if strings.TrimSpace(req.Resolution) == "" {
		return errs.InvalidInput("Resolution not provided")
	}

	id := TransferID(req.TransferID)
	if !r.tracker.Claim(id) {
		r.log.Debug("transfer id in use, issuing a new one", map[string]interface{}{"requested": id})
		id = uuid.NewString()
		r.tracker.Begin(id)
	}
	log := r.log.With(map[string]interface{}{
		"transfer_id": id,
		"url":         req.URL,
		"resolution":  req.Resolution,
	})
	start := time.Now()

	err := r.transfer(ctx, id, req, w, log)
	if err != nil {
		r.tracker.Fail(id, err)
		log.Warn("transfer failed", map[string]interface{}{"error": err.Error()})
		return err
	}

	r.tracker.Complete(id)
	log.Info("transfer complete", map[string]interface{}{
		"duration": time.Since(start).Round(time.Millisecond).String(),
	})
	return nil
}

func (r *Relay) transfer(ctx context.Context, id string, req Request, w http.ResponseWriter, log *logger.ComponentLogger) error {
	info, err := r.source.Resolve(ctx, req.URL)
	if err != nil {
		return fetchError(err)
	}

	stream, ok := catalog.Select(info.Streams, req.Resolution)
	if !ok {
		return errs.NotFound("No " + req.Resolution + " stream available")
	}

	body, size, err := r.source.Open(ctx, info, stream)
	if err != nil {
		return fetchError(err)
	}
	defer func() { _ = body.Close() }()

	total := stream.Size
	if total <= 0 {
		total = size
	}
	log.Debug("stream opened", map[string]interface{}{
		"itag": stream.Itag,
		"size": total,
	})

	src := &countingReader{r: body, total: total, onProgress: func(total, remaining int64) {
		r.tracker.Report(id, float64(total-remaining)/float64(total))
	}}

	hdr := attachment{title: info.Title, transferID: id}
	if r.opts.Buffered {
		return r.sendBuffered(ctx, src, total, hdr, w)
	}
	return r.sendStreaming(ctx, src, total, hdr, w)
}

// attachment holds the response headers of a successful transfer.
type attachment struct {
	title      string
	transferID string
}

func (a attachment) write(w http.ResponseWriter, length int64) {
	h := w.Header()
	h.Set("Content-Disposition", sanitize.ContentDisposition(a.title, sanitize.DefaultExt))
	h.Set("Content-Type", contentTypeMP4)
	h.Set(HeaderTransferID, a.transferID)
	if length > 0 {
		h.Set("Content-Length", strconv.FormatInt(length, 10))
	}
	w.WriteHeader(http.StatusOK)
}

// sendBuffered reads everything first so a failed fetch never produces a
// partial response.
func (r *Relay) sendBuffered(ctx context.Context, src io.Reader, total int64, hdr attachment, w http.ResponseWriter) error {
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(min(total, maxBufferedPrealloc)))
	}
	if _, err := buf.ReadFrom(src); err != nil {
		return fetchError(contextCause(ctx, err))
	}

	hdr.write(w, int64(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		return fetchError(err)
	}
	return nil
}

func (r *Relay) sendStreaming(ctx context.Context, src io.Reader, total int64, hdr attachment, w http.ResponseWriter) error {
	hdr.write(w, total)

	buf := make([]byte, r.opts.CopyBufferSize)
	if _, err := io.CopyBuffer(w, src, buf); err != nil {
		return fetchError(contextCause(ctx, err))
	}
	return nil
}

// fetchError classifies a failure. Already classified errors pass through.
func fetchError(err error) error {
	if errs.Classified(err) {
		return err
	}
	if e, ok := errs.As(err); ok && e.Code == errs.CodeSourceFailure {
		return err
	}
	return errs.SourceFailure(err)
}

// contextCause prefers the context error when the copy stopped because the
// client went away.
func contextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return ctxErr
	}
	return err
}

// countingReader reports (total, remaining) after every read that moved
// bytes. Nothing is reported when total is unknown.
type countingReader struct {
	r          io.Reader
	total      int64
	read       int64
	onProgress func(total, remaining int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		if c.total > 0 && c.onProgress != nil {
			remaining := c.total - c.read
			if remaining < 0 {
				remaining = 0
			}
			c.onProgress(c.total, remaining)
		}
	}
	return n, err
}
