// Package catalog turns a video's raw stream list into the resolution menu
// offered to clients.
package catalog

import (
	"context"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/ytget/ytrelay/errs"
	"github.com/ytget/ytrelay/internal/logger"
	"github.com/ytget/ytrelay/types"
)

// Resolutions is the allow-list of labels a client may see, in ascending order.
var Resolutions = []string{"144p", "240p", "360p", "480p", "720p", "1080p", "1440p", "2160p"}

// Metadata is the response body of a metadata request.
type Metadata struct {
	Title        string            `json:"title"`
	ThumbnailURL string            `json:"thumbnail_url"`
	Resolutions  []string          `json:"resolutions"`
	FileSize     map[string]string `json:"file_size"`
}

// Catalog describes videos through a VideoSource.
type Catalog struct {
	source types.VideoSource
	log    *logger.ComponentLogger
}

// New returns a Catalog reading from source.
func New(source types.VideoSource) *Catalog {
	return &Catalog{
		source: source,
		log:    logger.WithComponent(logger.ComponentCatalog),
	}
}

// Describe resolves url and returns its title, thumbnail and the allowed
// resolutions with their sizes. Every call goes back to the source.
func (c *Catalog) Describe(ctx context.Context, url string) (*Metadata, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errs.InvalidInput("URL not provided")
	}

	info, err := c.source.Resolve(ctx, url)
	if err != nil {
		c.log.Warn("resolve failed", map[string]interface{}{"url": url, "error": err.Error()})
		return nil, errs.SourceUnavailable(err)
	}

	md := Build(info)
	c.log.Debug("described video", map[string]interface{}{
		"id":          info.ID,
		"resolutions": strings.Join(md.Resolutions, ","),
	})
	return md, nil
}

// Build computes Metadata from an already resolved video.
func Build(info *types.VideoInfo) *Metadata {
	streams := Candidates(info.Streams)

	labels := lo.Uniq(lo.Map(streams, func(s types.Stream, _ int) string { return s.Quality }))
	slices.SortFunc(labels, func(a, b string) int { return LabelHeight(a) - LabelHeight(b) })

	// Later streams overwrite earlier ones with the same label.
	sizes := make(map[string]string, len(labels))
	for _, s := range streams {
		sizes[s.Quality] = HumanSize(s.Size)
	}

	return &Metadata{
		Title:        info.Title,
		ThumbnailURL: info.ThumbnailURL,
		Resolutions:  labels,
		FileSize:     sizes,
	}
}

// Candidates keeps adaptive video-only streams whose label is allowed,
// preserving source order.
func Candidates(streams []types.Stream) []types.Stream {
	return lo.Filter(streams, func(s types.Stream, _ int) bool {
		return s.VideoOnly() && Allowed(s.Quality)
	})
}

// Select returns the first adaptive video-only stream labelled exactly label.
func Select(streams []types.Stream, label string) (types.Stream, bool) {
	return lo.Find(streams, func(s types.Stream) bool {
		return s.VideoOnly() && s.Quality == label
	})
}

// Allowed reports whether label is in the allow-list.
func Allowed(label string) bool {
	return lo.Contains(Resolutions, label)
}

// LabelHeight returns the numeric part of a label like "1080p", or 0.
func LabelHeight(label string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(label, "p"))
	if err != nil {
		return 0
	}
	return n
}
