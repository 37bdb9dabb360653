// Package youtube implements types.VideoSource on top of the Innertube
// player API.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/ytget/ytrelay/downloader"
	"github.com/ytget/ytrelay/internal/logger"
	"github.com/ytget/ytrelay/types"
	"github.com/ytget/ytrelay/youtube/cipher"
	"github.com/ytget/ytrelay/youtube/innertube"
)

// ErrInvalidURL is returned for URLs that do not name a YouTube video.
var ErrInvalidURL = errors.New("invalid youtube url")

var (
	videoIDRe    = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)
	youtubeHosts = []string{"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtube-nocookie.com", "www.youtube-nocookie.com"}
	pathPrefixes = []string{"/shorts/", "/embed/", "/live/", "/v/", "/e/"}
)

// VideoID extracts the video id from a watch, youtu.be, shorts, embed or live
// URL. A bare 11 character id is accepted as well.
func VideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if videoIDRe.MatchString(raw) {
		return raw, nil
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be":
		id, _, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	case lo.Contains(youtubeHosts, host):
		if u.Path == "/watch" {
			id = u.Query().Get("v")
			break
		}
		if prefix, ok := lo.Find(pathPrefixes, func(p string) bool { return strings.HasPrefix(u.Path, p) }); ok {
			id, _, _ = strings.Cut(strings.TrimPrefix(u.Path, prefix), "/")
		}
	}
	if !videoIDRe.MatchString(id) {
		return "", fmt.Errorf("%w: %s", ErrInvalidURL, raw)
	}
	return id, nil
}

// PlayerClient fetches Innertube player responses.
type PlayerClient interface {
	GetPlayerResponse(ctx context.Context, videoID string) (*innertube.PlayerResponse, error)
}

// URLResolver turns stream descriptors into playable URLs.
type URLResolver interface {
	PlayerURL(ctx context.Context, videoID string) (string, error)
	ResolveURL(ctx context.Context, playerURL string, st types.Stream) (string, error)
}

// Source resolves YouTube videos and opens their streams.
type Source struct {
	player   PlayerClient
	resolver URLResolver
	dl       *downloader.Downloader
	log      *logger.ComponentLogger
}

// New creates a Source.
func New(player PlayerClient, resolver URLResolver, dl *downloader.Downloader) *Source {
	return &Source{
		player:   player,
		resolver: resolver,
		dl:       dl,
		log:      logger.WithComponent(logger.ComponentSource),
	}
}

// Resolve fetches metadata and the stream list for the video at rawURL.
func (s *Source) Resolve(ctx context.Context, rawURL string) (*types.VideoInfo, error) {
	id, err := VideoID(rawURL)
	if err != nil {
		return nil, err
	}
	pr, err := s.player.GetPlayerResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := pr.Playability(); err != nil {
		return nil, err
	}
	info := pr.VideoInfo(id)
	if len(info.Streams) == 0 {
		return nil, fmt.Errorf("no streams available for video %s", id)
	}

	s.log.Debug("video resolved", map[string]interface{}{
		"video_id": info.ID,
		"streams":  len(info.Streams),
		"ciphered": lo.CountBy(info.Streams, func(st types.Stream) bool { return st.URL == "" }),
	})
	return info, nil
}

func needsResolve(st types.Stream) bool {
	if st.URL == "" {
		return true
	}
	u, err := url.Parse(st.URL)
	return err == nil && u.Query().Get("n") != ""
}

// Open returns a chunked reader over stream and its size, 0 if unknown.
func (s *Source) Open(ctx context.Context, info *types.VideoInfo, stream types.Stream) (io.ReadCloser, int64, error) {
	mediaURL := stream.URL
	if needsResolve(stream) {
		playerURL, err := s.resolver.PlayerURL(ctx, info.ID)
		if err == nil {
			mediaURL, err = s.resolver.ResolveURL(ctx, playerURL, stream)
		}
		if err != nil {
			s.log.Warn("stream url not resolved", map[string]interface{}{
				"video_id":  info.ID,
				"itag":      stream.Itag,
				"not_found": cipher.IsNotFound(err),
				"js_error":  cipher.IsJSError(err),
				"error":     err.Error(),
			})
			return nil, 0, err
		}
	}

	r, size, err := s.dl.Open(ctx, mediaURL, stream.Size)
	if err != nil {
		return nil, 0, err
	}
	s.log.Debug("stream opened", map[string]interface{}{
		"video_id": info.ID,
		"itag":     stream.Itag,
		"size":     size,
	})
	return r, size, nil
}

var _ types.VideoSource = (*Source)(nil)
