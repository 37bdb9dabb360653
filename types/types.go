package types

import (
	"context"
	"io"
	"strings"
)

// Stream describes one media stream offered by a video source.
type Stream struct {
	Itag            int
	URL             string
	Quality         string // resolution label, e.g. "720p"; empty for audio
	MimeType        string
	Bitrate         int
	Size            int64
	SignatureCipher string
	Adaptive        bool // single-track stream, paired with another track for playback
}

// VideoOnly reports whether the stream is an adaptive stream that carries video and no audio.
func (s Stream) VideoOnly() bool {
	return s.Adaptive && strings.HasPrefix(strings.ToLower(strings.TrimSpace(s.MimeType)), "video/")
}

// VideoInfo describes a resolved video.
type VideoInfo struct {
	ID           string
	Title        string
	Author       string
	Duration     int
	ThumbnailURL string
	Streams      []Stream
}

// VideoSource resolves video pages into metadata and opens media streams.
//
// Open returns the stream body and its total size in bytes. The size is 0 when
// the source cannot determine it up front.
type VideoSource interface {
	Resolve(ctx context.Context, url string) (*VideoInfo, error)
	Open(ctx context.Context, info *VideoInfo, stream Stream) (io.ReadCloser, int64, error)
}
