package innertube

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ytget/ytrelay/errs"
	"github.com/ytget/ytrelay/types"
)

var heightRe = regexp.MustCompile(`([0-9]{3,4})p`)

// Format is one entry of streamingData.formats or adaptiveFormats.
type Format struct {
	Itag            int    `json:"itag"`
	URL             string `json:"url"`
	SignatureCipher string `json:"signatureCipher"`
	Cipher          string `json:"cipher"`
	MimeType        string `json:"mimeType"`
	QualityLabel    string `json:"qualityLabel"`
	Bitrate         int    `json:"bitrate"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	ContentLength   string `json:"contentLength"`
}

// Thumbnail is a preview image reference.
type Thumbnail struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// PlayerResponse represents a response from the InnerTube /player endpoint.
type PlayerResponse struct {
	StreamingData struct {
		Formats         []Format `json:"formats"`
		AdaptiveFormats []Format `json:"adaptiveFormats"`
	} `json:"streamingData"`
	VideoDetails struct {
		VideoID       string `json:"videoId"`
		Title         string `json:"title"`
		Author        string `json:"author"`
		LengthSeconds string `json:"lengthSeconds"`
		Thumbnail     struct {
			Thumbnails []Thumbnail `json:"thumbnails"`
		} `json:"thumbnail"`
	} `json:"videoDetails"`
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

// Playability maps the playability status to an errs sentinel. OK and
// unknown statuses return nil.
func (p *PlayerResponse) Playability() error {
	status := strings.ToUpper(p.PlayabilityStatus.Status)
	reason := p.PlayabilityStatus.Reason
	lower := strings.ToLower(reason)

	var sentinel error
	switch status {
	case "", "OK", "LIVE_STREAM_OFFLINE":
		return nil
	case "ERROR":
		switch {
		case strings.Contains(lower, "geograph") || strings.Contains(lower, "available in your country"):
			sentinel = errs.ErrGeoBlocked
		case strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
			sentinel = errs.ErrRateLimited
		default:
			sentinel = errs.ErrVideoUnavailable
		}
	case "LOGIN_REQUIRED":
		if strings.Contains(lower, "private") {
			sentinel = errs.ErrPrivate
		} else {
			sentinel = errs.ErrAgeRestricted
		}
	case "AGE_CHECK_REQUIRED", "AGE_VERIFICATION_REQUIRED":
		sentinel = errs.ErrAgeRestricted
	case "UNPLAYABLE":
		if strings.Contains(lower, "private") {
			sentinel = errs.ErrPrivate
		} else {
			sentinel = errs.ErrVideoUnavailable
		}
	default:
		return nil
	}
	if reason == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, reason)
}

// NormalizeQuality reduces a quality label such as "1080p60 HDR" to "1080p".
// Labels without a height are returned trimmed.
func NormalizeQuality(label string, height int) string {
	if m := heightRe.FindStringSubmatch(label); len(m) == 2 {
		return m[1] + "p"
	}
	if label == "" && height > 0 {
		return strconv.Itoa(height) + "p"
	}
	return strings.TrimSpace(label)
}

func (f Format) stream(adaptive bool) types.Stream {
	st := types.Stream{
		Itag:            f.Itag,
		URL:             f.URL,
		MimeType:        f.MimeType,
		Bitrate:         f.Bitrate,
		SignatureCipher: f.SignatureCipher,
		Adaptive:        adaptive,
	}
	if st.SignatureCipher == "" {
		st.SignatureCipher = f.Cipher
	}
	if strings.HasPrefix(strings.ToLower(f.MimeType), "video/") {
		st.Quality = NormalizeQuality(f.QualityLabel, f.Height)
	}
	if f.ContentLength != "" {
		if v, err := strconv.ParseInt(f.ContentLength, 10, 64); err == nil {
			st.Size = v
		}
	}
	return st
}

// Streams lists progressive formats followed by adaptive ones.
func (p *PlayerResponse) Streams() []types.Stream {
	out := make([]types.Stream, 0, len(p.StreamingData.Formats)+len(p.StreamingData.AdaptiveFormats))
	for _, f := range p.StreamingData.Formats {
		out = append(out, f.stream(false))
	}
	for _, f := range p.StreamingData.AdaptiveFormats {
		out = append(out, f.stream(true))
	}
	return out
}

// ThumbnailURL returns the widest thumbnail, or the standard preview image
// for videoID when the response carries none.
func (p *PlayerResponse) ThumbnailURL(videoID string) string {
	var best Thumbnail
	for _, t := range p.VideoDetails.Thumbnail.Thumbnails {
		if t.URL != "" && t.Width >= best.Width {
			best = t
		}
	}
	if best.URL != "" {
		return best.URL
	}
	if videoID == "" {
		return ""
	}
	return "https://i.ytimg.com/vi/" + videoID + "/hqdefault.jpg"
}

// VideoInfo converts the response into a types.VideoInfo.
func (p *PlayerResponse) VideoInfo(videoID string) *types.VideoInfo {
	if p.VideoDetails.VideoID != "" {
		videoID = p.VideoDetails.VideoID
	}
	duration, _ := strconv.Atoi(p.VideoDetails.LengthSeconds)
	return &types.VideoInfo{
		ID:           videoID,
		Title:        p.VideoDetails.Title,
		Author:       p.VideoDetails.Author,
		Duration:     duration,
		ThumbnailURL: p.ThumbnailURL(videoID),
		Streams:      p.Streams(),
	}
}
