package types

import "testing"

func TestStream_VideoOnly(t *testing.T) {
	tests := []struct {
		name   string
		stream Stream
		want   bool
	}{
		{"adaptive video", Stream{Adaptive: true, MimeType: `video/mp4; codecs="avc1.640028"`}, true},
		{"adaptive webm", Stream{Adaptive: true, MimeType: "video/webm"}, true},
		{"adaptive audio", Stream{Adaptive: true, MimeType: "audio/mp4"}, false},
		{"progressive", Stream{Adaptive: false, MimeType: "video/mp4"}, false},
		{"padded mime", Stream{Adaptive: true, MimeType: "  Video/MP4"}, true},
		{"empty mime", Stream{Adaptive: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stream.VideoOnly(); got != tt.want {
				t.Errorf("VideoOnly() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVideoInfoZeroValues(t *testing.T) {
	info := VideoInfo{}

	if info.Title != "" {
		t.Errorf("Expected empty Title, got '%s'", info.Title)
	}

	if info.ThumbnailURL != "" {
		t.Errorf("Expected empty ThumbnailURL, got '%s'", info.ThumbnailURL)
	}

	if len(info.Streams) != 0 {
		t.Errorf("Expected no streams, got %d", len(info.Streams))
	}
}
