package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ytget/ytrelay/downloader"
	"github.com/ytget/ytrelay/errs"
	"github.com/ytget/ytrelay/types"
	"github.com/ytget/ytrelay/youtube/innertube"
)

func TestVideoID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42s", "dQw4w9WgXcQ", false},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ", false},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://www.youtube.com/live/dQw4w9WgXcQ?feature=share", "dQw4w9WgXcQ", false},
		{"www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", false},
		{"https://vimeo.com/12345", "", true},
		{"https://www.youtube.com/watch?v=short", "", true},
		{"https://www.youtube.com/channel/UC123", "", true},
		{"not a url", "", true},
	}
	for _, tt := range tests {
		got, err := VideoID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("VideoID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr && !errors.Is(err, ErrInvalidURL) {
			t.Errorf("VideoID(%q) err = %v, want ErrInvalidURL", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("VideoID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type fakePlayer struct {
	resp *innertube.PlayerResponse
	err  error
	ids  []string
}

func (f *fakePlayer) GetPlayerResponse(ctx context.Context, videoID string) (*innertube.PlayerResponse, error) {
	f.ids = append(f.ids, videoID)
	return f.resp, f.err
}

type fakeResolver struct {
	mediaURL string
	err      error
	resolved []int
}

func (f *fakeResolver) PlayerURL(ctx context.Context, videoID string) (string, error) {
	return "https://www.youtube.com/s/player/x/base.js", f.err
}

func (f *fakeResolver) ResolveURL(ctx context.Context, playerURL string, st types.Stream) (string, error) {
	f.resolved = append(f.resolved, st.Itag)
	return f.mediaURL, f.err
}

func playerResponse(t *testing.T, raw string) *innertube.PlayerResponse {
	t.Helper()
	var pr innertube.PlayerResponse
	if err := json.Unmarshal([]byte(raw), &pr); err != nil {
		t.Fatal(err)
	}
	return &pr
}

const okResponse = `{
  "playabilityStatus": {"status": "OK"},
  "videoDetails": {"videoId": "dQw4w9WgXcQ", "title": "A title"},
  "streamingData": {"adaptiveFormats": [
    {"itag": 136, "url": "https://rr.example/136", "mimeType": "video/mp4", "qualityLabel": "720p", "contentLength": "10"},
    {"itag": 137, "signatureCipher": "s=x&url=https%3A%2F%2Frr.example%2F137", "mimeType": "video/mp4", "qualityLabel": "1080p"}
  ]}
}`

func TestResolve(t *testing.T) {
	player := &fakePlayer{resp: playerResponse(t, okResponse)}
	src := New(player, &fakeResolver{}, downloader.New(nil, downloader.Options{}))

	info, err := src.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatal(err)
	}
	if info.Title != "A title" || len(info.Streams) != 2 {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(player.ids) != 1 || player.ids[0] != "dQw4w9WgXcQ" {
		t.Fatalf("player called with %v", player.ids)
	}
}

func TestResolveErrors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		url  string
		fp   *fakePlayer
		want error
	}{
		{"invalid url", "https://example.com", &fakePlayer{}, ErrInvalidURL},
		{"player error", "dQw4w9WgXcQ", &fakePlayer{err: boom}, boom},
		{"private", "dQw4w9WgXcQ", &fakePlayer{resp: playerResponse(t, `{"playabilityStatus":{"status":"LOGIN_REQUIRED","reason":"This video is private"}}`)}, errs.ErrPrivate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fp, &fakeResolver{}, nil).Resolve(context.Background(), tt.url)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}

	_, err := New(&fakePlayer{resp: playerResponse(t, `{"playabilityStatus":{"status":"OK"}}`)}, &fakeResolver{}, nil).
		Resolve(context.Background(), "dQw4w9WgXcQ")
	if err == nil {
		t.Fatal("expected error for a response without streams")
	}
}

func mediaServer(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "v.mp4", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenPlainURL(t *testing.T) {
	data := []byte("0123456789")
	srv := mediaServer(t, data)
	res := &fakeResolver{}
	src := New(&fakePlayer{}, res, downloader.New(srv.Client(), downloader.Options{ChunkSize: 4}))

	info := &types.VideoInfo{ID: "dQw4w9WgXcQ"}
	rc, size, err := src.Open(context.Background(), info, types.Stream{Itag: 136, URL: srv.URL + "/136", Size: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if size != 10 || !bytes.Equal(got, data) {
		t.Fatalf("size=%d body=%q", size, got)
	}
	if len(res.resolved) != 0 {
		t.Fatal("plain url must not be resolved")
	}
}

func TestOpenCipheredStream(t *testing.T) {
	data := []byte("ciphered-body")
	srv := mediaServer(t, data)
	res := &fakeResolver{mediaURL: srv.URL + "/137?sig=ok"}
	src := New(&fakePlayer{}, res, downloader.New(srv.Client(), downloader.Options{}))

	rc, size, err := src.Open(context.Background(), &types.VideoInfo{ID: "dQw4w9WgXcQ"}, types.Stream{Itag: 137, SignatureCipher: "s=x"})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if size != int64(len(data)) || !bytes.Equal(got, data) {
		t.Fatalf("size=%d body=%q", size, got)
	}
	if len(res.resolved) != 1 || res.resolved[0] != 137 {
		t.Fatalf("resolved = %v", res.resolved)
	}
}

func TestOpenResolveFailure(t *testing.T) {
	boom := errors.New("cipher broke")
	src := New(&fakePlayer{}, &fakeResolver{err: boom}, downloader.New(nil, downloader.Options{}))
	_, _, err := src.Open(context.Background(), &types.VideoInfo{ID: "x"}, types.Stream{URL: "https://rr.example/v?n=abc"})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}
