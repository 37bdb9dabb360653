package sanitize

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"My Video", "My%20Video"},
		{`a/b:c"d`, "a%2Fb%3Ac%22d"},
		{"keep_-.~", "keep_-.~"},
		{"100%", "100%25"},
		{"Ünïcode", "%C3%9Cn%C3%AFcode"},
	}

	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAttachmentFilename(t *testing.T) {
	if got := AttachmentFilename("Hello World", "mp4"); got != "Hello%20World.mp4" {
		t.Fatalf("got %q", got)
	}
	if got := AttachmentFilename("  ", ""); got != "video.mp4" {
		t.Fatalf("got %q", got)
	}
	if got := AttachmentFilename("clip", ".WEBM"); got != "clip.webm" {
		t.Fatalf("got %q", got)
	}
}

func TestContentDisposition(t *testing.T) {
	got := ContentDisposition(`Say "hi"`, "mp4")
	want := `attachment; filename="Say%20%22hi%22.mp4"`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
