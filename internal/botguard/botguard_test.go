package botguard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", Off, false},
		{"off", Off, false},
		{"Auto", Auto, false},
		{" force ", Force, false},
		{"always", Off, true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseMode(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseMode(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if !tt.wantErr && tt.in != "" {
			if got.String() != strings.ToLower(strings.TrimSpace(tt.in)) {
				t.Fatalf("String() = %q", got.String())
			}
		}
	}
}

type stubSolver struct {
	calls int
	token string
	err   error
}

func (s *stubSolver) Attest(ctx context.Context, in Input) (Output, error) {
	s.calls++
	return Output{Token: s.token}, s.err
}

// forbidUntilToken answers 403 until the token header is present.
func forbidUntilToken(seen *[]string) func(*http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		tok := req.Header.Get(HeaderToken)
		*seen = append(*seen, tok)
		status := http.StatusOK
		if tok == "" {
			status = http.StatusForbidden
		}
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader("")), Header: make(http.Header)}, nil
	}
}

func newPost(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://example.invalid/player", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	return req
}

func TestAttestorNilSendsUntouched(t *testing.T) {
	var a *Attestor
	var seen []string
	resp, err := a.Do(forbidUntilToken(&seen), newPost(t), Input{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusForbidden || len(seen) != 1 {
		t.Fatalf("status=%d calls=%d", resp.StatusCode, len(seen))
	}
}

func TestAttestorAutoRetriesOnce(t *testing.T) {
	solver := &stubSolver{token: "tok"}
	a := NewAttestor(solver, Auto, NewMemoryCache(), time.Minute)
	var seen []string
	resp, err := a.Do(forbidUntilToken(&seen), newPost(t), Input{ClientName: "ANDROID"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(seen) != 2 || seen[0] != "" || seen[1] != "tok" {
		t.Fatalf("unexpected attempts: %q", seen)
	}

	// second request is served from the cache
	seen = nil
	if _, err := a.Do(forbidUntilToken(&seen), newPost(t), Input{ClientName: "ANDROID"}); err != nil {
		t.Fatal(err)
	}
	if solver.calls != 1 {
		t.Fatalf("solver calls = %d, want 1", solver.calls)
	}
}

func TestAttestorForceAppliesFirst(t *testing.T) {
	a := NewAttestor(&stubSolver{token: "tok"}, Force, nil, 0)
	var seen []string
	if _, err := a.Do(forbidUntilToken(&seen), newPost(t), Input{}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != "tok" {
		t.Fatalf("unexpected attempts: %q", seen)
	}
}

func TestAttestorSolverFailureKeeps403(t *testing.T) {
	a := NewAttestor(&stubSolver{err: errors.New("boom")}, Auto, nil, 0)
	var seen []string
	resp, err := a.Do(forbidUntilToken(&seen), newPost(t), Input{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusForbidden || len(seen) != 1 {
		t.Fatalf("status=%d calls=%d", resp.StatusCode, len(seen))
	}
}

func TestAttestorTTLFillsExpiry(t *testing.T) {
	cache := NewMemoryCache()
	a := NewAttestor(&stubSolver{token: "tok"}, Auto, cache, time.Hour)
	req := newPost(t)
	in := Input{UserAgent: "ua"}
	if err := a.Apply(req, in); err != nil {
		t.Fatal(err)
	}
	out, ok := cache.Get(KeyFromInput(in))
	if !ok || out.ExpiresAt.IsZero() {
		t.Fatalf("expected cached token with expiry, got %+v", out)
	}
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bg.js")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGojaSolverString(t *testing.T) {
	s := NewGojaSolver(writeScript(t, `function bgAttest(input) { return "tok-" + input.clientName; }`))
	out, err := s.Attest(context.Background(), Input{ClientName: "WEB"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Token != "tok-WEB" {
		t.Fatalf("token = %q", out.Token)
	}
}

func TestGojaSolverObject(t *testing.T) {
	s := NewGojaSolver(writeScript(t, `function bgAttest(input) { return { token: "abc", ttlSeconds: 60 }; }`))
	out, err := s.Attest(context.Background(), Input{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Token != "abc" || out.ExpiresAt.IsZero() {
		t.Fatalf("unexpected output %+v", out)
	}
}

func TestGojaSolverErrors(t *testing.T) {
	tests := map[string]string{
		"missing function": `var x = 1;`,
		"null result":      `function bgAttest() { return null; }`,
		"empty token":      `function bgAttest() { return {}; }`,
		"throws":           `function bgAttest() { throw new Error("nope"); }`,
	}
	for name, script := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := NewGojaSolver(writeScript(t, script)).Attest(context.Background(), Input{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := NewGojaSolver("").Attest(context.Background(), Input{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestGojaSolverInterrupted(t *testing.T) {
	s := NewGojaSolver(writeScript(t, `function bgAttest() { for (;;) {} }`))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Attest(ctx, Input{}); err == nil {
		t.Fatal("expected interrupt error")
	}
}
