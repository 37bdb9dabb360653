package cipher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ytget/ytrelay/internal/logger"
	"github.com/ytget/ytrelay/types"
)

const (
	userAgentValue   = "Mozilla/5.0"
	decipherFuncName = "decipher"
	ncodeFuncName    = "ncode"

	// DefaultPlayerTTL bounds how long a downloaded player.js is reused.
	DefaultPlayerTTL = 10 * time.Minute
)

var (
	ytBase           = "https://www.youtube.com"
	playerJSURLRegex = regexp.MustCompile(`"(?:jsUrl|PLAYER_JS_URL)":"([^"]+)"`)
)

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type playerEntry struct {
	js    string
	fn    *decipherFunc
	plan  plan
	expAt time.Time
}

// Decipherer turns protected stream descriptors into playable URLs using the
// routines published in the YouTube player script.
type Decipherer struct {
	doer   Doer
	engine Engine
	ttl    time.Duration
	now    func() time.Time
	log    *logger.ComponentLogger

	mu      sync.Mutex
	players map[string]*playerEntry
}

// New returns a Decipherer. A nil engine selects goja with otto as fallback.
func New(doer Doer, engine Engine) *Decipherer {
	if engine == nil {
		engine = Chain{GojaEngine{}, OttoEngine{}}
	}
	return &Decipherer{
		doer:    doer,
		engine:  engine,
		ttl:     DefaultPlayerTTL,
		now:     time.Now,
		log:     logger.WithComponent(logger.ComponentCipher),
		players: make(map[string]*playerEntry),
	}
}

// WithTTL overrides the player.js cache lifetime.
func (d *Decipherer) WithTTL(ttl time.Duration) *Decipherer {
	d.ttl = ttl
	return d
}

func (d *Decipherer) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgentValue)
	resp, err := d.doer.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// PlayerURL finds the player.js URL on the watch page of videoID.
func (d *Decipherer) PlayerURL(ctx context.Context, videoID string) (string, error) {
	body, err := d.get(ctx, ytBase+"/watch?v="+url.QueryEscape(videoID))
	if err != nil {
		return "", newError(ErrCodePlayerJSNotFound, "watch page request failed", err)
	}
	m := playerJSURLRegex.FindSubmatch(body)
	if len(m) < 2 || len(m[1]) == 0 {
		return "", newError(ErrCodePlayerJSNotFound, "could not find player js url in video page", nil)
	}
	u := strings.ReplaceAll(string(m[1]), `\/`, `/`)
	if strings.HasPrefix(u, "/") {
		u = ytBase + u
	}
	return u, nil
}

func (d *Decipherer) player(ctx context.Context, playerURL string) (*playerEntry, error) {
	d.mu.Lock()
	entry, ok := d.players[playerURL]
	d.mu.Unlock()
	if ok && d.now().Before(entry.expAt) {
		return entry, nil
	}

	body, err := d.get(ctx, playerURL)
	if err != nil {
		return nil, newError(ErrCodePlayerJSDownload, "failed to download player.js", err)
	}
	entry = &playerEntry{js: string(body), expAt: d.now().Add(d.ttl)}
	if fn, ok := findDecipher(entry.js); ok {
		entry.fn = fn
		if p, ok := fn.plan(); ok {
			entry.plan = p
		}
	}
	d.log.Debug("player.js loaded", map[string]interface{}{
		"url":   playerURL,
		"bytes": len(body),
		"plan":  len(entry.plan),
	})

	d.mu.Lock()
	d.players[playerURL] = entry
	d.mu.Unlock()
	return entry, nil
}

// Signature deciphers s with the player at playerURL. Recognised routines are
// applied natively; anything else runs on the JS engine.
func (d *Decipherer) Signature(ctx context.Context, playerURL, s string) (string, error) {
	if s == "" {
		return "", newError(ErrCodeSignatureNotFound, "empty signature", nil)
	}
	p, err := d.player(ctx, playerURL)
	if err != nil {
		return "", err
	}
	if len(p.plan) > 0 {
		return p.plan.apply(s), nil
	}

	script := p.js
	if p.fn != nil {
		script = p.fn.script()
	}
	out, err := d.engine.Call(ctx, script, decipherFuncName, s)
	if err != nil {
		if errors.Is(err, ErrNoFunction) {
			return "", newError(ErrCodeSignatureNotFound, "no decipher routine in player.js", nil)
		}
		return "", newError(ErrCodeJSExecutionFailed, "decipher call failed", err)
	}
	if out == "" {
		return "", newError(ErrCodeSignatureInvalid, "decipher returned an empty signature", nil)
	}
	return out, nil
}

// N decodes the throttling parameter. Players without an ncode routine leave
// the value unchanged.
func (d *Decipherer) N(ctx context.Context, playerURL, n string) (string, error) {
	p, err := d.player(ctx, playerURL)
	if err != nil {
		return "", err
	}
	out, err := d.engine.Call(ctx, p.js, ncodeFuncName, n)
	if errors.Is(err, ErrNoFunction) {
		return n, nil
	}
	if err != nil {
		return "", newError(ErrCodeJSExecutionFailed, "ncode call failed", err)
	}
	return out, nil
}

// ResolveURL returns a playable URL for st. Streams with a plain URL and no
// n parameter are returned as is.
func (d *Decipherer) ResolveURL(ctx context.Context, playerURL string, st types.Stream) (string, error) {
	raw := st.URL
	var sig, sp string
	if raw == "" {
		if st.SignatureCipher == "" {
			return "", newError(ErrCodeSignatureNotFound, fmt.Sprintf("stream %d has no url", st.Itag), nil)
		}
		q, err := url.ParseQuery(st.SignatureCipher)
		if err != nil {
			return "", newError(ErrCodeSignatureInvalid, "malformed signatureCipher", err)
		}
		raw, sig, sp = q.Get("url"), q.Get("s"), q.Get("sp")
		if raw == "" || sig == "" {
			return "", newError(ErrCodeSignatureNotFound, fmt.Sprintf("missing signature or url for stream %d", st.Itag), nil)
		}
		if sp == "" {
			sp = "signature"
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", newError(ErrCodeSignatureInvalid, "malformed stream url", err)
	}
	query := u.Query()
	if sig == "" && query.Get("n") == "" {
		return raw, nil
	}

	if sig != "" {
		out, err := d.Signature(ctx, playerURL, sig)
		if err != nil {
			return "", err
		}
		query.Set(sp, out)
	}
	if nval := query.Get("n"); nval != "" {
		if out, err := d.N(ctx, playerURL, nval); err == nil && out != "" {
			query.Set("n", out)
		} else if err != nil {
			d.log.Warn("n parameter left encoded", map[string]interface{}{"itag": st.Itag, "error": err.Error()})
		}
	}
	if query.Get("ratebypass") == "" {
		query.Set("ratebypass", "yes")
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}
