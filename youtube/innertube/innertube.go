// Package innertube talks to the YouTube Innertube player endpoint.
package innertube

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/ytget/ytrelay/errs"
	"github.com/ytget/ytrelay/internal/botguard"
	"github.com/ytget/ytrelay/internal/logger"
)

var (
	ytBase    = "https://www.youtube.com"
	playerURL = "https://www.youtube.com/youtubei/v1/player"
)

const (
	// DefaultClientName and DefaultClientVersion identify the Innertube client
	// emulated by default. The Android client returns unciphered URLs for most videos.
	DefaultClientName    = "ANDROID"
	DefaultClientVersion = "20.10.38"

	userAgentValue        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36"
	headerContentTypeJSON = "application/json"
	headerVisitorID       = "x-goog-visitor-id"
	visitorIDMaxAge       = 10 * time.Hour
	maxResponseBytes      = 16 << 20
)

var (
	apiKeyRe    = regexp.MustCompile(`"INNERTUBE_API_KEY":"([^"]+)"`)
	visitorRe   = regexp.MustCompile(`"VISITOR_DATA":"([^"]+)"`)
	visitorSep  = "\nytcfg.set("
	clientCodes = map[string]string{
		"WEB":                            "1",
		"MWEB":                           "2",
		"ANDROID":                        "3",
		"IOS":                            "5",
		"TVHTML5":                        "7",
		"WEB_EMBEDDED_PLAYER":            "56",
		"WEB_CREATOR":                    "62",
		"WEB_REMIX":                      "67",
		"TVHTML5_SIMPLY":                 "75",
		"TVHTML5_SIMPLY_EMBEDDED_PLAYER": "85",
	}
)

// clientCodeFromName returns X-YouTube-Client-Name numeric code for known clients
func clientCodeFromName(name string) string {
	return clientCodes[strings.ToUpper(name)]
}

// Doer sends HTTP requests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client for interacting with the YouTube InnerTube API. It is safe for
// concurrent use.
type Client struct {
	doer       Doer
	clientName string
	clientVer  string
	attestor   *botguard.Attestor
	log        *logger.ComponentLogger

	mu        sync.Mutex
	apiKey    string
	keyProbed bool
	visitor   struct {
		value   string
		updated time.Time
	}
}

// New creates an Innertube client emulating the default Android client.
func New(doer Doer) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		doer:       doer,
		clientName: DefaultClientName,
		clientVer:  DefaultClientVersion,
		log:        logger.WithComponent(logger.ComponentInnerTube),
	}
}

// WithClient overrides InnerTube client name/version to shape playback URLs.
func (c *Client) WithClient(name, version string) *Client {
	if strings.TrimSpace(name) != "" {
		c.clientName = strings.ToUpper(strings.TrimSpace(name))
	}
	if strings.TrimSpace(version) != "" {
		c.clientVer = strings.TrimSpace(version)
	}
	return c
}

// WithAttestor enables Botguard attestation on player requests.
func (c *Client) WithAttestor(a *botguard.Attestor) *Client {
	c.attestor = a
	return c
}

// ClientName returns the emulated client name.
func (c *Client) ClientName() string { return c.clientName }

func (c *Client) userAgent() string {
	if strings.EqualFold(c.clientName, "ANDROID") {
		return "com.google.android.youtube/" + c.clientVer + " (Linux; U; Android 11) gzip"
	}
	return userAgentValue
}

func (c *Client) clientContext() map[string]any {
	m := map[string]any{
		"clientName":    c.clientName,
		"clientVersion": c.clientVer,
		"hl":            "en",
		"gl":            "US",
	}
	if strings.EqualFold(c.clientName, "ANDROID") {
		m["androidSdkVersion"] = 30
		m["osName"] = "Android"
		m["osVersion"] = "11"
		m["userAgent"] = c.userAgent()
	}
	return m
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgentValue)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, br")
}

// homePage fetches the YouTube landing page once and extracts the API key and
// visitor id from its ytcfg block. Failures are logged and ignored.
func (c *Client) homePage(ctx context.Context) {
	c.mu.Lock()
	fresh := c.visitor.value != "" && time.Since(c.visitor.updated) < visitorIDMaxAge
	probed := c.keyProbed
	c.mu.Unlock()
	if fresh && probed {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ytBase+"/", nil)
	if err != nil {
		return
	}
	setBrowserHeaders(req)
	resp, err := c.doer.Do(req)
	if err != nil {
		c.log.Debug("home page request failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := readBody(resp)
	if err != nil {
		return
	}

	key, visitor := parseConfig(body)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.keyProbed = true
	if key != "" {
		c.apiKey = key
	}
	if visitor != "" {
		c.visitor.value = visitor
		c.visitor.updated = time.Now()
	}
}

// parseConfig extracts INNERTUBE_API_KEY and the visitor data from a page.
func parseConfig(body []byte) (apiKey, visitor string) {
	if m := apiKeyRe.FindSubmatch(body); len(m) == 2 {
		apiKey = string(m[1])
	}

	if _, rest, found := strings.Cut(string(body), visitorSep); found {
		var value struct {
			InnertubeContext struct {
				Client struct {
					VisitorData string `json:"visitorData"`
				} `json:"client"`
			} `json:"INNERTUBE_CONTEXT"`
		}
		if err := json.NewDecoder(strings.NewReader(rest)).Decode(&value); err == nil {
			visitor = value.InnertubeContext.Client.VisitorData
		}
	}
	if visitor == "" {
		if m := visitorRe.FindSubmatch(body); len(m) == 2 {
			visitor = string(m[1])
		}
	}
	if v, err := url.QueryUnescape(visitor); err == nil {
		visitor = v
	}
	return apiKey, visitor
}

// GetPlayerResponse fetches video data for the provided video ID using the
// InnerTube /player endpoint.
func (c *Client) GetPlayerResponse(ctx context.Context, videoID string) (*PlayerResponse, error) {
	c.homePage(ctx)

	payload, err := json.Marshal(map[string]any{
		"context":        map[string]any{"client": c.clientContext()},
		"videoId":        videoID,
		"contentCheckOk": true,
		"racyCheckOk":    true,
	})
	if err != nil {
		return nil, err
	}

	endpoint := playerURL + "?prettyPrint=false"
	c.mu.Lock()
	if c.apiKey != "" {
		endpoint += "&key=" + url.QueryEscape(c.apiKey)
	}
	visitor := c.visitor.value
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", headerContentTypeJSON)
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "gzip, br")
	req.Header.Set("Referer", ytBase+"/")
	req.Header.Set("Origin", ytBase)
	if code := clientCodeFromName(c.clientName); code != "" {
		req.Header.Set("X-YouTube-Client-Name", code)
	}
	req.Header.Set("X-YouTube-Client-Version", c.clientVer)
	if visitor != "" {
		req.Header.Set(headerVisitorID, visitor)
	}

	in := botguard.Input{
		UserAgent:     c.userAgent(),
		PageURL:       ytBase + "/watch?v=" + videoID,
		ClientName:    c.clientName,
		ClientVersion: c.clientVer,
		VisitorID:     visitor,
	}
	start := time.Now()
	resp, err := c.attestor.Do(c.doer.Do, req, in)
	if err != nil {
		return nil, fmt.Errorf("innertube: player request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("player response", map[string]interface{}{
		"video_id": videoID,
		"status":   resp.StatusCode,
		"encoding": resp.Header.Get("Content-Encoding"),
		"duration": time.Since(start).String(),
	})

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("innertube: %w", errs.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("innertube: unexpected status %d", resp.StatusCode)
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("innertube: read response: %w", err)
	}
	var pr PlayerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("innertube: parse response: %w", err)
	}
	return &pr, nil
}

// readBody reads a response body, undoing gzip or brotli content encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(io.LimitReader(reader, maxResponseBytes))
}
