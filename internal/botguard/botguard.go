// Package botguard provides optional attestation for Innertube requests that
// are rejected with 403.
package botguard

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Mode defines how Botguard solving is used.
type Mode int

const (
	// Off disables Botguard usage entirely.
	Off Mode = iota
	// Auto attests after a 403 and retries the request once.
	Auto
	// Force attests before every request.
	Force
)

// String returns the configuration name of m.
func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Force:
		return "force"
	default:
		return "off"
	}
}

// ParseMode parses "off", "auto" or "force".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return Off, nil
	case "auto":
		return Auto, nil
	case "force":
		return Force, nil
	default:
		return Off, fmt.Errorf("unknown botguard mode: %s", s)
	}
}

// Input carries the parameters required to perform Botguard attestation.
type Input struct {
	UserAgent     string `json:"userAgent"`
	PageURL       string `json:"pageUrl"`
	ClientName    string `json:"clientName"`
	ClientVersion string `json:"clientVersion"`
	VisitorID     string `json:"visitorId"`
}

// Output contains attestation result to be applied to Innertube requests.
type Output struct {
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether o carries an expiry that has passed.
func (o Output) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !now.Before(o.ExpiresAt)
}

// Solver is an interface for Botguard attestation providers.
type Solver interface {
	Attest(ctx context.Context, input Input) (Output, error)
}

// Cache stores Botguard outputs keyed by input characteristics.
type Cache interface {
	Get(key string) (Output, bool)
	Set(key string, value Output)
}

// KeyFromInput derives a cache key from Input fields that influence the attestation result.
func KeyFromInput(in Input) string {
	return in.UserAgent + "|" + in.ClientName + "|" + in.ClientVersion + "|" + in.VisitorID
}
