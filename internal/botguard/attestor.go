package botguard

import (
	"net/http"
	"time"

	"github.com/ytget/ytrelay/internal/logger"
)

// HeaderToken is the request header carrying the attestation token.
const HeaderToken = "x-goog-ext-123-botguard"

// Attestor applies Botguard tokens to outgoing requests according to its
// mode. A nil *Attestor sends requests untouched.
type Attestor struct {
	solver Solver
	mode   Mode
	cache  Cache
	ttl    time.Duration
	now    func() time.Time
	log    *logger.ComponentLogger
}

// NewAttestor returns an Attestor. cache may be nil. ttl applies when the
// solver does not set an expiry.
func NewAttestor(solver Solver, mode Mode, cache Cache, ttl time.Duration) *Attestor {
	return &Attestor{
		solver: solver,
		mode:   mode,
		cache:  cache,
		ttl:    ttl,
		now:    time.Now,
		log:    logger.WithComponent(logger.ComponentBotGuard),
	}
}

// Mode returns the configured mode; Off for a nil Attestor.
func (a *Attestor) Mode() Mode {
	if a == nil || a.solver == nil {
		return Off
	}
	return a.mode
}

// Do sends req with doer. In Force mode a token is applied first; in Auto and
// Force modes a 403 triggers one attestation and a retry. The retry needs
// req.GetBody when req has a body.
func (a *Attestor) Do(doer func(*http.Request) (*http.Response, error), req *http.Request, in Input) (*http.Response, error) {
	mode := a.Mode()
	if mode == Off {
		return doer(req)
	}

	if mode == Force {
		a.log.Debug("force mode preflight attestation")
		if err := a.Apply(req, in); err != nil {
			a.log.Warn("preflight attestation failed", map[string]interface{}{"error": err.Error()})
		}
	}

	resp, err := doer(req)
	if err != nil || resp.StatusCode != http.StatusForbidden {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	a.log.Debug("403 detected, attempting attestation and retry")
	if aerr := a.Apply(req, in); aerr != nil {
		a.log.Warn("attestation failed", map[string]interface{}{"error": aerr.Error()})
		return resp, nil
	}
	_ = resp.Body.Close()

	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return nil, berr
		}
		req.Body = body
	}
	return doer(req)
}

// Apply sets the token header on req, consulting the cache first.
func (a *Attestor) Apply(req *http.Request, in Input) error {
	key := KeyFromInput(in)
	if a.cache != nil {
		if out, ok := a.cache.Get(key); ok && !out.Expired(a.now()) {
			a.log.Debug("cache hit: applying cached token")
			setToken(req, out)
			return nil
		}
	}

	out, err := a.solver.Attest(req.Context(), in)
	if err != nil {
		return err
	}
	if out.ExpiresAt.IsZero() && a.ttl > 0 {
		out.ExpiresAt = a.now().Add(a.ttl)
	}
	setToken(req, out)
	if a.cache != nil {
		a.cache.Set(key, out)
	}
	return nil
}

func setToken(req *http.Request, out Output) {
	if out.Token != "" {
		req.Header.Set(HeaderToken, out.Token)
	}
}
