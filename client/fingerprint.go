package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

const dialTimeout = 30 * time.Second

// fingerprintTransport sends requests over TLS connections that present a
// Chrome ClientHello. HTTP/2 is tried first; on failure the request is
// retried once over an HTTP/1.1-only connection. With a proxy configured
// only the HTTP/1.1 transport is used.
type fingerprintTransport struct {
	h2      *http2.Transport
	h1      *http.Transport
	proxied bool
}

func newFingerprintTransport(proxy func(*http.Request) (*url.URL, error)) *fingerprintTransport {
	h1 := defaultTransport.Clone()
	h1.ForceAttemptHTTP2 = false
	h1.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialUTLS(ctx, network, addr, []string{"http/1.1"})
	}
	if proxy != nil {
		h1.Proxy = proxy
	}

	return &fingerprintTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialUTLS(ctx, network, addr, []string{"h2", "http/1.1"})
			},
		},
		h1:      h1,
		proxied: proxy != nil,
	}
}

func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" || t.proxied {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	if req.Context().Err() != nil {
		return nil, err
	}

	retry := req.Clone(req.Context())
	if req.Body != nil {
		if req.GetBody == nil {
			return nil, err
		}
		body, berr := req.GetBody()
		if berr != nil {
			return nil, berr
		}
		retry.Body = body
	}
	return t.h1.RoundTrip(retry)
}

// dialUTLS opens a TLS connection mimicking Chrome's fingerprint and
// advertising protos via ALPN.
func dialUTLS(ctx context.Context, network, addr string, protos []string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	spec, err := utls.UTLSIdToSpec(utls.HelloChrome_120)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("client hello spec: %w", err)
	}
	// The preset advertises h2; the HTTP/1.1 transport must not negotiate it.
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = protos
		}
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}, utls.HelloCustom)
	if err := tlsConn.ApplyPreset(&spec); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply client hello: %w", err)
	}

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}
