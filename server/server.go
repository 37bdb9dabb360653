// Package server exposes the catalog, relay and progress publisher over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/ytget/ytrelay/catalog"
	"github.com/ytget/ytrelay/internal/logger"
	"github.com/ytget/ytrelay/progress"
	"github.com/ytget/ytrelay/relay"
)

const (
	defaultAddr              = ":8000"
	defaultReadHeaderTimeout = 10 * time.Second
	maxRequestBodyBytes      = 1 << 20
)

// Options configures the HTTP surface.
type Options struct {
	Addr string
	// ExposeErrors returns raw upstream messages to clients. When false they
	// are only logged and clients get a generic detail.
	ExposeErrors      bool
	ReadHeaderTimeout time.Duration
}

// Server routes requests to the relay components.
type Server struct {
	catalog   *catalog.Catalog
	relay     *relay.Relay
	publisher *progress.Publisher
	opts      Options
	log       *logger.ComponentLogger

	// streams ends open /progress subscriptions on shutdown.
	streams      context.Context
	closeStreams context.CancelFunc
}

// New returns a Server.
func New(cat *catalog.Catalog, rel *relay.Relay, pub *progress.Publisher, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = defaultAddr
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	streams, closeStreams := context.WithCancel(context.Background())
	return &Server{
		catalog:      cat,
		relay:        rel,
		publisher:    pub,
		opts:         opts,
		log:          logger.WithComponent(logger.ComponentServer),
		streams:      streams,
		closeStreams: closeStreams,
	}
}

// Handler returns the routed handler wrapped with CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", s.handleProcess)
	mux.HandleFunc("POST /download", s.handleDownload)
	mux.HandleFunc("GET /progress", s.handleProgress)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	c := cors.New(cors.Options{
		AllowOriginFunc: func(string) bool { return true },
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
			http.MethodDelete, http.MethodHead, http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Length", relay.HeaderTransferID},
		AllowCredentials: true,
		Debug:            logger.GetGlobalLogger().Enabled(logger.TRACE, logger.ComponentServer),
		Logger:           corsLogger{s.log},
	})

	return s.logRequests(c.Handler(mux))
}

// HTTPServer returns an *http.Server bound to the configured address.
// Shutting it down ends open progress streams; downloads are left to finish.
func (s *Server) HTTPServer() *http.Server {
	hs := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.opts.ReadHeaderTimeout,
	}
	hs.RegisterOnShutdown(s.CloseStreams)
	return hs
}

// CloseStreams ends every open and future progress subscription.
func (s *Server) CloseStreams() {
	s.closeStreams()
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

type corsLogger struct {
	log *logger.ComponentLogger
}

func (l corsLogger) Printf(format string, v ...interface{}) {
	l.log.Trace(fmt.Sprintf(format, v...))
}
