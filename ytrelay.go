// Package ytrelay assembles the relay service: a YouTube video source, the
// stream catalog, the transfer relay, progress tracking and the HTTP server.
//
// Typical use:
//
//	cfg, _ := config.Load(config.New(), "")
//	app, err := ytrelay.New(cfg, nil)
//	if err != nil { ... }
//	err = app.Run(ctx)
package ytrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ytget/ytrelay/catalog"
	"github.com/ytget/ytrelay/client"
	"github.com/ytget/ytrelay/config"
	"github.com/ytget/ytrelay/downloader"
	"github.com/ytget/ytrelay/internal/botguard"
	"github.com/ytget/ytrelay/internal/logger"
	"github.com/ytget/ytrelay/progress"
	"github.com/ytget/ytrelay/relay"
	"github.com/ytget/ytrelay/server"
	"github.com/ytget/ytrelay/types"
	"github.com/ytget/ytrelay/youtube"
	"github.com/ytget/ytrelay/youtube/cipher"
	"github.com/ytget/ytrelay/youtube/innertube"
)

// Version is set at build time.
var Version = "dev"

// App holds the wired components.
type App struct {
	Config    *config.Config
	Source    types.VideoSource
	Tracker   *progress.Tracker
	Publisher *progress.Publisher
	Catalog   *catalog.Catalog
	Relay     *relay.Relay
	Server    *server.Server

	log *logger.ComponentLogger
}

// New wires an App from cfg. A nil source builds the YouTube source
// described by cfg.Source.
func New(cfg *config.Config, source types.VideoSource) (*App, error) {
	if cfg == nil {
		return nil, errors.New("ytrelay: nil config")
	}
	if source == nil {
		yt, err := NewSource(cfg.Source)
		if err != nil {
			return nil, err
		}
		source = yt
	}

	tracker := progress.NewTracker(cfg.Progress.Retention)
	publisher := progress.NewPublisher(tracker, cfg.Progress.Interval, cfg.Progress.WaitTimeout)
	cat := catalog.New(source)
	rel := relay.New(source, tracker, relay.Options{
		Buffered:       cfg.Relay.Buffered,
		CopyBufferSize: cfg.Relay.CopyBufferSize,
	})
	srv := server.New(cat, rel, publisher, server.Options{
		Addr:              cfg.Server.Addr,
		ExposeErrors:      cfg.Server.ExposeErrors,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	})

	return &App{
		Config:    cfg,
		Source:    source,
		Tracker:   tracker,
		Publisher: publisher,
		Catalog:   cat,
		Relay:     rel,
		Server:    srv,
		log:       logger.WithComponent(logger.ComponentApp),
	}, nil
}

// NewSource builds the YouTube video source.
func NewSource(cfg config.SourceConfig) (*youtube.Source, error) {
	httpc, err := client.NewWith(client.Config{
		Timeout:     cfg.Timeout,
		Retries:     cfg.Retries,
		UserAgent:   cfg.UserAgent,
		ProxyURL:    cfg.Proxy,
		Fingerprint: cfg.Fingerprint,
	})
	if err != nil {
		return nil, fmt.Errorf("http client: %w", err)
	}
	engine, err := cipher.NewEngine(cfg.JSEngine)
	if err != nil {
		return nil, err
	}
	attestor, err := newAttestor(cfg.Botguard)
	if err != nil {
		return nil, err
	}

	it := innertube.New(httpc).
		WithClient(cfg.ClientName, cfg.ClientVersion).
		WithAttestor(attestor)
	dec := cipher.New(httpc, engine)
	if cfg.PlayerTTL > 0 {
		dec.WithTTL(cfg.PlayerTTL)
	}
	dl := downloader.New(httpc.MediaClient(), downloader.Options{
		ChunkSize:    cfg.ChunkSize,
		RateLimitBps: cfg.RateLimit,
	})
	return youtube.New(it, dec, dl), nil
}

func newAttestor(cfg config.BotguardConfig) (*botguard.Attestor, error) {
	mode, err := botguard.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if mode == botguard.Off {
		return nil, nil
	}
	var cache botguard.Cache = botguard.NewMemoryCache()
	if cfg.CacheDir != "" {
		cache = botguard.NewFileCache(afero.NewOsFs(), cfg.CacheDir)
	}
	return botguard.NewAttestor(botguard.NewGojaSolver(cfg.Script), mode, cache, cfg.TTL), nil
}

// Run serves HTTP on the configured address until ctx is done, then shuts
// the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener. Cancelling ctx stops accepting new
// requests and waits up to the shutdown timeout for running ones; requests
// still running after that are cancelled.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	hs := a.Server.HTTPServer()
	base, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()
	hs.BaseContext = func(net.Listener) context.Context { return base }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("listening", map[string]interface{}{"addr": ln.Addr().String(), "version": Version})
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
		defer cancel()
		a.log.Info("shutting down")
		err := hs.Shutdown(shutdownCtx)
		if err != nil {
			a.log.Warn("shutdown timed out, cancelling requests", map[string]interface{}{"error": err.Error()})
			cancelBase()
			_ = hs.Close()
		}
		return err
	})
	return g.Wait()
}
