package botguard

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/metafates/gache"
	"github.com/samber/mo"
	"github.com/spf13/afero"

	"github.com/ytget/ytrelay/internal/logger"
)

const (
	fileCacheName     = "botguard.json"
	fileCacheLifetime = 24 * time.Hour
)

// gacheFs adapts an afero filesystem to gache.FileSystem.
type gacheFs struct {
	fs afero.Fs
}

func (g gacheFs) OpenFile(name string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	return g.fs.OpenFile(name, flag, perm)
}

func (g gacheFs) MkdirAll(path string, perm os.FileMode) error {
	return g.fs.MkdirAll(path, perm)
}

type fileCacheData struct {
	Tokens map[string]Output `json:"tokens"`
}

// FileCache persists Botguard outputs in a single JSON file so tokens survive
// restarts. Expired entries read as misses.
type FileCache struct {
	internal *gache.Cache[*fileCacheData]
	mu       sync.Mutex
	nowFunc  func() time.Time
	log      *logger.ComponentLogger
}

// NewFileCache creates a cache stored under dir on fs.
func NewFileCache(fs afero.Fs, dir string) *FileCache {
	return &FileCache{
		internal: gache.New[*fileCacheData](&gache.Options{
			Path:       filepath.Join(dir, fileCacheName),
			Lifetime:   fileCacheLifetime,
			FileSystem: gacheFs{fs: fs},
		}),
		nowFunc: time.Now,
		log:     logger.WithComponent(logger.ComponentBotGuard),
	}
}

func (c *FileCache) Get(key string) (Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key).Get()
}

func (c *FileCache) lookup(key string) mo.Option[Output] {
	data, expired, err := c.internal.Get()
	if err != nil || expired || data == nil {
		return mo.None[Output]()
	}
	out, ok := data.Tokens[key]
	if !ok || out.Expired(c.nowFunc()) {
		return mo.None[Output]()
	}
	return mo.Some(out)
}

// Set stores a value, dropping expired entries on the way.
func (c *FileCache) Set(key string, value Output) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, expired, err := c.internal.Get()
	if err != nil || expired || data == nil || data.Tokens == nil {
		data = &fileCacheData{Tokens: make(map[string]Output)}
	}
	now := c.nowFunc()
	for k, v := range data.Tokens {
		if v.Expired(now) {
			delete(data.Tokens, k)
		}
	}
	data.Tokens[key] = value
	if err := c.internal.Set(data); err != nil {
		c.log.Warn("persist token cache", map[string]interface{}{"error": err.Error()})
	}
}
