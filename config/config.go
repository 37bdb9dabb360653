// Package config loads ytrelay settings from defaults, an optional config
// file, YTRELAY_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ytget/ytrelay/internal/botguard"
	"github.com/ytget/ytrelay/internal/logger"
	"github.com/ytget/ytrelay/youtube/cipher"
)

// EnvPrefix prefixes every environment variable, e.g. YTRELAY_SERVER_ADDR.
const EnvPrefix = "YTRELAY"

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Source   SourceConfig     `mapstructure:"source"`
	Relay    RelayConfig      `mapstructure:"relay"`
	Progress ProgressConfig   `mapstructure:"progress"`
	Log      logger.LogConfig `mapstructure:"log"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ExposeErrors      bool          `mapstructure:"expose_errors"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type SourceConfig struct {
	Timeout       time.Duration  `mapstructure:"timeout"`
	Retries       int            `mapstructure:"retries"`
	UserAgent     string         `mapstructure:"user_agent"`
	Proxy         string         `mapstructure:"proxy"`
	Fingerprint   bool           `mapstructure:"fingerprint"`
	ClientName    string         `mapstructure:"client_name"`
	ClientVersion string         `mapstructure:"client_version"`
	JSEngine      string         `mapstructure:"js_engine"`
	PlayerTTL     time.Duration  `mapstructure:"player_ttl"`
	ChunkSize     int64          `mapstructure:"chunk_size"`
	RateLimit     int64          `mapstructure:"rate_limit"`
	Botguard      BotguardConfig `mapstructure:"botguard"`
}

// BotguardConfig configures attestation. CacheDir selects the file cache;
// empty keeps tokens in memory.
type BotguardConfig struct {
	Mode     string        `mapstructure:"mode"`
	Script   string        `mapstructure:"script"`
	TTL      time.Duration `mapstructure:"ttl"`
	CacheDir string        `mapstructure:"cache_dir"`
}

type RelayConfig struct {
	Buffered       bool `mapstructure:"buffered"`
	CopyBufferSize int  `mapstructure:"copy_buffer_size"`
}

type ProgressConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	Retention   time.Duration `mapstructure:"retention"`
}

// SetDefaults registers a default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.expose_errors", true)
	v.SetDefault("server.read_header_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("source.timeout", 30*time.Second)
	v.SetDefault("source.retries", 3)
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.proxy", "")
	v.SetDefault("source.fingerprint", false)
	v.SetDefault("source.client_name", "ANDROID")
	v.SetDefault("source.client_version", "20.10.38")
	v.SetDefault("source.js_engine", cipher.EngineGoja)
	v.SetDefault("source.player_ttl", cipher.DefaultPlayerTTL)
	v.SetDefault("source.chunk_size", 1<<20)
	v.SetDefault("source.rate_limit", 0)
	v.SetDefault("source.botguard.mode", "off")
	v.SetDefault("source.botguard.script", "")
	v.SetDefault("source.botguard.ttl", 30*time.Minute)
	v.SetDefault("source.botguard.cache_dir", "")

	v.SetDefault("relay.buffered", false)
	v.SetDefault("relay.copy_buffer_size", 32*1024)

	v.SetDefault("progress.interval", 500*time.Millisecond)
	v.SetDefault("progress.wait_timeout", 30*time.Second)
	v.SetDefault("progress.retention", 5*time.Minute)

	d := logger.DefaultLogConfig()
	v.SetDefault("log.level", d.Level)
	v.SetDefault("log.format", d.Format)
	v.SetDefault("log.output", d.Output)
	v.SetDefault("log.components", d.Components)
	v.SetDefault("log.show_caller", d.ShowCaller)
	v.SetDefault("log.timestamp", d.Timestamp)
}

// New returns a viper instance with defaults and environment lookup.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"addr":              "server.addr",
	"expose-errors":     "server.expose_errors",
	"buffered":          "relay.buffered",
	"progress-interval": "progress.interval",
	"js-engine":         "source.js_engine",
	"proxy":             "source.proxy",
	"fingerprint":       "source.fingerprint",
	"botguard":          "source.botguard.mode",
	"botguard-script":   "source.botguard.script",
	"log-level":         "log.level",
	"log-format":        "log.format",
}

// BindFlags binds every known flag present in fs. Unknown flags are ignored.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the config file at path, or ytrelay.{yaml,json,toml} from the
// working directory when path is empty, and decodes the result. A missing
// default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ytrelay")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		problems = append(problems, errors.New("server.addr is empty"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		problems = append(problems, errors.New("server.shutdown_timeout must be positive"))
	}
	if c.Source.Timeout <= 0 {
		problems = append(problems, errors.New("source.timeout must be positive"))
	}
	if c.Source.Retries < 0 {
		problems = append(problems, errors.New("source.retries must not be negative"))
	}
	if c.Source.ChunkSize <= 0 {
		problems = append(problems, errors.New("source.chunk_size must be positive"))
	}
	if c.Source.RateLimit < 0 {
		problems = append(problems, errors.New("source.rate_limit must not be negative"))
	}
	if _, err := cipher.NewEngine(c.Source.JSEngine); err != nil {
		problems = append(problems, fmt.Errorf("source.js_engine: %w", err))
	}
	mode, err := botguard.ParseMode(c.Source.Botguard.Mode)
	if err != nil {
		problems = append(problems, fmt.Errorf("source.botguard.mode: %w", err))
	} else if mode != botguard.Off && c.Source.Botguard.Script == "" {
		problems = append(problems, errors.New("source.botguard.script is required when botguard is enabled"))
	}
	if c.Relay.CopyBufferSize <= 0 {
		problems = append(problems, errors.New("relay.copy_buffer_size must be positive"))
	}
	if c.Progress.Interval <= 0 {
		problems = append(problems, errors.New("progress.interval must be positive"))
	}
	if c.Progress.WaitTimeout <= 0 {
		problems = append(problems, errors.New("progress.wait_timeout must be positive"))
	}
	if c.Progress.Retention <= 0 {
		problems = append(problems, errors.New("progress.retention must be positive"))
	}
	if err := c.Log.ValidateConfig(); err != nil {
		problems = append(problems, fmt.Errorf("log: %w", err))
	}
	return errors.Join(problems...)
}
