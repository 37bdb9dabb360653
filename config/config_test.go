package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8000" || !cfg.Server.ExposeErrors {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Relay.Buffered || cfg.Relay.CopyBufferSize != 32*1024 {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if cfg.Progress.Interval != 500*time.Millisecond || cfg.Progress.WaitTimeout != 30*time.Second || cfg.Progress.Retention != 5*time.Minute {
		t.Errorf("progress = %+v", cfg.Progress)
	}
	if cfg.Source.ClientName != "ANDROID" || cfg.Source.JSEngine != "goja" || cfg.Source.ChunkSize != 1<<20 {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Log.Level != "INFO" || !cfg.Log.Components["relay"] {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	body := `server:
  addr: ":9090"
  expose_errors: false
relay:
  buffered: true
progress:
  interval: 250ms
source:
  js_engine: otto
  botguard:
    mode: auto
    script: /tmp/bg.js
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Server.ExposeErrors {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Relay.Buffered || cfg.Progress.Interval != 250*time.Millisecond {
		t.Errorf("relay=%+v progress=%+v", cfg.Relay, cfg.Progress)
	}
	if cfg.Source.JSEngine != "otto" || cfg.Source.Botguard.Mode != "auto" {
		t.Errorf("source = %+v", cfg.Source)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadWorkingDirectoryFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ytrelay.json"), []byte(`{"server":{"addr":":7000"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)
	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":7000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("YTRELAY_SERVER_ADDR", ":6000")
	t.Setenv("YTRELAY_RELAY_BUFFERED", "true")
	t.Setenv("YTRELAY_PROGRESS_WAIT_TIMEOUT", "5s")
	t.Setenv("YTRELAY_SOURCE_BOTGUARD_MODE", "off")

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":6000" || !cfg.Relay.Buffered || cfg.Progress.WaitTimeout != 5*time.Second {
		t.Fatalf("env not applied: %+v %+v %+v", cfg.Server, cfg.Relay, cfg.Progress)
	}
}

func TestBindFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	fs := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	fs.String("addr", ":8000", "")
	fs.Bool("buffered", false, "")
	fs.Duration("progress-interval", 500*time.Millisecond, "")
	fs.String("js-engine", "goja", "")
	fs.String("unrelated", "", "")
	if err := fs.Parse([]string{"--addr=:1234", "--buffered", "--progress-interval=1s", "--js-engine=otto"}); err != nil {
		t.Fatal(err)
	}

	v := New()
	if err := BindFlags(v, fs); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":1234" || !cfg.Relay.Buffered || cfg.Progress.Interval != time.Second || cfg.Source.JSEngine != "otto" {
		t.Fatalf("flags not applied: %+v %+v %+v %s", cfg.Server, cfg.Relay, cfg.Progress, cfg.Source.JSEngine)
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base := func() *Config {
		cfg, err := Load(New(), "")
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }, "server.addr"},
		{"zero interval", func(c *Config) { c.Progress.Interval = 0 }, "progress.interval"},
		{"negative retries", func(c *Config) { c.Source.Retries = -1 }, "source.retries"},
		{"unknown engine", func(c *Config) { c.Source.JSEngine = "v8" }, "source.js_engine"},
		{"unknown botguard mode", func(c *Config) { c.Source.Botguard.Mode = "always" }, "source.botguard.mode"},
		{"botguard without script", func(c *Config) { c.Source.Botguard.Mode = "force" }, "source.botguard.script"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log:"},
		{"zero buffer", func(c *Config) { c.Relay.CopyBufferSize = 0 }, "relay.copy_buffer_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
