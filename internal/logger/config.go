package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LogConfig is the "log" section of the service configuration.
type LogConfig struct {
	Level      string          `mapstructure:"level" json:"level"`
	Format     string          `mapstructure:"format" json:"format"`
	Output     string          `mapstructure:"output" json:"output"`
	Components map[string]bool `mapstructure:"components" json:"components"`
	ShowCaller bool            `mapstructure:"show_caller" json:"show_caller"`
	Timestamp  bool            `mapstructure:"timestamp" json:"timestamp"`
}

// DefaultLogConfig returns default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:  "INFO",
		Format: "text",
		Output: "stdout",
		Components: map[string]bool{
			string(ComponentApp):       true,
			string(ComponentServer):    true,
			string(ComponentCatalog):   true,
			string(ComponentRelay):     true,
			string(ComponentProgress):  true,
			string(ComponentSource):    true,
			string(ComponentInnerTube): false,
			string(ComponentCipher):    false,
			string(ComponentBotGuard):  false,
		},
		ShowCaller: false,
		Timestamp:  true,
	}
}

// ToLoggerConfig converts LogConfig to logger.Config
func (c *LogConfig) ToLoggerConfig() (*Config, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse level: %w", err)
	}

	format, err := parseFormat(c.Format)
	if err != nil {
		return nil, fmt.Errorf("parse format: %w", err)
	}

	output, err := parseOutput(c.Output)
	if err != nil {
		return nil, fmt.Errorf("parse output: %w", err)
	}

	// Unlisted components keep their default state.
	components := make(map[Component]bool)
	for name, enabled := range DefaultLogConfig().Components {
		components[Component(name)] = enabled
	}
	for name, enabled := range c.Components {
		components[Component(strings.ToLower(name))] = enabled
	}

	return &Config{
		Level:      level,
		Format:     format,
		Output:     output,
		Components: components,
		ShowCaller: c.ShowCaller,
		Timestamp:  c.Timestamp,
	}, nil
}

func parseLevel(levelStr string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "TRACE":
		return TRACE, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("unknown level: %s", levelStr)
	}
}

func parseFormat(formatStr string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(formatStr)) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "color", "colored":
		return FormatColor, nil
	default:
		return FormatText, fmt.Errorf("unknown format: %s", formatStr)
	}
}

// parseOutput opens the writer named by outputStr. "file:<path>" appends to
// the file, creating parent directories.
func parseOutput(outputStr string) (io.Writer, error) {
	switch strings.ToLower(outputStr) {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	case "null", "none":
		return io.Discard, nil
	}

	if strings.HasPrefix(outputStr, "file:") {
		filePath := strings.TrimPrefix(outputStr, "file:")
		if filePath == "" {
			return nil, fmt.Errorf("empty log file path")
		}
		if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		return file, nil
	}
	return nil, fmt.Errorf("unknown output: %s", outputStr)
}

// CreateLoggerFromConfig creates a logger from LogConfig
func CreateLoggerFromConfig(config *LogConfig) (*Logger, error) {
	loggerConfig, err := config.ToLoggerConfig()
	if err != nil {
		return nil, fmt.Errorf("convert config: %w", err)
	}

	return New(loggerConfig), nil
}

// EnvironmentConfig loads configuration from YTRELAY_LOG_* variables on top
// of the defaults.
func EnvironmentConfig() *LogConfig {
	config := DefaultLogConfig()

	if level := os.Getenv("YTRELAY_LOG_LEVEL"); level != "" {
		config.Level = level
	}
	if format := os.Getenv("YTRELAY_LOG_FORMAT"); format != "" {
		config.Format = format
	}
	if output := os.Getenv("YTRELAY_LOG_OUTPUT"); output != "" {
		config.Output = output
	}
	if caller := os.Getenv("YTRELAY_LOG_CALLER"); caller != "" {
		config.ShowCaller = caller == "true" || caller == "1"
	}
	if timestamp := os.Getenv("YTRELAY_LOG_TIMESTAMP"); timestamp != "" {
		config.Timestamp = timestamp == "true" || timestamp == "1"
	}

	// An explicit list replaces the defaults: only named components log.
	if components := os.Getenv("YTRELAY_LOG_COMPONENTS"); components != "" {
		config.Components = make(map[string]bool)
		for name := range DefaultLogConfig().Components {
			config.Components[name] = false
		}
		for _, comp := range strings.Split(components, ",") {
			comp = strings.ToLower(strings.TrimSpace(comp))
			if comp != "" {
				config.Components[comp] = true
			}
		}
	}

	return config
}

// ValidateConfig checks level and format. Output is not opened here.
func (c *LogConfig) ValidateConfig() error {
	if _, err := parseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid level: %w", err)
	}

	if _, err := parseFormat(c.Format); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}

	switch out := strings.ToLower(c.Output); {
	case out == "stdout", out == "stderr", out == "null", out == "none", out == "":
	case strings.HasPrefix(c.Output, "file:") && len(c.Output) > len("file:"):
	default:
		return fmt.Errorf("invalid output: %s", c.Output)
	}

	return nil
}
