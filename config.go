package pcminfo

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds every knob of the client. All fields are optional in the
// file; Default fills the rest.
type Config struct {
	RootDir               string `toml:"root_dir"`
	UserDir               string `toml:"user_dir"`
	Pattern               string `toml:"pattern"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	// ReplyTimeoutSeconds of zero waits for replies indefinitely.
	ReplyTimeoutSeconds int    `toml:"reply_timeout_seconds"`
	SlashOnly           bool   `toml:"slash_only"`
	LogLevel            string `toml:"log_level"`
	Prompt              string `toml:"prompt"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	dirs := DefaultRunDirs()
	return Config{
		RootDir:  dirs.Root,
		UserDir:  dirs.User,
		Pattern:  dirs.Pattern,
		LogLevel: "warn",
		Prompt:   DefaultPrompt,
	}
}

// DefaultConfigPath returns ~/.config/pcm-info/config.toml.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/pcm-info/config.toml")
}

// LoadConfig reads path, or the default location when path is empty. A
// missing file is not an error. It returns the resolved path and whether
// the file existed.
func LoadConfig(path string) (*Config, string, bool, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, "", false, err
		}
		path = p
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, "", false, err
	}

	file, err := os.Open(resolved)
	exists := err == nil
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, "", false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		if err := decodeConfig(file, &cfg); err != nil {
			return nil, "", false, err
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func decodeConfig(r io.Reader, cfg *Config) error {
	decoder := toml.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	var err error
	if c.RootDir, err = expandPath(strings.TrimSpace(c.RootDir)); err != nil {
		return fmt.Errorf("root_dir: %w", err)
	}
	if c.UserDir, err = expandPath(strings.TrimSpace(c.UserDir)); err != nil {
		return fmt.Errorf("user_dir: %w", err)
	}
	c.Pattern = strings.TrimSpace(c.Pattern)
	if c.Pattern == "" {
		c.Pattern = DefaultPattern
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.RootDir == "" && c.UserDir == "" {
		return errors.New("config: root_dir and user_dir cannot both be empty")
	}
	if _, err := filepath.Match(c.Pattern, ""); err != nil {
		return fmt.Errorf("config: pattern %q: %w", c.Pattern, err)
	}
	if c.ConnectTimeoutSeconds < 0 {
		return fmt.Errorf("config: connect_timeout_seconds must be >= 0, got %d", c.ConnectTimeoutSeconds)
	}
	if c.ReplyTimeoutSeconds < 0 {
		return fmt.Errorf("config: reply_timeout_seconds must be >= 0, got %d", c.ReplyTimeoutSeconds)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log_level: unsupported value %q", c.LogLevel)
	}
	return nil
}

// RunDirs returns the discovery directories.
func (c *Config) RunDirs() RunDirs {
	return RunDirs{Root: c.RootDir, User: c.UserDir, Pattern: c.Pattern}
}

// SessionOptions returns the session timeouts.
func (c *Config) SessionOptions(logger *slog.Logger) SessionOptions {
	return SessionOptions{
		ConnectTimeout: time.Duration(c.ConnectTimeoutSeconds) * time.Second,
		ReplyTimeout:   time.Duration(c.ReplyTimeoutSeconds) * time.Second,
		Logger:         logger,
	}
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
