// Package config loads the daemon configuration from command-line flags,
// environment variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSocketPath      = "/tmp/clipman.sock"
	DefaultMaxItems        = 700
	DefaultMaxImageSizeMB  = 10
	DefaultPreviewLength   = 100
	DefaultSensitiveTTL    = 60 * time.Second
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultReadTimeout     = 2 * time.Second
	DefaultAcceptTimeout   = 1 * time.Second
	DefaultMaxRequestBytes = 65536
	DefaultJanitorInterval = time.Hour
)

// Config is constructed once at startup and handed to every component.
type Config struct {
	ConfigFile string `long:"config" env:"CLIPMAN_CONFIG" description:"Path to a YAML configuration file"`

	DataDir    string `long:"data-dir" env:"CLIPMAN_DATA_DIR" description:"Directory holding the database and payload files (default: $XDG_DATA_HOME/clipman)"`
	SocketPath string `long:"socket" env:"CLIPMAN_SOCKET" default:"/tmp/clipman.sock" description:"UNIX socket the IPC server listens on"`

	MaxItems       int           `long:"max-items" env:"CLIPMAN_MAX_ITEMS" default:"700" description:"Maximum number of stored items before the oldest non-favorites are evicted"`
	MaxImageSizeMB int           `long:"max-image-size-mb" env:"CLIPMAN_MAX_IMAGE_SIZE_MB" default:"10" description:"Images larger than this are not captured"`
	PreviewLength  int           `long:"preview-length" env:"CLIPMAN_PREVIEW_LENGTH" default:"100" description:"Number of characters kept in a text preview"`
	SensitiveTTL   time.Duration `long:"sensitive-ttl" env:"CLIPMAN_SENSITIVE_TTL" default:"60s" description:"Lifetime of items that look like secrets"`

	PollInterval    time.Duration `long:"poll-interval" env:"CLIPMAN_POLL_INTERVAL" default:"500ms" description:"Clipboard polling interval"`
	ReadTimeout     time.Duration `long:"read-timeout" env:"CLIPMAN_READ_TIMEOUT" default:"2s" description:"Timeout for one external clipboard read"`
	AcceptTimeout   time.Duration `long:"accept-timeout" env:"CLIPMAN_ACCEPT_TIMEOUT" default:"1s" description:"Accept poll interval of the IPC server"`
	MaxRequestBytes int           `long:"max-request-bytes" env:"CLIPMAN_MAX_REQUEST_BYTES" default:"65536" description:"Largest accepted IPC request"`

	HTTPAddr        string        `long:"http-addr" env:"CLIPMAN_HTTP_ADDR" description:"Loopback address for the HTTP gateway (disabled when empty)"`
	JanitorInterval time.Duration `long:"janitor-interval" env:"CLIPMAN_JANITOR_INTERVAL" default:"1h" description:"Interval of the orphaned file sweep (0 disables)"`

	LogLevel  string `long:"log-level" env:"CLIPMAN_LOG_LEVEL" default:"info" description:"Log level (debug, info, warn, error)"`
	LogFormat string `long:"log-format" env:"CLIPMAN_LOG_FORMAT" default:"json" choice:"json" choice:"text" description:"Log output format"`
}

// fileConfig mirrors Config for YAML decoding; nil means "not set".
type fileConfig struct {
	DataDir         *string        `yaml:"data_dir"`
	SocketPath      *string        `yaml:"socket_path"`
	MaxItems        *int           `yaml:"max_items"`
	MaxImageSizeMB  *int           `yaml:"max_image_size_mb"`
	PreviewLength   *int           `yaml:"preview_length"`
	SensitiveTTL    *time.Duration `yaml:"sensitive_ttl"`
	PollInterval    *time.Duration `yaml:"poll_interval"`
	ReadTimeout     *time.Duration `yaml:"read_timeout"`
	AcceptTimeout   *time.Duration `yaml:"accept_timeout"`
	MaxRequestBytes *int           `yaml:"max_request_bytes"`
	HTTPAddr        *string        `yaml:"http_addr"`
	JanitorInterval *time.Duration `yaml:"janitor_interval"`
	LogLevel        *string        `yaml:"log_level"`
	LogFormat       *string        `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:         DefaultDataDir(),
		SocketPath:      DefaultSocketPath,
		MaxItems:        DefaultMaxItems,
		MaxImageSizeMB:  DefaultMaxImageSizeMB,
		PreviewLength:   DefaultPreviewLength,
		SensitiveTTL:    DefaultSensitiveTTL,
		PollInterval:    DefaultPollInterval,
		ReadTimeout:     DefaultReadTimeout,
		AcceptTimeout:   DefaultAcceptTimeout,
		MaxRequestBytes: DefaultMaxRequestBytes,
		JanitorInterval: DefaultJanitorInterval,
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// DefaultDataDir returns $XDG_DATA_HOME/clipman.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "clipman")
}

// Load parses args and the environment. A YAML file named by --config fills
// every option that was not given explicitly as a flag or environment
// variable. Load returns (nil, nil) when help was requested.
func Load(args []string) (*Config, error) {
	var cfg Config

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.ConfigFile != "" {
		explicit := func(long string) bool {
			opt := parser.FindOptionByLongName(long)
			if opt == nil {
				return false
			}
			if opt.EnvDefaultKey != "" {
				if _, ok := os.LookupEnv(opt.EnvDefaultKey); ok {
					return true
				}
			}
			return opt.IsSet() && !opt.IsSetDefault()
		}
		if err := cfg.applyFile(cfg.ConfigFile, explicit); err != nil {
			return nil, err
		}
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyFile overlays values from a YAML file onto c, skipping options for
// which explicit returns true.
func (c *Config) applyFile(path string, explicit func(long string) bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	setString(&c.DataDir, fc.DataDir, explicit("data-dir"))
	setString(&c.SocketPath, fc.SocketPath, explicit("socket"))
	setInt(&c.MaxItems, fc.MaxItems, explicit("max-items"))
	setInt(&c.MaxImageSizeMB, fc.MaxImageSizeMB, explicit("max-image-size-mb"))
	setInt(&c.PreviewLength, fc.PreviewLength, explicit("preview-length"))
	setDuration(&c.SensitiveTTL, fc.SensitiveTTL, explicit("sensitive-ttl"))
	setDuration(&c.PollInterval, fc.PollInterval, explicit("poll-interval"))
	setDuration(&c.ReadTimeout, fc.ReadTimeout, explicit("read-timeout"))
	setDuration(&c.AcceptTimeout, fc.AcceptTimeout, explicit("accept-timeout"))
	setInt(&c.MaxRequestBytes, fc.MaxRequestBytes, explicit("max-request-bytes"))
	setString(&c.HTTPAddr, fc.HTTPAddr, explicit("http-addr"))
	setDuration(&c.JanitorInterval, fc.JanitorInterval, explicit("janitor-interval"))
	setString(&c.LogLevel, fc.LogLevel, explicit("log-level"))
	setString(&c.LogFormat, fc.LogFormat, explicit("log-format"))
	return nil
}

func setString(dst *string, v *string, skip bool) {
	if v != nil && !skip {
		*dst = *v
	}
}

func setInt(dst *int, v *int, skip bool) {
	if v != nil && !skip {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration, skip bool) {
	if v != nil && !skip {
		*dst = *v
	}
}

// Validate resets out-of-range numeric values to their defaults and rejects
// settings that cannot work.
func (c *Config) Validate() error {
	if c.MaxItems <= 0 {
		c.MaxItems = DefaultMaxItems
	}
	if c.MaxImageSizeMB <= 0 {
		c.MaxImageSizeMB = DefaultMaxImageSizeMB
	}
	if c.PreviewLength <= 0 {
		c.PreviewLength = DefaultPreviewLength
	}
	if c.SensitiveTTL <= 0 {
		c.SensitiveTTL = DefaultSensitiveTTL
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	if c.MaxRequestBytes <= 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if c.JanitorInterval < 0 {
		c.JanitorInterval = 0
	}

	if c.DataDir == "" {
		return errors.New("data directory can not be empty")
	}
	if c.SocketPath == "" {
		return errors.New("socket path can not be empty")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log format: %q", c.LogFormat)
	}
	return nil
}

// MaxImageBytes returns the image size limit in bytes.
func (c *Config) MaxImageBytes() int {
	return c.MaxImageSizeMB * 1024 * 1024
}

// DatabasePath returns the sqlite file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "clipman.db")
}
