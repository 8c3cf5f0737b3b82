package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/eugenenazirov/tvsubscribe/internal/douban"
	"github.com/eugenenazirov/tvsubscribe/internal/tracker"
)

const (
	defaultPort           = "8443"
	defaultDataDir        = "./data"
	defaultLogLevel       = "info"
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// Config aggregates bootstrap configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults.
// Tracker credentials and the check interval are runtime settings and live
// in the settings file instead.
type Config struct {
	Port                 string
	DataDir              string
	SettingsFile         string
	SubscriptionsFile    string
	TorrentDir           string
	LogLevel             string
	TrackerURL           string
	DoubanURL            string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int
}

// yamlConfig represents the YAML configuration file structure. Pointers
// tell an omitted key apart from an explicit zero.
type yamlConfig struct {
	Port                 string        `yaml:"port"`
	DataDir              string        `yaml:"data_dir"`
	SettingsFile         string        `yaml:"settings_file"`
	SubscriptionsFile    string        `yaml:"subscriptions_file"`
	TorrentDir           string        `yaml:"torrent_dir"`
	LogLevel             string        `yaml:"log_level"`
	TrackerURL           string        `yaml:"tracker_url"`
	DoubanURL            string        `yaml:"douban_url"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	DataDir        *string
	LogLevel       *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Environment first so a YAML file named on the command line wins over it.
	applyEnvConfig(&cfg)

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	resolvePaths(&cfg)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		Port:                 defaultPort,
		DataDir:              defaultDataDir,
		LogLevel:             defaultLogLevel,
		TrackerURL:           tracker.DefaultBaseURL,
		DoubanURL:            douban.DefaultBaseURL,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		WriteTimeout:         30 * time.Second,
		IdleTimeout:          60 * time.Second,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML configuration to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	setString(&cfg.Port, yamlCfg.Port)
	setString(&cfg.DataDir, yamlCfg.DataDir)
	setString(&cfg.SettingsFile, yamlCfg.SettingsFile)
	setString(&cfg.SubscriptionsFile, yamlCfg.SubscriptionsFile)
	setString(&cfg.TorrentDir, yamlCfg.TorrentDir)
	setString(&cfg.LogLevel, yamlCfg.LogLevel)
	setString(&cfg.TrackerURL, yamlCfg.TrackerURL)
	setString(&cfg.DoubanURL, yamlCfg.DoubanURL)

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &cfg.WriteTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	setString(&cfg.Port, os.Getenv("PORT"))
	setString(&cfg.DataDir, os.Getenv("TVSUBSCRIBE_DATA_DIR"))
	setString(&cfg.LogLevel, os.Getenv("LOG_LEVEL"))

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}

	if logging := strings.TrimSpace(os.Getenv("ENABLE_REQUEST_LOGGING")); logging != "" {
		if value, err := strconv.ParseBool(logging); err == nil {
			cfg.EnableRequestLogging = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	if overrides.Port != nil {
		setString(&cfg.Port, *overrides.Port)
	}
	if overrides.DataDir != nil {
		setString(&cfg.DataDir, *overrides.DataDir)
	}
	if overrides.LogLevel != nil {
		setString(&cfg.LogLevel, *overrides.LogLevel)
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// resolvePaths places every file not configured explicitly under DataDir.
func resolvePaths(cfg *Config) {
	if cfg.SettingsFile == "" {
		cfg.SettingsFile = filepath.Join(cfg.DataDir, "settings.yaml")
	}
	if cfg.SubscriptionsFile == "" {
		cfg.SubscriptionsFile = filepath.Join(cfg.DataDir, "subscriptions.json")
	}
	if cfg.TorrentDir == "" {
		cfg.TorrentDir = filepath.Join(cfg.DataDir, "torrents")
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %q", cfg.Port)
	}
	if cfg.RateLimitRPS < 0 {
		return errors.New("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return errors.New("RATE_LIMIT_BURST must be >= 0")
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

func setString(dst *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*dst = v
	}
}
