package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"PORT", "TVSUBSCRIBE_DATA_DIR", "LOG_LEVEL", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "ENABLE_REQUEST_LOGGING"} {
		t.Setenv(key, "")
	}
}

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != defaultPort {
		t.Fatalf("expected default port %s, got %s", defaultPort, cfg.Port)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.ShutdownGracePeriod)
	}
	if cfg.SettingsFile != filepath.Join(defaultDataDir, "settings.yaml") {
		t.Fatalf("unexpected settings file: %s", cfg.SettingsFile)
	}
	if cfg.SubscriptionsFile != filepath.Join(defaultDataDir, "subscriptions.json") {
		t.Fatalf("unexpected subscriptions file: %s", cfg.SubscriptionsFile)
	}
	if cfg.TorrentDir != filepath.Join(defaultDataDir, "torrents") {
		t.Fatalf("unexpected torrent dir: %s", cfg.TorrentDir)
	}
	if !cfg.EnableRequestLogging {
		t.Fatalf("expected request logging on by default")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("TVSUBSCRIBE_DATA_DIR", "/var/lib/tvsubscribe")
	t.Setenv("RATE_LIMIT_RPS", "5")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "9000" {
		t.Fatalf("expected overridden port, got %s", cfg.Port)
	}
	if cfg.TorrentDir != "/var/lib/tvsubscribe/torrents" {
		t.Fatalf("expected data dir to drive paths, got %s", cfg.TorrentDir)
	}
	if cfg.RateLimitRPS != 5 {
		t.Fatalf("expected rps 5, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("LOG_LEVEL", "warn")

	path := writeYAML(t, `
port: "9100"
log_level: debug
settings_file: /etc/tvsubscribe/settings.yaml
write_timeout: 45s
enable_request_logging: false
rate_limit:
  rps: 0
`)
	cliPort := "9200"
	cfg, err := Load(&CLIOverrides{ConfigFile: path, Port: &cliPort})
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "9200" {
		t.Fatalf("expected CLI port to win, got %s", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected YAML log level to beat env, got %s", cfg.LogLevel)
	}
	if cfg.SettingsFile != "/etc/tvsubscribe/settings.yaml" {
		t.Fatalf("expected explicit settings file, got %s", cfg.SettingsFile)
	}
	if cfg.WriteTimeout != 45*time.Second {
		t.Fatalf("unexpected write timeout %s", cfg.WriteTimeout)
	}
	if cfg.EnableRequestLogging {
		t.Fatalf("expected request logging disabled by YAML")
	}
	if cfg.RateLimitRPS != 0 {
		t.Fatalf("expected explicit zero rps, got %v", cfg.RateLimitRPS)
	}
	if cfg.RateLimitBurst != defaultRateLimitBurst {
		t.Fatalf("expected omitted burst to keep default, got %d", cfg.RateLimitBurst)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)

	cases := map[string]string{
		"bad duration":  "idle_timeout: soon\n",
		"bad log level": "log_level: loud\n",
		"bad port":      "port: http\n",
		"bad yaml":      "port: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(&CLIOverrides{ConfigFile: writeYAML(t, content)}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := Load(&CLIOverrides{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
