// Package config loads bootstrap configuration from multiple sources (YAML
// files, environment variables, CLI flags) with precedence: CLI flags > YAML
// config > Environment variables > Defaults. Settings that change while the
// service runs are handled by package settings.
package config
