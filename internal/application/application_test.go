package application

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/eugenenazirov/tvsubscribe/internal/config"
	"github.com/eugenenazirov/tvsubscribe/internal/model"
	"github.com/eugenenazirov/tvsubscribe/internal/web"
)

func TestNewInitializesDependencies(t *testing.T) {
	cfg := baseTestConfig(t, ":0")
	logger := zaptest.NewLogger(t)

	app, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	if app.server == nil || app.router == nil || app.handler == nil || app.scheduler == nil {
		t.Fatalf("expected server, router, handler and scheduler to be initialized")
	}
	if app.Server() != app.server {
		t.Fatalf("Server accessor did not return underlying instance")
	}
	if anchor, ok := app.ui.Mounted(); !ok || anchor != web.MountAnchor {
		t.Fatalf("expected web UI mounted on %s, got %q", web.MountAnchor, anchor)
	}
	if _, err := os.Stat(cfg.SettingsFile); err != nil {
		t.Fatalf("expected settings file to be created: %v", err)
	}
}

func TestNewLoadsExistingSubscriptions(t *testing.T) {
	cfg := baseTestConfig(t, ":0")
	if err := os.WriteFile(cfg.SubscriptionsFile, []byte(`[{"id":"a","douban_id":"1","resolution":1}]`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	app, err := New(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	subs, err := app.storage.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(subs) != 1 || subs[0].Resolution != model.Res1080P {
		t.Fatalf("unexpected subscriptions: %v", subs)
	}
}

func TestNewReturnsErrorForCorruptSubscriptions(t *testing.T) {
	cfg := baseTestConfig(t, ":0")
	if err := os.WriteFile(cfg.SubscriptionsFile, []byte("{"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := New(cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected error for corrupt subscriptions file")
	}
}

func TestRootHandlerRoutes(t *testing.T) {
	app, err := New(baseTestConfig(t, ":0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	handler := app.Handler()

	t.Run("root redirects to config", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/config" {
			t.Fatalf("expected redirect to /config, got %d %q", rec.Code, rec.Header().Get("Location"))
		}
	})

	t.Run("views serve the shell", func(t *testing.T) {
		for _, path := range []string{"/config", "/subscribe"} {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `id="app"`) {
				t.Fatalf("expected shell for %s, got %d", path, rec.Code)
			}
		}
	})

	t.Run("api", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/getSubscribeList", nil))
		if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
			t.Fatalf("expected JSON list, got %d", rec.Code)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tvsubscribe_subscriptions") {
			t.Fatalf("expected metrics exposition, got %d", rec.Code)
		}
	})
}

func TestStartAndShutdown(t *testing.T) {
	app, err := New(baseTestConfig(t, "127.0.0.1:0"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if err := app.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := app.Start(); err == nil {
		t.Fatalf("expected second Start to fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := baseTestConfig(t, "9090")
	handler := http.NewServeMux()

	server := NewServer(cfg, handler)
	if server.Addr != ":9090" {
		t.Fatalf("expected address :9090, got %s", server.Addr)
	}
	if server.Handler != handler {
		t.Fatalf("expected handler to be applied")
	}
	if server.ReadHeaderTimeout != cfg.ReadHeaderTimeout ||
		server.WriteTimeout != cfg.WriteTimeout ||
		server.IdleTimeout != cfg.IdleTimeout {
		t.Fatalf("server timeouts do not match configuration")
	}
}

func baseTestConfig(t *testing.T, port string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Port:                 port,
		DataDir:              dir,
		SettingsFile:         filepath.Join(dir, "settings.yaml"),
		SubscriptionsFile:    filepath.Join(dir, "subscriptions.json"),
		TorrentDir:           filepath.Join(dir, "torrents"),
		LogLevel:             "debug",
		TrackerURL:           "http://127.0.0.1:1/",
		DoubanURL:            "http://127.0.0.1:1/",
		ShutdownGracePeriod:  50 * time.Millisecond,
		ReadHeaderTimeout:    20 * time.Millisecond,
		WriteTimeout:         30 * time.Millisecond,
		IdleTimeout:          40 * time.Millisecond,
		EnableRequestLogging: false,
		RateLimitRPS:         0,
		RateLimitBurst:       0,
	}
}
