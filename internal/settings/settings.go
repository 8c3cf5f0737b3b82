package settings

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const defaultIntervalMinutes = 60

// MaxIntervalMinutes caps the polling interval at one week.
const MaxIntervalMinutes = 7 * 24 * 60

// ErrInvalidSettings wraps every validation failure reported by Update.
var ErrInvalidSettings = errors.New("invalid settings")

// Settings are the knobs the subscription worker reads on every cycle.
type Settings struct {
	Endpoint        string `json:"endpoint" yaml:"endpoint" validate:"omitempty,url"`
	Cookie          string `json:"cookie" yaml:"cookie"`
	Passkey         string `json:"passkey" yaml:"passkey"`
	IntervalMinutes int    `json:"interval_minutes" yaml:"interval_minutes" validate:"min=1,max=10080"`
	WeChatServer    string `json:"wechat_server" yaml:"wechat_server" validate:"omitempty,url"`
	WeChatToken     string `json:"wechat_token" yaml:"wechat_token"`
}

// Ready reports whether the tracker credentials needed for a run are present.
func (s Settings) Ready() bool {
	return strings.TrimSpace(s.Cookie) != "" && strings.TrimSpace(s.Passkey) != ""
}

// ChangeFunc is called with the new settings after each effective change.
type ChangeFunc func(Settings)

// Store guards the current settings and mirrors them to a YAML file.
type Store struct {
	mu       sync.RWMutex
	path     string
	current  Settings
	onChange ChangeFunc
	validate *validator.Validate
	logger   *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithOnChange registers the callback fired after Update or a reload changes
// the settings.
func WithOnChange(fn ChangeFunc) Option {
	return func(s *Store) {
		s.onChange = fn
	}
}

// WithLogger sets the logger used by the file watcher.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open loads settings from path, creating the file with defaults when it
// does not exist yet.
func Open(path string, opts ...Option) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}

	s := &Store{
		path:     absPath,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	current, err := s.load()
	if errors.Is(err, os.ErrNotExist) {
		current = Defaults()
		if err := s.save(current); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	s.current = current
	return s, nil
}

// Defaults returns the settings used before anything is configured.
func Defaults() Settings {
	return Settings{IntervalMinutes: defaultIntervalMinutes}
}

// Path returns the absolute path of the settings file.
func (s *Store) Path() string {
	return s.path
}

// Get returns the current settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Map returns the current settings keyed by their wire names.
func (s *Store) Map() map[string]any {
	return toMap(s.Get())
}

// Update applies a partial update keyed by wire names, persists the result
// and fires the change callback.
func (s *Store) Update(updates map[string]any) (Settings, error) {
	s.mu.Lock()

	next, err := apply(s.current, updates)
	if err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	if err := s.validate.Struct(next); err != nil {
		s.mu.Unlock()
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if err := s.save(next); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	changed := next != s.current
	s.current = next
	s.mu.Unlock()

	if changed {
		s.notify(next)
	}
	return next, nil
}

// Reload re-reads the settings file. The change callback fires only when the
// file content differs from what the store already holds, so saves made by
// Update do not trigger it twice.
func (s *Store) Reload() error {
	loaded, err := s.load()
	if err != nil {
		return err
	}
	if err := s.validate.Struct(loaded); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	s.mu.Lock()
	changed := loaded != s.current
	s.current = loaded
	s.mu.Unlock()

	if changed {
		s.notify(loaded)
	}
	return nil
}

func (s *Store) notify(current Settings) {
	if s.onChange != nil {
		s.onChange(current)
	}
}

func (s *Store) load() (Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	loaded := Defaults()
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	if loaded.IntervalMinutes <= 0 {
		loaded.IntervalMinutes = defaultIntervalMinutes
	}
	if loaded.IntervalMinutes > MaxIntervalMinutes {
		s.logger.Warn("interval_minutes too large, clamping",
			zap.Int("interval_minutes", loaded.IntervalMinutes),
			zap.Int("max", MaxIntervalMinutes))
		loaded.IntervalMinutes = MaxIntervalMinutes
	}
	return loaded, nil
}

func (s *Store) save(current Settings) error {
	data, err := yaml.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace settings file: %w", err)
	}
	return nil
}

func toMap(s Settings) map[string]any {
	return map[string]any{
		"endpoint":         s.Endpoint,
		"cookie":           s.Cookie,
		"passkey":          s.Passkey,
		"interval_minutes": s.IntervalMinutes,
		"wechat_server":    s.WeChatServer,
		"wechat_token":     s.WeChatToken,
	}
}

// apply merges updates into base. Values arrive from JSON, so numbers may be
// float64 and the CLI may send strings.
func apply(base Settings, updates map[string]any) (Settings, error) {
	if len(updates) == 0 {
		return Settings{}, fmt.Errorf("%w: no settings provided", ErrInvalidSettings)
	}

	next := base
	for _, key := range slices.Sorted(maps.Keys(updates)) {
		value := updates[key]
		switch key {
		case "endpoint":
			v, err := asString(key, value)
			if err != nil {
				return Settings{}, err
			}
			next.Endpoint = v
		case "cookie":
			v, err := asString(key, value)
			if err != nil {
				return Settings{}, err
			}
			next.Cookie = v
		case "passkey":
			v, err := asString(key, value)
			if err != nil {
				return Settings{}, err
			}
			next.Passkey = v
		case "interval_minutes":
			v, err := asInt(key, value)
			if err != nil {
				return Settings{}, err
			}
			next.IntervalMinutes = v
		case "wechat_server":
			v, err := asString(key, value)
			if err != nil {
				return Settings{}, err
			}
			next.WeChatServer = strings.TrimRight(v, "/")
		case "wechat_token":
			v, err := asString(key, value)
			if err != nil {
				return Settings{}, err
			}
			next.WeChatToken = v
		default:
			return Settings{}, fmt.Errorf("%w: unknown key %q", ErrInvalidSettings, key)
		}
	}
	return next, nil
}

func asString(key string, value any) (string, error) {
	v, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidSettings, key)
	}
	return strings.TrimSpace(v), nil
}

func asInt(key string, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidSettings, key)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidSettings, key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidSettings, key)
	}
}
