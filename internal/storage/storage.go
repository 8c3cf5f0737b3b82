package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/eugenenazirov/tvsubscribe/internal/model"
)

var (
	// ErrDuplicate indicates a subscription for the same show and resolution already exists.
	ErrDuplicate = errors.New("subscription already exists")
	// ErrNotFound indicates no subscription matched the request.
	ErrNotFound = errors.New("subscription not found")
)

// Storage provides access to the subscription list.
type Storage interface {
	List() ([]model.Subscription, error)
	Get(id string) (model.Subscription, error)
	Add(sub model.Subscription) (model.Subscription, error)
	Remove(doubanID string, res model.Resolution) error
	RemoveByIDs(ids []string) (int, error)
}

// FileStorage keeps subscriptions in memory and mirrors every change to a
// JSON file. An empty path disables persistence.
type FileStorage struct {
	mu            sync.RWMutex
	path          string
	subscriptions []model.Subscription
	newID         func() string
}

// Option configures FileStorage.
type Option func(*FileStorage)

// WithIDGenerator overrides the ID source, primarily for tests.
func WithIDGenerator(gen func() string) Option {
	return func(s *FileStorage) {
		s.newID = gen
	}
}

// NewMemoryStorage returns a FileStorage that never touches disk.
func NewMemoryStorage(opts ...Option) *FileStorage {
	s := &FileStorage{newID: uuid.NewString}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFileStorage loads subscriptions from path. A missing or empty file
// yields an empty list.
func NewFileStorage(path string, opts ...Option) (*FileStorage, error) {
	s := NewMemoryStorage(opts...)
	if path == "" {
		return s, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve subscriptions path: %w", err)
	}
	subs, err := load(absPath)
	if err != nil {
		return nil, err
	}

	// Files written by older versions carry no IDs.
	dirty := false
	for i := range subs {
		if subs[i].ID == "" {
			subs[i].ID = s.newID()
			dirty = true
		}
	}

	s.path = absPath
	s.subscriptions = subs
	if dirty {
		if err := s.save(subs); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// List returns a copy of the current subscriptions in insertion order.
func (s *FileStorage) List() ([]model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return clone(s.subscriptions), nil
}

// Get returns the subscription with the given ID.
func (s *FileStorage) Get(id string) (model.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ID == id {
			return sub, nil
		}
	}
	return model.Subscription{}, fmt.Errorf("%w: id=%s", ErrNotFound, id)
}

// Add stores sub, assigning an ID when it has none.
func (s *FileStorage) Add(sub model.Subscription) (model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if existing.SameShow(sub) {
			return model.Subscription{}, fmt.Errorf("%w: douban_id=%s, resolution=%s", ErrDuplicate, sub.DoubanID, sub.Resolution)
		}
	}
	if sub.ID == "" {
		sub.ID = s.newID()
	}

	next := append(clone(s.subscriptions), sub)
	if err := s.save(next); err != nil {
		return model.Subscription{}, err
	}
	s.subscriptions = next
	return sub, nil
}

// Remove deletes the subscription matching doubanID and res.
func (s *FileStorage) Remove(doubanID string, res model.Resolution) error {
	target := model.Subscription{DoubanID: doubanID, Resolution: res}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]model.Subscription, 0, len(s.subscriptions))
	for _, existing := range s.subscriptions {
		if !existing.SameShow(target) {
			next = append(next, existing)
		}
	}
	if len(next) == len(s.subscriptions) {
		return fmt.Errorf("%w: douban_id=%s, resolution=%s", ErrNotFound, doubanID, res)
	}

	if err := s.save(next); err != nil {
		return err
	}
	s.subscriptions = next
	return nil
}

// RemoveByIDs deletes every subscription whose ID is listed and reports how
// many were removed. It fails with ErrNotFound only when nothing matched.
func (s *FileStorage) RemoveByIDs(ids []string) (int, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]model.Subscription, 0, len(s.subscriptions))
	for _, existing := range s.subscriptions {
		if _, ok := wanted[existing.ID]; !ok {
			next = append(next, existing)
		}
	}
	removed := len(s.subscriptions) - len(next)
	if removed == 0 {
		return 0, fmt.Errorf("%w: ids=%v", ErrNotFound, ids)
	}

	if err := s.save(next); err != nil {
		return 0, err
	}
	s.subscriptions = next
	return removed, nil
}

func (s *FileStorage) save(subs []model.Subscription) error {
	if s.path == "" {
		return nil
	}
	if subs == nil {
		subs = []model.Subscription{}
	}

	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode subscriptions: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create subscriptions dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write subscriptions: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace subscriptions file: %w", err)
	}
	return nil
}

func load(path string) ([]model.Subscription, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []model.Subscription{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscriptions: %w", err)
	}
	if len(data) == 0 {
		return []model.Subscription{}, nil
	}

	var subs []model.Subscription
	if err := json.Unmarshal(data, &subs); err != nil {
		return nil, fmt.Errorf("parse subscriptions: %w", err)
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	return subs, nil
}

func clone(src []model.Subscription) []model.Subscription {
	out := make([]model.Subscription, len(src))
	copy(out, src)
	return out
}
