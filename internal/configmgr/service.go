// Package configmgr provides versioned runtime configuration with
// history, rollback, and change notification.
package configmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/garyzero/gary-zero/internal/eventlog"
	"github.com/garyzero/gary-zero/internal/models"
	"github.com/garyzero/gary-zero/internal/store"
)

// Common errors returned by the config manager.
var (
	ErrKeyNotFound     = errors.New("config key not found")
	ErrVersionNotFound = errors.New("config version not found")
)

// watcher receives new entries for a key.
type watcher struct {
	id  string
	key string
	ch  chan *models.ConfigEntry
}

// Service manages versioned configuration entries. Writes append a new
// version; existing versions are never mutated.
type Service struct {
	store  store.Store
	events *eventlog.Service
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*watcher
}

// NewService creates a new config manager.
func NewService(st store.Store, events *eventlog.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		events:   events,
		logger:   logger,
		watchers: make(map[string]*watcher),
	}
}

// Set appends a new version for the key and notifies watchers.
func (s *Service) Set(ctx context.Context, entry *models.ConfigEntry) (*models.ConfigEntry, error) {
	stored, err := s.store.Configs().Set(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("setting config %q: %w", entry.Key, err)
	}

	s.notify(stored)
	s.logEvent(ctx, stored, "config updated")

	return stored, nil
}

// Get retrieves the latest version of a key.
func (s *Service) Get(ctx context.Context, key string) (*models.ConfigEntry, error) {
	entry, err := s.store.Configs().Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}
	return entry, nil
}

// GetVersion retrieves a specific version of a key.
func (s *Service) GetVersion(ctx context.Context, key string, version int) (*models.ConfigEntry, error) {
	entry, err := s.store.Configs().GetVersion(ctx, key, version)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return entry, nil
}

// History retrieves versions of a key, newest first.
func (s *Service) History(ctx context.Context, key string, limit int) ([]*models.ConfigEntry, error) {
	entries, err := s.store.Configs().History(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrKeyNotFound
	}
	return entries, nil
}

// List retrieves the latest version of every key.
func (s *Service) List(ctx context.Context) ([]*models.ConfigEntry, error) {
	return s.store.Configs().List(ctx)
}

// Rollback restores the value of an earlier version by appending it as
// a new version. History stays intact.
func (s *Service) Rollback(ctx context.Context, key string, version int, updatedBy string) (*models.ConfigEntry, error) {
	target, err := s.GetVersion(ctx, key, version)
	if err != nil {
		return nil, err
	}

	entry := &models.ConfigEntry{
		Key:         key,
		Value:       target.Value,
		Description: fmt.Sprintf("rollback to version %d", version),
		UpdatedBy:   updatedBy,
	}

	stored, err := s.store.Configs().Set(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("rolling back config %q: %w", key, err)
	}

	s.notify(stored)
	s.logEvent(ctx, stored, fmt.Sprintf("config rolled back to version %d", version))

	return stored, nil
}

// Delete removes a key and all its versions.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.store.Configs().Delete(ctx, key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrKeyNotFound
		}
		return err
	}
	return nil
}

// Watch registers for new versions of a key. The returned cancel
// function must be called to release the watcher.
func (s *Service) Watch(key string) (<-chan *models.ConfigEntry, func()) {
	w := &watcher{
		id:  uuid.New().String(),
		key: key,
		ch:  make(chan *models.ConfigEntry, 16),
	}

	s.mu.Lock()
	s.watchers[w.id] = w
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.watchers[w.id]; ok {
			close(w.ch)
			delete(s.watchers, w.id)
		}
	}

	return w.ch, cancel
}

// notify delivers a new entry to matching watchers.
func (s *Service) notify(entry *models.ConfigEntry) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.watchers {
		if w.key != "" && w.key != entry.Key {
			continue
		}
		select {
		case w.ch <- entry:
		default:
			s.logger.Warn("config watcher channel full, dropping notification",
				"key", entry.Key, "version", entry.Version)
		}
	}
}

// logEvent records a config change in the unified event log.
func (s *Service) logEvent(ctx context.Context, entry *models.ConfigEntry, message string) {
	if s.events == nil {
		return
	}
	err := s.events.Log(ctx, &models.LogEvent{
		Type:      models.EventTypeConfig,
		Level:     models.EventLevelInfo,
		Component: "configmgr",
		UserID:    entry.UpdatedBy,
		Message:   message,
		Metadata: map[string]string{
			"key":     entry.Key,
			"version": fmt.Sprintf("%d", entry.Version),
		},
	})
	if err != nil {
		s.logger.Error("failed to log config event", "error", err)
	}
}
