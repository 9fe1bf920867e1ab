package config

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "arrsweep/pkg/logx"
)

// Manager owns the current config and supports hot reload: Watch observes
// the config file, debounces editor write bursts, skips no-op rewrites via
// a content hash, validates, and only then commits and notifies.
type Manager struct {
	path string

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	log       logx.Logger
	validator func(cfg *Config) error
	onChange  func(cfg *Config)
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator installs a hook run by Watch before committing a reload.
func (m *Manager) SetValidator(fn func(cfg *Config) error) { m.validator = fn }

// OnChange installs the callback invoked after a reload is committed.
func (m *Manager) OnChange(fn func(cfg *Config)) { m.onChange = fn }

// Load parses the file and commits the result as the current config.
func (m *Manager) Load() (*Config, error) {
	cfg, err := Parse(m.path)
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = hashConfig(cfg)
	m.mu.Unlock()
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Watch blocks until ctx is done, reloading the config on file changes.
// A failed parse or rejected validation keeps the previous config.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}

	// Debounce to avoid reacting to partial writes.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	reload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() { m.reload() })
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) &&
				ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if err != nil && !m.log.IsZero() {
				m.log.Warn("config watch error", logx.Err(err))
			}
		}
	}
}

func (m *Manager) reload() {
	cfg, err := Parse(m.path)
	if err != nil {
		if !m.log.IsZero() {
			m.log.Warn("config parse failed; keeping previous", logx.String("path", m.path), logx.Err(err))
		}
		return
	}

	h := hashConfig(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		return
	}

	if m.validator != nil {
		if err := m.validator(cfg); err != nil {
			if !m.log.IsZero() {
				m.log.Warn("config rejected; keeping previous", logx.Err(err))
			}
			return
		}
	}

	m.commit(cfg)
	if !m.log.IsZero() {
		m.log.Info("config reloaded", logx.String("path", m.path))
	}
	if m.onChange != nil {
		m.onChange(cfg)
	}
}
