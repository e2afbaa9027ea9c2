package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Subscriber is called after a new config became active.
type Subscriber func(old, next Config)

// Manager owns the active Config. Readers never block; writers are serialized.
type Manager struct {
	path string

	current atomic.Pointer[Config]

	mu          sync.Mutex
	subscribers []Subscriber
	lastWritten [sha256.Size]byte
}

// NewManager loads path and returns a manager holding it. A missing file
// starts from defaults; an invalid file is an error.
func NewManager(path string) (*Manager, error) {
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	return NewManagerWith(path, cfg), nil
}

// NewManagerWith starts from an already loaded config.
func NewManagerWith(path string, cfg Config) *Manager {
	m := &Manager{path: path}
	c := cfg.Clone()
	m.current.Store(&c)
	return m
}

func (m *Manager) Path() string { return m.path }

// Current returns a copy of the active config.
func (m *Manager) Current() Config {
	return m.current.Load().Clone()
}

func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Apply validates candidate, persists it, makes it active and notifies
// subscribers. On any error the previous config stays active.
func (m *Manager) Apply(candidate Config) (Config, error) {
	next := candidate.normalize()
	if err := next.Validate(); err != nil {
		return m.Current(), err
	}

	m.mu.Lock()
	if m.path != "" {
		data, err := SaveTo(m.path, next)
		if err != nil {
			m.mu.Unlock()
			return m.Current(), fmt.Errorf("persisting config: %w", err)
		}
		m.lastWritten = sha256.Sum256(data)
	}
	old := m.swap(next, false)
	subs := append([]Subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	notify(subs, old, next)
	return next.Clone(), nil
}

// Reload re-reads the file from disk without writing it back. Content that
// matches the manager's own last write is ignored.
func (m *Manager) Reload() (bool, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return false, fmt.Errorf("reading config: %w", err)
	}

	m.mu.Lock()
	if sha256.Sum256(data) == m.lastWritten {
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	cfg, err := Decode(data, FormatForPath(m.path))
	if err != nil {
		return false, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return false, err
	}

	m.mu.Lock()
	old := m.swap(cfg, true)
	installed := m.current.Load().Clone()
	subs := append([]Subscriber(nil), m.subscribers...)
	m.mu.Unlock()

	notify(subs, old, installed)
	return true, nil
}

// swap installs next and returns the previous config. keepKeys carries
// runtime-only api keys over, since the file on disk never holds them.
// Callers hold m.mu.
func (m *Manager) swap(next Config, keepKeys bool) Config {
	old := m.current.Load().Clone()
	c := next.Clone()
	if keepKeys {
		for kind, svc := range c.Services {
			if prev, ok := old.Services[kind]; ok && svc.APIKey == "" {
				svc.APIKey = prev.APIKey
				c.Services[kind] = svc
			}
		}
	}
	m.current.Store(&c)
	return old
}

func notify(subs []Subscriber, old, next Config) {
	for _, fn := range subs {
		fn(old.Clone(), next.Clone())
	}
}
