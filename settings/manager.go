package settings

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/hazyhaar/docfeed/prompt"
)

// Manager owns the process-wide Settings. It is safe for concurrent use.
type Manager struct {
	store  Store
	logger *slog.Logger

	mu        sync.RWMutex
	cur       Settings
	fallbacks []Fallback

	// Unsaved runtime overrides, kept across Load until persisted.
	dirtyTemplates bool
	dirtyLists     bool

	watch watchCounters
}

// NewManager returns a Manager holding the defaults until Load is called.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger, cur: Defaults()}
}

// Snapshot returns a copy of the current settings.
func (m *Manager) Snapshot() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur.clone()
}

// Fallbacks returns the values replaced by defaults during the last Load
// or SetChunkSize.
func (m *Manager) Fallbacks() []Fallback {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.fallbacks)
}

// Load replaces the current settings with the stored ones and returns them.
// Templates or lists changed at runtime and not yet persisted are kept.
func (m *Manager) Load(ctx context.Context) (Settings, error) {
	s := Defaults()
	var fallbacks []Fallback

	get := func(key string) (string, bool, error) {
		v, ok, err := m.store.Get(ctx, key)
		if err != nil {
			return "", false, fmt.Errorf("settings: load %s: %w", key, err)
		}
		return v, ok, nil
	}

	if v, ok, err := get(KeyChunkSize); err != nil {
		return Settings{}, err
	} else if ok {
		n, fb := parseChunkSize(v)
		s.ChunkSize = n
		if fb != nil {
			fallbacks = append(fallbacks, *fb)
		}
	}

	for key, dst := range map[string]*string{
		KeyBasePrompt:   &s.Templates.Base,
		KeySinglePrompt: &s.Templates.Single,
		KeyMultiPrompt:  &s.Templates.Multi,
		KeyLastPrompt:   &s.Templates.Last,
	} {
		v, ok, err := get(key)
		if err != nil {
			return Settings{}, err
		}
		if ok {
			*dst = v
		}
	}

	for key, dst := range map[string]*[]string{
		KeyBlacklist:        &s.Blacklist,
		KeyIgnoreExtensions: &s.IgnoreExtensions,
	} {
		v, ok, err := get(key)
		if err != nil {
			return Settings{}, err
		}
		if ok {
			*dst = ParseList(v)
		}
	}

	for _, fb := range fallbacks {
		m.logger.Debug("settings: fallback to default", "key", fb.Key, "value", fb.Value, "reason", fb.Reason)
	}

	m.mu.Lock()
	if m.dirtyTemplates {
		s.Templates = m.cur.Templates
	}
	if m.dirtyLists {
		s.Blacklist = m.cur.Blacklist
		s.IgnoreExtensions = m.cur.IgnoreExtensions
	}
	m.cur = s
	m.fallbacks = fallbacks
	out := m.cur.clone()
	m.mu.Unlock()
	return out, nil
}

func parseChunkSize(v string) (int, *Fallback) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return DefaultChunkSize, &Fallback{Key: KeyChunkSize, Value: v, Reason: "not an integer"}
	}
	if n < 1 {
		return DefaultChunkSize, &Fallback{Key: KeyChunkSize, Value: v, Reason: "not positive"}
	}
	return n, nil
}

// SetChunkSize changes the chunk budget and saves it at once. A
// non-positive size is replaced by the default.
func (m *Manager) SetChunkSize(ctx context.Context, n int) error {
	var fb *Fallback
	if n < 1 {
		fb = &Fallback{Key: KeyChunkSize, Value: strconv.Itoa(n), Reason: "not positive"}
		n = DefaultChunkSize
	}
	m.mu.Lock()
	m.cur.ChunkSize = n
	if fb != nil {
		m.fallbacks = append(m.fallbacks, *fb)
	}
	m.mu.Unlock()
	return m.store.Set(ctx, KeyChunkSize, strconv.Itoa(n))
}

// SetTemplates changes the prompt templates in memory.
func (m *Manager) SetTemplates(t prompt.Templates) {
	m.mu.Lock()
	m.cur.Templates = t
	m.dirtyTemplates = true
	m.mu.Unlock()
}

// SetLists changes the archive filters in memory.
func (m *Manager) SetLists(blacklist, ignoreExtensions []string) {
	m.mu.Lock()
	m.cur.Blacklist = ParseList(strings.Join(blacklist, ","))
	m.cur.IgnoreExtensions = ParseList(strings.Join(ignoreExtensions, ","))
	m.dirtyLists = true
	m.mu.Unlock()
}

// PersistTemplates saves the four prompt templates.
func (m *Manager) PersistTemplates(ctx context.Context) error {
	t := m.Snapshot().Templates
	for _, kv := range [][2]string{
		{KeyBasePrompt, t.Base},
		{KeySinglePrompt, t.Single},
		{KeyMultiPrompt, t.Multi},
		{KeyLastPrompt, t.Last},
	} {
		if err := m.store.Set(ctx, kv[0], kv[1]); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.dirtyTemplates = m.cur.Templates != t
	m.mu.Unlock()
	return nil
}

// PersistLists saves the blacklist and the ignore-list.
func (m *Manager) PersistLists(ctx context.Context) error {
	s := m.Snapshot()
	if err := m.store.Set(ctx, KeyBlacklist, FormatList(s.Blacklist)); err != nil {
		return err
	}
	if err := m.store.Set(ctx, KeyIgnoreExtensions, FormatList(s.IgnoreExtensions)); err != nil {
		return err
	}
	m.mu.Lock()
	m.dirtyLists = !slices.Equal(m.cur.Blacklist, s.Blacklist) || !slices.Equal(m.cur.IgnoreExtensions, s.IgnoreExtensions)
	m.mu.Unlock()
	return nil
}
