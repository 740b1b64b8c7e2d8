package webhook

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ductor/ductor/internal/atomicfile"
	"github.com/ductor/ductor/internal/log"
)

// Manager owns webhooks.json: hook CRUD, the global bearer token, trigger
// bookkeeping, and external-edit detection via file mtime.
type Manager struct {
	path string

	mu    sync.Mutex
	token string
	hooks map[string]*Entry
	mtime time.Time // baseline; our own writes refresh it
}

type hooksFile struct {
	AuthToken string            `json:"auth_token"`
	Hooks     map[string]*Entry `json:"hooks"`
}

// NewManager loads the hooks file. A missing file yields an empty set; a
// corrupt file is logged and treated as empty rather than failing startup.
func NewManager(path string) *Manager {
	m := &Manager{path: path, hooks: make(map[string]*Entry)}
	m.mu.Lock()
	m.loadLocked()
	m.mu.Unlock()
	return m
}

// Hooks returns all hooks sorted by id.
func (m *Manager) Hooks() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.hooks))
	for _, h := range m.hooks {
		out = append(out, h.Clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Get returns the hook with the given id.
func (m *Manager) Get(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hooks[id]
	if !ok {
		return Entry{}, false
	}
	return h.Clone(), true
}

// Put validates and stores a hook, creating or replacing by id.
func (m *Manager) Put(hook Entry) error {
	if err := hook.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if hook.CreatedAt.IsZero() {
		hook.CreatedAt = now
	}
	hook.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	stored := hook.Clone()
	m.hooks[hook.ID] = &stored
	if err := m.saveLocked(); err != nil {
		return err
	}
	log.Info(log.CatWebhook, "webhook stored", "hook", hook.ID, "kind", hook.Kind)
	return nil
}

// Delete removes the hook with the given id.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hooks[id]; !ok {
		return fmt.Errorf("webhook %q not found", id)
	}
	delete(m.hooks, id)
	return m.saveLocked()
}

// SetEnabled toggles a hook without touching anything else.
func (m *Manager) SetEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hooks[id]
	if !ok {
		return fmt.Errorf("webhook %q not found", id)
	}
	h.Enabled = enabled
	return m.saveLocked()
}

// AuthToken returns the global bearer token, which may be empty until
// EnsureAuthToken has run.
func (m *Manager) AuthToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// EnsureAuthToken generates and persists a random bearer token when none
// is configured, and returns the effective token either way.
func (m *Manager) EnsureAuthToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		return m.token, nil
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating webhook token: %w", err)
	}
	m.token = base64.RawURLEncoding.EncodeToString(raw)
	if err := m.saveLocked(); err != nil {
		m.token = ""
		return "", err
	}
	log.Info(log.CatWebhook, "generated webhook auth token")
	return m.token, nil
}

// RecordTrigger persists the outcome of one dispatch and refreshes the
// mtime baseline so the observer's poll does not mistake our own write
// for a user edit.
func (m *Manager) RecordTrigger(id string, at time.Time, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hooks[id]
	if !ok {
		return fmt.Errorf("webhook %q not found", id)
	}
	ts := at.UTC()
	h.TriggerCount++
	h.LastTriggeredAt = &ts
	h.LastStatus = status
	return m.saveLocked()
}

// ReloadIfChanged re-reads the file when its mtime moved past the
// baseline. Returns true when the hook set was reloaded.
func (m *Manager) ReloadIfChanged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(m.path)
	if err != nil {
		return false
	}
	if !info.ModTime().After(m.mtime) {
		return false
	}

	before := make(map[string]bool, len(m.hooks))
	for id := range m.hooks {
		before[id] = true
	}
	m.loadLocked()

	var added, removed []string
	for id := range m.hooks {
		if !before[id] {
			added = append(added, id)
		}
	}
	for id := range before {
		if _, ok := m.hooks[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	log.Info(log.CatWebhook, "webhooks file changed on disk",
		"hooks", len(m.hooks), "added", added, "removed", removed)
	return true
}

func (m *Manager) loadLocked() {
	m.hooks = make(map[string]*Entry)
	m.token = ""

	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn(log.CatWebhook, "cannot read webhooks file", "path", m.path, "error", err)
		}
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.mtime = info.ModTime()
	}

	var f hooksFile
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn(log.CatWebhook, "corrupt webhooks file, starting empty", "path", m.path, "error", err)
		return
	}
	m.token = f.AuthToken
	for id, h := range f.Hooks {
		if h == nil {
			continue
		}
		if h.ID == "" {
			h.ID = id
		}
		m.hooks[id] = h
	}
}

func (m *Manager) saveLocked() error {
	if err := atomicfile.WriteJSON(m.path, hooksFile{AuthToken: m.token, Hooks: m.hooks}); err != nil {
		return fmt.Errorf("saving webhooks: %w", err)
	}
	if info, err := os.Stat(m.path); err == nil {
		m.mtime = info.ModTime()
	}
	return nil
}
