package session

import (
	"encoding/json"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/ductor/ductor/internal/atomicfile"
	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/log"
)

// Store manages session lifecycle with JSON file persistence. All
// operations re-read the file so writes from other operations are never
// clobbered; a single mutex serializes read-merge-write cycles.
type Store struct {
	path string
	conf *config.Store
	mu   sync.Mutex

	now func() time.Time
}

// NewStore creates a session store persisting at path.
func NewStore(path string, conf *config.Store) *Store {
	return &Store{path: path, conf: conf, now: time.Now}
}

// Resolve returns the chat's session, reusing it when fresh and
// rotating when stale. The bool reports whether the active provider
// starts without a session id (a new thread for the CLI).
func (s *Store) Resolve(chatID int64, provider, model string) (*Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.conf.Snapshot()
	if provider == "" {
		provider = cfg.Provider
	}
	if model == "" {
		model = cfg.Model
	}

	sessions := s.load()
	key := strconv.FormatInt(chatID, 10)
	existing := sessions[key]

	if existing != nil && s.isFresh(existing, cfg) {
		changed := false
		if existing.Provider != provider {
			log.Info(log.CatSession, "provider switch",
				"from", existing.Provider, "to", provider)
			existing.Provider = provider
			changed = true
		}
		if existing.Model != model {
			existing.Model = model
			changed = true
		}
		if changed {
			if err := s.save(sessions); err != nil {
				return nil, false, err
			}
		}
		return existing.Clone(), existing.SessionID() == "", nil
	}

	now := s.now()
	fresh := &Session{
		ChatID:           chatID,
		Provider:         provider,
		Model:            model,
		CreatedAt:        now,
		LastActive:       now,
		ProviderSessions: make(map[string]*ProviderSession),
	}
	sessions[key] = fresh
	if err := s.save(sessions); err != nil {
		return nil, false, err
	}
	log.Info(log.CatSession, "session created", "provider", provider, "model", model)
	return fresh.Clone(), true, nil
}

// Get returns the chat's session without creating one, or nil.
func (s *Store) Get(chatID int64) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.load()[strconv.FormatInt(chatID, 10)]
	if existing == nil {
		return nil
	}
	return existing.Clone()
}

// Reset force-creates a new session for the chat, dropping every
// provider slot.
func (s *Store) Reset(chatID int64, provider, model string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.conf.Snapshot()
	if provider == "" {
		provider = cfg.Provider
	}
	if model == "" {
		model = cfg.Model
	}

	sessions := s.load()
	now := s.now()
	fresh := &Session{
		ChatID:           chatID,
		Provider:         provider,
		Model:            model,
		CreatedAt:        now,
		LastActive:       now,
		ProviderSessions: make(map[string]*ProviderSession),
	}
	sessions[strconv.FormatInt(chatID, 10)] = fresh
	if err := s.save(sessions); err != nil {
		return nil, err
	}
	log.Info(log.CatSession, "session reset", "chat_id", chatID)
	return fresh.Clone(), nil
}

// ResetProvider clears one provider's slot and makes it the active
// provider, keeping all other slots intact.
func (s *Store) ResetProvider(chatID int64, provider, model string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.load()
	key := strconv.FormatInt(chatID, 10)
	current := sessions[key]
	now := s.now()
	if current == nil {
		current = &Session{
			ChatID:           chatID,
			Provider:         provider,
			Model:            model,
			CreatedAt:        now,
			LastActive:       now,
			ProviderSessions: make(map[string]*ProviderSession),
		}
	} else {
		current.ClearProvider(provider)
		current.Provider = provider
		current.Model = model
		current.LastActive = now
	}
	sessions[key] = current
	if err := s.save(sessions); err != nil {
		return nil, err
	}
	log.Info(log.CatSession, "provider session reset", "provider", provider, "model", model)
	return current.Clone(), nil
}

// Update merges the caller's session snapshot with the persisted state,
// bumps the active provider's counters, and persists. Counters merge
// via max so a stale snapshot never regresses them; a non-empty
// incoming session id always wins. The caller's session is updated in
// place with the persisted aggregates.
func (s *Store) Update(sess *Session, costUSD float64, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.load()
	key := strconv.FormatInt(sess.ChatID, 10)
	current := sessions[key]
	if current == nil {
		current = sess.Clone()
	} else {
		mergeProviderSessions(current, sess)
		current.Provider = sess.Provider
		current.Model = sess.Model
	}

	current.LastActive = s.now()
	slot := current.Active()
	slot.MessageCount++
	slot.TotalCostUSD += costUSD
	slot.TotalTokens += tokens

	sessions[key] = current
	if err := s.save(sessions); err != nil {
		return err
	}

	// Sync the caller's reference with the persisted aggregates.
	merged := current.Clone()
	sess.Provider = merged.Provider
	sess.Model = merged.Model
	sess.LastActive = merged.LastActive
	sess.ProviderSessions = merged.ProviderSessions
	return nil
}

// SyncTarget persists a provider/model change without touching the
// activity counters or LastActive.
func (s *Store) SyncTarget(sess *Session, provider, model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := s.load()
	key := strconv.FormatInt(sess.ChatID, 10)
	current := sessions[key]
	if current == nil {
		return nil
	}

	changed := false
	if provider != "" && current.Provider != provider {
		current.Provider = provider
		changed = true
	}
	if model != "" && current.Model != model {
		current.Model = model
		changed = true
	}
	if !changed {
		return nil
	}

	sessions[key] = current
	if err := s.save(sessions); err != nil {
		return err
	}
	sess.Provider = current.Provider
	sess.Model = current.Model
	return nil
}

// mergeProviderSessions folds the incoming snapshot's slots into
// current without letting stale counters regress.
func mergeProviderSessions(current, incoming *Session) {
	if current.ProviderSessions == nil {
		current.ProviderSessions = make(map[string]*ProviderSession)
	}
	for provider, slot := range incoming.ProviderSessions {
		existing := current.ProviderSessions[provider]
		if existing == nil {
			copied := *slot
			current.ProviderSessions[provider] = &copied
			continue
		}
		if slot.SessionID != "" {
			existing.SessionID = slot.SessionID
		}
		existing.MessageCount = max(existing.MessageCount, slot.MessageCount)
		existing.TotalCostUSD = max(existing.TotalCostUSD, slot.TotalCostUSD)
		existing.TotalTokens = max(existing.TotalTokens, slot.TotalTokens)
	}
}

// isFresh applies the rotation rules: message cap, idle timeout, and
// the daily reset boundary in the user's timezone.
func (s *Store) isFresh(sess *Session, cfg *config.Config) bool {
	now := s.now()

	if cfg.Session.MaxMessages > 0 && sess.MessageCount() >= cfg.Session.MaxMessages {
		log.Debug(log.CatSession, "session stale", "reason", "max_messages")
		return false
	}

	if cfg.Session.IdleTimeoutMinutes > 0 {
		if now.Sub(sess.LastActive) >= cfg.Session.IdleTimeout() {
			log.Debug(log.CatSession, "session stale", "reason", "idle_timeout")
			return false
		}
	}

	if cfg.Session.DailyReset.Enabled {
		loc := config.ResolveLocation(cfg.Timezone)
		nowLocal := now.In(loc)
		lastLocal := sess.LastActive.In(loc)
		todayReset := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(),
			cfg.Session.DailyReset.Hour, 0, 0, 0, loc)

		// Before today's boundary the governing reset is yesterday's.
		boundary := todayReset
		if nowLocal.Before(todayReset) {
			boundary = todayReset.AddDate(0, 0, -1)
		}
		if lastLocal.Before(boundary) {
			log.Debug(log.CatSession, "session stale", "reason", "daily_reset")
			return false
		}
	}

	return true
}

func (s *Store) load() map[string]*Session {
	sessions := make(map[string]*Session)
	content, err := os.ReadFile(s.path)
	if err != nil {
		return sessions
	}
	var records map[string]sessionRecord
	if err := json.Unmarshal(content, &records); err != nil {
		log.Warn(log.CatSession, "corrupt sessions file, starting fresh", "path", s.path)
		return sessions
	}
	for key, rec := range records {
		sessions[key] = rec.toSession()
	}
	return sessions
}

func (s *Store) save(sessions map[string]*Session) error {
	records := make(map[string]sessionRecord, len(sessions))
	for key, sess := range sessions {
		records[key] = recordOf(sess)
	}
	return atomicfile.WriteJSON(s.path, records)
}
