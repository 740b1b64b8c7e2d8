// Package session persists per-chat agent sessions. Each chat keeps one
// slot per provider so switching models never loses the other provider's
// thread; freshness rules decide when a slot is stale and must be
// rotated.
package session

import "time"

// ProviderSession is the provider-local slice of a chat's session state.
type ProviderSession struct {
	SessionID    string  `json:"session_id"`
	MessageCount int     `json:"message_count"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	TotalTokens  int64   `json:"total_tokens"`
}

// Session is one chat's session state across all providers.
type Session struct {
	ChatID           int64                       `json:"chat_id"`
	Provider         string                      `json:"provider"`
	Model            string                      `json:"model"`
	CreatedAt        time.Time                   `json:"created_at"`
	LastActive       time.Time                   `json:"last_active"`
	ProviderSessions map[string]*ProviderSession `json:"provider_sessions"`
}

// Active returns the slot for the current provider, creating it if
// absent.
func (s *Session) Active() *ProviderSession {
	if s.ProviderSessions == nil {
		s.ProviderSessions = make(map[string]*ProviderSession)
	}
	slot, ok := s.ProviderSessions[s.Provider]
	if !ok {
		slot = &ProviderSession{}
		s.ProviderSessions[s.Provider] = slot
	}
	return slot
}

// SessionID returns the active provider's session id, or empty.
func (s *Session) SessionID() string {
	if slot := s.ProviderSessions[s.Provider]; slot != nil {
		return slot.SessionID
	}
	return ""
}

// MessageCount returns the active provider's message count.
func (s *Session) MessageCount() int {
	if slot := s.ProviderSessions[s.Provider]; slot != nil {
		return slot.MessageCount
	}
	return 0
}

// TotalCostUSD returns the active provider's accumulated cost.
func (s *Session) TotalCostUSD() float64 {
	if slot := s.ProviderSessions[s.Provider]; slot != nil {
		return slot.TotalCostUSD
	}
	return 0
}

// TotalTokens returns the active provider's accumulated tokens.
func (s *Session) TotalTokens() int64 {
	if slot := s.ProviderSessions[s.Provider]; slot != nil {
		return slot.TotalTokens
	}
	return 0
}

// ClearProvider drops one provider's slot, keeping the others.
func (s *Session) ClearProvider(provider string) {
	delete(s.ProviderSessions, provider)
}

// Age reports how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Clone deep-copies the session so callers never share slot pointers
// with the store.
func (s *Session) Clone() *Session {
	out := *s
	out.ProviderSessions = make(map[string]*ProviderSession, len(s.ProviderSessions))
	for provider, slot := range s.ProviderSessions {
		copied := *slot
		out.ProviderSessions[provider] = &copied
	}
	return &out
}

// sessionRecord is the on-disk shape. Besides the current layout it
// carries the flat legacy fields old files used before provider slots
// existed; they migrate into ProviderSessions on load.
type sessionRecord struct {
	ChatID           int64                       `json:"chat_id"`
	Provider         string                      `json:"provider"`
	Model            string                      `json:"model,omitempty"`
	CreatedAt        time.Time                   `json:"created_at"`
	LastActive       time.Time                   `json:"last_active"`
	ProviderSessions map[string]*ProviderSession `json:"provider_sessions"`

	// Legacy flat fields.
	LegacySessionID    string  `json:"session_id,omitempty"`
	LegacyMessageCount int     `json:"message_count,omitempty"`
	LegacyCostUSD      float64 `json:"total_cost_usd,omitempty"`
	LegacyTokens       int64   `json:"total_tokens,omitempty"`
}

func (r sessionRecord) toSession() *Session {
	s := &Session{
		ChatID:           r.ChatID,
		Provider:         r.Provider,
		Model:            r.Model,
		CreatedAt:        r.CreatedAt,
		LastActive:       r.LastActive,
		ProviderSessions: r.ProviderSessions,
	}
	if s.ProviderSessions == nil {
		s.ProviderSessions = make(map[string]*ProviderSession)
		if r.LegacySessionID != "" || r.LegacyMessageCount > 0 || r.LegacyCostUSD > 0 || r.LegacyTokens > 0 {
			s.ProviderSessions[s.Provider] = &ProviderSession{
				SessionID:    r.LegacySessionID,
				MessageCount: r.LegacyMessageCount,
				TotalCostUSD: r.LegacyCostUSD,
				TotalTokens:  r.LegacyTokens,
			}
		}
	}
	return s
}

func recordOf(s *Session) sessionRecord {
	return sessionRecord{
		ChatID:           s.ChatID,
		Provider:         s.Provider,
		Model:            s.Model,
		CreatedAt:        s.CreatedAt,
		LastActive:       s.LastActive,
		ProviderSessions: s.ProviderSessions,
	}
}
