// Package state tracks short-lived per-(user, chat) interaction states for
// multi-turn settings ("send me the new prompt now").
package state

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// TTL is how long an interaction state survives without an answer.
const TTL = 5 * time.Minute

// Interaction state tags. Each carries the rule id after the colon.
const (
	TagAIPrompt             = "set_ai_prompt"
	TagSummaryPrompt        = "set_summary_prompt"
	TagUserInfoTemplate     = "set_userinfo_template"
	TagTimeTemplate         = "set_time_template"
	TagOriginalLinkTemplate = "set_original_link_template"
	TagAddPushChannel       = "add_push_channel"
)

// State is one pending free-text question.
type State struct {
	Tag             string
	RuleID          int64
	AnchorMessageID int64
	Family          string
	expiresAt       time.Time
}

type key struct {
	userID int64
	chatID int64
}

// Manager holds interaction states under a single lock and expires them
// after TTL.
type Manager struct {
	mu     sync.Mutex
	states map[key]State
	now    func() time.Time
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		states: make(map[key]State),
		now:    time.Now,
	}
}

// Set records a pending question for a (user, chat) pair, replacing any
// previous one.
func (m *Manager) Set(userID, chatID int64, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.expiresAt = m.now().Add(TTL)
	m.states[key{userID, chatID}] = s
}

// Take returns and clears the pending state for a (user, chat) pair.
// Expired states are dropped and not returned.
func (m *Manager) Take(userID, chatID int64) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{userID, chatID}
	s, ok := m.states[k]
	if !ok {
		return State{}, false
	}
	delete(m.states, k)
	if m.now().After(s.expiresAt) {
		return State{}, false
	}
	return s, true
}

// Cancel clears the pending state without consuming it.
func (m *Manager) Cancel(userID, chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key{userID, chatID}
	_, ok := m.states[k]
	delete(m.states, k)
	return ok
}

// Run expires stale states until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, s := range m.states {
		if now.After(s.expiresAt) {
			delete(m.states, k)
		}
	}
}

// EncodeTag renders a state tag with its rule id, e.g. "set_ai_prompt:7".
func EncodeTag(tag string, ruleID int64) string {
	return tag + ":" + strconv.FormatInt(ruleID, 10)
}

// DecodeTag splits an encoded tag into its name and rule id.
func DecodeTag(encoded string) (string, int64, bool) {
	tag, idStr, ok := strings.Cut(encoded, ":")
	if !ok {
		return "", 0, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return "", 0, false
	}
	return tag, id, true
}
