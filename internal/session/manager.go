// Package session owns per-conversation mutable state, keyed by session id.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avezina/tripd/internal/domain"
)

type entry struct {
	turnMu  sync.Mutex // serializes turns for this session
	state   domain.SessionState
	touched time.Time
}

// Manager holds one active SessionState per session id. All mutation goes
// through the manager; callers only ever see copies.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	now      func() time.Time
}

// NewManager creates a session manager. ttl <= 0 disables expiry.
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (m *Manager) getOrCreate(sessionID, userID string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if ok && m.expired(e) {
		delete(m.sessions, sessionID)
		ok = false
	}
	if !ok {
		now := m.now()
		e = &entry{
			state: domain.SessionState{
				SessionID: sessionID,
				UserID:    userID,
				Node:      domain.NodeCollecting,
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		m.sessions[sessionID] = e
	}
	if userID != "" && e.state.UserID == "" {
		e.state.UserID = userID
	}
	e.touched = m.now()
	return e
}

func (m *Manager) expired(e *entry) bool {
	return m.ttl > 0 && m.now().Sub(e.touched) > m.ttl
}

// GetOrCreate returns a copy of the session state, creating it on first use.
func (m *Manager) GetOrCreate(sessionID, userID string) domain.SessionState {
	e := m.getOrCreate(sessionID, userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	return e.state.Clone()
}

// AcquireTurn serializes turn processing for one session: a second turn
// arriving before the first completes queues behind it. Returns the unlock.
func (m *Manager) AcquireTurn(sessionID, userID string) func() {
	e := m.getOrCreate(sessionID, userID)
	e.turnMu.Lock()
	return e.turnMu.Unlock
}

// ApplySlots merges newly extracted slot values into the session. Merge
// semantics live on domain.Slots; applying the same input twice yields the
// same state as applying once.
func (m *Manager) ApplySlots(sessionID string, in domain.Slots) domain.SessionState {
	e := m.getOrCreate(sessionID, "")
	m.mu.Lock()
	defer m.mu.Unlock()
	e.state.Slots.Merge(in)
	e.state.UpdatedAt = m.now()
	return e.state.Clone()
}

// AppendTurn records a conversation turn.
func (m *Manager) AppendTurn(sessionID, role, text string) {
	e := m.getOrCreate(sessionID, "")
	m.mu.Lock()
	defer m.mu.Unlock()
	e.state.Turns = append(e.state.Turns, domain.Turn{Role: role, Text: text, Timestamp: m.now()})
	e.state.UpdatedAt = m.now()
}

// SetNode advances the graph node and clarification flag for the session.
func (m *Manager) SetNode(sessionID string, node domain.GraphNode, pendingClarification bool) {
	e := m.getOrCreate(sessionID, "")
	m.mu.Lock()
	defer m.mu.Unlock()
	e.state.Node = node
	e.state.PendingClarification = pendingClarification
	e.state.UpdatedAt = m.now()
}

// SetPlan stores the latest generated plan for follow-up turns.
func (m *Manager) SetPlan(sessionID string, plan *domain.ItineraryPlan) {
	e := m.getOrCreate(sessionID, "")
	m.mu.Lock()
	defer m.mu.Unlock()
	if plan == nil {
		e.state.LastPlan = nil
	} else {
		p := plan.Clone()
		e.state.LastPlan = &p
	}
	e.state.UpdatedAt = m.now()
}

// Clear resets the session to initial state. Clearing a session does not
// touch preference records.
func (m *Manager) Clear(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	now := m.now()
	e.state = domain.SessionState{
		SessionID: sessionID,
		UserID:    e.state.UserID,
		Node:      domain.NodeCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	e.touched = now
}

// Snapshot returns a read-only copy for the debug surface.
func (m *Manager) Snapshot(sessionID string) (domain.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok || m.expired(e) {
		return domain.SessionState{}, domain.ErrSessionNotFound
	}
	return e.state.Clone(), nil
}

// StartReaper evicts expired sessions on the interval until ctx is done.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.reap(); n > 0 {
					slog.Info("evicted expired sessions", "count", n)
				}
			}
		}
	}()
}

func (m *Manager) reap() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.sessions {
		if m.expired(e) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
