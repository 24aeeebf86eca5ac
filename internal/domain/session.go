// Package domain contains core domain types for the trip planning assistant.
package domain

import (
	"time"
)

// GraphNode identifies a state in the planning graph.
type GraphNode string

const (
	NodeCollecting GraphNode = "COLLECTING"
	NodeEnriching  GraphNode = "ENRICHING"
	NodeGenerating GraphNode = "GENERATING"
	NodeRiskCheck  GraphNode = "RISK_CHECK"
	NodeAlerting   GraphNode = "ALERTING"
	NodeResponding GraphNode = "RESPONDING"
)

// Turn is one message within a session, either from the user or the assistant.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Slots holds the structured fields extracted from free text. Zero values
// mean "unset": an empty city list, Days == 0, Budget == 0.
type Slots struct {
	Cities []string `json:"cities,omitempty"`
	Days   int      `json:"days,omitempty"`
	Budget float64  `json:"budget,omitempty"`
	Styles []string `json:"styles,omitempty"`
}

// Merge folds newly extracted slot values into s. Non-zero incoming values
// overwrite, zero values are no-ops, so a known day count or budget is never
// regressed to unset. Styles accumulate as an ordered set. Merge is
// idempotent: applying the same input twice equals applying it once.
func (s *Slots) Merge(in Slots) {
	if len(in.Cities) > 0 {
		s.Cities = append([]string(nil), in.Cities...)
	}
	if in.Days > 0 {
		s.Days = in.Days
	}
	if in.Budget > 0 {
		s.Budget = in.Budget
	}
	for _, tag := range in.Styles {
		if tag == "" {
			continue
		}
		seen := false
		for _, have := range s.Styles {
			if have == tag {
				seen = true
				break
			}
		}
		if !seen {
			s.Styles = append(s.Styles, tag)
		}
	}
}

// Complete reports whether the graph has enough to start enriching:
// at least one city and a known day count.
func (s *Slots) Complete() bool {
	return len(s.Cities) > 0 && s.Days > 0
}

// SessionState is the per-conversation mutable state. It is owned exclusively
// by the session manager; callers receive copies.
type SessionState struct {
	SessionID            string         `json:"session_id"`
	UserID               string         `json:"user_id"`
	Turns                []Turn         `json:"turns"`
	Slots                Slots          `json:"slots"`
	Node                 GraphNode      `json:"node"`
	PendingClarification bool           `json:"pending_clarification"`
	LastPlan             *ItineraryPlan `json:"last_plan,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Clone returns a deep copy safe to hand outside the session manager.
func (st *SessionState) Clone() SessionState {
	out := *st
	out.Turns = append([]Turn(nil), st.Turns...)
	out.Slots.Cities = append([]string(nil), st.Slots.Cities...)
	out.Slots.Styles = append([]string(nil), st.Slots.Styles...)
	if st.LastPlan != nil {
		p := st.LastPlan.Clone()
		out.LastPlan = &p
	}
	return out
}
