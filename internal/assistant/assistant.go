// Package assistant is the conversational facade: it serializes turns per
// session, routes intents, runs the planning graph, and writes extracted
// preferences in the background while keeping reads consistent.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/planner"
	"github.com/avezina/tripd/internal/prefstore"
	"github.com/avezina/tripd/internal/router"
	"github.com/avezina/tripd/internal/session"
	"github.com/avezina/tripd/internal/tools"
)

// TurnOutput is one turn's result as handed to the API and CLI layers.
type TurnOutput struct {
	Reply         string                `json:"reply"`
	UpdatedSlots  domain.Slots          `json:"updated_slots"`
	Node          domain.GraphNode      `json:"node"`
	Trace         []domain.GraphNode    `json:"trace,omitempty"`
	Plan          *domain.ItineraryPlan `json:"plan,omitempty"`
	Alerts        []domain.WeatherAlert `json:"alerts,omitempty"`
	Clarification bool                  `json:"clarification,omitempty"`
	Degraded      []string              `json:"degraded,omitempty"`
	Intent        router.Intent         `json:"intent"`
}

// Assistant owns turn processing.
type Assistant struct {
	sessions *session.Manager
	prefs    prefstore.Store
	route    *router.Router
	graph    *planner.Graph
	health   *tools.Health

	// inflight tracks background preference writes per user so profile
	// reads and purges can wait for read-your-writes consistency.
	mu       sync.Mutex
	cond     *sync.Cond
	inflight map[string]int

	writeTimeout time.Duration
}

// New creates the assistant facade.
func New(sessions *session.Manager, prefs prefstore.Store, route *router.Router, graph *planner.Graph, health *tools.Health) *Assistant {
	a := &Assistant{
		sessions:     sessions,
		prefs:        prefs,
		route:        route,
		graph:        graph,
		health:       health,
		inflight:     make(map[string]int),
		writeTimeout: 10 * time.Second,
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Chat processes one user turn. Turns on the same session run strictly one
// at a time; turns on different sessions run concurrently.
func (a *Assistant) Chat(ctx context.Context, sessionID, userID, text string) (TurnOutput, error) {
	return a.ChatStream(ctx, sessionID, userID, text, nil)
}

// ChatStream is Chat with a progress callback, invoked from the processing
// goroutine as each graph node is entered.
func (a *Assistant) ChatStream(ctx context.Context, sessionID, userID, text string, onNode func(domain.GraphNode)) (TurnOutput, error) {
	if strings.TrimSpace(text) == "" {
		return TurnOutput{}, fmt.Errorf("empty message: %w", domain.ErrInvalidSlot)
	}

	release := a.sessions.AcquireTurn(sessionID, userID)
	defer release()

	a.sessions.AppendTurn(sessionID, "user", text)
	cls := a.route.Classify(ctx, text)

	var out TurnOutput
	switch cls.Intent {
	case router.IntentAskState:
		out = a.stateReply(sessionID, userID)
	case router.IntentAskProfile:
		out = a.profileReply(ctx, userID)
	case router.IntentClearMemory:
		a.sessions.Clear(sessionID)
		out = TurnOutput{
			Reply:  "好的，会话已清空，我们重新开始。想去哪里玩？",
			Node:   domain.NodeCollecting,
			Intent: router.IntentClearMemory,
		}
	case router.IntentSmallTalk:
		out = TurnOutput{
			Reply:  "我是你的旅行规划助手，告诉我想去的城市和天数，我来排行程。",
			Node:   a.currentNode(sessionID, userID),
			Intent: router.IntentSmallTalk,
		}
	default:
		out = a.plan(ctx, sessionID, userID, text, cls, onNode)
	}

	a.sessions.AppendTurn(sessionID, "assistant", out.Reply)
	return out, nil
}

func (a *Assistant) plan(ctx context.Context, sessionID, userID, text string, cls router.Classification, onNode func(domain.GraphNode)) TurnOutput {
	state := a.sessions.ApplySlots(sessionID, cls.Slots)

	res := a.graph.Run(ctx, planner.Input{State: state, Query: text, OnNode: onNode})

	a.sessions.SetNode(sessionID, res.Node, res.Clarification)
	if res.Plan != nil {
		a.sessions.SetPlan(sessionID, res.Plan)
	}

	// Preference extraction never blocks the reply.
	a.extractPreferences(userID, text, cls.Slots)

	degraded := res.Degraded
	if cls.Degraded {
		degraded = appendUnique(degraded, "router")
	}
	return TurnOutput{
		Reply:         res.Reply,
		UpdatedSlots:  state.Slots,
		Node:          res.Node,
		Trace:         res.Trace,
		Plan:          res.Plan,
		Alerts:        res.Alerts,
		Clarification: res.Clarification,
		Degraded:      degraded,
		Intent:        router.IntentPlanRequest,
	}
}

// prefMarkers gate which turns are worth persisting as durable preferences.
var prefMarkers = []string{"喜欢", "不喜欢", "讨厌", "偏好", "想要", "不要", "习惯", "prefer", "like", "hate", "avoid"}

// extractPreferences persists style tags and explicit preference statements
// in the background, tracking the write so reads can wait for it.
func (a *Assistant) extractPreferences(userID, text string, slots domain.Slots) {
	if a.prefs == nil || userID == "" {
		return
	}

	type stmt struct {
		text string
		tags []string
	}
	var stmts []stmt
	for _, style := range slots.Styles {
		stmts = append(stmts, stmt{text: "偏好" + style + "风格的行程", tags: []string{"style", style}})
	}
	lower := strings.ToLower(text)
	for _, m := range prefMarkers {
		if strings.Contains(lower, m) {
			stmts = append(stmts, stmt{text: strings.TrimSpace(text), tags: []string{"stated"}})
			break
		}
	}
	if len(stmts) == 0 {
		return
	}

	a.beginWrite(userID)
	go func() {
		defer a.endWrite(userID)
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		defer cancel()
		for _, s := range stmts {
			if _, err := a.prefs.Upsert(ctx, userID, s.text, s.tags); err != nil {
				slog.Warn("background preference write failed", "user_id", userID, "error", err)
			}
		}
	}()
}

func (a *Assistant) beginWrite(userID string) {
	a.mu.Lock()
	a.inflight[userID]++
	a.mu.Unlock()
}

func (a *Assistant) endWrite(userID string) {
	a.mu.Lock()
	a.inflight[userID]--
	if a.inflight[userID] <= 0 {
		delete(a.inflight, userID)
	}
	a.cond.Broadcast()
	a.mu.Unlock()
}

// waitWrites blocks until every background write for the user (or, with
// empty userID, for all users) has settled.
func (a *Assistant) waitWrites(userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if userID == "" {
			if len(a.inflight) == 0 {
				return
			}
		} else if a.inflight[userID] == 0 {
			return
		}
		a.cond.Wait()
	}
}

// InspectState returns the session snapshot for debugging.
func (a *Assistant) InspectState(sessionID string) (domain.SessionState, error) {
	return a.sessions.Snapshot(sessionID)
}

// InspectProfile returns the user's stored preferences, waiting for any
// in-flight background writes first so a just-stated preference is visible.
func (a *Assistant) InspectProfile(ctx context.Context, userID string) ([]domain.PreferenceRecord, error) {
	a.waitWrites(userID)
	return a.prefs.Profile(ctx, userID)
}

// Purge removes stored preferences for the scope. Pending writes for the
// scope settle first so none survive the purge.
func (a *Assistant) Purge(ctx context.Context, scope, token string) error {
	if scope == domain.PurgeScopeAll {
		a.waitWrites("")
	} else {
		a.waitWrites(scope)
	}
	return a.prefs.Purge(ctx, scope, token)
}

// ClearSession resets one session's conversational state. Stored
// preferences are unaffected.
func (a *Assistant) ClearSession(sessionID string) {
	a.sessions.Clear(sessionID)
}

// Health reports currently degraded components, empty when all is well.
func (a *Assistant) Health() []string {
	if a.health == nil {
		return nil
	}
	return a.health.Degraded()
}

func (a *Assistant) currentNode(sessionID, userID string) domain.GraphNode {
	st := a.sessions.GetOrCreate(sessionID, userID)
	return st.Node
}

func (a *Assistant) stateReply(sessionID, userID string) TurnOutput {
	st := a.sessions.GetOrCreate(sessionID, userID)

	var b strings.Builder
	fmt.Fprintf(&b, "当前节点：%s\n", st.Node)
	if len(st.Slots.Cities) > 0 {
		fmt.Fprintf(&b, "城市：%s\n", strings.Join(st.Slots.Cities, "、"))
	}
	if st.Slots.Days > 0 {
		fmt.Fprintf(&b, "天数：%d\n", st.Slots.Days)
	}
	if st.Slots.Budget > 0 {
		fmt.Fprintf(&b, "预算：%.0f\n", st.Slots.Budget)
	}
	if len(st.Slots.Styles) > 0 {
		fmt.Fprintf(&b, "风格：%s\n", strings.Join(st.Slots.Styles, "、"))
	}
	fmt.Fprintf(&b, "对话轮数：%d", len(st.Turns))

	return TurnOutput{Reply: b.String(), UpdatedSlots: st.Slots, Node: st.Node, Intent: router.IntentAskState}
}

func (a *Assistant) profileReply(ctx context.Context, userID string) TurnOutput {
	recs, err := a.InspectProfile(ctx, userID)
	node := domain.NodeCollecting
	if err != nil {
		slog.Warn("profile read failed", "user_id", userID, "error", err)
		return TurnOutput{Reply: "偏好画像暂时读不出来，稍后再试。", Node: node, Intent: router.IntentAskProfile}
	}
	if len(recs) == 0 {
		return TurnOutput{Reply: "还没有记录到你的偏好，聊几句行程我就能学到。", Node: node, Intent: router.IntentAskProfile}
	}

	groups := make(map[string][]domain.PreferenceRecord)
	for _, r := range recs {
		key := "other"
		if len(r.Tags) > 0 {
			key = r.Tags[0]
		}
		groups[key] = append(groups[key], r)
	}

	var b strings.Builder
	b.WriteString("记录到的偏好：\n")
	for _, h := range profileHeadings {
		writeProfileGroup(&b, h.label, groups[h.tag])
		delete(groups, h.tag)
	}
	rest := make([]string, 0, len(groups))
	for tag := range groups {
		rest = append(rest, tag)
	}
	sort.Strings(rest)
	for _, tag := range rest {
		writeProfileGroup(&b, tag, groups[tag])
	}
	return TurnOutput{Reply: b.String(), Node: node, Intent: router.IntentAskProfile}
}

// profileHeadings orders the profile display; tags outside the table render
// after these under their raw name.
var profileHeadings = []struct {
	tag   string
	label string
}{
	{"style", "风格偏好"},
	{"stated", "明确表达"},
	{"other", "其他"},
}

func writeProfileGroup(b *strings.Builder, label string, recs []domain.PreferenceRecord) {
	if len(recs) == 0 {
		return
	}
	fmt.Fprintf(b, "【%s】\n", label)
	for _, r := range recs {
		fmt.Fprintf(b, "  - %s（权重 %.0f）\n", r.Statement, r.Weight)
	}
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}
