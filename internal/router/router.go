// Package router classifies user turns into a fixed intent set and extracts
// slot fragments for the session state manager.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/tools"
)

// Intent is one of the fixed router labels.
type Intent string

const (
	IntentPlanRequest Intent = "new_or_update_request"
	IntentAskState    Intent = "ask_state"
	IntentAskProfile  Intent = "ask_profile"
	IntentClearMemory Intent = "clear_memory"
	IntentSmallTalk   Intent = "small_talk"
)

// Classification is the router's verdict for one turn: a label plus any slot
// fragments found in the text. The router has no other side effects.
type Classification struct {
	Intent     Intent
	Slots      domain.Slots
	Confidence float64
	// Degraded is set when the model backend was unreachable and the
	// deterministic fallback produced the label.
	Degraded bool
}

// Router labels turns with the completion tool, constrained to the fixed
// label set, and falls back to keyword/pattern matching when the model
// backend is degraded so the system stays usable.
type Router struct {
	llm tools.Completer
}

// New creates a router. llm may be nil to force deterministic classification.
func New(llm tools.Completer) *Router {
	return &Router{llm: llm}
}

const classifySystem = `You label travel-assistant messages. Reply with one JSON object only:
{"intent": "<new_or_update_request|ask_state|ask_profile|clear_memory|small_talk>",
 "cities": ["<canonical English city names, in mention order>"],
 "days": <int or 0>, "budget": <number or 0>, "styles": ["<short lowercase tags like quiet, food>"]}
new_or_update_request covers any trip planning, itinerary change, or added
constraint. ask_state and ask_profile are debug questions about the current
session or stored preferences. clear_memory asks to reset the conversation.
Everything else is small_talk. Extract only what the message states.`

// Classify labels one user turn.
func (r *Router) Classify(ctx context.Context, text string) Classification {
	if r.llm != nil {
		res := r.llm.Complete(ctx, tools.CompletionRequest{
			System:      classifySystem,
			User:        text,
			Temperature: 0,
			JSON:        true,
		})
		if res.Ok() {
			if c, ok := parseModelLabel(res.Payload); ok {
				// The deterministic extractor backstops slots the
				// model missed; it never overrides the model.
				mergeModelSlots(&c.Slots, extractSlots(text))
				return c
			}
			slog.Warn("unparseable classification from model, using fallback")
		}
	}

	c := fallbackClassify(text)
	c.Degraded = true
	return c
}

type modelLabel struct {
	Intent string   `json:"intent"`
	Cities []string `json:"cities"`
	Days   int      `json:"days"`
	Budget float64  `json:"budget"`
	Styles []string `json:"styles"`
}

func parseModelLabel(raw string) (Classification, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var parsed modelLabel
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return Classification{}, false
	}

	intent := Intent(parsed.Intent)
	switch intent {
	case IntentPlanRequest, IntentAskState, IntentAskProfile, IntentClearMemory, IntentSmallTalk:
	default:
		return Classification{}, false
	}

	cities := make([]string, 0, len(parsed.Cities))
	for _, c := range parsed.Cities {
		if ref, ok := tools.LookupCity(c); ok {
			cities = append(cities, ref.Name)
		} else if c = strings.TrimSpace(c); c != "" {
			cities = append(cities, c)
		}
	}

	return Classification{
		Intent: intent,
		Slots: domain.Slots{
			Cities: cities,
			Days:   parsed.Days,
			Budget: parsed.Budget,
			Styles: normalizeStyles(parsed.Styles),
		},
		Confidence: 0.9,
	}, true
}

// mergeModelSlots lets deterministic extraction fill fields the model left
// unset without overriding what the model found.
func mergeModelSlots(into *domain.Slots, fb domain.Slots) {
	if len(into.Cities) == 0 {
		into.Cities = fb.Cities
	}
	if into.Days == 0 {
		into.Days = fb.Days
	}
	if into.Budget == 0 {
		into.Budget = fb.Budget
	}
	if len(into.Styles) == 0 {
		into.Styles = fb.Styles
	}
}

// Deterministic fallback, mirroring the CLI-equivalent commands so the
// assistant stays usable when the model backend is down.

var (
	daysPattern   = regexp.MustCompile(`(\d+)\s*(?:天|日游|[-\s]?day)`)
	budgetPattern = regexp.MustCompile(`(?:预算|人均|budget\s*(?:of)?\s*\$?|¥|￥)\s*(\d+(?:\.\d+)?)`)
	yuanPattern   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:元|块|rmb|yuan)`)
)

var styleTags = []struct {
	keywords []string
	tag      string
}{
	{[]string{"安静", "清净", "人少", "小众", "quiet"}, "quiet"},
	{[]string{"热闹", "繁华", "人气", "lively"}, "lively"},
	{[]string{"美食", "好吃", "food"}, "food"},
	{[]string{"文艺", "艺术", "看展", "artsy", "museum"}, "artsy"},
	{[]string{"亲子", "孩子", "family"}, "family"},
	{[]string{"拍照", "打卡", "photo"}, "photo"},
	{[]string{"徒步", "爬山", "登山", "hike", "hiking"}, "hiking"},
	{[]string{"经济", "便宜", "性价比", "省钱", "cheap"}, "value"},
	{[]string{"高端", "豪华", "luxury"}, "luxury"},
	{[]string{"轻松", "慢节奏", "relax"}, "relaxed"},
}

func fallbackClassify(text string) Classification {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch {
	case lower == "/state" || lower == "state" || strings.Contains(lower, "会话状态") || strings.Contains(lower, "当前状态"):
		return Classification{Intent: IntentAskState, Confidence: 1}
	case lower == "/profile" || lower == "profile" || strings.Contains(lower, "画像") || strings.Contains(lower, "我的偏好"):
		return Classification{Intent: IntentAskProfile, Confidence: 1}
	case strings.HasPrefix(lower, "/clear") || strings.Contains(lower, "清空会话") || strings.Contains(lower, "重新开始"):
		return Classification{Intent: IntentClearMemory, Confidence: 1}
	}

	slots := extractSlots(text)

	planWords := []string{
		"行程", "规划", "旅游", "旅行", "玩", "游", "安排", "攻略",
		"trip", "plan", "itinerary", "travel", "visit",
	}
	isPlan := slots.Days > 0 || len(slots.Cities) > 0
	if !isPlan {
		for _, w := range planWords {
			if strings.Contains(lower, w) {
				isPlan = true
				break
			}
		}
	}

	if isPlan {
		return Classification{Intent: IntentPlanRequest, Slots: slots, Confidence: 0.6}
	}
	return Classification{Intent: IntentSmallTalk, Slots: slots, Confidence: 0.5}
}

// extractSlots pulls cities, day count, budget and style tags out of free
// text using the static city table and a few patterns.
func extractSlots(text string) domain.Slots {
	var slots domain.Slots
	lower := strings.ToLower(text)

	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	seen := map[string]bool{}
	for _, name := range tools.KnownCityNames() {
		idx := strings.Index(lower, strings.ToLower(name))
		if idx < 0 {
			continue
		}
		ref, ok := tools.LookupCity(name)
		if !ok || seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		hits = append(hits, hit{pos: idx, name: ref.Name})
	}
	// Preserve mention order.
	for i := 0; i < len(hits); i++ {
		for j := i + 1; j < len(hits); j++ {
			if hits[j].pos < hits[i].pos {
				hits[i], hits[j] = hits[j], hits[i]
			}
		}
	}
	for _, h := range hits {
		slots.Cities = append(slots.Cities, h.name)
	}

	if m := daysPattern.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			slots.Days = n
		}
	}
	if m := budgetPattern.FindStringSubmatch(lower); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil && f > 0 {
			slots.Budget = f
		}
	} else if m := yuanPattern.FindStringSubmatch(lower); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil && f > 0 {
			slots.Budget = f
		}
	}

	for _, st := range styleTags {
		for _, kw := range st.keywords {
			if strings.Contains(lower, kw) {
				slots.Styles = append(slots.Styles, st.tag)
				break
			}
		}
	}
	return slots
}

func normalizeStyles(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
