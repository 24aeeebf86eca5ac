// Package planner runs the turn pipeline as an explicit state graph:
// COLLECTING, ENRICHING, GENERATING, RISK_CHECK, ALERTING, RESPONDING.
// Each run starts from the session's slot state and walks forward; a turn
// that lacks required slots stops in COLLECTING with a clarification.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/prefstore"
	"github.com/avezina/tripd/internal/risk"
	"github.com/avezina/tripd/internal/tools"
)

// Graph wires the planning pipeline's collaborators.
type Graph struct {
	weather tools.Weather
	geo     tools.Geocoder
	llm     tools.Completer
	prefs   prefstore.Store
	risk    *risk.Evaluator
	maxDays int
	topK    int
	now     func() time.Time
}

// New creates a planning graph. llm may be nil; generation then uses the
// deterministic template path.
func New(weather tools.Weather, geo tools.Geocoder, llm tools.Completer, prefs prefstore.Store, ev *risk.Evaluator, maxDays, topK int) *Graph {
	return &Graph{
		weather: weather,
		geo:     geo,
		llm:     llm,
		prefs:   prefs,
		risk:    ev,
		maxDays: maxDays,
		topK:    topK,
		now:     time.Now,
	}
}

// Input is one turn's view of the session after slot merging.
type Input struct {
	State domain.SessionState
	// Query is the raw user text, used for preference retrieval.
	Query string
	// OnNode, when set, is called as each node is entered. Used by the
	// websocket channel to stream progress.
	OnNode func(domain.GraphNode)
}

// Output is the graph's result for one turn.
type Output struct {
	Reply         string
	Node          domain.GraphNode
	Trace         []domain.GraphNode
	Plan          *domain.ItineraryPlan
	Alerts        []domain.WeatherAlert
	Clarification bool
	// Degraded lists data sources that fell back this turn, e.g. "weather".
	Degraded    []string
	Preferences []domain.PreferenceRecord
}

// Run walks the graph for one turn.
func (g *Graph) Run(ctx context.Context, in Input) Output {
	var out Output
	enter := func(node domain.GraphNode) {
		out.Node = node
		out.Trace = append(out.Trace, node)
		if in.OnNode != nil {
			in.OnNode(node)
		}
	}

	slots := in.State.Slots

	// COLLECTING is entered only while a required slot is missing or out of
	// range: cities before day count, and trips beyond the supported length
	// are refused. A follow-up turn with complete slots resumes at ENRICHING.
	if len(slots.Cities) == 0 || slots.Days <= 0 || slots.Days > g.maxDays {
		enter(domain.NodeCollecting)
		out.Clarification = true
		switch {
		case len(slots.Cities) == 0:
			out.Reply = "想去哪个城市呢？比如北京、上海、杭州都可以。"
		case slots.Days <= 0:
			out.Reply = fmt.Sprintf("去%s计划玩几天呢？", strings.Join(slots.Cities, "、"))
		default:
			out.Reply = fmt.Sprintf("目前最多支持 %d 天的行程规划，要不要把 %d 天拆成几段？", g.maxDays, slots.Days)
		}
		return out
	}

	// ENRICHING: canonical city names, then per-city forecasts. A failed
	// source degrades the plan with a caveat instead of aborting the turn.
	enter(domain.NodeEnriching)
	enriched := g.enrich(ctx, &out, slots)

	// GENERATING
	enter(domain.NodeGenerating)
	prefsRecs := g.retrievePrefs(ctx, in.State.UserID, in.Query, slots)
	out.Preferences = prefsRecs
	plan := g.generate(ctx, slots, enriched, prefsRecs, &out)

	// RISK_CHECK
	enter(domain.NodeRiskCheck)
	forecastDays := make([]domain.WeatherDay, 0, len(plan.Days))
	for _, d := range plan.Days {
		if wd, ok := enriched.dayWeather(d.Day, d.City); ok {
			forecastDays = append(forecastDays, wd)
		}
	}
	out.Alerts = g.risk.Evaluate(forecastDays)

	// ALERTING: regenerate only the flagged days. The original activities
	// stay on the day as the second option.
	if hasFallback(out.Alerts) {
		enter(domain.NodeAlerting)
		g.applyAlerts(&plan, out.Alerts)
	}

	for i := range plan.Days {
		if wd, ok := enriched.dayWeather(plan.Days[i].Day, plan.Days[i].City); ok {
			plan.Days[i].Outfit = outfitFor(wd)
		}
	}

	// RESPONDING
	enter(domain.NodeResponding)
	out.Plan = &plan
	out.Reply = composeReply(&plan, out.Alerts, out.Degraded)
	return out
}

// enrichment carries per-city forecast data keyed by the overall trip day.
type enrichment struct {
	// byCity maps canonical city name to its forecast, indexed by overall
	// day offset (day 1 of the trip is index 0).
	byCity map[string][]domain.WeatherDay
	cities []string
}

// dayWeather returns the forecast entry for trip day n in the given city.
func (e *enrichment) dayWeather(day int, city string) (domain.WeatherDay, bool) {
	fc := e.byCity[city]
	idx := day - 1
	if idx < 0 || idx >= len(fc) {
		return domain.WeatherDay{}, false
	}
	return fc[idx], true
}

func (g *Graph) enrich(ctx context.Context, out *Output, slots domain.Slots) *enrichment {
	e := &enrichment{byCity: make(map[string][]domain.WeatherDay)}

	for _, raw := range slots.Cities {
		name := raw
		res := g.geo.Resolve(ctx, raw)
		switch res.Status {
		case tools.StatusSuccess:
			name = res.Payload.Name
		default:
			slog.Warn("geocode degraded", "city", raw, "reason", res.Reason)
			markDegraded(out, "geocoder")
		}
		e.cities = append(e.cities, name)

		fc := g.weather.Forecast(ctx, name, slots.Days)
		switch fc.Status {
		case tools.StatusSuccess:
			e.byCity[name] = fc.Payload
		default:
			slog.Warn("weather degraded", "city", name, "reason", fc.Reason)
			markDegraded(out, "weather")
		}
	}
	return e
}

func (g *Graph) retrievePrefs(ctx context.Context, userID, query string, slots domain.Slots) []domain.PreferenceRecord {
	if g.prefs == nil || userID == "" {
		return nil
	}
	q := strings.TrimSpace(query)
	if q == "" {
		q = strings.Join(append(append([]string{}, slots.Styles...), slots.Cities...), " ")
	}
	recs, err := g.prefs.Retrieve(ctx, userID, q, g.topK)
	if err != nil {
		slog.Warn("preference retrieval failed, planning without profile", "error", err)
		return nil
	}
	return recs
}

func hasFallback(alerts []domain.WeatherAlert) bool {
	for _, a := range alerts {
		if a.RequiresFallback {
			return true
		}
	}
	return false
}

// applyAlerts rewrites only the flagged days: the regenerated indoor set
// goes to Alternative, the original stays in place, and the day carries the
// alert reason. Unflagged days are untouched.
func (g *Graph) applyAlerts(plan *domain.ItineraryPlan, alerts []domain.WeatherAlert) {
	byKey := make(map[string]domain.WeatherAlert, len(alerts))
	for _, a := range alerts {
		if a.RequiresFallback {
			byKey[a.City+"|"+a.Date] = a
		}
	}
	for i := range plan.Days {
		d := &plan.Days[i]
		a, ok := byKey[d.City+"|"+d.Date]
		if !ok {
			continue
		}
		d.Alternative = indoorActivities(d.City, a.Condition)
		d.AlertReason = a.Reason
	}
}

func markDegraded(out *Output, source string) {
	for _, have := range out.Degraded {
		if have == source {
			return
		}
	}
	out.Degraded = append(out.Degraded, source)
}
