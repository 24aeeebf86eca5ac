package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avezina/tripd/internal/domain"
	"github.com/avezina/tripd/internal/tools"
)

const generateSystem = `You are a travel planner. Produce one JSON object only:
{"title": "...", "days": [{"day": 1, "city": "...", "activities":
 [{"time": "morning|afternoon|evening", "name": "...", "description": "..."}],
 "budget_line": "..."}], "tips": ["..."], "total_budget": "..."}
Respect the requested day count and city order exactly. Fold the stated
preferences into activity choices. Reply in the user's language.`

// generate produces the itinerary, via the model when available, otherwise
// from the deterministic template. Either way the result covers exactly the
// requested day count with cities in request order.
func (g *Graph) generate(ctx context.Context, slots domain.Slots, e *enrichment, prefs []domain.PreferenceRecord, out *Output) domain.ItineraryPlan {
	if g.llm != nil {
		if plan, ok := g.generateLLM(ctx, slots, e, prefs); ok {
			return plan
		}
		markDegraded(out, "model")
	}
	return g.templatePlan(slots, e, prefs)
}

func (g *Graph) generateLLM(ctx context.Context, slots domain.Slots, e *enrichment, prefs []domain.PreferenceRecord) (domain.ItineraryPlan, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "Cities in order: %s. Days: %d.", strings.Join(e.cities, ", "), slots.Days)
	if slots.Budget > 0 {
		fmt.Fprintf(&b, " Total budget: %.0f CNY.", slots.Budget)
	}
	if len(slots.Styles) > 0 {
		fmt.Fprintf(&b, " Travel style: %s.", strings.Join(slots.Styles, ", "))
	}
	for _, p := range prefs {
		fmt.Fprintf(&b, " Known preference: %s.", p.Statement)
	}
	for _, city := range e.cities {
		for _, wd := range e.byCity[city] {
			fmt.Fprintf(&b, " Forecast %s %s: %s, %.0f/%.0f°C.", wd.City, wd.Date, wd.Condition, wd.DayTemp, wd.NightTemp)
		}
	}

	res := g.llm.Complete(ctx, tools.CompletionRequest{
		System:      generateSystem,
		User:        b.String(),
		Temperature: 0.4,
		JSON:        true,
	})
	if !res.Ok() {
		slog.Warn("plan generation degraded", "reason", res.Reason)
		return domain.ItineraryPlan{}, false
	}

	var plan domain.ItineraryPlan
	raw := strings.TrimSpace(res.Payload)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &plan); err != nil {
		slog.Warn("unparseable plan from model, using template", "error", err)
		return domain.ItineraryPlan{}, false
	}
	if len(plan.Days) != slots.Days {
		slog.Warn("model plan has wrong day count, using template",
			"want", slots.Days, "got", len(plan.Days))
		return domain.ItineraryPlan{}, false
	}
	for i := range plan.Days {
		plan.Days[i].Day = i + 1
		if wd, ok := e.dayWeather(i+1, plan.Days[i].City); ok {
			plan.Days[i].Date = wd.Date
		}
	}
	return plan, true
}

// Template generation keeps the assistant useful with no model backend.
// Activities are drawn per style tag with generic sightseeing defaults.

var styleActivities = map[string][]domain.Activity{
	"quiet": {
		{Time: "morning", Name: "城市公园晨间漫步", Description: "避开人流，感受城市的安静一面"},
		{Time: "afternoon", Name: "独立书店与咖啡馆", Description: "找一家安静的店坐一下午"},
	},
	"food": {
		{Time: "morning", Name: "本地早市觅食", Description: "从一顿地道早餐开始"},
		{Time: "evening", Name: "老字号晚餐", Description: "提前订位，尝当地招牌菜"},
	},
	"artsy": {
		{Time: "afternoon", Name: "美术馆或展览", Description: "查当期展讯，留两小时慢慢看"},
	},
	"family": {
		{Time: "morning", Name: "亲子乐园或科技馆", Description: "上午人少，适合带孩子"},
	},
	"hiking": {
		{Time: "morning", Name: "近郊徒步", Description: "早出发，备好水和防晒"},
	},
	"photo": {
		{Time: "evening", Name: "日落观景点拍照", Description: "提前半小时到位占机位"},
	},
	"relaxed": {
		{Time: "afternoon", Name: "茶馆或温泉放松", Description: "不赶行程，随性安排"},
	},
}

var defaultActivities = []domain.Activity{
	{Time: "morning", Name: "地标景点游览", Description: "上午客流较少，先看必去景点"},
	{Time: "afternoon", Name: "老城区街巷漫步", Description: "体验本地生活节奏"},
	{Time: "evening", Name: "夜景与本地小吃", Description: "边走边吃，轻松收尾"},
}

func (g *Graph) templatePlan(slots domain.Slots, e *enrichment, prefs []domain.PreferenceRecord) domain.ItineraryPlan {
	plan := domain.ItineraryPlan{
		Title: fmt.Sprintf("%s %d日行程", strings.Join(e.cities, "·"), slots.Days),
	}
	if slots.Budget > 0 {
		plan.TotalBudget = fmt.Sprintf("约 %.0f 元", slots.Budget)
	}

	perDay := 0.0
	if slots.Budget > 0 {
		perDay = slots.Budget / float64(slots.Days)
	}

	for day := 1; day <= slots.Days; day++ {
		city := cityForDay(e.cities, day, slots.Days)
		dp := domain.DayPlan{
			Day:        day,
			City:       city,
			Activities: dayActivities(slots.Styles, day),
		}
		if wd, ok := e.dayWeather(day, city); ok {
			dp.Date = wd.Date
		} else {
			dp.Caveat = "当天天气数据不可用，行程未按天气调整"
		}
		if perDay > 0 {
			dp.BudgetLine = fmt.Sprintf("当日预算约 %.0f 元", perDay)
		}
		plan.Days = append(plan.Days, dp)
	}

	plan.Tips = templateTips(slots, prefs)
	return plan
}

// cityForDay splits the trip into contiguous per-city blocks in request order.
func cityForDay(cities []string, day, totalDays int) string {
	if len(cities) == 0 {
		return ""
	}
	block := (totalDays + len(cities) - 1) / len(cities)
	idx := (day - 1) / block
	if idx >= len(cities) {
		idx = len(cities) - 1
	}
	return cities[idx]
}

// dayActivities builds a day from style-matched entries, topped up with
// defaults so every day has a morning, afternoon and evening slot.
func dayActivities(styles []string, day int) []domain.Activity {
	filled := map[string]bool{}
	var acts []domain.Activity
	for _, style := range styles {
		for _, a := range styleActivities[style] {
			if filled[a.Time] {
				continue
			}
			filled[a.Time] = true
			acts = append(acts, a)
		}
	}
	for _, a := range defaultActivities {
		if !filled[a.Time] {
			filled[a.Time] = true
			acts = append(acts, a)
		}
	}
	// Stable slot order regardless of which source filled it.
	order := map[string]int{"morning": 0, "afternoon": 1, "evening": 2}
	for i := 0; i < len(acts); i++ {
		for j := i + 1; j < len(acts); j++ {
			if order[acts[j].Time] < order[acts[i].Time] {
				acts[i], acts[j] = acts[j], acts[i]
			}
		}
	}
	return acts
}

func templateTips(slots domain.Slots, prefs []domain.PreferenceRecord) []string {
	tips := []string{"热门景点建议提前在线购票"}
	if slots.Budget > 0 {
		tips = append(tips, "交通建议以地铁为主，控制在预算内")
	}
	for _, p := range prefs {
		tips = append(tips, "已结合你的偏好："+p.Statement)
	}
	return tips
}

// indoorActivities is the severe-weather fallback set for one day.
func indoorActivities(city, condition string) []domain.Activity {
	return []domain.Activity{
		{Time: "morning", Name: "博物馆参观", Description: fmt.Sprintf("%s当天%s，改为室内行程", city, condition)},
		{Time: "afternoon", Name: "商圈室内逛吃", Description: "就近安排，减少户外移动"},
		{Time: "evening", Name: "酒店周边晚餐", Description: "恶劣天气早些返回休息"},
	}
}
