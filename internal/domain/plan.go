package domain

// Severity classifies a weather condition for risk evaluation.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// WeatherDay is one day of forecast data for a city, as returned by the
// weather tool adapter. Mock is set when the adapter ran without credentials.
type WeatherDay struct {
	City      string  `json:"city"`
	Date      string  `json:"date"`
	Condition string  `json:"condition"`
	DayTemp   float64 `json:"day_temp"`
	NightTemp float64 `json:"night_temp"`
	Mock      bool    `json:"mock,omitempty"`
}

// WeatherAlert is the risk evaluator's verdict for one plan day. Derived per
// turn, never persisted.
type WeatherAlert struct {
	City             string   `json:"city"`
	Date             string   `json:"date"`
	Condition        string   `json:"condition"`
	Severity         Severity `json:"severity"`
	RequiresFallback bool     `json:"requires_fallback"`
	Reason           string   `json:"reason,omitempty"`
}

// Activity is a single itinerary entry within a day.
type Activity struct {
	Time        string `json:"time,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// OutfitAdvice is weather-linked clothing guidance for one day.
type OutfitAdvice struct {
	Summary string   `json:"summary"`
	Items   []string `json:"items,omitempty"`
}

// DayPlan is one day of an itinerary. When the risk evaluator flags the day,
// Alternative carries the regenerated (indoor/rescheduled) activity set and
// Activities keeps the original as the second option.
type DayPlan struct {
	Day         int           `json:"day"`
	City        string        `json:"city"`
	Date        string        `json:"date,omitempty"`
	Activities  []Activity    `json:"activities"`
	Alternative []Activity    `json:"alternative,omitempty"`
	Outfit      *OutfitAdvice `json:"outfit,omitempty"`
	BudgetLine  string        `json:"budget_line,omitempty"`
	// Caveat flags degraded data, e.g. weather unavailable for this city.
	Caveat      string `json:"caveat,omitempty"`
	AlertReason string `json:"alert_reason,omitempty"`
}

// ItineraryPlan is an ordered multi-day plan. Total days match the session's
// requested day count when known; city order follows the request.
type ItineraryPlan struct {
	Title       string    `json:"title"`
	Days        []DayPlan `json:"days"`
	Tips        []string  `json:"tips,omitempty"`
	TotalBudget string    `json:"total_budget,omitempty"`
}

// Clone returns a deep copy of the plan.
func (p *ItineraryPlan) Clone() ItineraryPlan {
	out := *p
	out.Days = make([]DayPlan, len(p.Days))
	for i, d := range p.Days {
		nd := d
		nd.Activities = append([]Activity(nil), d.Activities...)
		nd.Alternative = append([]Activity(nil), d.Alternative...)
		if d.Outfit != nil {
			o := *d.Outfit
			o.Items = append([]string(nil), d.Outfit.Items...)
			nd.Outfit = &o
		}
		out.Days[i] = nd
	}
	out.Tips = append([]string(nil), p.Tips...)
	return out
}
