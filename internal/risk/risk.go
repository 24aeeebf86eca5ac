// Package risk grades weather conditions against a travel plan and decides
// which days need a fallback itinerary.
package risk

import (
	"fmt"
	"strings"

	"github.com/avezina/tripd/internal/domain"
)

// severeMarkers force an indoor fallback for the affected day.
var severeMarkers = []string{
	"暴", "雪", "冰", "台风", "雷", "冻",
	"storm", "snow", "typhoon", "thunder", "hail", "blizzard", "ice",
}

// moderateMarkers earn a caveat but keep the original plan.
var moderateMarkers = []string{
	"雨", "雾", "霾", "沙尘",
	"rain", "fog", "haze", "drizzle", "shower", "dust",
}

// Grade maps a raw condition string to a severity tier. Severe markers win
// over moderate ones, so 暴雨 grades severe rather than moderate.
func Grade(condition string) domain.Severity {
	c := strings.ToLower(condition)
	for _, m := range severeMarkers {
		if strings.Contains(c, m) {
			return domain.SeveritySevere
		}
	}
	for _, m := range moderateMarkers {
		if strings.Contains(c, m) {
			return domain.SeverityModerate
		}
	}
	return domain.SeverityNone
}

// Evaluator turns per-day forecasts into alerts.
type Evaluator struct{}

// New creates an evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate grades every forecast day and returns one alert per day whose
// severity is above none, in input order. Days with no alert are safe to
// keep as planned.
func (e *Evaluator) Evaluate(days []domain.WeatherDay) []domain.WeatherAlert {
	var alerts []domain.WeatherAlert
	for _, d := range days {
		sev := Grade(d.Condition)
		if sev == domain.SeverityNone {
			continue
		}
		alerts = append(alerts, domain.WeatherAlert{
			City:             d.City,
			Date:             d.Date,
			Condition:        d.Condition,
			Severity:         sev,
			RequiresFallback: sev == domain.SeveritySevere,
			Reason:           reason(d, sev),
		})
	}
	return alerts
}

func reason(d domain.WeatherDay, sev domain.Severity) string {
	if sev == domain.SeveritySevere {
		return fmt.Sprintf("%s %s: %s, outdoor plans swapped for indoor alternatives", d.City, d.Date, d.Condition)
	}
	return fmt.Sprintf("%s %s: %s, bring rain gear and allow extra transit time", d.City, d.Date, d.Condition)
}
