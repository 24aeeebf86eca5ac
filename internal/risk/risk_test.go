package risk

import (
	"testing"

	"github.com/avezina/tripd/internal/domain"
)

func TestGrade(t *testing.T) {
	t.Parallel()

	cases := []struct {
		condition string
		want      domain.Severity
	}{
		{"晴", domain.SeverityNone},
		{"多云", domain.SeverityNone},
		{"小雨", domain.SeverityModerate},
		{"雾", domain.SeverityModerate},
		{"中度霾", domain.SeverityModerate},
		{"暴雨", domain.SeveritySevere},
		{"大雪", domain.SeveritySevere},
		{"台风", domain.SeveritySevere},
		{"雷阵雨", domain.SeveritySevere},
		{"冰雹", domain.SeveritySevere},
		{"light rain", domain.SeverityModerate},
		{"thunderstorm", domain.SeveritySevere},
		{"sunny", domain.SeverityNone},
	}
	for _, tc := range cases {
		if got := Grade(tc.condition); got != tc.want {
			t.Errorf("Grade(%q) = %s, want %s", tc.condition, got, tc.want)
		}
	}
}

func TestEvaluateFlagsOnlyRiskyDays(t *testing.T) {
	t.Parallel()

	ev := New()
	days := []domain.WeatherDay{
		{City: "Beijing", Date: "2026-09-02", Condition: "晴"},
		{City: "Beijing", Date: "2026-09-03", Condition: "暴雨"},
		{City: "Beijing", Date: "2026-09-04", Condition: "小雨"},
	}

	alerts := ev.Evaluate(days)
	if len(alerts) != 2 {
		t.Fatalf("alerts = %d, want 2", len(alerts))
	}

	severe := alerts[0]
	if severe.Date != "2026-09-03" || severe.Severity != domain.SeveritySevere || !severe.RequiresFallback {
		t.Errorf("severe alert = %+v, want fallback-requiring severe on 09-03", severe)
	}
	if severe.Reason == "" {
		t.Error("severe alert has no reason")
	}

	moderate := alerts[1]
	if moderate.Date != "2026-09-04" || moderate.Severity != domain.SeverityModerate || moderate.RequiresFallback {
		t.Errorf("moderate alert = %+v, want non-fallback moderate on 09-04", moderate)
	}
}

func TestEvaluateClearWeatherIsQuiet(t *testing.T) {
	t.Parallel()

	alerts := New().Evaluate([]domain.WeatherDay{
		{City: "Sanya", Date: "2026-09-02", Condition: "晴"},
		{City: "Sanya", Date: "2026-09-03", Condition: "多云"},
	})
	if len(alerts) != 0 {
		t.Errorf("alerts = %v, want none", alerts)
	}
}
