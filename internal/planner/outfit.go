package planner

import (
	"strings"

	"github.com/avezina/tripd/internal/domain"
)

// outfitFor derives clothing advice from one day's forecast. Thresholds are
// on the daytime high; night temperature adds a layers hint when the swing
// is large.
func outfitFor(wd domain.WeatherDay) *domain.OutfitAdvice {
	var advice domain.OutfitAdvice

	switch {
	case wd.DayTemp < 5:
		advice.Summary = "严寒，厚外套加保暖内层"
		advice.Items = []string{"羽绒服", "帽子手套"}
	case wd.DayTemp < 12:
		advice.Summary = "偏冷，建议外套"
		advice.Items = []string{"厚外套"}
	case wd.DayTemp < 20:
		advice.Summary = "微凉，薄外套即可"
		advice.Items = []string{"薄外套"}
	case wd.DayTemp < 30:
		advice.Summary = "舒适，轻便着装"
		advice.Items = []string{"透气衣物"}
	default:
		advice.Summary = "炎热，注意防晒补水"
		advice.Items = []string{"防晒霜", "遮阳帽"}
	}

	if wd.DayTemp-wd.NightTemp >= 10 {
		advice.Items = append(advice.Items, "早晚温差大，备一件可加减的外层")
	}

	cond := strings.ToLower(wd.Condition)
	switch {
	case strings.Contains(cond, "雪") || strings.Contains(cond, "snow"):
		advice.Items = append(advice.Items, "防滑防水的鞋")
	case strings.Contains(cond, "雨") || strings.Contains(cond, "rain"):
		advice.Items = append(advice.Items, "雨伞或雨衣")
	}

	return &advice
}
