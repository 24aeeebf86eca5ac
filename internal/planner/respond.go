package planner

import (
	"fmt"
	"strings"

	"github.com/avezina/tripd/internal/domain"
)

// composeReply renders the plan as conversational text: title, per-day
// lines, alerts that changed the plan, then caveats for degraded sources.
func composeReply(plan *domain.ItineraryPlan, alerts []domain.WeatherAlert, degraded []string) string {
	var b strings.Builder
	b.WriteString(plan.Title)
	b.WriteString("\n")

	for _, d := range plan.Days {
		fmt.Fprintf(&b, "\nDay %d", d.Day)
		if d.City != "" {
			fmt.Fprintf(&b, " · %s", d.City)
		}
		if d.Date != "" {
			fmt.Fprintf(&b, "（%s）", d.Date)
		}
		b.WriteString("\n")

		if len(d.Alternative) > 0 {
			b.WriteString("  ⚠ 因天气调整为室内行程：\n")
			for _, a := range d.Alternative {
				writeActivity(&b, a)
			}
			b.WriteString("  原计划（天气允许时可选）：\n")
		}
		for _, a := range d.Activities {
			writeActivity(&b, a)
		}
		if d.Outfit != nil {
			fmt.Fprintf(&b, "  穿搭：%s\n", d.Outfit.Summary)
		}
		if d.BudgetLine != "" {
			fmt.Fprintf(&b, "  %s\n", d.BudgetLine)
		}
		if d.Caveat != "" {
			fmt.Fprintf(&b, "  注：%s\n", d.Caveat)
		}
	}

	if len(plan.Tips) > 0 {
		b.WriteString("\n小贴士：\n")
		for _, t := range plan.Tips {
			fmt.Fprintf(&b, "  - %s\n", t)
		}
	}
	if plan.TotalBudget != "" {
		fmt.Fprintf(&b, "\n总预算：%s\n", plan.TotalBudget)
	}

	var moderate []string
	for _, a := range alerts {
		if !a.RequiresFallback {
			moderate = append(moderate, a.Reason)
		}
	}
	if len(moderate) > 0 {
		b.WriteString("\n天气提醒：\n")
		for _, r := range moderate {
			fmt.Fprintf(&b, "  - %s\n", r)
		}
	}

	if len(degraded) > 0 {
		fmt.Fprintf(&b, "\n注意：%s 数据暂不可用，以上行程未完全按实时数据调整。\n",
			strings.Join(degraded, "、"))
	}

	return b.String()
}

func writeActivity(b *strings.Builder, a domain.Activity) {
	b.WriteString("  - ")
	if a.Time != "" {
		b.WriteString(timeLabel(a.Time))
		b.WriteString("：")
	}
	b.WriteString(a.Name)
	if a.Description != "" {
		fmt.Fprintf(b, "（%s）", a.Description)
	}
	b.WriteString("\n")
}

func timeLabel(t string) string {
	switch strings.ToLower(t) {
	case "morning":
		return "上午"
	case "afternoon":
		return "下午"
	case "evening":
		return "晚上"
	default:
		return t
	}
}
