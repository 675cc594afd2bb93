package compiler

import (
	"fmt"
	"strings"
	"time"

	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/dustin/go-humanize"
)

// Summarize renders a one-sentence answer for a result.
func Summarize(plan Plan, res Result) string {
	title := plan.Template.Title
	if res.Unavailable {
		return title + ": data is not available yet."
	}
	if res.Empty() {
		return title + ": no matching records" + windowPhrase(plan.Window) + "."
	}

	switch res.Kind {
	case templates.KindTotal:
		l := res.Lines[0]
		return fmt.Sprintf("%s: %s%s across %d service lines.", l.Group, measure(res.Measure, l.Value(res.Measure)), windowPhrase(plan.Window), l.Facts)
	case templates.KindCompare:
		parts := make([]string, 0, len(res.Lines))
		for _, l := range res.Lines {
			parts = append(parts, l.Group+" "+measure(res.Measure, l.Value(res.Measure)))
		}
		return strings.Join(parts, " vs ") + windowPhrase(plan.Window) + "."
	case templates.KindRank:
		parts := make([]string, 0, len(res.Lines))
		for i, l := range res.Lines {
			parts = append(parts, fmt.Sprintf("%d. %s (%s)", i+1, l.Group, measure(res.Measure, l.Value(res.Measure))))
		}
		return title + windowPhrase(plan.Window) + ": " + strings.Join(parts, ", ") + "."
	case templates.KindTrend:
		var groups []string
		seen := map[string]bool{}
		for _, l := range res.Lines {
			if !seen[l.GroupKey] {
				seen[l.GroupKey] = true
				groups = append(groups, l.Group)
			}
		}
		return fmt.Sprintf("%s: %s.", title, strings.Join(groups, ", "))
	default:
		sum := amount.Zero
		for _, l := range res.Lines {
			sum = sum.Add(l.Value(res.Measure))
		}
		return fmt.Sprintf("%s: %d periods totalling %s%s.", title, len(res.Lines), measure(res.Measure, sum), windowPhrase(plan.Window))
	}
}

func measure(m templates.Measure, v amount.Decimal) string {
	if m == templates.MeasureHours {
		return humanize.FormatFloat("#,###.##", v.Float64()) + " hours"
	}
	return "$" + humanize.FormatFloat("#,###.##", v.Float64())
}

func windowPhrase(w Window) string {
	switch w.Policy {
	case templates.WindowYTD, templates.WindowSchoolYear, templates.WindowExplicitRange:
		return fmt.Sprintf(" from %s to %s", w.From.Format(time.DateOnly), w.To.Format(time.DateOnly))
	case templates.WindowExplicitMonths:
		return " in " + strings.Join(w.Months, " and ")
	default:
		return ""
	}
}
