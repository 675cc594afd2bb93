package compiler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/rotisserie/eris"
)

// Window is a resolved time filter. From and To are inclusive dates in UTC;
// both are zero when the policy does not bound by date.
type Window struct {
	Policy templates.WindowPolicy `json:"policy"`
	From   time.Time              `json:"from"`
	To     time.Time              `json:"to"`
	// Months are month names ("november") or periods ("2025-11").
	Months []string `json:"months,omitempty"`
}

// String is the canonical text hashed into fingerprints.
func (w Window) String() string {
	var b strings.Builder
	b.WriteString(string(w.Policy))
	if !w.From.IsZero() {
		b.WriteString(":" + w.From.Format(time.DateOnly) + ".." + w.To.Format(time.DateOnly))
	}
	if len(w.Months) > 0 {
		b.WriteString(":" + strings.Join(w.Months, ","))
	}
	return b.String()
}

// Contains reports whether a bucket with the given start and labels falls
// inside the window.
func (w Window) Contains(start time.Time, label, period string) bool {
	switch w.Policy {
	case templates.WindowExplicitMonths:
		for _, m := range w.Months {
			if strings.EqualFold(m, label) || strings.EqualFold(m, period) || strings.HasPrefix(period, m+"-") {
				return true
			}
		}
		return false
	case templates.WindowNone, "":
		return true
	default:
		return !start.Before(w.From) && !start.After(w.To)
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ResolveWindow turns a policy and bound month tokens into concrete dates
// relative to now.
func ResolveWindow(policy templates.WindowPolicy, months []string, now time.Time) (Window, error) {
	now = now.UTC()
	today := day(now.Year(), now.Month(), now.Day())
	w := Window{Policy: policy}

	switch policy {
	case templates.WindowNone:
	case templates.WindowYTD:
		w.From = day(now.Year(), time.January, 1)
		w.To = today
	case templates.WindowSchoolYear:
		start := now.Year()
		if now.Month() < time.July {
			start--
		}
		w.From = day(start, time.July, 1)
		w.To = day(start+1, time.June, 30)
	case templates.WindowExplicitMonths:
		if len(months) == 0 || len(months) > 2 {
			return Window{}, eris.Errorf("explicit months need one or two months, got %d", len(months))
		}
		w.Months = canonicalMonths(months)
	case templates.WindowExplicitRange:
		if len(months) != 2 {
			return Window{}, eris.Errorf("explicit range needs two months, got %d", len(months))
		}
		from, err := monthStart(months[0], now)
		if err != nil {
			return Window{}, err
		}
		to, err := monthStart(months[1], now)
		if err != nil {
			return Window{}, err
		}
		if from.After(to) {
			from = from.AddDate(-1, 0, 0)
		}
		w.From = from
		w.To = to.AddDate(0, 1, -1)
	default:
		return Window{}, eris.Errorf("unknown window policy %q", policy)
	}
	return w, nil
}

var monthIndex = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
}

// monthStart resolves a month token to the first day of its most recent
// occurrence not after now. Periods are already concrete.
func monthStart(token string, now time.Time) (time.Time, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if m, ok := monthIndex[token]; ok {
		year := now.Year()
		if m > now.Month() {
			year--
		}
		return day(year, m, 1), nil
	}
	if len(token) == 7 && token[4] == '-' {
		y, errY := strconv.Atoi(token[:4])
		m, errM := strconv.Atoi(token[5:])
		if errY == nil && errM == nil && m >= 1 && m <= 12 {
			return day(y, time.Month(m), 1), nil
		}
	}
	return time.Time{}, eris.Errorf("unrecognized month %q", token)
}

// canonicalMonths lowercases, dedups and orders tokens so paraphrases that
// list the same months in a different order share one window.
func canonicalMonths(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return monthOrder(out[i]) < monthOrder(out[j]) })
	return out
}

func monthOrder(token string) string {
	if m, ok := monthIndex[token]; ok {
		return fmt.Sprintf("0000-%02d", int(m))
	}
	return token
}
