package compiler

import (
	"sort"
	"strings"
	"time"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/canopy-network/spendq/pkg/utils"
)

// Line is one output row of a result.
type Line struct {
	Group    string         `json:"group"`
	GroupKey string         `json:"group_key"`
	Period   string         `json:"period,omitempty"`
	Label    string         `json:"label,omitempty"`
	Hours    amount.Decimal `json:"hours"`
	Cost     amount.Decimal `json:"cost"`
	Facts    int            `json:"facts"`
	Entities int            `json:"entities,omitempty"`
}

// Value returns the line's measure m.
func (l Line) Value(m templates.Measure) amount.Decimal {
	if m == templates.MeasureHours {
		return l.Hours
	}
	return l.Cost
}

// Result is the output of executing a plan over one snapshot.
type Result struct {
	Kind        templates.Kind    `json:"kind"`
	Measure     templates.Measure `json:"measure"`
	Lines       []Line            `json:"lines"`
	Generation  uint64            `json:"generation"`
	Unavailable bool              `json:"unavailable,omitempty"`
}

// Empty reports whether the result carries no lines.
func (r Result) Empty() bool {
	return len(r.Lines) == 0
}

// Execute runs plan against snap. It only reads the snapshot. A nil snapshot
// or an unavailable plan yields an empty result flagged Unavailable.
func Execute(plan Plan, snap *aggregate.Snapshot) Result {
	res := Result{Kind: plan.Template.Kind, Measure: plan.Template.Measure, Lines: []Line{}}
	if plan.Unavailable || snap == nil {
		res.Unavailable = true
		return res
	}
	res.Generation = snap.Generation

	rows := selectRows(plan, snap.Rows)
	switch plan.Template.Kind {
	case templates.KindTotal:
		res.Lines = total(rows)
	case templates.KindCompare:
		res.Lines = compare(plan, rows)
	case templates.KindRank:
		res.Lines = rank(plan.Template, rows)
	case templates.KindTrend:
		res.Lines = trend(plan.Template, rows, plan.Now)
	default:
		res.Lines = lookup(rows)
	}
	return res
}

func selectRows(plan Plan, rows []aggregate.Row) []aggregate.Row {
	out := make([]aggregate.Row, 0, len(rows))
	for _, r := range rows {
		if r.TenantID != plan.TenantID {
			continue
		}
		if !plan.Window.Contains(r.Start, r.Label, r.Period) {
			continue
		}
		if !matchesFilters(plan.Filters, r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func matchesFilters(filters []Filter, r aggregate.Row) bool {
	for _, f := range filters {
		id, name := r.EntityID, r.EntityName
		if f.Dimension == aggregate.DimVendor {
			id, name = r.VendorID, r.VendorName
		}
		if bindingIndex(f.Values, id, name) < 0 {
			return false
		}
	}
	return true
}

func bindingIndex(values []string, id, name string) int {
	for i, v := range values {
		if strings.EqualFold(v, id) || v == utils.Fold(name) {
			return i
		}
	}
	return -1
}

func lineOf(r aggregate.Row) Line {
	return Line{
		Group:    r.GroupName(),
		GroupKey: r.GroupKey,
		Period:   r.Period,
		Label:    r.Label,
		Hours:    r.Hours,
		Cost:     r.Cost,
		Facts:    r.Facts,
		Entities: r.Entities,
	}
}

func add(l *Line, r aggregate.Row) {
	l.Hours = l.Hours.Add(r.Hours)
	l.Cost = l.Cost.Add(r.Cost)
	l.Facts += r.Facts
}

// lookup returns matching buckets in time order.
func lookup(rows []aggregate.Row) []Line {
	sorted := append([]aggregate.Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })
	lines := make([]Line, 0, len(sorted))
	for _, r := range sorted {
		lines = append(lines, lineOf(r))
	}
	return lines
}

func total(rows []aggregate.Row) []Line {
	if len(rows) == 0 {
		return []Line{}
	}
	l := Line{Group: rows[0].GroupName(), GroupKey: rows[0].GroupKey}
	for _, r := range rows {
		if r.GroupKey != l.GroupKey {
			l.Group, l.GroupKey = "total", ""
			break
		}
	}
	for _, r := range rows {
		add(&l, r)
	}
	return []Line{l}
}

// compare sums each bound entity separately, in binding order.
func compare(plan Plan, rows []aggregate.Row) []Line {
	var values []string
	for _, f := range plan.Filters {
		if f.Dimension == aggregate.DimEntity {
			values = f.Values
		}
	}
	sums := make([]*Line, len(values))
	for _, r := range rows {
		i := bindingIndex(values, r.EntityID, r.EntityName)
		if i < 0 {
			continue
		}
		if sums[i] == nil {
			sums[i] = &Line{Group: r.GroupName(), GroupKey: r.GroupKey}
		}
		add(sums[i], r)
	}
	lines := []Line{}
	for _, l := range sums {
		if l != nil {
			lines = append(lines, *l)
		}
	}
	return lines
}

// rank sums each group within the window and orders by the measure. Ties keep
// the order in which groups first appear in the snapshot.
func rank(tpl templates.Template, rows []aggregate.Row) []Line {
	var order []string
	groups := map[string]*Line{}
	for _, r := range rows {
		l, ok := groups[r.GroupKey]
		if !ok {
			l = &Line{Group: r.GroupName(), GroupKey: r.GroupKey}
			groups[r.GroupKey] = l
			order = append(order, r.GroupKey)
		}
		add(l, r)
	}

	lines := make([]Line, 0, len(order))
	for _, k := range order {
		lines = append(lines, *groups[k])
	}
	sort.SliceStable(lines, func(i, j int) bool {
		c := lines[i].Value(tpl.Measure).Cmp(lines[j].Value(tpl.Measure))
		if tpl.Direction == templates.Ascending {
			return c < 0
		}
		return c > 0
	})
	if tpl.Limit > 0 && len(lines) > tpl.Limit {
		lines = lines[:tpl.Limit]
	}
	return lines
}

// trend keeps groups whose measure moves strictly in the template direction
// over the three consecutive months ending at the anchor. The anchor is the
// latest bucket in the table not after now. Gaps and ties exclude a group.
func trend(tpl templates.Template, rows []aggregate.Row, now time.Time) []Line {
	var anchor time.Time
	for _, r := range rows {
		if !r.Start.After(now) && r.Start.After(anchor) {
			anchor = r.Start
		}
	}
	if anchor.IsZero() {
		return []Line{}
	}
	months := []time.Time{anchor.AddDate(0, -2, 0), anchor.AddDate(0, -1, 0), anchor}

	var order []string
	series := map[string]map[time.Time]aggregate.Row{}
	for _, r := range rows {
		if r.Start.Before(months[0]) || r.Start.After(anchor) {
			continue
		}
		s, ok := series[r.GroupKey]
		if !ok {
			s = map[time.Time]aggregate.Row{}
			series[r.GroupKey] = s
			order = append(order, r.GroupKey)
		}
		s[r.Start] = r
	}

	lines := []Line{}
	for _, k := range order {
		s := series[k]
		picked := make([]aggregate.Row, 0, len(months))
		for _, m := range months {
			r, ok := s[m]
			if !ok {
				break
			}
			picked = append(picked, r)
		}
		if len(picked) != len(months) || !monotone(tpl, picked) {
			continue
		}
		for _, r := range picked {
			lines = append(lines, lineOf(r))
		}
	}
	return lines
}

func monotone(tpl templates.Template, rows []aggregate.Row) bool {
	for i := 1; i < len(rows); i++ {
		c := lineOf(rows[i]).Value(tpl.Measure).Cmp(lineOf(rows[i-1]).Value(tpl.Measure))
		if tpl.Direction == templates.Decreasing && c >= 0 {
			return false
		}
		if tpl.Direction != templates.Decreasing && c <= 0 {
			return false
		}
	}
	return true
}
