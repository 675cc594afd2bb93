// Package compiler turns a resolved template and its bindings into a plan
// against one aggregate table, and executes plans over immutable snapshots.
package compiler

import (
	"time"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/canopy-network/spendq/pkg/cache"
	"github.com/canopy-network/spendq/pkg/matcher"
	"github.com/canopy-network/spendq/pkg/templates"
	"github.com/canopy-network/spendq/pkg/utils"
	"github.com/rotisserie/eris"
)

// Filter restricts rows to groups whose dimension matches one of Values.
// Values are folded; matching is case-insensitive on id or display name.
type Filter struct {
	Dimension aggregate.Dimension `json:"dimension"`
	Values    []string            `json:"values"`
}

// Plan is a compiled query. It is a value: executing it never mutates it.
type Plan struct {
	Template templates.Template `json:"template"`
	TenantID string             `json:"tenant_id"`
	Table    string             `json:"table"`
	Bindings matcher.Bindings   `json:"bindings"`
	Filters  []Filter           `json:"filters,omitempty"`
	Window   Window             `json:"window"`
	Now      time.Time          `json:"now"`
	// Unavailable is set when the tenant's table has never been built.
	Unavailable bool              `json:"unavailable"`
	Fingerprint cache.Fingerprint `json:"fingerprint"`
}

// Versions reports the current generation of a tenant's table; 0 means the
// table was never built.
type Versions interface {
	Version(tenantID, table string) uint64
}

// Compile builds the plan for res. A missing table is not an error: the plan
// compiles with Unavailable set and executes to an empty result.
func Compile(res matcher.Resolution, tenantID string, now time.Time, tables Versions) (Plan, error) {
	tpl := res.Template
	if tenantID == "" {
		return Plan{}, eris.New("compile: tenant required")
	}

	var months []string
	for _, s := range tpl.SlotsOf(templates.SlotMonth) {
		months = append(months, res.Bindings[s.Name]...)
	}
	w, err := ResolveWindow(tpl.Window, months, now)
	if err != nil {
		return Plan{}, eris.Wrapf(err, "compile %s", tpl.Key())
	}

	bindings := matcher.Bindings{}
	for name, values := range res.Bindings {
		folded := make([]string, 0, len(values))
		for _, v := range values {
			folded = append(folded, utils.Fold(v))
		}
		bindings[name] = folded
	}

	plan := Plan{
		Template: tpl,
		TenantID: tenantID,
		Table:    tpl.Table,
		Bindings: bindings,
		Window:   w,
		Now:      now.UTC(),
	}
	for _, kind := range []templates.SlotKind{templates.SlotStudent, templates.SlotVendor} {
		f := Filter{Dimension: aggregate.DimEntity}
		if kind == templates.SlotVendor {
			f.Dimension = aggregate.DimVendor
		}
		for _, s := range tpl.SlotsOf(kind) {
			f.Values = append(f.Values, bindings[s.Name]...)
		}
		if len(f.Values) > 0 {
			plan.Filters = append(plan.Filters, f)
		}
	}
	if tables != nil && tables.Version(tenantID, tpl.Table) == 0 {
		plan.Unavailable = true
	}

	// month values are hashed through the canonical window
	entityBindings := map[string][]string{}
	for _, s := range tpl.Slots {
		if s.Kind != templates.SlotMonth {
			entityBindings[s.Name] = bindings[s.Name]
		}
	}
	plan.Fingerprint = cache.FingerprintOf(cache.Key{
		TemplateKey: tpl.Key(),
		TenantID:    tenantID,
		Table:       tpl.Table,
		Bindings:    entityBindings,
		Window:      w.String(),
	})
	return plan, nil
}
