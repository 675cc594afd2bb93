// Package templates is the closed catalog of parameterized, versioned query
// templates the matcher can resolve to.
package templates

import (
	"fmt"
	"sort"

	"github.com/canopy-network/spendq/pkg/aggregate"
	"github.com/rotisserie/eris"
)

// SlotKind is the entity kind a slot binds.
type SlotKind string

const (
	SlotStudent SlotKind = "student"
	SlotVendor  SlotKind = "vendor"
	SlotMonth   SlotKind = "month"
)

// WindowPolicy decides which time buckets a plan reads.
type WindowPolicy string

const (
	WindowNone           WindowPolicy = "none"
	WindowYTD            WindowPolicy = "ytd"
	WindowSchoolYear     WindowPolicy = "school_year"
	WindowExplicitRange  WindowPolicy = "explicit_range"
	WindowExplicitMonths WindowPolicy = "explicit_months"
)

// Kind is the execution step of a plan.
type Kind string

const (
	KindLookup  Kind = "lookup"
	KindTotal   Kind = "total"
	KindCompare Kind = "compare"
	KindRank    Kind = "rank"
	KindTrend   Kind = "trend"
)

// Measure names a summed column.
type Measure string

const (
	MeasureCost  Measure = "cost"
	MeasureHours Measure = "hours"
)

// Direction orders rank and trend steps.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
)

// Slot is one named parameter of a template.
type Slot struct {
	Name string   `json:"name"`
	Kind SlotKind `json:"kind"`
	// Optional month slots accept one or two values.
	Min int `json:"min"`
	Max int `json:"max"`
}

// Template is immutable once registered. Changing its table or window policy
// requires a new version.
type Template struct {
	ID        string       `json:"id"`
	Version   int          `json:"version"`
	Title     string       `json:"title"`
	Slots     []Slot       `json:"slots"`
	Table     string       `json:"table"`
	Window    WindowPolicy `json:"window"`
	Kind      Kind         `json:"kind"`
	Measure   Measure      `json:"measure"`
	Direction Direction    `json:"direction,omitempty"`
	Limit     int          `json:"limit,omitempty"`
}

// Key is the versioned identity hashed into fingerprints.
func (t Template) Key() string {
	return fmt.Sprintf("%s@v%d", t.ID, t.Version)
}

// SlotsOf returns the slots of kind k, in declaration order.
func (t Template) SlotsOf(k SlotKind) []Slot {
	var out []Slot
	for _, s := range t.Slots {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}

// Catalog is a read-only template registry.
type Catalog struct {
	byID map[string]Template
}

// NewCatalog validates and indexes templates. Every template must target a
// known aggregate table and have a unique id.
func NewCatalog(list []Template) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Template, len(list))}
	for _, t := range list {
		if t.ID == "" || t.Version < 1 {
			return nil, eris.Errorf("template %q: id and positive version required", t.ID)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, eris.Errorf("template %q registered twice", t.ID)
		}
		def, ok := aggregate.Lookup(t.Table)
		if !ok {
			return nil, eris.Errorf("template %q: unknown table %q", t.ID, t.Table)
		}
		if len(t.Slots) > 3 {
			return nil, eris.Errorf("template %q: at most 3 slots", t.ID)
		}
		names := map[string]bool{}
		for _, s := range t.Slots {
			if s.Name == "" || names[s.Name] {
				return nil, eris.Errorf("template %q: slot names must be unique and non-empty", t.ID)
			}
			names[s.Name] = true
			if s.Min < 0 || s.Max < 1 || s.Min > s.Max {
				return nil, eris.Errorf("template %q: slot %s needs 0 <= min <= max and max >= 1", t.ID, s.Name)
			}
			if s.Kind == SlotStudent && !def.Has(aggregate.DimEntity) {
				return nil, eris.Errorf("template %q: table %s has no entity dimension", t.ID, t.Table)
			}
			if s.Kind == SlotVendor && !def.Has(aggregate.DimVendor) {
				return nil, eris.Errorf("template %q: table %s has no vendor dimension", t.ID, t.Table)
			}
		}
		if (t.Kind == KindTrend || t.Kind == KindRank) && def.Grain != aggregate.GrainMonth {
			return nil, eris.Errorf("template %q: %s needs a month table", t.ID, t.Kind)
		}
		c.byID[t.ID] = t
	}
	return c, nil
}

// Get returns a template by id.
func (c *Catalog) Get(id string) (Template, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// All returns the templates ordered by id.
func (c *Catalog) All() []Template {
	out := make([]Template, 0, len(c.byID))
	for _, t := range c.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
