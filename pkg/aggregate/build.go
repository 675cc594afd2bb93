package aggregate

import (
	"sort"
	"strings"
	"time"

	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
	"github.com/rotisserie/eris"
)

const keySep = "\x1f"

// BuildFunc computes the rows of one table for one tenant.
type BuildFunc func(def Definition, tenantID string, in []facts.Fact) ([]Row, error)

// Build rolls up the tenant's facts along def. Facts of other tenants are
// ignored. Groups keep the order in which they first appear in the facts;
// rows within a group are ordered by bucket start.
func Build(def Definition, tenantID string, in []facts.Fact) ([]Row, error) {
	type acc struct {
		row      Row
		entities map[string]struct{}
	}
	buckets := map[string]*acc{}
	firstSeen := map[string]int{}

	for i, f := range in {
		if f.TenantID != tenantID {
			continue
		}
		if f.ServiceDate.IsZero() {
			return nil, eris.Errorf("fact %d for %s has no service date", i, tenantID)
		}

		start, period, label := bucket(def.Grain, f.ServiceDate)
		groupKey := groupKeyFor(def, f)
		if _, ok := firstSeen[groupKey]; !ok {
			firstSeen[groupKey] = len(firstSeen)
		}
		key := groupKey + keySep + period

		a, ok := buckets[key]
		if !ok {
			a = &acc{
				row: Row{
					Table:    def.Name,
					TenantID: tenantID,
					GroupKey: groupKey,
					Period:   period,
					Label:    label,
					Start:    start,
				},
				entities: map[string]struct{}{},
			}
			if def.Has(DimEntity) {
				a.row.EntityID = f.EntityID
				a.row.EntityName = f.EntityName
			}
			if def.Has(DimVendor) {
				a.row.VendorID = f.VendorID
				a.row.VendorName = f.VendorName
			}
			if def.Has(DimService) {
				a.row.ServiceCode = f.ServiceCode
			}
			buckets[key] = a
		}

		a.row.Hours = a.row.Hours.Add(f.Hours)
		a.row.Cost = a.row.Cost.Add(f.Cost)
		a.row.Facts++
		a.entities[f.EntityID] = struct{}{}
	}

	rows := make([]Row, 0, len(buckets))
	for _, a := range buckets {
		a.row.Entities = len(a.entities)
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if gi, gj := firstSeen[rows[i].GroupKey], firstSeen[rows[j].GroupKey]; gi != gj {
			return gi < gj
		}
		return rows[i].Start.Before(rows[j].Start)
	})
	return rows, nil
}

func groupKeyFor(def Definition, f facts.Fact) string {
	parts := make([]string, 0, len(def.Dimensions))
	for _, dim := range def.Dimensions {
		switch dim {
		case DimEntity:
			parts = append(parts, f.EntityID)
		case DimVendor:
			parts = append(parts, f.VendorID)
		case DimService:
			parts = append(parts, f.ServiceCode)
		}
	}
	return strings.Join(parts, keySep)
}

func bucket(grain Grain, t time.Time) (time.Time, string, string) {
	t = t.UTC()
	if grain == GrainDay {
		start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return start, start.Format("2006-01-02"), t.Month().String()
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.Format("2006-01"), t.Month().String()
}

// Totals are the summed measures of a row or fact set.
type Totals struct {
	Hours amount.Decimal
	Cost  amount.Decimal
	Facts int
}

// Reconcile checks that rows account for exactly the tenant's facts: no fact
// double counted and none omitted.
func Reconcile(def Definition, tenantID string, in []facts.Fact, rows []Row) error {
	var want, got Totals
	for _, f := range in {
		if f.TenantID != tenantID {
			continue
		}
		want.Hours = want.Hours.Add(f.Hours)
		want.Cost = want.Cost.Add(f.Cost)
		want.Facts++
	}
	for _, r := range rows {
		if r.TenantID != tenantID || r.Table != def.Name {
			return eris.Errorf("%s: row for %s/%s in %s/%s", def.Name, r.TenantID, r.Table, tenantID, def.Name)
		}
		got.Hours = got.Hours.Add(r.Hours)
		got.Cost = got.Cost.Add(r.Cost)
		got.Facts += r.Facts
	}
	if want.Hours.Cmp(got.Hours) != 0 || want.Cost.Cmp(got.Cost) != 0 || want.Facts != got.Facts {
		return eris.Errorf("%s: reconciliation mismatch for %s: facts hours=%s cost=%s n=%d, rows hours=%s cost=%s n=%d",
			def.Name, tenantID, want.Hours, want.Cost, want.Facts, got.Hours, got.Cost, got.Facts)
	}
	return nil
}
