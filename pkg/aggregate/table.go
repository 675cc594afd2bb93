// Package aggregate holds the precomputed, tenant-partitioned rollups of fact
// records that every compiled query reads from.
//
// Tables are never patched: a rebuild computes a complete new row set, which
// is published as an immutable Snapshot with a fresh generation number and
// swapped in atomically. Readers that already hold a snapshot keep reading a
// consistent table for as long as they need it.
package aggregate

import (
	"time"

	"github.com/canopy-network/spendq/pkg/amount"
)

// Table names. They are part of template definitions and of cache scopes.
const (
	EntityMonth        = "entity_month"
	EntityServiceMonth = "entity_service_month"
	VendorMonth        = "vendor_month"
	VendorEntityMonth  = "vendor_entity_month"
	TenantMonth        = "tenant_month"
	TenantDay          = "tenant_day"
)

// Dimension is one grouping key of a table.
type Dimension string

const (
	DimEntity  Dimension = "entity"
	DimVendor  Dimension = "vendor"
	DimService Dimension = "service"
)

// Grain is the time bucket size of a table.
type Grain string

const (
	GrainMonth Grain = "month"
	GrainDay   Grain = "day"
)

// Definition describes one aggregate table: the fixed grouping and bucket grain.
type Definition struct {
	Name       string
	Dimensions []Dimension
	Grain      Grain
}

// Has reports whether the table groups by dim.
func (d Definition) Has(dim Dimension) bool {
	for _, x := range d.Dimensions {
		if x == dim {
			return true
		}
	}
	return false
}

var definitions = []Definition{
	{Name: EntityMonth, Dimensions: []Dimension{DimEntity}, Grain: GrainMonth},
	{Name: EntityServiceMonth, Dimensions: []Dimension{DimEntity, DimService}, Grain: GrainMonth},
	{Name: VendorMonth, Dimensions: []Dimension{DimVendor}, Grain: GrainMonth},
	{Name: VendorEntityMonth, Dimensions: []Dimension{DimVendor, DimEntity}, Grain: GrainMonth},
	{Name: TenantMonth, Grain: GrainMonth},
	{Name: TenantDay, Grain: GrainDay},
}

// Definitions returns every table the refresh scheduler maintains.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup finds a definition by table name.
func Lookup(name string) (Definition, bool) {
	for _, d := range definitions {
		if d.Name == name {
			return d, true
		}
	}
	return Definition{}, false
}

// Row is one bucket of one group. Measures are exact decimals.
type Row struct {
	Table    string `json:"table"`
	TenantID string `json:"tenant_id"`
	// GroupKey joins the grouping dimension ids; empty for tenant-wide tables.
	GroupKey    string `json:"group_key"`
	EntityID    string `json:"entity_id,omitempty"`
	EntityName  string `json:"entity_name,omitempty"`
	VendorID    string `json:"vendor_id,omitempty"`
	VendorName  string `json:"vendor_name,omitempty"`
	ServiceCode string `json:"service_code,omitempty"`
	// Period is "2006-01" for month tables and "2006-01-02" for day tables.
	Period string    `json:"period"`
	Label  string    `json:"label"`
	Start  time.Time `json:"start"`

	Hours    amount.Decimal `json:"hours"`
	Cost     amount.Decimal `json:"cost"`
	Facts    int            `json:"facts"`
	Entities int            `json:"entities"`
}

// GroupName is the human-readable name of the row's group.
func (r Row) GroupName() string {
	switch {
	case r.VendorName != "" && r.EntityName != "":
		return r.VendorName + " / " + r.EntityName
	case r.EntityName != "" && r.ServiceCode != "":
		return r.EntityName + " / " + r.ServiceCode
	case r.VendorName != "":
		return r.VendorName
	case r.EntityName != "":
		return r.EntityName
	default:
		return r.TenantID
	}
}
