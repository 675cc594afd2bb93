package facts

import (
	"time"

	"github.com/canopy-network/spendq/pkg/amount"
)

// EntityKind distinguishes the person a service line was billed for.
type EntityKind string

const (
	KindStudent   EntityKind = "student"
	KindClinician EntityKind = "clinician"
)

// Fact is one committed, billed service line. Facts are written by the
// ingestion pipeline and never modified afterwards.
type Fact struct {
	TenantID    string         `json:"tenant_id" ch:"tenant_id" db:"tenant_id"`
	EntityID    string         `json:"entity_id" ch:"entity_id" db:"entity_id"`
	EntityName  string         `json:"entity_name" ch:"entity_name" db:"entity_name"`
	EntityKind  EntityKind     `json:"entity_kind" ch:"entity_kind" db:"entity_kind"`
	VendorID    string         `json:"vendor_id" ch:"vendor_id" db:"vendor_id"`
	VendorName  string         `json:"vendor_name" ch:"vendor_name" db:"vendor_name"`
	ServiceDate time.Time      `json:"service_date" ch:"service_date" db:"service_date"`
	ServiceCode string         `json:"service_code" ch:"service_code" db:"service_code"`
	Hours       amount.Decimal `json:"hours" ch:"-" db:"hours"`
	Cost        amount.Decimal `json:"cost" ch:"-" db:"cost"`
}

// Columns is the canonical column order used by every SQL fact store.
var Columns = []string{
	"tenant_id", "entity_id", "entity_name", "entity_kind",
	"vendor_id", "vendor_name", "service_date", "service_code", "hours", "cost",
}
