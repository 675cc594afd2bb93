package templates

import "github.com/canopy-network/spendq/pkg/aggregate"

var (
	student   = Slot{Name: "student", Kind: SlotStudent, Min: 1, Max: 1}
	vendor    = Slot{Name: "vendor", Kind: SlotVendor, Min: 1, Max: 1}
	month     = Slot{Name: "month", Kind: SlotMonth, Min: 1, Max: 1}
	months    = Slot{Name: "months", Kind: SlotMonth, Min: 1, Max: 2}
	monthSpan = Slot{Name: "range", Kind: SlotMonth, Min: 2, Max: 2}
)

// Builtin is the shipped template set.
func Builtin() []Template {
	return []Template{
		{ID: "student_spend_ytd", Version: 1, Title: "Year-to-date spend for a student",
			Slots: []Slot{student}, Table: aggregate.EntityMonth, Window: WindowYTD, Kind: KindTotal, Measure: MeasureCost},
		{ID: "student_spend_school_year", Version: 1, Title: "School-year spend for a student",
			Slots: []Slot{student}, Table: aggregate.EntityMonth, Window: WindowSchoolYear, Kind: KindTotal, Measure: MeasureCost},
		{ID: "student_monthly_spend", Version: 1, Title: "Monthly spend for a student",
			Slots: []Slot{student}, Table: aggregate.EntityMonth, Window: WindowSchoolYear, Kind: KindLookup, Measure: MeasureCost},
		{ID: "student_spend_month", Version: 1, Title: "Spend for a student in a month",
			Slots: []Slot{student, month}, Table: aggregate.EntityMonth, Window: WindowExplicitMonths, Kind: KindTotal, Measure: MeasureCost},
		{ID: "compare_students_ytd", Version: 1, Title: "Compare year-to-date spend of two students",
			Slots: []Slot{{Name: "first", Kind: SlotStudent, Min: 1, Max: 1}, {Name: "second", Kind: SlotStudent, Min: 1, Max: 1}},
			Table: aggregate.EntityMonth, Window: WindowYTD, Kind: KindCompare, Measure: MeasureCost},
		{ID: "student_services_school_year", Version: 1, Title: "Services received by a student this school year",
			Slots: []Slot{student}, Table: aggregate.EntityServiceMonth, Window: WindowSchoolYear, Kind: KindRank, Measure: MeasureHours, Direction: Descending, Limit: 10},
		{ID: "vendor_monthly_spend", Version: 1, Title: "Monthly spend for a vendor",
			Slots: []Slot{vendor}, Table: aggregate.VendorMonth, Window: WindowSchoolYear, Kind: KindLookup, Measure: MeasureCost},
		{ID: "vendor_spend_months", Version: 1, Title: "Vendor spend in specific months",
			Slots: []Slot{vendor, months}, Table: aggregate.VendorMonth, Window: WindowExplicitMonths, Kind: KindLookup, Measure: MeasureCost},
		{ID: "vendor_spend_range", Version: 1, Title: "Vendor spend between two months",
			Slots: []Slot{vendor, monthSpan}, Table: aggregate.VendorMonth, Window: WindowExplicitRange, Kind: KindTotal, Measure: MeasureCost},
		{ID: "vendor_students_ytd", Version: 1, Title: "Students served by a vendor this year",
			Slots: []Slot{vendor}, Table: aggregate.VendorEntityMonth, Window: WindowYTD, Kind: KindRank, Measure: MeasureCost, Direction: Descending, Limit: 25},
		{ID: "top_vendors_hours_school_year", Version: 1, Title: "Top vendors by hours this school year",
			Table: aggregate.VendorMonth, Window: WindowSchoolYear, Kind: KindRank, Measure: MeasureHours, Direction: Descending, Limit: 3},
		{ID: "top_students_cost_ytd", Version: 1, Title: "Most expensive students this year",
			Table: aggregate.EntityMonth, Window: WindowYTD, Kind: KindRank, Measure: MeasureCost, Direction: Descending, Limit: 5},
		{ID: "lowest_vendors_cost_ytd", Version: 1, Title: "Lowest-cost vendors this year",
			Table: aggregate.VendorMonth, Window: WindowYTD, Kind: KindRank, Measure: MeasureCost, Direction: Ascending, Limit: 5},
		{ID: "vendors_increasing_spend", Version: 1, Title: "Vendors with increasing spend over the last three months",
			Table: aggregate.VendorMonth, Window: WindowNone, Kind: KindTrend, Measure: MeasureCost, Direction: Increasing},
		{ID: "vendors_decreasing_spend", Version: 1, Title: "Vendors with decreasing spend over the last three months",
			Table: aggregate.VendorMonth, Window: WindowNone, Kind: KindTrend, Measure: MeasureCost, Direction: Decreasing},
		{ID: "students_increasing_hours", Version: 1, Title: "Students with increasing service hours",
			Table: aggregate.EntityMonth, Window: WindowNone, Kind: KindTrend, Measure: MeasureHours, Direction: Increasing},
		{ID: "district_daily_spend_month", Version: 1, Title: "Daily district spend in a month",
			Slots: []Slot{month}, Table: aggregate.TenantDay, Window: WindowExplicitMonths, Kind: KindLookup, Measure: MeasureCost},
		{ID: "district_spend_school_year", Version: 1, Title: "District spend by month this school year",
			Table: aggregate.TenantMonth, Window: WindowSchoolYear, Kind: KindLookup, Measure: MeasureCost},
	}
}

// Default returns the builtin catalog.
func Default() *Catalog {
	c, err := NewCatalog(Builtin())
	if err != nil {
		panic(err)
	}
	return c
}
