package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-network/spendq/pkg/db/models/facts"
)

const sample = `tenant_id,entity_id,entity_name,entity_kind,vendor_id,vendor_name,service_date,service_code,hours,cost
t1,e-1,Ava Smith,student,v-1,Bright Therapy,2025-10-03,SLP,1.5,120.10
t1,e-2,Dr. Ruiz,clinician,v-1,Bright Therapy,2025-10-04,OT,2,160.20
t2,e-3,Ben Lee,,v-2,Kids OT,2025-11-04,PT,0.75,60.15
`

func TestParseFacts(t *testing.T) {
	rows, err := parseFacts([]byte(sample))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "t1", rows[0].TenantID)
	assert.Equal(t, "Ava Smith", rows[0].EntityName)
	assert.Equal(t, time.Date(2025, 10, 3, 0, 0, 0, 0, time.UTC), rows[0].ServiceDate)
	assert.Equal(t, "120.10", rows[0].Cost.String())
	assert.Equal(t, facts.KindClinician, rows[1].EntityKind)
	// kind defaults to student
	assert.Equal(t, facts.KindStudent, rows[2].EntityKind)
	assert.Equal(t, "0.75", rows[2].Hours.String())
}

func TestParseFactsReportsLine(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want string
	}{
		{
			name: "bad date",
			csv:  "tenant_id,service_date,hours,cost\nt1,10/03/2025,1,1\n",
			want: "line 2",
		},
		{
			name: "bad cost",
			csv:  "tenant_id,service_date,hours,cost\nt1,2025-10-03,1,1\nt1,2025-10-03,1,abc\n",
			want: "line 3",
		},
		{
			name: "missing tenant",
			csv:  "tenant_id,service_date,hours,cost\n,2025-10-03,1,1\n",
			want: "tenant_id is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFacts([]byte(tt.csv))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
