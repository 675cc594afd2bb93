package workflow

import (
	"context"
	"testing"

	"github.com/canopy-network/spendq/pkg/refresh"
	"github.com/canopy-network/spendq/pkg/refresh/activity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"
)

type stubRebuilder struct{ tenants []string }

func (s *stubRebuilder) RebuildTenant(_ context.Context, tenantID, _ string) (refresh.Report, error) {
	s.tenants = append(s.tenants, tenantID)
	return refresh.Report{ID: "rep", TenantID: tenantID, Tables: []refresh.TableReport{{Table: "tenant_month"}}}, nil
}

func TestRefreshTenantWorkflow(t *testing.T) {
	stub := &stubRebuilder{}
	wctx := &Context{ActivityContext: &activity.Context{Logger: zaptest.NewLogger(t), Rebuilder: stub}}

	suite := testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(wctx.RefreshTenantWorkflow)
	env.RegisterActivity(wctx.ActivityContext.RebuildTenant)

	env.ExecuteWorkflow(wctx.RefreshTenantWorkflow, activity.RebuildTenantInput{TenantID: "t9", Reason: "ingest"})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out activity.RebuildTenantOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "rep", out.ReportID)
	assert.Equal(t, 1, out.Tables)
	assert.Equal(t, []string{"t9"}, stub.tenants)
}
