// Package workflow defines the durable refresh trigger: the ingestion
// pipeline starts RefreshTenantWorkflow after committing a tenant's facts.
package workflow

import (
	"time"

	"github.com/canopy-network/spendq/pkg/refresh/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const RefreshTenantWorkflowName = "RefreshTenantWorkflow"

type Context struct {
	ActivityContext *activity.Context
}

// RefreshTenantWorkflow rebuilds one tenant's aggregate tables.
func (c *Context) RefreshTenantWorkflow(ctx workflow.Context, in activity.RebuildTenantInput) (activity.RebuildTenantOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var out activity.RebuildTenantOutput
	err := workflow.ExecuteActivity(ctx, c.ActivityContext.RebuildTenant, in).Get(ctx, &out)
	return out, err
}
