package activity

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"
)

// RebuildTenant runs one tenant rebuild. Individual table failures are
// reported in the output and left for the next scheduled tick; only a rebuild
// where every table failed is returned as an error so Temporal retries it.
func (c *Context) RebuildTenant(ctx context.Context, in RebuildTenantInput) (RebuildTenantOutput, error) {
	logger := activity.GetLogger(ctx)
	if in.TenantID == "" {
		return RebuildTenantOutput{}, temporal.NewNonRetryableApplicationError("tenant required", "InvalidInput", nil)
	}
	reason := in.Reason
	if reason == "" {
		reason = "workflow"
	}

	report, err := c.Rebuilder.RebuildTenant(ctx, in.TenantID, reason)
	out := RebuildTenantOutput{ReportID: report.ID, Tables: len(report.Tables)}
	for _, tr := range report.Tables {
		if tr.Error != "" {
			out.Failed = append(out.Failed, tr.Table)
		}
	}

	if err != nil && (len(report.Tables) == 0 || len(out.Failed) == len(report.Tables)) {
		logger.Warn("tenant rebuild failed", "tenant", in.TenantID, "error", err)
		return out, err
	}
	if len(out.Failed) > 0 {
		c.Logger.Warn("tenant rebuild partially failed",
			zap.String("tenant", in.TenantID),
			zap.Strings("tables", out.Failed),
		)
	}
	return out, nil
}
