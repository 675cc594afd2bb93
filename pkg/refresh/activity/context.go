// Package activity holds the Temporal activities that drive aggregate
// refreshes from durable ingestion triggers.
package activity

import (
	"context"

	"github.com/canopy-network/spendq/pkg/refresh"
	"go.uber.org/zap"
)

// Rebuilder is the part of the refresh scheduler the activities need.
type Rebuilder interface {
	RebuildTenant(ctx context.Context, tenantID, reason string) (refresh.Report, error)
}

type Context struct {
	Logger    *zap.Logger
	Rebuilder Rebuilder
}

// RebuildTenantInput names the tenant whose facts were committed.
type RebuildTenantInput struct {
	TenantID string `json:"tenant_id"`
	Reason   string `json:"reason"`
}

type RebuildTenantOutput struct {
	ReportID string   `json:"report_id"`
	Tables   int      `json:"tables"`
	Failed   []string `json:"failed,omitempty"`
}
