package redis

import (
	"context"

	"github.com/canopy-network/spendq/pkg/refresh"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FactsCommitter is triggered when a tenant's facts changed.
type FactsCommitter interface {
	FactsCommitted(ctx context.Context, tenantID string) (refresh.Report, error)
}

// FactsCommittedHandler rebuilds the tenant named by each entry. Entries
// without a tenant are acknowledged and dropped. A partial failure is
// acknowledged and left to the periodic refresh; an entry is redelivered only
// when every table failed.
func FactsCommittedHandler(target FactsCommitter, logger *zap.Logger) MessageHandler {
	return func(ctx context.Context, msg Message) error {
		tenantID := msg.Tenant()
		if tenantID == "" {
			logger.Warn("facts-committed entry without tenant", zap.String("id", msg.ID))
			return nil
		}
		report, err := target.FactsCommitted(ctx, tenantID)
		if err != nil && report.Failed == len(report.Tables) {
			return eris.Wrapf(err, "rebuild tenant %s", tenantID)
		}
		logger.Info("facts committed",
			zap.String("id", msg.ID),
			zap.String("tenant", tenantID),
			zap.Int("failed", report.Failed))
		return nil
	}
}
