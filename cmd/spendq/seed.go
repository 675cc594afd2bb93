package main

import (
	"os"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canopy-network/spendq/pkg/amount"
	"github.com/canopy-network/spendq/pkg/db"
	"github.com/canopy-network/spendq/pkg/db/models/facts"
)

// factRow is one CSV line of a fact export.
type factRow struct {
	TenantID    string `csv:"tenant_id"`
	EntityID    string `csv:"entity_id"`
	EntityName  string `csv:"entity_name"`
	EntityKind  string `csv:"entity_kind"`
	VendorID    string `csv:"vendor_id"`
	VendorName  string `csv:"vendor_name"`
	ServiceDate string `csv:"service_date"`
	ServiceCode string `csv:"service_code"`
	Hours       string `csv:"hours"`
	Cost        string `csv:"cost"`
}

func (r factRow) fact() (facts.Fact, error) {
	date, err := time.Parse(time.DateOnly, r.ServiceDate)
	if err != nil {
		return facts.Fact{}, eris.Wrapf(err, "service_date %q", r.ServiceDate)
	}
	hours, err := amount.New(r.Hours)
	if err != nil {
		return facts.Fact{}, eris.Wrapf(err, "hours %q", r.Hours)
	}
	cost, err := amount.New(r.Cost)
	if err != nil {
		return facts.Fact{}, eris.Wrapf(err, "cost %q", r.Cost)
	}
	kind := facts.EntityKind(r.EntityKind)
	if kind == "" {
		kind = facts.KindStudent
	}
	return facts.Fact{
		TenantID:    r.TenantID,
		EntityID:    r.EntityID,
		EntityName:  r.EntityName,
		EntityKind:  kind,
		VendorID:    r.VendorID,
		VendorName:  r.VendorName,
		ServiceDate: date,
		ServiceCode: r.ServiceCode,
		Hours:       hours,
		Cost:        cost,
	}, nil
}

// parseFacts decodes a CSV export with a header row.
func parseFacts(data []byte) ([]facts.Fact, error) {
	var rows []factRow
	if err := csvutil.Unmarshal(data, &rows); err != nil {
		return nil, eris.Wrap(err, "decode csv")
	}
	out := make([]facts.Fact, 0, len(rows))
	for i, r := range rows {
		if r.TenantID == "" {
			return nil, eris.Errorf("line %d: tenant_id is required", i+2)
		}
		f, err := r.fact()
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", i+2)
		}
		out = append(out, f)
	}
	return out, nil
}

var seedCmd = &cobra.Command{
	Use:   "seed <facts.csv>",
	Short: "Load committed facts from a CSV export into the configured fact store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "seed: read file")
		}
		rows, err := parseFacts(data)
		if err != nil {
			return eris.Wrap(err, "seed")
		}

		backend, err := db.Open(ctx, logger, cfg.Facts.Driver, cfg.Facts.DSN, "cli")
		if err != nil {
			return eris.Wrap(err, "seed: open fact store")
		}
		defer func() { _ = backend.Facts.Close() }()
		if backend.Driver == "memory" {
			logger.Warn("seeding the memory driver only lasts for this process")
		}

		if err := backend.Writer.InsertFacts(ctx, rows); err != nil {
			return eris.Wrap(err, "seed: insert facts")
		}
		logger.Info("facts seeded", zap.Int("rows", len(rows)), zap.String("driver", backend.Driver))
		return nil
	},
}
