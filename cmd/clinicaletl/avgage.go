package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/clinical-etl/pkg/agestat"
	"github.com/ajitpratap0/clinical-etl/pkg/clinical"
	"github.com/ajitpratap0/clinical-etl/pkg/columnar"
	"github.com/ajitpratap0/clinical-etl/pkg/ingest"
	jsonutil "github.com/ajitpratap0/clinical-etl/pkg/json"
	"github.com/ajitpratap0/clinical-etl/pkg/logger"
	"github.com/ajitpratap0/clinical-etl/pkg/table"
)

func newAvgAgeCmd(global *globalFlags) *cobra.Command {
	var partitions int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "avg-age <patients file>",
		Short: "Compute the average patient age",
		Long: `avg-age reads a patients table, either a Parquet artifact or a raw CSV
extract, and computes the average age at death, or at the reference date for
living patients. Partitions are mapped concurrently and reduced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			if err := initLogger(cfg, global); err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			tbl, err := loadPatients(ctx, args[0], cfg.ChunkSize)
			if err != nil {
				return err
			}
			res, err := agestat.Compute(ctx, tbl, partitions)
			if err != nil {
				return err
			}

			if asJSON {
				return jsonutil.Encode(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "average age: %.2f years over %d patients\n", res.Average, res.Count)
			return nil
		},
	}

	cmd.Flags().IntVarP(&partitions, "partitions", "p", 0, "Number of partitions (0 uses GOMAXPROCS)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func loadPatients(ctx context.Context, path string, chunkSize int) (*table.Table, error) {
	if strings.HasSuffix(strings.ToLower(path), columnar.Extension) {
		return columnar.ReadTable(ctx, path)
	}

	schema, err := clinical.SchemaFor(clinical.Patient)
	if err != nil {
		return nil, err
	}
	tbl, _, err := ingest.Load(ctx, path, ingest.Options{
		ChunkSize: chunkSize,
		Hints:     schema.Hints(),
		Widths:    schema.Widths(),
	}, logger.Get())
	return tbl, err
}
