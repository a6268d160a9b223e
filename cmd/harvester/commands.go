package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-harvest-books/config"
	"github.com/aluiziolira/go-harvest-books/models"
	"github.com/aluiziolira/go-harvest-books/pipeline"
)

const separator = "--------------------------------------------------"

func (a *app) ensureSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-schema",
		Short: "Create the books table and indexes if missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, needs{store: true}, func(ctx context.Context, r *pipeline.Runner) error {
				if err := r.EnsureSchema(ctx); err != nil {
					return err
				}
				fmt.Fprintln(a.out, "Schema ready")
				return nil
			})
		},
	}
}

func (a *app) harvestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Collect unique books and publish the batch for persist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.warnIfMemoryHandoff()
			return a.execute(cmd, needs{handoff: true, harvester: true}, func(ctx context.Context, r *pipeline.Runner) error {
				start := time.Now()
				batch, err := r.Harvest(ctx, a.cfg.Harvest.Count)
				if err != nil {
					return err
				}
				a.printBatch(batch, time.Since(start))
				return nil
			})
		},
	}
	addStageFlags(cmd)
	return cmd
}

func (a *app) persistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "persist",
		Short: "Upsert the last published batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.warnIfMemoryHandoff()
			return a.execute(cmd, needs{store: true, handoff: true}, func(ctx context.Context, r *pipeline.Runner) error {
				n, err := r.Persist(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Persisted %d books\n", n)
				return nil
			})
		},
	}
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ensure schema, harvest and persist in one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.execute(cmd, needs{store: true, handoff: true, harvester: true}, func(ctx context.Context, r *pipeline.Runner) error {
				start := time.Now()
				summary, err := r.Run(ctx, a.cfg.Harvest.Count)
				if summary != nil && summary.Batch != nil {
					a.printBatch(summary.Batch, time.Since(start))
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Persisted %d books\n", summary.Persisted)
				return nil
			})
		},
	}
	addStageFlags(cmd)
	return cmd
}

func addStageFlags(cmd *cobra.Command) {
	defaults := config.DefaultConfig()
	cmd.Flags().IntP("count", "n", defaults.Harvest.Count, "Number of unique books to collect")
	cmd.Flags().Int("max-pages", defaults.Harvest.MaxPages, "Maximum result pages to fetch")
	cmd.Flags().StringP("query", "q", defaults.Source.Query, "Search query")
	cmd.Flags().StringP("export", "o", "", "Also write the batch to a .csv or .jsonl file")
}

// applyStageFlags copies explicitly set stage flags over cfg.
func applyStageFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Lookup("count") == nil {
		return
	}
	if flags.Changed("count") {
		cfg.Harvest.Count, _ = flags.GetInt("count")
	}
	if flags.Changed("max-pages") {
		cfg.Harvest.MaxPages, _ = flags.GetInt("max-pages")
	}
	if flags.Changed("query") {
		cfg.Source.Query, _ = flags.GetString("query")
	}
	if flags.Changed("export") {
		cfg.Pipeline.ExportFile, _ = flags.GetString("export")
	}
}

func (a *app) printBatch(batch *models.Batch, elapsed time.Duration) {
	fmt.Fprintln(a.out, "\n"+separator)
	fmt.Fprintln(a.out, "Harvest complete")
	fmt.Fprintf(a.out, "  Query:         %s\n", batch.Query)
	fmt.Fprintf(a.out, "  Books:         %d\n", len(batch.Records))
	fmt.Fprintf(a.out, "  Pages:         %d\n", batch.Pages)
	fmt.Fprintf(a.out, "  Outcome:       %s\n", batch.Outcome)
	fmt.Fprintf(a.out, "  Duration:      %v\n", elapsed.Round(time.Millisecond))
	if a.cfg.Pipeline.ExportFile != "" {
		fmt.Fprintf(a.out, "  Export file:   %s\n", a.cfg.Pipeline.ExportFile)
	}
	fmt.Fprintln(a.out, separator)
}
