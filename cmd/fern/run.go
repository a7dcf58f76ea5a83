package main

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/sources"
)

func newRunCommand() *cobra.Command {
	var (
		manifestPath string
		dryRun       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline over the source extracts",
		Long: "Loads every extract named in the manifest, resolves identities, builds timelines, " +
			"interactions and connections, and publishes them in one transaction. " +
			"--dry-run computes everything in memory and publishes nothing.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if manifestPath == "" {
				manifestPath = a.cfg.Pipeline.ManifestPath
			}
			manifest, err := sources.LoadManifest(manifestPath)
			if err != nil {
				return err
			}

			var p *pipeline.Pipeline
			if dryRun {
				p, err = a.pipeline(pipeline.NewMemoryStore(), pipeline.NewLocalLocker())
			} else {
				if err := a.connect(ctx, depPostgres, depRedis, depKafka, depGraph); err != nil {
					return err
				}
				p, err = a.pipeline(a.store(), a.locker(), a.publishers()...)
			}
			if err != nil {
				return err
			}

			summary, runErr := p.Run(ctx, manifest)
			if errors.Is(runErr, pipeline.ErrRunInProgress) {
				return runErr
			}

			if summary != nil {
				if err := printSummary(cmd.OutOrStdout(), summary); err != nil {
					return err
				}
				if url := a.cfg.Metrics.PushgatewayURL; url != "" && !dryRun {
					if err := metrics.Push(url, a.cfg.Metrics.Job, summary.RunID); err != nil {
						a.logger.WithContext(ctx).WithError(err).Warn("Failed to push metrics")
					}
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "source manifest path (defaults to pipeline.manifest_path)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute in memory without publishing")
	return cmd
}

func printSummary(w io.Writer, summary *models.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
