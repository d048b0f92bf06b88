package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/persistence-cli/internal/config"
	"github.com/sells-group/persistence-cli/internal/ingest"
	"github.com/sells-group/persistence-cli/internal/overlay"
	"github.com/sells-group/persistence-cli/internal/persistence"
	"github.com/sells-group/persistence-cli/internal/report"
	"github.com/sells-group/persistence-cli/internal/resilience"
	"github.com/sells-group/persistence-cli/internal/scorer"
	"github.com/sells-group/persistence-cli/internal/shapefile"
	"github.com/sells-group/persistence-cli/internal/store"
	"github.com/sells-group/persistence-cli/internal/table"
)

// backendBackoff is the pause between overlay backend attempts.
const backendBackoff = 5 * time.Second

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute persistence, weight and clusters for a directory of time slices",
	Long: `Reads every time slice shapefile under the input directory, filters and
dissolves the targets, then computes per-target persistence, weight and
cluster fields at each buffer distance. The consolidated table is stored,
exported as <name>.csv and optionally as a shapefile.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := applyAnalyzeFlags(cmd, cfg); err != nil {
			return err
		}
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		noWeight, _ := cmd.Flags().GetBool("no-weight")
		extend, _ := cmd.Flags().GetBool("extend")
		res, err := runAnalyze(ctx, st, cfg, analyzeOptions{Weight: !noWeight, Extend: extend})
		if err != nil {
			return err
		}

		fmt.Printf("%s: %d targets over %d slices\n", res.Name, res.Targets, len(res.Slices))
		for _, out := range res.Outputs {
			fmt.Printf("  wrote %s\n", out)
		}
		if res.Skipped {
			fmt.Println("  fewer than two time slices; persistence fields not computed")
		}
		return nil
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.String("dir", "", "directory of time slice shapefiles (overrides ingest.dir)")
	f.IntSlice("distances", nil, "buffer distances, e.g. 0,500,1000 (overrides analysis.distances)")
	f.String("mode", "", "analysis mode: auto, day or year (overrides analysis.mode)")
	f.String("out", "", "output directory (overrides output.dir)")
	f.Bool("no-filter", false, "skip the keep/reject attribute filter")
	f.Bool("shapefile", false, "also export the output as a shapefile")
	f.Bool("no-weight", false, "skip the weight likelihood attribute")
	f.Bool("extend", false, "add the distances to the stored output of a previous run")
	rootCmd.AddCommand(analyzeCmd)
}

// applyAnalyzeFlags copies the flags that were set onto c.
func applyAnalyzeFlags(cmd *cobra.Command, c *config.Config) error {
	f := cmd.Flags()
	if f.Changed("dir") {
		c.Ingest.Dir, _ = f.GetString("dir")
	}
	if f.Changed("distances") {
		d, err := f.GetIntSlice("distances")
		if err != nil {
			return eris.Wrap(err, "analyze: parse --distances")
		}
		c.Analysis.Distances = d
	}
	if f.Changed("mode") {
		c.Analysis.Mode, _ = f.GetString("mode")
	}
	if f.Changed("out") {
		c.Output.Dir, _ = f.GetString("out")
	}
	if f.Changed("no-filter") {
		noFilter, _ := f.GetBool("no-filter")
		c.Filter.Enabled = !noFilter
	}
	if f.Changed("shapefile") {
		c.Output.Shapefile, _ = f.GetBool("shapefile")
	}
	return nil
}

type analyzeOptions struct {
	Weight bool
	Extend bool
}

type analyzeResult struct {
	RunID   string
	Name    string
	Slices  []string
	Targets int
	Skipped bool
	Outputs []string
}

// runAnalyze performs one recorded analysis run against st.
func runAnalyze(ctx context.Context, st store.Store, c *config.Config, opts analyzeOptions) (*analyzeResult, error) {
	log := zap.L().With(zap.String("command", "analyze"))

	ds, err := ingest.Load(ctx, ingestOptions(c, st))
	if err != nil {
		return nil, err
	}

	run, err := st.CreateRun(ctx, store.RunSpec{
		Name:      ds.Name,
		Mode:      string(ds.Mode),
		InputDir:  c.Ingest.Dir,
		Slices:    ds.Keys(),
		Distances: c.Analysis.Distances,
	})
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("run_id", run.ID), zap.String("name", ds.Name))

	res, err := analyze(ctx, st, c, ds, run.ID, opts, log)
	if err != nil {
		if ferr := st.FailRun(ctx, run.ID, err); ferr != nil {
			log.Error("record run failure", zap.Error(ferr))
		}
		return nil, err
	}
	if err := st.CompleteRun(ctx, run.ID, res.Outputs[0]); err != nil {
		return nil, err
	}
	return res, nil
}

func analyze(ctx context.Context, st store.Store, c *config.Config, ds *ingest.Dataset, runID string, opts analyzeOptions, log *zap.Logger) (*analyzeResult, error) {
	if opts.Weight {
		if _, err := scorer.WeightLikelihood(ds.Table, c.Weight.Attributes); err != nil {
			return nil, err
		}
	}

	rc := &persistence.RunContext{
		RunID:  runID,
		Mode:   ds.Mode,
		Slices: ds.Slices,
		Table:  ds.Table,
	}
	if opts.Extend {
		existing, err := st.LoadTable(ctx, ds.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			log.Warn("no stored output to extend, starting fresh")
		case err != nil:
			return nil, err
		default:
			rc.Existing = existing
		}
	}

	orch := persistence.NewOrchestrator(newBackend(c), persistence.Options{Workers: c.Analysis.Workers})
	pres, err := orch.Run(ctx, rc, c.Analysis.Distances)
	if err != nil {
		return nil, err
	}

	if err := st.SaveTable(ctx, ds.Name, pres.Output); err != nil {
		return nil, err
	}

	outputs, err := writeOutputs(c.Output, ds.Name, pres.Output)
	if err != nil {
		return nil, err
	}

	if c.Output.Manifest {
		path := filepath.Join(c.Output.Dir, ds.Name+".yaml")
		m := report.Manifest{
			RunID:     runID,
			Name:      ds.Name,
			Mode:      ds.Mode,
			Slices:    ds.Keys(),
			Distances: c.Analysis.Distances,
			Targets:   pres.Output.Len(),
			Skipped:   pres.Skipped,
			Outputs:   outputs,
			CreatedAt: time.Now().UTC(),
		}
		if !pres.Skipped {
			m.Summaries = report.Summarize(pres.Output, ds.Mode, c.Analysis.Distances)
		}
		if err := report.WriteManifest(path, m); err != nil {
			return nil, err
		}
		outputs = append(outputs, path)
	}

	log.Info("analysis complete",
		zap.Int("targets", pres.Output.Len()),
		zap.Int("slices", len(ds.Slices)),
		zap.Bool("skipped", pres.Skipped),
	)
	return &analyzeResult{
		RunID:   runID,
		Name:    ds.Name,
		Slices:  ds.Keys(),
		Targets: pres.Output.Len(),
		Skipped: pres.Skipped,
		Outputs: outputs,
	}, nil
}

func ingestOptions(c *config.Config, f ingest.Filterer) ingest.Options {
	opts := ingest.Options{
		Dir:         c.Ingest.Dir,
		IDField:     c.Ingest.IDField,
		Mode:        c.Analysis.Mode,
		Concurrency: c.Analysis.Workers,
	}
	if c.Filter.Enabled {
		opts.Filter = store.Filter{Keep: c.Filter.Keep, Reject: c.Filter.Reject, RejectOnly: c.Filter.RejectOnly}
		opts.Filterer = f
	}
	for _, src := range c.Ingest.OtherSources {
		opts.OtherSources = append(opts.OtherSources, ingest.Source{
			Path:      src.Path,
			IDField:   src.IDField,
			YearField: src.YearField,
		})
	}
	return opts
}

func newBackend(c *config.Config) *overlay.Retrying {
	grid := overlay.NewGrid(overlay.GridOptions{
		CellSize:   c.Analysis.CellSize,
		Geographic: c.Analysis.Geographic,
		Segments:   c.Analysis.BufferSegments,
	})
	retry := resilience.FixedBackoff(max(c.Analysis.BackendAttempts, 1), backendBackoff)
	retry.ShouldRetry = resilience.IsTransient
	return overlay.WithRetry(grid, overlay.RetryOptions{
		Timeout: time.Duration(c.Analysis.BackendTimeoutSecs) * time.Second,
		Retry:   retry,
	})
}

// writeOutputs exports t as <name>.csv, and as <name>.shp when configured.
// The CSV path comes first.
func writeOutputs(oc config.OutputConfig, name string, t *table.Table) ([]string, error) {
	csvPath, err := writeCSV(filepath.Join(oc.Dir, name+".csv"), t)
	if err != nil {
		return nil, err
	}
	outputs := []string{csvPath}
	if oc.Shapefile {
		shpPath := filepath.Join(oc.Dir, name+".shp")
		if err := shapefile.Write(shpPath, t); err != nil {
			return nil, err
		}
		outputs = append(outputs, shpPath)
	}
	return outputs, nil
}

func writeCSV(path string, t *table.Table) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrap(err, "create output dir")
	}
	file, err := os.Create(path)
	if err != nil {
		return "", eris.Wrapf(err, "create %s", path)
	}
	if err := t.WriteCSV(file); err != nil {
		file.Close() //nolint:errcheck
		return "", err
	}
	return path, eris.Wrapf(file.Close(), "close %s", path)
}
