package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/persistence-cli/internal/config"
	"github.com/sells-group/persistence-cli/internal/report"
	"github.com/sells-group/persistence-cli/internal/shapefile"
	"github.com/sells-group/persistence-cli/internal/store"
	"github.com/sells-group/persistence-cli/internal/table"
)

func square(x, y float64) *geom.MultiPolygon {
	flat := []float64{x, y, x + 1, y, x + 1, y + 1, x, y + 1, x, y}
	return geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{{len(flat)}}).SetSRID(4326)
}

func writeSlice(t *testing.T, path string, ids ...string) {
	t.Helper()
	tbl := table.New(
		table.Field{Name: "targetID", Type: table.String, Length: 64},
		table.Field{Name: "Lcard", Type: table.Integer},
	)
	for i, id := range ids {
		tbl.Append(table.NewRow(map[string]any{"targetID": id, "Lcard": 5}, square(float64(10*i), 0)))
	}
	require.NoError(t, shapefile.Write(path, tbl))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	in := filepath.Join(root, "in")
	require.NoError(t, os.MkdirAll(in, 0o755))
	writeSlice(t, filepath.Join(in, "SAR_2010.shp"), "a", "lone")
	writeSlice(t, filepath.Join(in, "SAR_2011.shp"), "b")
	writeSlice(t, filepath.Join(in, "SAR_2012.shp"), "c")

	return &config.Config{
		Store: config.StoreConfig{Path: filepath.Join(root, "persistence.db")},
		Analysis: config.AnalysisConfig{
			Distances:       []int{0},
			Mode:            "auto",
			Workers:         2,
			CellSize:        0.1,
			BufferSegments:  32,
			BackendAttempts: 1,
		},
		Ingest: config.IngestConfig{Dir: in, IDField: "targetID"},
		Output: config.OutputConfig{Dir: filepath.Join(root, "out"), Shapefile: true, Manifest: true},
		Weight: config.WeightConfig{Attributes: config.DefaultWeightAttributes()},
	}
}

func testStore(t *testing.T, c *config.Config) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(c.Store.Path)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRunAnalyze(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	st := testStore(t, c)

	res, err := runAnalyze(ctx, st, c, analyzeOptions{Weight: true})
	require.NoError(t, err)

	name := "persistent_targets_2010to2012"
	assert.Equal(t, name, res.Name)
	assert.Equal(t, []string{"2010", "2011", "2012"}, res.Slices)
	assert.Equal(t, 4, res.Targets)
	assert.False(t, res.Skipped)
	assert.Equal(t, []string{
		filepath.Join(c.Output.Dir, name+".csv"),
		filepath.Join(c.Output.Dir, name+".shp"),
		filepath.Join(c.Output.Dir, name+".yaml"),
	}, res.Outputs)

	records := readCSV(t, res.Outputs[0])
	require.Len(t, records, 5)
	assert.Equal(t, []string{"targetID", "slice", "Lcard", "WghtLH", "VISIBLE", "totalYrLyr", "Ypers0", "Ywght0", "Yclst0"}, records[0])
	assert.Equal(t, []string{"a", "2010", "5", "0.5", "1", "3", "2", "3", "1.0"}, records[1])
	assert.Equal(t, []string{"lone", "2010", "5", "0.5", "1", "3", "0", "1", ""}, records[4])

	run, err := st.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusComplete, run.Status)
	assert.Equal(t, res.Outputs[0], run.Output)
	assert.Equal(t, []int{0}, run.Spec.Distances)

	stored, err := st.LoadTable(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Len())

	m, err := report.ReadManifest(res.Outputs[2])
	require.NoError(t, err)
	assert.Equal(t, res.RunID, m.RunID)
	require.Len(t, m.Summaries, 1)
	assert.Equal(t, 1, m.Summaries[0].Clusters)
	assert.Equal(t, 3, m.Summaries[0].LargestCluster)
}

func TestRunAnalyze_DaySlices(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	c.Output.Shapefile = false
	c.Output.Manifest = false

	day := filepath.Join(t.TempDir(), "day")
	require.NoError(t, os.MkdirAll(day, 0o755))
	writeSlice(t, filepath.Join(day, "RS2_20100613.shp"), "1_20100613_101502", "2_20100613_101502")
	writeSlice(t, filepath.Join(day, "RS2_20100720.shp"), "1_20100720_101502")
	writeSlice(t, filepath.Join(day, "RS2_20100915.shp"), "1_20100915_101502")
	c.Ingest.Dir = day
	st := testStore(t, c)

	res, err := runAnalyze(ctx, st, c, analyzeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "RS2_2010", res.Name)
	assert.Equal(t, []string{"20100613", "20100720", "20100915"}, res.Slices)

	records := readCSV(t, res.Outputs[0])
	require.Len(t, records, 5)
	assert.Equal(t, []string{"targetID", "slice", "Lcard", "VISIBLE", "totalLyr", "pers0", "wght0", "clst0"}, records[0])
	assert.Equal(t, [][]string{
		{"1_20100613_101502", "20100613", "5", "1", "3", "2", "3", "1.3"},
		{"1_20100720_101502", "20100720", "5", "1", "3", "2", "3", "1.3"},
		{"1_20100915_101502", "20100915", "5", "1", "3", "2", "3", "1.3"},
		{"2_20100613_101502", "20100613", "5", "1", "3", "0", "1", ""},
	}, records[1:])
}

func TestRunAnalyze_ExtendsStoredOutput(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	c.Output.Shapefile = false
	c.Output.Manifest = false
	st := testStore(t, c)

	_, err := runAnalyze(ctx, st, c, analyzeOptions{})
	require.NoError(t, err)

	c.Analysis.Distances = []int{20}
	res, err := runAnalyze(ctx, st, c, analyzeOptions{Extend: true})
	require.NoError(t, err)
	assert.Len(t, res.Outputs, 1)

	stored, err := st.LoadTable(ctx, res.Name)
	require.NoError(t, err)
	assert.True(t, stored.HasField("Ypers0"))
	assert.True(t, stored.HasField("Ypers20"))

	for r := range stored.All() {
		p, ok := r.Int("Ypers20")
		require.True(t, ok)
		assert.Equal(t, int64(2), p, r.String("targetID"))
	}
}

func TestRunAnalyze_SingleSlice(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	require.NoError(t, os.Remove(filepath.Join(c.Ingest.Dir, "SAR_2011.shp")))
	require.NoError(t, os.Remove(filepath.Join(c.Ingest.Dir, "SAR_2012.shp")))
	st := testStore(t, c)

	res, err := runAnalyze(ctx, st, c, analyzeOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	records := readCSV(t, res.Outputs[0])
	assert.NotContains(t, records[0], "Ypers0")

	m, err := report.ReadManifest(res.Outputs[len(res.Outputs)-1])
	require.NoError(t, err)
	assert.True(t, m.Skipped)
	assert.Empty(t, m.Summaries)
}

func TestRunAnalyze_FailureRecorded(t *testing.T) {
	ctx := context.Background()
	c := testConfig(t)
	c.Analysis.Distances = []int{-1}
	st := testStore(t, c)

	_, err := runAnalyze(ctx, st, c, analyzeOptions{})
	require.Error(t, err)

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.RunStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "negative buffer distance")
}

func TestIngestOptions(t *testing.T) {
	c := testConfig(t)
	c.Filter = config.FilterConfig{Enabled: true, Keep: "Lcard < 10", Reject: "Pice = 1"}
	c.Ingest.OtherSources = []config.SourceConfig{{Path: "legacy.shp", IDField: "ID", YearField: "YEAR"}}

	opts := ingestOptions(c, nil)
	assert.Equal(t, store.Filter{Keep: "Lcard < 10", Reject: "Pice = 1"}, opts.Filter)
	require.Len(t, opts.OtherSources, 1)
	assert.Equal(t, "YEAR", opts.OtherSources[0].YearField)

	c.Filter.Enabled = false
	assert.Equal(t, store.Filter{}, ingestOptions(c, nil).Filter)
}

func TestApplyAnalyzeFlags(t *testing.T) {
	c := testConfig(t)
	cmd := analyzeCmd
	t.Cleanup(func() {
		for _, name := range []string{"distances", "mode", "no-filter"} {
			cmd.Flags().Lookup(name).Changed = false
		}
	})
	require.NoError(t, cmd.Flags().Set("distances", "0,500"))
	require.NoError(t, cmd.Flags().Set("mode", "year"))
	require.NoError(t, cmd.Flags().Set("no-filter", "true"))

	c.Filter.Enabled = true
	require.NoError(t, applyAnalyzeFlags(cmd, c))
	assert.Equal(t, []int{0, 500}, c.Analysis.Distances)
	assert.Equal(t, "year", c.Analysis.Mode)
	assert.False(t, c.Filter.Enabled)
}
