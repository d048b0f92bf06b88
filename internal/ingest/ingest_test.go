package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/persistence-cli/internal/model"
	"github.com/sells-group/persistence-cli/internal/shapefile"
	"github.com/sells-group/persistence-cli/internal/store"
	"github.com/sells-group/persistence-cli/internal/table"
)

func square(x, y float64) *geom.MultiPolygon {
	flat := []float64{x, y, x + 1, y, x + 1, y + 1, x, y + 1, x, y}
	return geom.NewMultiPolygonFlat(geom.XY, flat, [][]int{{len(flat)}}).SetSRID(4326)
}

type feature struct {
	id    string
	x     float64
	lcard int
	pice  int
	year  int
}

func writeSlice(t *testing.T, path string, feats ...feature) {
	t.Helper()
	tbl := table.New(
		table.Field{Name: "targetID", Type: table.String, Length: 64},
		table.Field{Name: "Lcard", Type: table.Integer},
		table.Field{Name: "Pice", Type: table.Integer},
	)
	for _, f := range feats {
		tbl.Append(table.NewRow(map[string]any{
			"targetID": f.id,
			"Lcard":    f.lcard,
			"Pice":     f.pice,
		}, square(f.x, 0)))
	}
	require.NoError(t, shapefile.Write(path, tbl))
}

func newFilterer(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "filter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestSliceKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		ok   bool
	}{
		{"RS2_20100613.shp", "20100613", true},
		{"RS2_20100613_101502.zip", "20100613", true},
		{"SAR_2011.SHP", "2011", true},
		{"targets.shp", "", false},
		{"RS2_.shp", "", false},
		{"RS2_20100613.dbf", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := SliceKey(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"RS2_20100613.shp", "RS2_20100613.dbf", "RS2_20100613.zip",
		"RS2_20100612_a.zip", "RS2_20100612_b.shp",
		"readme.txt", "nokey.shp",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "RS2_20100101.shp"), 0o755))

	files, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "20100612", files[0].Key)
	assert.Equal(t, []string{
		filepath.Join(dir, "RS2_20100612_a.zip"),
		filepath.Join(dir, "RS2_20100612_b.shp"),
	}, files[0].Paths)
	assert.Equal(t, "20100613", files[1].Key)
	assert.Equal(t, []string{filepath.Join(dir, "RS2_20100613.shp")}, files[1].Paths)
}

func TestDiscover_MissingDir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestLoad_YearSlicesFiltered(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "SAR_2012.shp"), feature{id: "c1", x: 0, lcard: 3})
	writeSlice(t, filepath.Join(dir, "SAR_2010.shp"),
		feature{id: "a1", x: 0, lcard: 3},
		feature{id: "a2", x: 5, lcard: 3, pice: 1},
	)
	writeSlice(t, filepath.Join(dir, "SAR_2011.shp"), feature{id: "b1", x: 0, lcard: 30})

	ds, err := Load(context.Background(), Options{
		Dir:      dir,
		Mode:     "auto",
		Filter:   store.Filter{Keep: "Lcard < 10", Reject: "Pice = 1"},
		Filterer: newFilterer(t),
	})
	require.NoError(t, err)

	assert.Equal(t, model.ModeYear, ds.Mode)
	assert.Equal(t, "persistent_targets_2010to2012", ds.Name)
	assert.Equal(t, []string{"2010", "2011", "2012"}, ds.Keys())
	assert.Equal(t, []string{"a1"}, ds.Slices[0].IDs())
	assert.Empty(t, ds.Slices[1].Targets)
	assert.Equal(t, []string{"c1"}, ds.Slices[2].IDs())
	assert.Equal(t, "2010", ds.Slices[0].Targets[0].Slice)

	assert.Equal(t, []string{"targetID", "slice", "Lcard", "Pice"}, ds.Table.FieldNames())
	require.Equal(t, 2, ds.Table.Len())
	assert.Equal(t, "a1", ds.Table.Rows()[0].String("targetID"))
	assert.Equal(t, "2010", ds.Table.Rows()[0].String("slice"))
	assert.Equal(t, "c1", ds.Table.Rows()[1].String("targetID"))
	assert.NotNil(t, ds.Table.Rows()[1].Geom)
}

func TestLoad_DayMode(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "RS2_20100613.shp"), feature{id: "1_20100613_101502", lcard: 1})
	writeSlice(t, filepath.Join(dir, "RS2_20100720.shp"), feature{id: "1_20100720_101502", lcard: 1})

	ds, err := Load(context.Background(), Options{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, model.ModeDay, ds.Mode)
	assert.Equal(t, "RS2_2010", ds.Name)
	assert.Equal(t, []string{"20100613", "20100720"}, ds.Keys())
}

func TestLoad_ForcedYearFoldsDays(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "RS2_20100613.shp"), feature{id: "1_20100613_101502"})
	writeSlice(t, filepath.Join(dir, "RS2_20100720.shp"), feature{id: "1_20100720_101502", x: 3})
	writeSlice(t, filepath.Join(dir, "RS2_20110101.shp"), feature{id: "1_20110101_101502"})

	ds, err := Load(context.Background(), Options{Dir: dir, Mode: "year"})
	require.NoError(t, err)
	assert.Equal(t, model.ModeYear, ds.Mode)
	assert.Equal(t, "persistent_targets_2010to2011", ds.Name)
	require.Len(t, ds.Slices, 2)
	assert.Equal(t, []string{"1_20100613_101502", "1_20100720_101502"}, ds.Slices[0].IDs())
	assert.Equal(t, "2010", ds.Slices[0].Targets[1].Slice)
}

func TestLoad_ForcedDayOverYearsFails(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "SAR_2010.shp"), feature{id: "a"})

	_, err := Load(context.Background(), Options{Dir: dir, Mode: "day"})
	assert.Error(t, err)
}

func TestLoad_MixedKeysFail(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "SAR_2010.shp"), feature{id: "a"})
	writeSlice(t, filepath.Join(dir, "RS2_20100613.shp"), feature{id: "b"})

	_, err := Load(context.Background(), Options{Dir: dir})
	assert.ErrorContains(t, err, "mixed day and year")
}

func TestLoad_EmptyDir(t *testing.T) {
	_, err := Load(context.Background(), Options{Dir: t.TempDir()})
	assert.ErrorContains(t, err, "no time slices")
}

func TestLoad_OtherSourcesSplitByYear(t *testing.T) {
	dir := t.TempDir()
	writeSlice(t, filepath.Join(dir, "SAR_2010.shp"), feature{id: "a1"})
	writeSlice(t, filepath.Join(dir, "SAR_2011.shp"), feature{id: "b1"})

	other := table.New(
		table.Field{Name: "ID", Type: table.String, Length: 32},
		table.Field{Name: "YEAR", Type: table.Integer},
	)
	other.Append(
		table.NewRow(map[string]any{"ID": "legacy-1", "YEAR": 2011}, square(0, 0)),
		table.NewRow(map[string]any{"ID": "legacy-2", "YEAR": 2013}, square(4, 0)),
		table.NewRow(map[string]any{"ID": "legacy-3"}, square(8, 0)),
	)
	otherDir := t.TempDir()
	otherPath := filepath.Join(otherDir, "legacy.shp")
	require.NoError(t, shapefile.Write(otherPath, other))

	ds, err := Load(context.Background(), Options{
		Dir:          dir,
		OtherSources: []Source{{Path: otherPath, IDField: "ID", YearField: "YEAR"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"2010", "2011", "2013"}, ds.Keys())
	assert.Equal(t, []string{"b1", "legacy-1"}, ds.Slices[1].IDs())
	assert.Equal(t, "persistent_targets_2010to2013", ds.Name)
	assert.Equal(t, 4, ds.Table.Len())
	assert.True(t, ds.Table.HasField("YEAR"))
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "RS2_2010", OutputName(model.ModeDay, []string{"20100613", "20100720"}))
	assert.Equal(t, "persistent_targets_2009to2011", OutputName(model.ModeYear, []string{"2009", "2010", "2011"}))
	assert.Empty(t, OutputName(model.ModeYear, nil))
}
