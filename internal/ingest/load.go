package ingest

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/persistence-cli/internal/model"
	"github.com/sells-group/persistence-cli/internal/persistence"
	"github.com/sells-group/persistence-cli/internal/shapefile"
	"github.com/sells-group/persistence-cli/internal/store"
	"github.com/sells-group/persistence-cli/internal/table"
)

// SliceField holds the time slice key on the consolidated table.
const SliceField = "slice"

// Filterer evaluates a keep/reject filter over a table.
type Filterer interface {
	FilterRows(ctx context.Context, t *table.Table, f store.Filter) ([]int, error)
}

// Source is a non-SAR layer whose targets are split into year slices by
// an attribute.
type Source struct {
	Path      string
	IDField   string
	YearField string
}

// Options configures Load.
type Options struct {
	Dir     string
	IDField string

	// Mode is "auto", "day" or "year". Forcing year over day-keyed files
	// folds the days of each year into one slice.
	Mode string

	// Filter is applied to every slice when Filterer is set.
	Filter   store.Filter
	Filterer Filterer

	// OtherSources are merged into year slices; ignored in day mode.
	OtherSources []Source

	// Concurrency bounds parallel slice reads (default 4).
	Concurrency int
}

// Dataset is the input of a persistence run.
type Dataset struct {
	Name   string
	Mode   model.Mode
	Slices []model.TimeSlice
	Table  *table.Table
}

// Keys returns the slice keys in order.
func (d *Dataset) Keys() []string {
	keys := make([]string, len(d.Slices))
	for i, s := range d.Slices {
		keys[i] = s.Key
	}
	return keys
}

type loadedSlice struct {
	slice  model.TimeSlice
	fields []table.Field
}

// Load reads, dissolves and filters every time slice under opts.Dir and
// builds the consolidated target table.
func Load(ctx context.Context, opts Options) (*Dataset, error) {
	if opts.IDField == "" {
		opts.IDField = persistence.IDField
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	log := zap.L().With(
		zap.String("component", "ingest"),
		zap.String("dir", opts.Dir),
	)

	files, err := Discover(opts.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, eris.Errorf("ingest: no time slices in %s", opts.Dir)
	}

	mode, err := resolveMode(opts.Mode, files)
	if err != nil {
		return nil, err
	}

	loaded := make([]loadedSlice, len(files))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, sf := range files {
		g.Go(func() error {
			ls, err := loadSlice(gCtx, sf, opts)
			if err != nil {
				return eris.Wrapf(err, "ingest: slice %s", sf.Key)
			}
			loaded[i] = ls
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if mode == model.ModeYear && model.DetectMode(files[0].Key) == model.ModeDay {
		loaded = foldYears(loaded)
		log.Info("folded day slices into years", zap.Int("years", len(loaded)))
	}

	if len(opts.OtherSources) > 0 {
		if mode == model.ModeYear {
			loaded, err = mergeSources(ctx, loaded, opts)
			if err != nil {
				return nil, err
			}
		} else {
			log.Warn("other sources are only merged in year mode", zap.Int("sources", len(opts.OtherSources)))
		}
	}

	ds := &Dataset{Mode: mode}
	var fieldSets [][]table.Field
	for _, ls := range loaded {
		ds.Slices = append(ds.Slices, ls.slice)
		fieldSets = append(fieldSets, ls.fields)
	}
	ds.Name = OutputName(mode, ds.Keys())

	ds.Table, err = consolidate(ds.Slices, fieldSets, opts.IDField)
	if err != nil {
		return nil, err
	}

	log.Info("time slices loaded",
		zap.String("mode", string(mode)),
		zap.Strings("slices", ds.Keys()),
		zap.Int("targets", ds.Table.Len()),
	)
	return ds, nil
}

// OutputName names the run output for the given mode and slice keys.
func OutputName(mode model.Mode, keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	if mode == model.ModeDay {
		return "RS2_" + yearOf(keys[0])
	}
	return fmt.Sprintf("persistent_targets_%sto%s", keys[0], keys[len(keys)-1])
}

func yearOf(key string) string {
	if len(key) >= 4 {
		return key[:4]
	}
	return key
}

func resolveMode(requested string, files []SliceFile) (model.Mode, error) {
	detected := model.DetectMode(files[0].Key)
	for _, f := range files[1:] {
		if model.DetectMode(f.Key) != detected {
			return "", eris.Errorf("ingest: mixed day and year slices (%s, %s)", files[0].Key, f.Key)
		}
	}

	switch requested {
	case "", "auto":
		return detected, nil
	case string(model.ModeDay):
		if detected != model.ModeDay {
			return "", eris.New("ingest: day mode needs YYYYMMDD slice keys")
		}
		return model.ModeDay, nil
	case string(model.ModeYear):
		return model.ModeYear, nil
	}
	return "", eris.Errorf("ingest: unknown mode %q", requested)
}

func loadSlice(ctx context.Context, sf SliceFile, opts Options) (loadedSlice, error) {
	ls := loadedSlice{slice: model.TimeSlice{Key: sf.Key, Source: strings.Join(sf.Paths, ",")}}

	var targets []model.Target
	for _, path := range sf.Paths {
		layer, err := shapefile.Read(path, opts.IDField)
		if err != nil {
			return ls, err
		}
		ls.fields = unionFields(ls.fields, layer.Fields)
		targets = append(targets, layer.Targets...)
	}
	targets = shapefile.Dissolve(targets)

	if opts.Filterer != nil {
		var err error
		targets, err = filterTargets(ctx, opts.Filterer, opts.Filter, ls.fields, targets)
		if err != nil {
			return ls, err
		}
	}

	for i := range targets {
		targets[i].Slice = sf.Key
	}
	ls.slice.Targets = targets

	if len(targets) == 0 {
		zap.L().Warn("ingest: time slice has no targets", zap.String("slice", sf.Key))
	}
	return ls, nil
}

func filterTargets(ctx context.Context, f Filterer, filter store.Filter, fields []table.Field, targets []model.Target) ([]model.Target, error) {
	if filter.Where() == "" {
		return targets, nil
	}

	t := table.New(fields...)
	for _, tg := range targets {
		t.Append(table.NewRow(tg.Attrs, nil))
	}
	keep, err := f.FilterRows(ctx, t, filter)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: filter")
	}

	out := make([]model.Target, 0, len(keep))
	for _, i := range keep {
		out = append(out, targets[i])
	}
	zap.L().Debug("ingest: filtered targets",
		zap.Int("total", len(targets)),
		zap.Int("kept", len(out)),
	)
	return out, nil
}

// foldYears merges day slices into one slice per year.
func foldYears(days []loadedSlice) []loadedSlice {
	var out []loadedSlice
	idx := make(map[string]int)
	for _, d := range days {
		year := yearOf(d.slice.Key)
		i, ok := idx[year]
		if !ok {
			idx[year] = len(out)
			out = append(out, loadedSlice{slice: model.TimeSlice{Key: year, Source: d.slice.Source}})
			i = len(out) - 1
		} else {
			out[i].slice.Source += "," + d.slice.Source
		}
		out[i].fields = unionFields(out[i].fields, d.fields)
		out[i].slice.Targets = append(out[i].slice.Targets, d.slice.Targets...)
	}
	for i := range out {
		targets := shapefile.Dissolve(out[i].slice.Targets)
		for j := range targets {
			targets[j].Slice = out[i].slice.Key
		}
		out[i].slice.Targets = targets
	}
	return out
}

// mergeSources splits each other source by its year field and adds its
// targets to the matching year slice, creating slices as needed.
func mergeSources(ctx context.Context, years []loadedSlice, opts Options) ([]loadedSlice, error) {
	idx := make(map[string]int, len(years))
	for i, y := range years {
		idx[y.slice.Key] = i
	}

	for _, src := range opts.OtherSources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idField := src.IDField
		if idField == "" {
			idField = opts.IDField
		}
		layer, err := shapefile.Read(src.Path, idField)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: other source %s", src.Path)
		}

		var noYear int
		for _, tg := range shapefile.Dissolve(layer.Targets) {
			year, ok := yearValue(tg.Attrs[src.YearField])
			if !ok {
				noYear++
				continue
			}
			i, ok := idx[year]
			if !ok {
				idx[year] = len(years)
				years = append(years, loadedSlice{slice: model.TimeSlice{Key: year, Source: src.Path}})
				i = len(years) - 1
			}
			tg.Slice = year
			years[i].slice.Targets = append(years[i].slice.Targets, tg)
			years[i].fields = unionFields(years[i].fields, layer.Fields)
		}
		if noYear > 0 {
			zap.L().Warn("ingest: other source rows without a year",
				zap.String("path", src.Path),
				zap.Int("skipped", noYear),
			)
		}
	}

	slices.SortFunc(years, func(a, b loadedSlice) int { return strings.Compare(a.slice.Key, b.slice.Key) })
	return years, nil
}

func yearValue(v any) (string, bool) {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10), x > 0
	case float64:
		return strconv.FormatInt(int64(x), 10), x > 0
	case string:
		x = strings.TrimSpace(x)
		if _, err := strconv.Atoi(x); err == nil && len(x) == 4 {
			return x, true
		}
	}
	return "", false
}

// unionFields appends the fields of b missing from a. The first type seen
// for a name wins.
func unionFields(a, b []table.Field) []table.Field {
	have := make(map[string]bool, len(a))
	for _, f := range a {
		have[f.Name] = true
	}
	for _, f := range b {
		if !have[f.Name] {
			a = append(a, f)
			have[f.Name] = true
		}
	}
	return a
}

// consolidate builds the target table: targetID, slice and the union of
// source attributes, one row per target, sorted by targetID.
func consolidate(ts []model.TimeSlice, fieldSets [][]table.Field, idField string) (*table.Table, error) {
	fields := []table.Field{
		{Name: persistence.IDField, Type: table.String, Length: 64},
		{Name: SliceField, Type: table.String, Length: 16},
	}
	var attrs []table.Field
	for _, fs := range fieldSets {
		attrs = unionFields(attrs, fs)
	}
	for _, f := range attrs {
		if strings.EqualFold(f.Name, persistence.IDField) || strings.EqualFold(f.Name, idField) || f.Name == SliceField {
			continue
		}
		fields = append(fields, f)
	}

	t := table.New(fields...)
	for _, s := range ts {
		for _, tg := range s.Targets {
			r := table.NewRow(nil, tg.Geom)
			for _, f := range fields[2:] {
				r.Set(f.Name, tg.Attrs[f.Name])
			}
			r.Set(persistence.IDField, tg.ID)
			r.Set(SliceField, s.Key)
			t.Append(r)
		}
	}
	if err := t.SortBy(persistence.IDField); err != nil {
		return nil, eris.Wrap(err, "ingest: sort targets")
	}
	return t, nil
}
