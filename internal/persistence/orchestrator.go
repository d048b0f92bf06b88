// Package persistence computes how persistently targets reappear across
// time slices at several buffer distances, and groups them into clusters.
package persistence

import (
	"context"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/persistence-cli/internal/model"
	"github.com/sells-group/persistence-cli/internal/table"
)

// IDField is the key field of every target table.
const IDField = "targetID"

// VisibleField is set to 1 on every output row.
const VisibleField = "VISIBLE"

// Backend is the geospatial collaborator used by the orchestrator.
type Backend interface {
	KeyCounter

	// Buffer returns the slice with every target geometry buffered by
	// distance. Distance 0 returns the slice unchanged.
	Buffer(ctx context.Context, slice model.TimeSlice, distance int) (model.TimeSlice, error)

	// Overlay intersects the focal slice with the others and returns the
	// regions covered by focal targets, dissolved by tag set.
	Overlay(ctx context.Context, focal model.TimeSlice, others []model.TimeSlice) ([]model.OverlapGroup, error)
}

// RunContext carries everything one run operates on.
type RunContext struct {
	RunID string
	Mode  model.Mode

	// Slices are the filtered time slices, in key order.
	Slices []model.TimeSlice

	// Table is the consolidated target table, one row per target.
	Table *table.Table

	// Existing is the output of a prior run to extend. When set it
	// receives the new fields instead of Table.
	Existing *table.Table
}

// Options configures an Orchestrator.
type Options struct {
	// Workers bounds the number of buffer distances computed concurrently.
	Workers int
}

// DistanceResult is the outcome of one buffer distance.
type DistanceResult struct {
	Distance int
	Fields   model.DistanceFields
	Records  []Record
	Clusters Clusters
	Table    *table.Table
}

// Result is the outcome of a run.
type Result struct {
	Output    *table.Table
	Distances []DistanceResult

	// Skipped is set when there were too few time slices to compare.
	Skipped bool
}

// Orchestrator drives persistence and clustering across buffer distances.
type Orchestrator struct {
	backend Backend
	opts    Options
}

// NewOrchestrator creates an Orchestrator over backend.
func NewOrchestrator(backend Backend, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Orchestrator{backend: backend, opts: opts}
}

// Run computes persistence, weight and cluster fields for every distance
// and merges them onto the output table. Distances already present in the
// output are replaced.
func (o *Orchestrator) Run(ctx context.Context, rc *RunContext, distances []int) (*Result, error) {
	log := zap.L().With(zap.String("component", "persistence"), zap.String("run_id", rc.RunID))

	if !rc.Mode.Valid() {
		return nil, eris.Errorf("persistence: invalid mode %q", rc.Mode)
	}
	distances, err := normalizeDistances(distances)
	if err != nil {
		return nil, err
	}

	out := rc.Table
	if rc.Existing != nil {
		out = rc.Existing
	}
	if out == nil {
		return nil, eris.New("persistence: no target table")
	}
	if !out.HasField(IDField) {
		return nil, eris.Wrapf(table.ErrNoField, "persistence: output table lacks %s", IDField)
	}

	res := &Result{Output: out}
	if err := markOutput(out, rc); err != nil {
		return nil, err
	}

	if len(rc.Slices) < 2 {
		log.Info("fewer than two time slices, skipping persistence",
			zap.Int("slices", len(rc.Slices)),
		)
		res.Skipped = true
		return res, nil
	}

	results := make([]DistanceResult, len(distances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for i, d := range distances {
		g.Go(func() error {
			dr, err := o.computeDistance(gctx, rc, d)
			if err != nil {
				return eris.Wrapf(err, "persistence: distance %d", d)
			}
			results[i] = dr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, dr := range results {
		if err := mergeDistance(out, dr, log); err != nil {
			return nil, err
		}
	}
	res.Distances = results

	log.Info("persistence complete",
		zap.Ints("distances", distances),
		zap.Int("targets", out.Len()),
	)
	return res, nil
}

func (o *Orchestrator) computeDistance(ctx context.Context, rc *RunContext, distance int) (DistanceResult, error) {
	log := zap.L().With(zap.String("component", "persistence"), zap.Int("distance", distance))

	dr := DistanceResult{Distance: distance, Fields: model.FieldNames(rc.Mode, distance)}
	var groupings []model.OverlapGroup
	for i, slice := range rc.Slices {
		if err := ctx.Err(); err != nil {
			return dr, err
		}

		focal, err := o.backend.Buffer(ctx, slice, distance)
		if err != nil {
			return dr, eris.Wrapf(err, "buffer slice %s", slice.Key)
		}
		others := make([]model.TimeSlice, 0, len(rc.Slices)-1)
		others = append(others, rc.Slices[:i]...)
		others = append(others, rc.Slices[i+1:]...)

		groups, err := o.backend.Overlay(ctx, focal, others)
		if err != nil {
			return dr, eris.Wrapf(err, "overlay slice %s", slice.Key)
		}

		rec, err := CountOverlaps(ctx, o.backend, slice.Key, distance, groups)
		if err != nil {
			return dr, err
		}
		dr.Records = append(dr.Records, rec)
		groupings = append(groupings, groups...)

		log.Debug("slice counted",
			zap.String("slice", slice.Key),
			zap.Int("groups", len(groups)),
			zap.Int("targets", len(rec.Counts)),
		)
	}

	dr.Clusters = AssembleClusters(groupings)
	dr.Table = distanceTable(rc.Slices, dr)

	log.Info("distance computed",
		zap.Int("slices", len(rc.Slices)),
		zap.Int("clusters", dr.Clusters.Len()),
	)
	return dr, nil
}

// distanceTable lays the per-slice records and the cluster partition out
// as one row per target.
func distanceTable(ts []model.TimeSlice, dr DistanceResult) *table.Table {
	t := table.New(
		table.Field{Name: IDField, Type: table.String, Length: 64},
		table.Field{Name: dr.Fields.Pers, Type: table.Integer},
		table.Field{Name: dr.Fields.Wght, Type: table.Integer},
		table.Field{Name: dr.Fields.Clst, Type: table.String, Length: 20},
	)
	for i, slice := range ts {
		rec := dr.Records[i]
		for _, target := range slice.Targets {
			row := table.NewRow(map[string]any{IDField: target.ID}, nil)
			if c, ok := rec.Get(target.ID); ok {
				row.Set(dr.Fields.Pers, c.Persistence)
				row.Set(dr.Fields.Wght, c.Weight)
			}
			if cl, ok := dr.Clusters.Of(target.ID); ok {
				row.Set(dr.Fields.Clst, cl.Label())
			}
			t.Append(row)
		}
	}
	return t
}

func mergeDistance(out *table.Table, dr DistanceResult, log *zap.Logger) error {
	names := dr.Fields.All()
	for _, name := range names {
		out.DeleteField(name)
	}

	report, err := out.JoinFields(IDField, dr.Table, IDField, names, table.JoinOptions{
		Progress: func(pct int) {
			log.Debug("merge progress", zap.Int("distance", dr.Distance), zap.Int("pct", pct))
		},
	})
	if err != nil {
		return eris.Wrapf(err, "persistence: merge distance %d", dr.Distance)
	}
	for _, ferr := range report.Errors {
		log.Error("field not merged", zap.Int("distance", dr.Distance), zap.Error(ferr))
	}
	return nil
}

func markOutput(out *table.Table, rc *RunContext) error {
	layers := model.LayerCountField(rc.Mode)
	for _, f := range []table.Field{
		{Name: VisibleField, Type: table.Integer},
		{Name: layers, Type: table.Integer},
	} {
		if err := out.AddField(f); err != nil {
			return err
		}
	}
	for _, r := range out.Rows() {
		r.Set(VisibleField, 1)
		r.Set(layers, len(rc.Slices))
	}
	return nil
}

func normalizeDistances(distances []int) ([]int, error) {
	if len(distances) == 0 {
		return nil, eris.New("persistence: no buffer distances")
	}
	out := make([]int, 0, len(distances))
	for _, d := range distances {
		if d < 0 {
			return nil, eris.Errorf("persistence: negative buffer distance %d", d)
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	return out, nil
}
