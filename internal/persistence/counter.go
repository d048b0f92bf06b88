package persistence

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/persistence-cli/internal/model"
)

// KeyCounter aggregates the number of groups carrying each target id of a
// slice.
type KeyCounter interface {
	CountByKey(ctx context.Context, groups []model.OverlapGroup, slice string) (map[string]int, error)
}

// Count holds the derived values of one target.
type Count struct {
	// Persistence is the number of other time slices overlapping the target.
	Persistence int
	// Weight is the number of distinct targets, itself included, sharing
	// an overlap region with the target.
	Weight int
}

// Record is the persistence result of one focal slice at one distance. A
// target without an entry has no data.
type Record struct {
	Slice    string
	Distance int
	Counts   map[string]Count
}

// Get returns the counts of a target.
func (r Record) Get(targetID string) (Count, bool) {
	c, ok := r.Counts[targetID]
	return c, ok
}

// CountOverlaps derives persistence and weight for the targets of focal
// from the dissolved overlay groups at one distance. Groups without a
// focal tag are ignored.
func CountOverlaps(ctx context.Context, counter KeyCounter, focal string, distance int, groups []model.OverlapGroup) (Record, error) {
	rec := Record{Slice: focal, Distance: distance, Counts: make(map[string]Count)}

	seen := make(map[string]struct{})
	var pairs []model.OverlapGroup
	for _, g := range groups {
		fid, ok := g.Member(focal)
		if !ok {
			continue
		}

		p := g.Len() - 1
		if c, ok := rec.Counts[fid]; !ok || p > c.Persistence {
			c.Persistence = p
			rec.Counts[fid] = c
		}

		for _, m := range g.Members {
			tags := map[string]string{focal: fid}
			if m.Slice != focal {
				tags[m.Slice] = m.TargetID
			}
			pair := model.NewOverlapGroup(tags)
			if _, dup := seen[pair.Key()]; dup {
				continue
			}
			seen[pair.Key()] = struct{}{}
			pairs = append(pairs, pair)
		}
	}

	if len(rec.Counts) == 0 {
		return rec, nil
	}

	freq, err := counter.CountByKey(ctx, pairs, focal)
	if err != nil {
		return rec, eris.Wrapf(err, "persistence: count by key for slice %s", focal)
	}
	for fid, c := range rec.Counts {
		c.Weight = freq[fid]
		rec.Counts[fid] = c
	}

	return rec, nil
}
