package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/persistence-cli/internal/model"
)

type freqCounter struct {
	err   error
	calls int
}

func (f *freqCounter) CountByKey(_ context.Context, groups []model.OverlapGroup, slice string) (map[string]int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]int)
	for _, g := range groups {
		if id, ok := g.Member(slice); ok {
			out[id]++
		}
	}
	return out, nil
}

func group(tags map[string]string) model.OverlapGroup {
	return model.NewOverlapGroup(tags)
}

func TestCountOverlaps(t *testing.T) {
	groups := []model.OverlapGroup{
		group(map[string]string{"2010": "a"}),
		group(map[string]string{"2010": "a", "2011": "b"}),
		group(map[string]string{"2010": "a", "2011": "b", "2012": "c"}),
		group(map[string]string{"2010": "a", "2012": "c"}),
		group(map[string]string{"2010": "d"}),
		group(map[string]string{"2011": "b", "2012": "c"}),
	}

	rec, err := CountOverlaps(context.Background(), &freqCounter{}, "2010", 500, groups)
	require.NoError(t, err)

	assert.Equal(t, "2010", rec.Slice)
	assert.Equal(t, 500, rec.Distance)
	assert.Equal(t, map[string]Count{
		"a": {Persistence: 2, Weight: 3},
		"d": {Persistence: 0, Weight: 1},
	}, rec.Counts)

	_, ok := rec.Get("b")
	assert.False(t, ok)
}

func TestCountOverlaps_OrderIndependent(t *testing.T) {
	groups := []model.OverlapGroup{
		group(map[string]string{"2010": "a", "2011": "b", "2012": "c"}),
		group(map[string]string{"2010": "a", "2011": "b"}),
		group(map[string]string{"2010": "a"}),
	}
	reversed := []model.OverlapGroup{groups[2], groups[1], groups[0]}

	r1, err := CountOverlaps(context.Background(), &freqCounter{}, "2010", 0, groups)
	require.NoError(t, err)
	r2, err := CountOverlaps(context.Background(), &freqCounter{}, "2010", 0, reversed)
	require.NoError(t, err)
	assert.Equal(t, r1.Counts, r2.Counts)
}

func TestCountOverlaps_SameSliceNeighbours(t *testing.T) {
	groups := []model.OverlapGroup{
		group(map[string]string{"2010": "a1", "2011": "b"}),
		group(map[string]string{"2010": "a2", "2011": "b"}),
	}

	rec, err := CountOverlaps(context.Background(), &freqCounter{}, "2010", 0, groups)
	require.NoError(t, err)
	assert.Equal(t, Count{Persistence: 1, Weight: 2}, rec.Counts["a1"])
	assert.Equal(t, Count{Persistence: 1, Weight: 2}, rec.Counts["a2"])
}

func TestCountOverlaps_NoFocalGroups(t *testing.T) {
	counter := &freqCounter{}
	rec, err := CountOverlaps(context.Background(), counter, "2010", 0, []model.OverlapGroup{
		group(map[string]string{"2011": "b"}),
	})
	require.NoError(t, err)
	assert.Empty(t, rec.Counts)
	assert.Equal(t, 0, counter.calls)
}

func TestCountOverlaps_CounterError(t *testing.T) {
	_, err := CountOverlaps(context.Background(), &freqCounter{err: errors.New("backend down")}, "2010", 0,
		[]model.OverlapGroup{group(map[string]string{"2010": "a"})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}
