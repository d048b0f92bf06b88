package persistence

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/persistence-cli/internal/model"
)

func TestAssembleClusters_Transitive(t *testing.T) {
	groupings := []model.OverlapGroup{
		group(map[string]string{"2010": "A_20100105_000000", "2011": "B_20110301_000000"}),
		group(map[string]string{"2011": "B_20110301_000000", "2012": "C_20120710_000000"}),
		group(map[string]string{"2010": "D_20100105_000000", "2012": "E_20120105_000000"}),
	}

	cs := AssembleClusters(groupings)
	require.Equal(t, 2, cs.Len())

	a, ok := cs.Of("A_20100105_000000")
	require.True(t, ok)
	c, ok := cs.Of("C_20120710_000000")
	require.True(t, ok)
	assert.Equal(t, a.ID, c.ID)
	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 30, a.MonthSpan)
	assert.Equal(t, "1.30", a.Label())

	d, _ := cs.Of("D_20100105_000000")
	assert.Equal(t, 2, d.ID)
	assert.Equal(t, 24, d.MonthSpan)
}

func TestAssembleClusters_LongChainFullyMerges(t *testing.T) {
	// Links arrive in an order that defeats a single merge pass.
	ids := []string{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	var groupings []model.OverlapGroup
	for i := len(ids) - 2; i >= 0; i -= 2 {
		groupings = append(groupings, group(map[string]string{"x": ids[i], "y": ids[i+1]}))
	}
	for i := 1; i+1 < len(ids); i += 2 {
		groupings = append(groupings, group(map[string]string{"x": ids[i], "y": ids[i+1]}))
	}

	cs := AssembleClusters(groupings)
	require.Equal(t, 1, cs.Len())
	assert.ElementsMatch(t, ids, cs.List[0].Members)
	assert.Equal(t, 0, cs.List[0].MonthSpan)
}

func TestAssembleClusters_SingletonsIgnoredAndDeduplicated(t *testing.T) {
	groupings := []model.OverlapGroup{
		group(map[string]string{"2010": "a"}),
		group(map[string]string{"2010": "a", "2011": "b"}),
		group(map[string]string{"2010": "a", "2011": "b"}),
		group(map[string]string{"2012": "z"}),
	}

	cs := AssembleClusters(groupings)
	require.Equal(t, 1, cs.Len())
	assert.Equal(t, []string{"a", "b"}, cs.List[0].Members)

	_, ok := cs.Of("z")
	assert.False(t, ok)
}

func TestAssembleClusters_MixedDates(t *testing.T) {
	cs := AssembleClusters([]model.OverlapGroup{
		group(map[string]string{
			"a": "7_9_20101201_010101_020202",
			"b": "other-source-17",
			"c": "8_20110215_101010",
		}),
	})
	require.Equal(t, 1, cs.Len())
	assert.Len(t, cs.List[0].Members, 3)
	assert.Equal(t, 2, cs.List[0].MonthSpan)
}

func TestAssembleClusters_PartitionIndependentOfOrder(t *testing.T) {
	groupings := []model.OverlapGroup{
		group(map[string]string{"1": "a", "2": "b"}),
		group(map[string]string{"1": "c", "2": "d"}),
		group(map[string]string{"2": "b", "3": "e"}),
		group(map[string]string{"2": "d", "3": "f"}),
	}
	reversed := []model.OverlapGroup{groupings[3], groupings[2], groupings[1], groupings[0]}

	diff := cmp.Diff(partition(AssembleClusters(groupings)), partition(AssembleClusters(reversed)),
		cmpopts.SortSlices(func(a, b []string) bool { return a[0] < b[0] }))
	assert.Empty(t, diff)
}

// partition returns clusters as sorted member lists, dropping ids.
func partition(cs Clusters) [][]string {
	out := make([][]string, 0, cs.Len())
	for _, c := range cs.List {
		m := slices.Clone(c.Members)
		slices.Sort(m)
		out = append(out, m)
	}
	return out
}
