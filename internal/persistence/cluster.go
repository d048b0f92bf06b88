package persistence

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/persistence-cli/internal/model"
)

// Cluster is a maximal set of targets transitively connected through
// shared overlap groups at one buffer distance.
type Cluster struct {
	ID        int
	Members   []string
	MonthSpan int
}

// Label is the cluster field value, "<id>.<monthSpan>".
func (c Cluster) Label() string {
	return strconv.Itoa(c.ID) + "." + strconv.Itoa(c.MonthSpan)
}

// Clusters is the partition computed for one buffer distance.
type Clusters struct {
	List []Cluster
	of   map[string]int
}

// Of returns the cluster a target belongs to.
func (cs Clusters) Of(targetID string) (Cluster, bool) {
	i, ok := cs.of[targetID]
	if !ok {
		return Cluster{}, false
	}
	return cs.List[i], true
}

// Len is the number of clusters.
func (cs Clusters) Len() int {
	return len(cs.List)
}

// AssembleClusters computes connected components over targets, where two
// targets are connected when they share a grouping. Only groupings with
// more than one tag contribute. IDs start at 1 and follow discovery order,
// so they are stable for identical input order only.
func AssembleClusters(groupings []model.OverlapGroup) Clusters {
	ds := newDisjointSet()
	for _, g := range groupings {
		if g.Len() < 2 {
			continue
		}
		first := ds.add(g.Members[0].TargetID)
		for _, m := range g.Members[1:] {
			ds.union(first, ds.add(m.TargetID))
		}
	}

	comps := ds.components()
	cs := Clusters{List: make([]Cluster, len(comps)), of: make(map[string]int, len(ds.keys))}
	for i, members := range comps {
		cs.List[i] = Cluster{ID: i + 1, Members: members, MonthSpan: monthSpan(members)}
		for _, id := range members {
			cs.of[id] = i
		}
	}
	return cs
}

// monthSpan is the month difference between the earliest and latest
// dated members. Members without a date are skipped.
func monthSpan(members []string) int {
	var lo, hi time.Time
	for _, id := range members {
		tid, err := model.ParseTargetID(id)
		if err != nil {
			zap.L().Debug("persistence: no date in target id", zap.String("target_id", id))
			continue
		}
		if lo.IsZero() || tid.Date.Before(lo) {
			lo = tid.Date
		}
		if hi.IsZero() || tid.Date.After(hi) {
			hi = tid.Date
		}
	}
	if lo.IsZero() {
		return 0
	}
	return model.MonthsBetween(lo, hi)
}
