package model

import (
	"slices"
	"strings"
)

// Member is one present tag of an overlap group.
type Member struct {
	Slice    string
	TargetID string
}

// OverlapGroup is a dissolved overlay region, identified by the targets
// whose geometry covers it. Slices without a covering target are absent.
type OverlapGroup struct {
	Members []Member
}

// NewOverlapGroup builds a group from a slice key to target id mapping.
// Empty ids are treated as absent.
func NewOverlapGroup(tags map[string]string) OverlapGroup {
	members := make([]Member, 0, len(tags))
	for slice, id := range tags {
		if id == "" {
			continue
		}
		members = append(members, Member{Slice: slice, TargetID: id})
	}
	slices.SortFunc(members, compareMembers)
	return OverlapGroup{Members: members}
}

func compareMembers(a, b Member) int {
	if c := strings.Compare(a.Slice, b.Slice); c != 0 {
		return c
	}
	return strings.Compare(a.TargetID, b.TargetID)
}

// Len is the number of present tags.
func (g OverlapGroup) Len() int {
	return len(g.Members)
}

// Member returns the target id tagged for slice.
func (g OverlapGroup) Member(slice string) (string, bool) {
	for _, m := range g.Members {
		if m.Slice == slice {
			return m.TargetID, true
		}
	}
	return "", false
}

// Has reports whether slice has a tag in the group.
func (g OverlapGroup) Has(slice string) bool {
	_, ok := g.Member(slice)
	return ok
}

// IDs returns the tagged target ids in member order.
func (g OverlapGroup) IDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.TargetID
	}
	return ids
}

// Key identifies the group's tag set; dissolved groups have distinct keys.
func (g OverlapGroup) Key() string {
	var b strings.Builder
	for i, m := range g.Members {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(m.Slice)
		b.WriteByte('=')
		b.WriteString(m.TargetID)
	}
	return b.String()
}
