// Package model defines the shared types of the persistence pipeline.
package model

import (
	"fmt"
	"strconv"

	"github.com/twpayne/go-geom"
)

// Mode selects day-level or year-level analysis. It changes field names
// and output naming, never the algorithms.
type Mode string

const (
	ModeDay  Mode = "day"
	ModeYear Mode = "year"
)

// DetectMode infers the analysis mode from a time slice key: eight digit
// keys (YYYYMMDD) are day-level, everything else is year-level.
func DetectMode(key string) Mode {
	if len(key) == 8 {
		if _, err := strconv.Atoi(key); err == nil {
			return ModeDay
		}
	}
	return ModeYear
}

// Prefix is the field-name prefix for the mode.
func (m Mode) Prefix() string {
	if m == ModeYear {
		return "Y"
	}
	return ""
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeDay || m == ModeYear
}

// DistanceFields are the output field names for one buffer distance.
type DistanceFields struct {
	Pers string
	Wght string
	Clst string
}

// FieldNames returns the persistence, weight and cluster field names for
// a buffer distance.
func FieldNames(mode Mode, distance int) DistanceFields {
	p := mode.Prefix()
	return DistanceFields{
		Pers: fmt.Sprintf("%spers%d", p, distance),
		Wght: fmt.Sprintf("%swght%d", p, distance),
		Clst: fmt.Sprintf("%sclst%d", p, distance),
	}
}

// All returns the three names in output order.
func (f DistanceFields) All() []string {
	return []string{f.Pers, f.Wght, f.Clst}
}

// LayerCountField names the field holding the number of time slices.
func LayerCountField(mode Mode) string {
	if mode == ModeYear {
		return "totalYrLyr"
	}
	return "totalLyr"
}

// Target is one detected feature instance in a single time slice.
type Target struct {
	ID    string
	Slice string
	Geom  geom.T
	Attrs map[string]any
}

// TimeSlice groups the targets of one acquisition day or year.
type TimeSlice struct {
	Key     string
	Source  string
	Targets []Target
}

// IDs returns the target ids of the slice in slice order.
func (s TimeSlice) IDs() []string {
	ids := make([]string, len(s.Targets))
	for i, t := range s.Targets {
		ids[i] = t.ID
	}
	return ids
}
