// Package report summarises a run's output table and records it in a YAML
// manifest next to the exported files.
package report

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/persistence-cli/internal/model"
	"github.com/sells-group/persistence-cli/internal/table"
)

// Stats describes one numeric field.
type Stats struct {
	Count  int     `yaml:"count"`
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"stddev"`
	Max    float64 `yaml:"max"`
}

// DistanceSummary describes the fields of one buffer distance.
type DistanceSummary struct {
	Distance       int   `yaml:"distance"`
	Persistence    Stats `yaml:"persistence"`
	Weight         Stats `yaml:"weight"`
	Clusters       int   `yaml:"clusters"`
	LargestCluster int   `yaml:"largest_cluster"`
}

// Manifest records one run.
type Manifest struct {
	RunID     string            `yaml:"run_id"`
	Name      string            `yaml:"name"`
	Mode      model.Mode        `yaml:"mode"`
	Slices    []string          `yaml:"slices"`
	Distances []int             `yaml:"distances"`
	Targets   int               `yaml:"targets"`
	Skipped   bool              `yaml:"skipped,omitempty"`
	Outputs   []string          `yaml:"outputs"`
	Summaries []DistanceSummary `yaml:"summaries,omitempty"`
	CreatedAt time.Time         `yaml:"created_at"`
}

// Summarize computes per-distance statistics over the persistence, weight
// and cluster fields of t. Distances whose fields are absent are summarised
// as empty.
func Summarize(t *table.Table, mode model.Mode, distances []int) []DistanceSummary {
	out := make([]DistanceSummary, 0, len(distances))
	for _, d := range distances {
		names := model.FieldNames(mode, d)
		ds := DistanceSummary{
			Distance:    d,
			Persistence: fieldStats(t, names.Pers),
			Weight:      fieldStats(t, names.Wght),
		}
		ds.Clusters, ds.LargestCluster = clusterSizes(t, names.Clst)
		out = append(out, ds)
	}
	return out
}

func fieldStats(t *table.Table, name string) Stats {
	var xs []float64
	for r := range t.All() {
		if v, ok := r.Float(name); ok {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return Stats{}
	}
	s := Stats{Count: len(xs), Max: floats.Max(xs)}
	if len(xs) == 1 {
		s.Mean = xs[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	return s
}

// clusterSizes counts clusters by the id part of their "<id>.<span>" label.
func clusterSizes(t *table.Table, name string) (count, largest int) {
	sizes := make(map[string]int)
	for r := range t.All() {
		label := r.String(name)
		if label == "" {
			continue
		}
		id, _, _ := strings.Cut(label, ".")
		sizes[id]++
	}
	for _, n := range sizes {
		largest = max(largest, n)
	}
	return len(sizes), largest
}

// WriteManifest writes m as YAML to path, creating parent directories.
func WriteManifest(path string, m Manifest) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "report: create manifest dir")
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return eris.Wrap(err, "report: marshal manifest")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "report: write %s", path)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, eris.Wrapf(err, "report: read %s", path)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, eris.Wrapf(err, "report: parse %s", path)
	}
	return m, nil
}
