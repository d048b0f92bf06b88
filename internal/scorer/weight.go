// Package scorer derives per-target likelihood scores from detection
// attributes.
package scorer

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/persistence-cli/internal/config"
	"github.com/sells-group/persistence-cli/internal/table"
)

// WeightField holds the weight likelihood of each target.
const WeightField = "WghtLH"

// Summary reports what WeightLikelihood scored.
type Summary struct {
	Scored   int
	Unscored int
	Mean     float64
}

// ValidateSpecs checks that every attribute spec is usable.
func ValidateSpecs(specs []config.AttributeSpec) error {
	var errs []string
	if len(specs) == 0 {
		errs = append(errs, "no attributes")
	}
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if s.Field == "" {
			errs = append(errs, fmt.Sprintf("attribute %d has no field", i))
			continue
		}
		if seen[s.Field] {
			errs = append(errs, fmt.Sprintf("attribute %s listed twice", s.Field))
		}
		seen[s.Field] = true
		if s.B <= s.A {
			errs = append(errs, fmt.Sprintf("attribute %s: b must be > a", s.Field))
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("scorer: attribute validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Likelihood maps v onto [C1, C2]: C1 up to A, C2 above B and linear in
// between.
func Likelihood(s config.AttributeSpec, v float64) float64 {
	switch {
	case v <= s.A:
		return s.C1
	case v > s.B:
		return s.C2
	}
	return s.C1 + (s.C2-s.C1)*(v-s.A)/(s.B-s.A)
}

// WeightLikelihood adds WeightField to t, set to the mean likelihood over
// the attributes each row carries. Rows with none of the attributes are
// left empty.
func WeightLikelihood(t *table.Table, specs []config.AttributeSpec) (Summary, error) {
	log := zap.L().With(zap.String("component", "scorer"))

	if err := ValidateSpecs(specs); err != nil {
		return Summary{}, err
	}
	var present []config.AttributeSpec
	for _, s := range specs {
		if t.HasField(s.Field) {
			present = append(present, s)
		} else {
			log.Warn("weight attribute missing from table", zap.String("field", s.Field))
		}
	}

	if err := t.AddField(table.Field{Name: WeightField, Type: table.Double}); err != nil {
		return Summary{}, eris.Wrap(err, "scorer: add weight field")
	}

	var sum Summary
	weights := make([]float64, 0, t.Len())
	terms := make([]float64, 0, len(present))
	for r := range t.All() {
		terms = terms[:0]
		for _, s := range present {
			if v, ok := r.Float(s.Field); ok {
				terms = append(terms, Likelihood(s, v))
			}
		}
		if len(terms) == 0 {
			sum.Unscored++
			continue
		}
		w := stat.Mean(terms, nil)
		r.Set(WeightField, w)
		weights = append(weights, w)
		sum.Scored++
	}
	if len(weights) > 0 {
		sum.Mean = stat.Mean(weights, nil)
	}

	log.Info("weight likelihood scored",
		zap.Int("scored", sum.Scored),
		zap.Int("unscored", sum.Unscored),
		zap.Float64("mean", sum.Mean),
	)
	return sum, nil
}
