package table

import (
	"cmp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persistence-cli/internal/join"
)

// JoinOptions configures JoinFields.
type JoinOptions struct {
	// Progress is called at each 10% of destination rows processed.
	Progress func(pct int)
}

// JoinReport describes a JoinFields call.
type JoinReport struct {
	// Fields lists the fields that were added and populated.
	Fields []string

	// Errors holds one error per field that could not be propagated.
	Errors []error

	join.Result
}

// JoinFields copies fields from src onto t wherever t's key equals src's
// srcKey. Each field is (re)created on t with the source type; a field
// whose type cannot be propagated is reported and skipped while the other
// fields continue. src is projected distinct and ordered by srcKey and t
// is sorted by key before a single streaming merge pass.
func (t *Table) JoinFields(key string, src *Table, srcKey string, fields []string, opts JoinOptions) (JoinReport, error) {
	log := zap.L().With(zap.String("component", "table.join"))
	var report JoinReport

	kf, ok := t.Field(key)
	if !ok {
		return report, eris.Wrapf(ErrNoField, "join key %q", key)
	}
	skf, ok := src.Field(srcKey)
	if !ok {
		return report, eris.Wrapf(ErrNoField, "join source key %q", srcKey)
	}
	keyType, err := joinKeyType(kf.Type, skf.Type)
	if err != nil {
		return report, err
	}

	for _, name := range fields {
		sf, ok := src.Field(name)
		if !ok {
			report.Errors = append(report.Errors, eris.Wrapf(ErrNoField, "join field %q", name))
			log.Error("join field missing from source", zap.String("field", name))
			continue
		}
		ft, err := sf.Type.Propagated()
		if err != nil {
			report.Errors = append(report.Errors, eris.Wrapf(err, "join field %q", name))
			log.Error("unknown field type", zap.String("field", name), zap.String("type", string(sf.Type)))
			continue
		}
		if err := t.AddField(Field{Name: name, Type: ft, Length: sf.Length}); err != nil {
			return report, err
		}
		report.Fields = append(report.Fields, name)
	}
	if len(report.Fields) == 0 {
		return report, nil
	}

	secondary, err := src.Distinct(srcKey, report.Fields...)
	if err != nil {
		return report, err
	}
	if err := t.SortBy(key); err != nil {
		return report, err
	}

	apply := func(p, s *Row) {
		for _, name := range report.Fields {
			p.Set(name, s.Get(name))
		}
	}
	opt := join.Options{Total: t.Len(), Progress: opts.Progress, Name: key}

	switch keyType {
	case String:
		report.Result = joinOn(t, secondary, func(r *Row) string { return r.String(key) },
			func(r *Row) string { return r.String(srcKey) }, apply, opt)
	default:
		report.Result = joinOn(t, secondary, func(r *Row) int64 { return intKey(r, key) },
			func(r *Row) int64 { return intKey(r, srcKey) }, apply, opt)
	}

	log.Debug("joined fields",
		zap.Strings("fields", report.Fields),
		zap.Int("processed", report.Processed),
		zap.Int("matched", report.Matched),
		zap.Bool("exhausted", report.Exhausted),
	)
	return report, nil
}

func joinOn[K cmp.Ordered](dst, src *Table, dkey, skey func(*Row) K, apply func(p, s *Row), opt join.Options) join.Result {
	return join.Join(dst.All(), dkey, src.All(), skey, apply, opt)
}

func joinKeyType(a, b FieldType) (FieldType, error) {
	norm := func(t FieldType) FieldType {
		if t == OID {
			return Integer
		}
		return t
	}
	a, b = norm(a), norm(b)
	if a != b {
		return "", eris.Errorf("table: join key types differ: %s vs %s", a, b)
	}
	if a != String && a != Integer {
		return "", eris.Errorf("table: unsupported join key type %s", a)
	}
	return a, nil
}
