// Package shapefile reads target layers from ESRI shapefiles and writes
// consolidated output tables back out.
package shapefile

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/persistence-cli/internal/model"
	"github.com/sells-group/persistence-cli/internal/table"
)

// Layer is the content of one shapefile.
type Layer struct {
	Path    string
	Fields  []table.Field
	Targets []model.Target
}

// Read loads the polygon features of a .shp file, or of the first .shp
// inside a .zip archive. idField names the attribute holding the target
// id; it must exist. Features without geometry or id are skipped.
func Read(path, idField string) (*Layer, error) {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		dir, err := os.MkdirTemp("", "persist-shp-*")
		if err != nil {
			return nil, eris.Wrap(err, "shapefile: temp dir")
		}
		defer os.RemoveAll(dir) //nolint:errcheck

		if err := extractZIP(path, dir); err != nil {
			return nil, eris.Wrapf(err, "shapefile: extract %s", path)
		}
		shpPath, err := findFileByExt(dir, ".shp")
		if err != nil {
			return nil, eris.Wrapf(err, "shapefile: %s", path)
		}
		layer, err := readSHP(shpPath, idField)
		if layer != nil {
			layer.Path = path
		}
		return layer, err
	}
	return readSHP(path, idField)
}

func readSHP(path, idField string) (*Layer, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "shapefile: open %s", path)
	}
	defer func() { _ = reader.Close() }()

	dbf := reader.Fields()
	fields := make([]table.Field, len(dbf))
	idIdx := -1
	for i, f := range dbf {
		fields[i] = fieldFromDBF(f)
		if strings.EqualFold(fields[i].Name, idField) {
			idIdx = i
			fields[i] = table.Field{Name: idField, Type: table.String, Length: max(int(f.Size), 64)}
		}
	}
	if idIdx < 0 {
		return nil, eris.Errorf("shapefile: %s has no %s field", path, idField)
	}

	layer := &Layer{Path: path, Fields: fields}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}

		attrs := make(map[string]any, len(fields))
		for i, f := range fields {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if v := parseValue(f.Type, raw); v != nil {
				attrs[f.Name] = v
			}
		}
		id, _ := attrs[idField].(string)
		if id == "" {
			skipped++
			continue
		}

		layer.Targets = append(layer.Targets, model.Target{ID: id, Geom: mp, Attrs: attrs})
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "shapefile: read %s", path)
	}

	if skipped > 0 {
		zap.L().Debug("shapefile: skipped records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	return layer, nil
}

// fieldFromDBF maps a DBF field descriptor to a table field.
func fieldFromDBF(f shp.Field) table.Field {
	name := strings.TrimRight(f.String(), "\x00")
	switch f.Fieldtype {
	case 'C':
		return table.Field{Name: name, Type: table.String, Length: int(f.Size)}
	case 'N':
		if f.Precision == 0 {
			return table.Field{Name: name, Type: table.Integer}
		}
		return table.Field{Name: name, Type: table.Double}
	case 'F':
		return table.Field{Name: name, Type: table.Double}
	case 'D':
		return table.Field{Name: name, Type: table.Date}
	}
	return table.Field{Name: name, Type: table.FieldType("dbf:" + string(f.Fieldtype)), Length: int(f.Size)}
}

func parseValue(ft table.FieldType, raw string) any {
	if raw == "" {
		return nil
	}
	switch ft {
	case table.Integer:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return int64(f)
		}
		return nil
	case table.Double:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return nil
	case table.Date:
		if d, err := time.Parse("20060102", raw); err == nil {
			return d
		}
		return nil
	}
	return raw
}

// Dissolve merges features sharing a target id into one multipolygon. The
// first feature's attributes win; output keeps first-seen order.
func Dissolve(targets []model.Target) []model.Target {
	idx := make(map[string]int, len(targets))
	out := make([]model.Target, 0, len(targets))
	for _, t := range targets {
		i, ok := idx[t.ID]
		if !ok {
			idx[t.ID] = len(out)
			out = append(out, t)
			continue
		}
		out[i].Geom = mergePolygons(out[i].Geom, t.Geom)
	}
	return out
}

func mergePolygons(a, b geom.T) geom.T {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(SRID)
	for _, g := range []geom.T{a, b} {
		switch t := g.(type) {
		case *geom.Polygon:
			_ = mp.Push(t)
		case *geom.MultiPolygon:
			for i := 0; i < t.NumPolygons(); i++ {
				_ = mp.Push(t.Polygon(i))
			}
		}
	}
	return mp
}
