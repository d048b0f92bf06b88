package shapefile

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persistence-cli/internal/table"
)

// maxDBFName is the longest field name a DBF header can hold.
const maxDBFName = 10

// Write saves t as a polygon shapefile at path (.shp). Rows without a
// geometry are written with an empty shape so that every row survives.
func Write(path string, t *table.Table) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return eris.Wrap(err, "shapefile: create output dir")
	}

	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return eris.Wrapf(err, "shapefile: create %s", path)
	}
	werr := writeRecords(w, path, t)
	w.Close()

	// go-shp names the attribute file "<base>dbf", without the dot.
	base := dbfBase(path)
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil && werr == nil {
		return eris.Wrapf(err, "shapefile: rename %sdbf", base)
	}
	return werr
}

// dbfBase returns the basename go-shp derives from path.
func dbfBase(path string) string {
	if strings.HasSuffix(strings.ToLower(path), ".shp") {
		return path[:len(path)-len(".shp")]
	}
	return path
}

func writeRecords(w *shp.Writer, path string, t *table.Table) error {
	fields := t.Fields()
	dbf := make([]shp.Field, len(fields))
	for i, f := range fields {
		dbf[i] = fieldToDBF(f)
	}
	if err := w.SetFields(dbf); err != nil {
		return eris.Wrap(err, "shapefile: set fields")
	}

	var empty int
	for _, r := range t.Rows() {
		shape, err := toShape(r.Geom)
		if err != nil {
			return err
		}
		if shape.NumParts == 0 {
			empty++
		}
		row := int(w.Write(shape))

		for i, f := range fields {
			v := attributeValue(f, r.Get(f.Name))
			if v == nil {
				continue
			}
			if err := w.WriteAttribute(row, i, v); err != nil {
				return eris.Wrapf(err, "shapefile: write %s of row %d", f.Name, row)
			}
		}
	}

	if empty > 0 {
		zap.L().Debug("shapefile: rows written without geometry",
			zap.String("path", path),
			zap.Int("rows", empty),
		)
	}
	return nil
}

func fieldToDBF(f table.Field) shp.Field {
	name := f.Name
	if len(name) > maxDBFName {
		name = name[:maxDBFName]
	}
	switch f.Type {
	case table.Integer, table.OID:
		return shp.NumberField(name, 10)
	case table.Double:
		return shp.FloatField(name, 19, 8)
	case table.Date:
		return shp.DateField(name)
	}
	return shp.StringField(name, uint8(min(max(f.Length, 1), 254)))
}

// attributeValue converts a row value to what go-shp accepts for the
// field: int, float64 or string.
func attributeValue(f table.Field, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int64:
		if f.Type == table.Double {
			return float64(x)
		}
		return int(x)
	case float64:
		if f.Type == table.Integer || f.Type == table.OID {
			return int(x)
		}
		return x
	case time.Time:
		return x.Format("20060102")
	case string:
		limit := min(max(f.Length, 1), 254)
		if len(x) > limit {
			return x[:limit]
		}
		return x
	}
	return nil
}
