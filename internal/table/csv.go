package table

import (
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// WriteCSV writes the table as comma-delimited text: a header row of field
// names followed by one line per row in table order.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	names := t.FieldNames()
	if err := cw.Write(names); err != nil {
		return eris.Wrap(err, "table: write csv header")
	}

	record := make([]string, len(names))
	for i, r := range t.rows {
		for j, name := range names {
			record[j] = r.String(name)
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrapf(err, "table: write csv row %d", i)
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "table: flush csv")
}
