package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/persistence-cli/internal/shapefile"
	"github.com/sells-group/persistence-cli/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored output table as CSV or shapefile",
	Long:  "Writes a stored output table to the output directory. Without --name, lists the stored tables.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if cmd.Flags().Changed("out") {
			cfg.Output.Dir, _ = cmd.Flags().GetString("out")
		}
		if err := cfg.Validate("export"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		name, _ := cmd.Flags().GetString("name")
		if name == "" {
			tables, err := st.ListTables(ctx)
			if err != nil {
				return err
			}
			formatTables(os.Stdout, tables)
			return nil
		}

		format, _ := cmd.Flags().GetString("format")
		path, err := exportTable(ctx, st, name, format, cfg.Output.Dir)
		if err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("name", "", "stored output table name")
	exportCmd.Flags().String("format", "csv", "export format: csv or shp")
	exportCmd.Flags().String("out", "", "output directory (overrides output.dir)")
	rootCmd.AddCommand(exportCmd)
}

func exportTable(ctx context.Context, st store.Store, name, format, dir string) (string, error) {
	t, err := st.LoadTable(ctx, name)
	if err != nil {
		return "", eris.Wrapf(err, "export %s", name)
	}
	switch format {
	case "csv":
		return writeCSV(filepath.Join(dir, name+".csv"), t)
	case "shp":
		path := filepath.Join(dir, name+".shp")
		return path, shapefile.Write(path, t)
	}
	return "", eris.Errorf("export: unknown format %q (want csv or shp)", format)
}

func formatTables(out io.Writer, tables []store.TableInfo) {
	if len(tables) == 0 {
		_, _ = fmt.Fprintln(out, "No stored tables.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tROWS\tFIELDS\tSAVED")
	for _, t := range tables {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", t.Name, t.Rows, t.Fields, t.SavedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
