package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/persistence-cli/internal/auxdata"
	"github.com/sells-group/persistence-cli/internal/config"
	"github.com/sells-group/persistence-cli/internal/ingest"
	"github.com/sells-group/persistence-cli/internal/model"
)

const dateLayout = "20060102"

var fetchAuxCmd = &cobra.Command{
	Use:   "fetch-aux",
	Short: "Download MODIS chlorophyll files around acquisition dates",
	Long: `Downloads the daily chlorophyll-a files for each acquisition date and the
days around it into aux.dest_dir. Without --date, the dates are taken from
the day-level slice files in the ingest directory.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cmd.Flags().Changed("days") {
			cfg.Aux.Days, _ = cmd.Flags().GetInt("days")
		}
		if cmd.Flags().Changed("dest") {
			cfg.Aux.DestDir, _ = cmd.Flags().GetString("dest")
		}
		if err := cfg.Validate("fetch-aux"); err != nil {
			return err
		}

		raw, _ := cmd.Flags().GetStringSlice("date")
		dates, err := acquisitionDates(raw, cfg.Ingest.Dir)
		if err != nil {
			return err
		}

		rep, err := auxdata.New(auxOptions(cfg.Aux)).Fetch(ctx, dates...)
		if err != nil {
			return err
		}

		fmt.Printf("Day directories: %d (missing %d)\n", len(rep.Dirs), len(rep.Missing))
		fmt.Printf("Downloaded: %d files, %d bytes\n", len(rep.Downloaded), rep.Bytes)
		fmt.Printf("Already present: %d\n", len(rep.Skipped))
		return nil
	},
}

func init() {
	fetchAuxCmd.Flags().StringSlice("date", nil, "acquisition date YYYYMMDD (repeatable)")
	fetchAuxCmd.Flags().Int("days", 0, "days either side of each date (overrides aux.days)")
	fetchAuxCmd.Flags().String("dest", "", "destination directory (overrides aux.dest_dir)")
	rootCmd.AddCommand(fetchAuxCmd)
}

func auxOptions(ac config.AuxConfig) auxdata.Options {
	return auxdata.Options{
		Host:       ac.Host,
		BasePath:   ac.BasePath,
		DestDir:    ac.DestDir,
		Days:       ac.Days,
		Attempts:   ac.Attempts,
		Backoff:    time.Duration(ac.BackoffSecs) * time.Second,
		Timeout:    time.Duration(ac.TimeoutSecs) * time.Second,
		RatePerSec: ac.RatePerSec,
	}
}

// acquisitionDates parses the given YYYYMMDD dates, or falls back to the
// day keys of the slice files in dir.
func acquisitionDates(raw []string, dir string) ([]time.Time, error) {
	if len(raw) == 0 {
		files, err := ingest.Discover(dir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if model.DetectMode(f.Key) == model.ModeDay {
				raw = append(raw, f.Key)
			}
		}
		if len(raw) == 0 {
			return nil, eris.Errorf("fetch-aux: no --date given and no day-level slices in %s", dir)
		}
	}

	dates := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, eris.Wrapf(err, "fetch-aux: invalid date %q", s)
		}
		dates = append(dates, d)
	}
	return dates, nil
}
