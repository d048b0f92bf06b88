// Package ingest discovers time-slice shapefiles, loads and filters their
// targets, and builds the consolidated target table a run operates on.
package ingest

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// SliceFile is one time slice on disk. A key may be spread over several
// files, e.g. multiple acquisitions on the same day.
type SliceFile struct {
	Key   string
	Paths []string
}

// SliceKey extracts the time slice key from a file name of the form
// <prefix>_<key>[_...].shp|.zip. ok is false for names without a key.
func SliceKey(name string) (key string, ok bool) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".shp" && ext != ".zip" {
		return "", false
	}
	parts := strings.Split(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)), "_")
	if len(parts) < 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Discover lists the time slices in dir, sorted by key. Files are grouped
// by key; a .zip is ignored when a .shp of the same base name exists.
func Discover(dir string) ([]SliceFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read dir %s", dir)
	}

	shpBases := make(map[string]bool)
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".shp") {
			shpBases[strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))] = true
		}
	}

	byKey := make(map[string]*SliceFile)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		key, ok := SliceKey(name)
		if !ok {
			continue
		}
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.EqualFold(filepath.Ext(name), ".zip") && shpBases[base] {
			zap.L().Debug("ingest: zip shadowed by shapefile", zap.String("file", name))
			continue
		}
		sf, ok := byKey[key]
		if !ok {
			sf = &SliceFile{Key: key}
			byKey[key] = sf
		}
		sf.Paths = append(sf.Paths, filepath.Join(dir, name))
	}

	out := make([]SliceFile, 0, len(byKey))
	for _, sf := range byKey {
		slices.Sort(sf.Paths)
		out = append(out, *sf)
	}
	slices.SortFunc(out, func(a, b SliceFile) int { return strings.Compare(a.Key, b.Key) })
	return out, nil
}
