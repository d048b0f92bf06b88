package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNoDate is returned when a target identifier does not embed a
// recognizable acquisition date. The identifier stays usable as a key.
var ErrNoDate = eris.New("model: target id has no date")

const dateLayout = "20060102"

// TargetID is the structured form of a target identifier.
//
// Two encodings are recognized:
//
//	day:     <pid>_<YYYYMMDD>_<HHMMSS>
//	overlap: <pid>_<pid1>_<YYYYMMDD>_<HHMMSS>_<HHMMSS1>
type TargetID struct {
	Origins []string
	Date    time.Time
	Times   []string

	raw string
}

// ParseTargetID parses s. A TargetID is always returned; the error is
// ErrNoDate when s is not in one of the recognized encodings or the date
// part does not parse.
func ParseTargetID(s string) (TargetID, error) {
	id := TargetID{raw: s}
	parts := strings.Split(s, "_")

	var origins, times []string
	var date string
	switch len(parts) {
	case 3:
		origins, date, times = parts[:1], parts[1], parts[2:]
	case 5:
		origins, date, times = parts[:2], parts[2], parts[3:]
	default:
		return id, ErrNoDate
	}

	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return id, eris.Wrapf(ErrNoDate, "parse %q", s)
	}

	id.Origins = origins
	id.Date = d
	id.Times = times
	return id, nil
}

// NewDayTargetID builds a day-level identifier for a detection.
func NewDayTargetID(pid string, acquired time.Time) TargetID {
	return TargetID{
		Origins: []string{pid},
		Date:    time.Date(acquired.Year(), acquired.Month(), acquired.Day(), 0, 0, 0, 0, time.UTC),
		Times:   []string{acquired.Format("150405")},
	}
}

// HasDate reports whether the identifier carries an acquisition date.
func (t TargetID) HasDate() bool {
	return !t.Date.IsZero()
}

// String returns the identifier exactly as parsed, or the formatted form
// for identifiers built in code.
func (t TargetID) String() string {
	if t.raw != "" {
		return t.raw
	}
	return t.Format()
}

// Format rebuilds the encoded identifier from its parts.
func (t TargetID) Format() string {
	if !t.HasDate() {
		return t.raw
	}
	parts := make([]string, 0, len(t.Origins)+1+len(t.Times))
	parts = append(parts, t.Origins...)
	parts = append(parts, t.Date.Format(dateLayout))
	parts = append(parts, t.Times...)
	return strings.Join(parts, "_")
}

// MonthsBetween returns the number of calendar months from a to b.
func MonthsBetween(a, b time.Time) int {
	return 12*(b.Year()-a.Year()) + int(b.Month()) - int(a.Month())
}
