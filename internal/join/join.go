// Package join implements a streaming sort-merge join of two key-ordered
// record streams.
package join

import (
	"cmp"
	"iter"

	"go.uber.org/zap"
)

// Options configures a Join.
type Options struct {
	// Total is the number of primary records, used only for progress.
	Total int

	// Progress is called with 10, 20, ... 100 as primary records are
	// processed. Requires Total > 0.
	Progress func(pct int)

	// Name labels log lines.
	Name string
}

// Result summarizes a Join.
type Result struct {
	Processed int
	Matched   int

	// Exhausted is set when the secondary stream ran out before the
	// primary stream. Remaining primary records were left untouched.
	Exhausted bool
}

// Join merges secondary onto primary. Both streams must be sorted
// ascending by key; secondary keys must be distinct. apply is called for
// every primary record whose key equals a secondary key. Primary records
// with duplicate keys each receive the same secondary record.
//
// At most one secondary record is held at a time and no random access
// into the secondary stream is performed.
func Join[P, S any, K cmp.Ordered](
	primary iter.Seq[P], primaryKey func(P) K,
	secondary iter.Seq[S], secondaryKey func(S) K,
	apply func(P, S),
	opts Options,
) Result {
	next, stop := iter.Pull(secondary)
	defer stop()

	var res Result
	exhausted := func() {
		res.Exhausted = true
		zap.L().Warn("join: end of join table",
			zap.String("join", opts.Name),
			zap.Int("processed", res.Processed),
		)
	}

	cur, ok := next()
	if !ok {
		exhausted()
	}

	breaks := progressBreaks(opts.Total)
	for p := range primary {
		if !ok {
			break
		}
		res.Processed++
		if opts.Progress != nil && len(breaks) > 0 && res.Processed == breaks[0].row {
			opts.Progress(breaks[0].pct)
			breaks = breaks[1:]
		}

		pk := primaryKey(p)
		for ok && secondaryKey(cur) < pk {
			cur, ok = next()
		}
		if !ok {
			exhausted()
			break
		}
		if secondaryKey(cur) == pk {
			apply(p, cur)
			res.Matched++
		}
	}

	return res
}

type progressBreak struct {
	row int
	pct int
}

// progressBreaks returns the row counts at which each 10% boundary is
// crossed. Rows that hit several boundaries at once report the highest.
func progressBreaks(total int) []progressBreak {
	if total <= 0 {
		return nil
	}
	var out []progressBreak
	for pct := 10; pct <= 100; pct += 10 {
		row := (total*pct + 99) / 100
		if row < 1 {
			row = 1
		}
		if n := len(out); n > 0 && out[n-1].row == row {
			out[n-1].pct = pct
			continue
		}
		out = append(out, progressBreak{row: row, pct: pct})
	}
	return out
}
