// Package auxdata downloads the daily MODIS chlorophyll-a files that
// accompany SAR acquisitions from an anonymous FTP archive.
package auxdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/persistence-cli/internal/resilience"
)

// Conn is the part of an FTP session the fetcher uses.
type Conn interface {
	NameList(dir string) ([]string, error)
	Retr(file string) (io.ReadCloser, error)
	Quit() error
}

// Dialer opens an authenticated session.
type Dialer func(ctx context.Context) (Conn, error)

// Options configures a Fetcher.
type Options struct {
	Host     string // host:port
	BasePath string // e.g. /MODISA/L2
	DestDir  string

	// Days widens each date to [date-Days, date+Days].
	Days int

	Attempts   int           // per directory (default 5)
	Backoff    time.Duration // fixed delay between attempts (default 20s)
	Timeout    time.Duration // dial timeout (default 30s)
	RatePerSec float64       // FTP commands per second (default 2)
}

// Report lists what a fetch did.
type Report struct {
	Dirs       []string
	Downloaded []string
	Skipped    []string
	Missing    []string
	Bytes      int64
}

// Fetcher downloads chlorophyll files day directory by day directory.
type Fetcher struct {
	opts    Options
	dial    Dialer
	limiter *rate.Limiter
	conn    Conn
}

// New creates a Fetcher that dials opts.Host with anonymous login.
func New(opts Options) *Fetcher {
	opts = withDefaults(opts)
	return NewWithDialer(opts, func(ctx context.Context) (Conn, error) {
		return dialFTP(ctx, opts.Host, opts.Timeout)
	})
}

// NewWithDialer creates a Fetcher using dial for sessions.
func NewWithDialer(opts Options, dial Dialer) *Fetcher {
	opts = withDefaults(opts)
	return &Fetcher{
		opts:    opts,
		dial:    dial,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
	}
}

func withDefaults(opts Options) Options {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 20 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.Days < 0 {
		opts.Days = 0
	}
	return opts
}

// DayDirs returns the YYYY/DDD directories (day of year, zero padded)
// covering date±days, in date order.
func DayDirs(date time.Time, days int) []string {
	out := make([]string, 0, 2*days+1)
	for i := -days; i <= days; i++ {
		d := date.AddDate(0, 0, i)
		out = append(out, fmt.Sprintf("%04d/%03d", d.Year(), d.YearDay()))
	}
	return out
}

// Fetch downloads every file of the day directories around each date.
// Files already present locally are skipped. A directory the server does
// not have is reported as missing; any other failure that outlasts the
// retries aborts the fetch.
func (f *Fetcher) Fetch(ctx context.Context, dates ...time.Time) (*Report, error) {
	log := zap.L().With(
		zap.String("component", "auxdata"),
		zap.String("host", f.opts.Host),
	)
	defer f.drop()

	seen := make(map[string]bool)
	rep := &Report{}
	for _, date := range dates {
		for _, dir := range DayDirs(date, f.opts.Days) {
			if seen[dir] {
				continue
			}
			seen[dir] = true
			rep.Dirs = append(rep.Dirs, dir)

			err := resilience.Do(ctx, f.retryConfig(dir), func(ctx context.Context) error {
				return f.fetchDir(ctx, dir, rep)
			})
			if errors.Is(err, errNoDir) {
				log.Warn("no auxiliary data for day", zap.String("dir", dir))
				rep.Missing = append(rep.Missing, dir)
				continue
			}
			if err != nil {
				return rep, eris.Wrapf(err, "auxdata: fetch %s", dir)
			}
		}
	}

	log.Info("auxiliary data fetched",
		zap.Int("dirs", len(rep.Dirs)),
		zap.Int("downloaded", len(rep.Downloaded)),
		zap.Int("skipped", len(rep.Skipped)),
		zap.Int64("bytes", rep.Bytes),
	)
	return rep, nil
}

var errNoDir = eris.New("auxdata: directory not found")

func (f *Fetcher) retryConfig(dir string) resilience.RetryConfig {
	cfg := resilience.FixedBackoff(f.opts.Attempts, f.opts.Backoff)
	cfg.ShouldRetry = retryable
	cfg.OnRetry = resilience.RetryLogger("auxdata", "fetch "+dir)
	return cfg
}

// retryable retries everything except permanent FTP replies.
func retryable(err error) bool {
	if errors.Is(err, errNoDir) {
		return false
	}
	var tp *textproto.Error
	if errors.As(err, &tp) {
		return resilience.IsTransientFTPReply(tp.Code)
	}
	return true
}

func (f *Fetcher) session(ctx context.Context) (Conn, error) {
	if f.conn != nil {
		return f.conn, nil
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	conn, err := f.dial(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "auxdata: dial")
	}
	f.conn = conn
	return conn, nil
}

// drop discards a session after an error so the next attempt redials.
func (f *Fetcher) drop() {
	if f.conn != nil {
		_ = f.conn.Quit()
		f.conn = nil
	}
}

func (f *Fetcher) fetchDir(ctx context.Context, dir string, rep *Report) error {
	conn, err := f.session(ctx)
	if err != nil {
		return err
	}

	remoteDir := path.Join(f.opts.BasePath, dir)
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}
	names, err := conn.NameList(remoteDir)
	if err != nil {
		var tp *textproto.Error
		if errors.As(err, &tp) && tp.Code == ftp.StatusFileUnavailable {
			return errNoDir
		}
		f.drop()
		return eris.Wrapf(err, "auxdata: list %s", remoteDir)
	}

	localDir := filepath.Join(f.opts.DestDir, path.Dir(dir))
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return eris.Wrap(err, "auxdata: create dest dir")
	}

	for _, name := range names {
		base := path.Base(name)
		if base == "." || base == ".." || base == "/" {
			continue
		}
		local := filepath.Join(localDir, base)
		if _, err := os.Stat(local); err == nil {
			if !slices.Contains(rep.Skipped, local) {
				rep.Skipped = append(rep.Skipped, local)
			}
			continue
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		n, err := download(conn, path.Join(remoteDir, base), local)
		if err != nil {
			f.drop()
			return eris.Wrapf(err, "auxdata: download %s", base)
		}
		rep.Downloaded = append(rep.Downloaded, local)
		rep.Bytes += n
		zap.L().Debug("auxdata: downloaded", zap.String("file", local), zap.Int64("bytes", n))
	}
	return nil
}

// download writes the remote file to a temporary name and renames it into
// place once complete, so an interrupted transfer is retried next time.
func download(conn Conn, remote, local string) (int64, error) {
	rc, err := conn.Retr(remote)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	tmp := local + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return 0, eris.Wrap(err, "create file")
	}

	n, err := io.Copy(file, rc)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return n, eris.Wrap(err, "write file")
	}
	return n, eris.Wrap(os.Rename(tmp, local), "rename file")
}
