package auxdata

import (
	"context"
	"io"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ftpConn adapts *ftp.ServerConn to Conn.
type ftpConn struct {
	*ftp.ServerConn
}

func (c ftpConn) Retr(file string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(file)
}

func dialFTP(ctx context.Context, host string, timeout time.Duration) (Conn, error) {
	zap.L().Debug("ftp: connecting", zap.String("host", host))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ftp login")
	}
	return ftpConn{conn}, nil
}
