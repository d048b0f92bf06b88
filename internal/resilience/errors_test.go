package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"syscall"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad geometry"), false},
		{"explicit", NewTransientError(errors.New("x"), 0), true},
		{"wrapped explicit", fmt.Errorf("overlay: %w", NewTransientError(errors.New("x"), 0)), true},
		{"connection reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"ftp 421", &textproto.Error{Code: 421, Msg: "Service not available"}, true},
		{"ftp 550", &textproto.Error{Code: 550, Msg: "No such file"}, false},
		{"broken pipe text", errors.New("write: broken pipe"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	te := NewTransientError(inner, 425)
	if !errors.Is(te, inner) {
		t.Error("expected errors.Is to find inner")
	}
	if te.Error() != "inner" || te.Code != 425 {
		t.Errorf("unexpected %q / %d", te.Error(), te.Code)
	}
}
