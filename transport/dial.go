package transport

import (
	"context"
	"net"
)

// Dial connects to an MRPC endpoint emulator listening on addr.
func Dial(ctx context.Context, addr string, opts *Options) (*Conn, error) {
	if opts == nil {
		opts = NewOptions()
	}

	d := net.Dialer{Timeout: opts.Timeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &OpenError{Path: TCPScheme + addr, Err: err}
	}
	return NewConn(TCPScheme+addr, nc, opts), nil
}
