package transport

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

// OpenDevice opens a switchtec character device for raw MRPC access.
//
// The 4-byte status prefix is part of every response the driver returns, so the
// framing is identical to the emulator stream.
func OpenDevice(path string, opts *Options) (*Conn, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if fi.Mode()&os.ModeCharDevice == 0 {
		return nil, &OpenError{Path: path, Err: errors.Errorf("not a character device (mode %s)", fi.Mode())}
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	conn := NewConn(path, &deviceFile{f: f}, opts)
	conn.isStale = isStaleResponse
	return conn, nil
}

// deviceFile adapts a character device to the stream shape protocol expects.
//
// The driver hands back a whole response per read and accepts a whole command per
// write, so each Read and Write maps to exactly one system call. A short transfer is an
// error, never something to continue from: the next read would return the response to
// some other command.
type deviceFile struct {
	f *os.File
}

func (d *deviceFile) Read(p []byte) (int, error) {
	n, err := d.f.Read(p)
	if err == nil && n < len(p) {
		err = errors.Errorf("short read: %d of %d bytes", n, len(p))
	}
	return n, err
}

func (d *deviceFile) Write(p []byte) (int, error) {
	n, err := writeOnce(d.f, p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

func (d *deviceFile) Close() error {
	return d.f.Close()
}
