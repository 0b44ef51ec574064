package transport

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// writeOnce issues exactly one write(2). os.File.Write would loop on a short write and
// the driver would take the remainder as a new command.
func writeOnce(f *os.File, p []byte) (int, error) {
	rc, err := f.SyscallConn()
	if err != nil {
		return 0, err
	}

	var (
		n    int
		werr error
	)
	err = rc.Write(func(fd uintptr) bool {
		for {
			n, werr = unix.Write(int(fd), p)
			if werr == unix.EAGAIN {
				return false
			}
			if werr != unix.EINTR {
				return true
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if werr != nil {
		return 0, &os.PathError{Op: "write", Path: f.Name(), Err: werr}
	}
	return n, nil
}

// isStaleResponse reports the driver's EBADE: the previous command's response is still
// waiting to be read.
func isStaleResponse(err error) bool {
	return errors.Is(err, unix.EBADE)
}
