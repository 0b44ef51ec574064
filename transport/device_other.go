//go:build !linux

package transport

import "os"

func writeOnce(f *os.File, p []byte) (int, error) {
	return f.Write(p)
}

func isStaleResponse(error) bool {
	return false
}
