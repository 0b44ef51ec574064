//go:build libswitchtec && cgo

package transport

/*
#cgo LDFLAGS: -lswitchtec
#include <stdlib.h>
#include <stdint.h>
#include <switchtec/switchtec.h>
*/
import "C"

import (
	"context"
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"switchtec-mrpc/protocol"
)

func init() {
	libraryOpener = func(path string, opts *Options) (Channel, error) {
		ch, err := OpenLibrary(path)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// LibraryChannel issues MRPC commands through libswitchtec, which manages the device
// (and its framing) itself. Errors carry the library's errno text.
type LibraryChannel struct {
	path string

	mu  sync.Mutex
	dev *C.struct_switchtec_dev
}

// OpenLibrary opens path with switchtec_open.
func OpenLibrary(path string) (*LibraryChannel, error) {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	dev, err := C.switchtec_open(cpath)
	if dev == nil {
		if err == nil {
			err = errors.New("switchtec_open failed")
		}
		return nil, &OpenError{Path: path, Err: err}
	}
	return &LibraryChannel{path: path, dev: dev}, nil
}

// Exchange calls switchtec_cmd. The library returns a negative value on I/O failure
// (errno set) and the endpoint status when it is non-zero.
func (l *LibraryChannel) Exchange(ctx context.Context, commandID uint32, payload []byte, replyLen int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ChannelError{Path: l.path, Op: "acquire", CommandID: commandID, Err: err}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dev == nil {
		return nil, &ChannelError{Path: l.path, Op: "acquire", CommandID: commandID, Err: ErrClosed}
	}

	var in unsafe.Pointer
	if len(payload) > 0 {
		in = C.CBytes(payload)
		defer C.free(in)
	}
	var out unsafe.Pointer
	if replyLen > 0 {
		out = C.malloc(C.size_t(replyLen))
		defer C.free(out)
	}

	ret, errno := C.switchtec_cmd(l.dev, C.uint32_t(commandID), in, C.size_t(len(payload)), out, C.size_t(replyLen))
	switch {
	case ret < 0:
		return nil, &ChannelError{Path: l.path, Op: "switchtec_cmd", CommandID: commandID, Err: errno}
	case ret > 0:
		return nil, &protocol.ProtocolError{CommandID: commandID, Status: protocol.Status(uint32(ret))}
	}

	if replyLen == 0 {
		return []byte{}, nil
	}
	return C.GoBytes(out, C.int(replyLen)), nil
}

func (l *LibraryChannel) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.dev == nil {
		return nil
	}
	C.switchtec_close(l.dev)
	l.dev = nil
	return nil
}
