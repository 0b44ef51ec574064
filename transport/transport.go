// Package transport implements the MRPC transport channel.
//
// A Channel owns exactly one connection to a switch management endpoint and performs
// one request/response exchange at a time:
//
//	goroutine-1 ──Exchange──┐
//	goroutine-2 ──Exchange──┼──→ slot (1) ──→ write request ──→ read full response ──→ release
//	goroutine-3 ──Exchange──┘
//
// MRPC responses carry no sequence number, so the only way to match a response to its
// request is ordering. Two realizations exist: the raw character device (OpenDevice)
// or a stream connection to an endpoint emulator (Dial) share Conn; builds with the
// libswitchtec tag add a realization backed by the native management library.
package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// DefaultDevice is the device opened when no path is given.
const DefaultDevice = "/dev/switchtec0"

// TCPScheme prefixes paths that name an emulated endpoint instead of a device file.
const TCPScheme = "tcp://"

// Channel is a synchronous MRPC request/response channel.
type Channel interface {
	// Exchange sends commandID ++ payload and returns exactly replyLen payload bytes.
	// A non-zero endpoint status yields *protocol.ProtocolError; I/O failures yield
	// *ChannelError.
	Exchange(ctx context.Context, commandID uint32, payload []byte, replyLen int) ([]byte, error)
	// Close releases the endpoint. Calling it again is a no-op.
	Close() error
}

var (
	ErrClosed = errors.New("channel closed")
	// ErrBroken means an earlier exchange failed after its request was (possibly) written.
	// The response for that request may still arrive, so the channel can no longer tell
	// which bytes belong to which command.
	ErrBroken = errors.New("channel broken by an incomplete exchange")
)

// OpenError reports a failure to acquire the endpoint.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return "open " + e.Path + ": " + e.Err.Error()
}

func (e *OpenError) Unwrap() error { return e.Err }

// ChannelError reports an I/O failure during an exchange.
type ChannelError struct {
	Path      string
	Op        string // "acquire", "write" or "read"
	CommandID uint32
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s %s (command %d): %v", e.Op, e.Path, e.CommandID, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

type Options struct {
	// Timeout bounds a single exchange on connections that support deadlines.
	// Zero means no limit.
	Timeout time.Duration
	// StaleDrains is how many times a submission refused because of an unread earlier
	// response is retried after draining that response.
	StaleDrains int
	// Library selects the native management library realization (libswitchtec builds only).
	Library bool
}

func NewOptions() *Options {
	return &Options{
		StaleDrains: 3,
	}
}

// libraryOpener is set by the libswitchtec build.
var libraryOpener func(path string, opts *Options) (Channel, error)

// Open acquires the endpoint named by path.
//
//   - "tcp://host:port" dials an endpoint emulator.
//   - anything else is opened as a switchtec character device, through the native
//     library when opts.Library is set.
func Open(ctx context.Context, path string, opts *Options) (Channel, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if path == "" {
		path = DefaultDevice
	}

	if strings.HasPrefix(path, TCPScheme) {
		conn, err := Dial(ctx, strings.TrimPrefix(path, TCPScheme), opts)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	if opts.Library {
		if libraryOpener == nil {
			return nil, &OpenError{Path: path, Err: errors.New("built without libswitchtec support")}
		}
		return libraryOpener(path, opts)
	}
	conn, err := OpenDevice(path, opts)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
