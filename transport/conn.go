package transport

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"switchtec-mrpc/logger"
	"switchtec-mrpc/message"
	"switchtec-mrpc/protocol"
)

// Conn is a Channel over any byte-oriented duplex stream.
type Conn struct {
	path string
	rwc  io.ReadWriteCloser

	// slot is a one-token semaphore rather than a sync.Mutex so that waiting for
	// a busy channel can be abandoned when ctx ends.
	slot chan struct{}

	timeout     time.Duration
	staleDrains int
	// isStale reports whether a write error means an earlier response is still unread.
	isStale func(error) bool

	broken bool // guarded by slot
	closed atomic.Bool

	log *zap.Logger
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// NewConn wraps rwc as a Channel. The Conn takes ownership of rwc and closes it in Close.
func NewConn(path string, rwc io.ReadWriteCloser, opts *Options) *Conn {
	if opts == nil {
		opts = NewOptions()
	}
	return &Conn{
		path:        path,
		rwc:         rwc,
		slot:        make(chan struct{}, 1),
		timeout:     opts.Timeout,
		staleDrains: opts.StaleDrains,
		log:         logger.L().Named("transport").With(zap.String("path", path)),
	}
}

// Path returns the endpoint this channel was opened on.
func (c *Conn) Path() string {
	return c.path
}

// Exchange performs one full request/response round trip.
//
// Once the request has been handed to the endpoint the full response is read before
// the slot is released, whatever ctx does; cancellation only applies while waiting
// for the slot. If the response cannot be read the channel is marked broken.
func (c *Conn) Exchange(ctx context.Context, commandID uint32, payload []byte, replyLen int) ([]byte, error) {
	if replyLen < 0 {
		return nil, errors.Errorf("negative reply length %d", replyLen)
	}

	// Step 1: wait for our turn on the wire
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, c.fail("acquire", commandID, ctx.Err())
	}
	defer func() { <-c.slot }()

	if c.closed.Load() {
		return nil, c.fail("acquire", commandID, ErrClosed)
	}
	if c.broken {
		return nil, c.fail("acquire", commandID, ErrBroken)
	}
	if err := ctx.Err(); err != nil {
		return nil, c.fail("acquire", commandID, err)
	}

	c.armDeadline(ctx)
	defer c.disarmDeadline()

	// Step 2: submit the request frame
	req := &message.Request{CommandID: commandID, Payload: payload, ReplyLen: replyLen}
	if err := c.submit(req); err != nil {
		c.markBroken(err)
		return nil, c.fail("write", commandID, err)
	}

	// Step 3: read exactly the frame that answers it
	resp, err := protocol.Decode(c.rwc, replyLen)
	if err != nil {
		c.markBroken(err)
		return nil, c.fail("read", commandID, err)
	}

	if !resp.OK() {
		return nil, &protocol.ProtocolError{CommandID: commandID, Status: protocol.Status(resp.Status)}
	}
	return resp.Payload, nil
}

// submit writes the request, draining a stale response first when the endpoint
// refuses the submission because a previous response was never collected.
func (c *Conn) submit(req *message.Request) error {
	for attempt := 0; ; attempt++ {
		err := protocol.Encode(c.rwc, req)
		if err == nil || c.isStale == nil || !c.isStale(err) || attempt >= c.staleDrains {
			return err
		}

		c.log.Warn("draining stale response before resubmitting", zap.Uint32("command", req.CommandID))
		if _, err := protocol.Decode(c.rwc, 0); err != nil {
			return errors.Wrap(err, "drain stale response")
		}
	}
}

func (c *Conn) armDeadline(ctx context.Context) {
	d, ok := c.rwc.(deadliner)
	if !ok {
		return
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	if !deadline.IsZero() {
		// Character devices do not support deadlines; that is fine, they answer promptly.
		_ = d.SetDeadline(deadline)
	}
}

func (c *Conn) disarmDeadline() {
	if d, ok := c.rwc.(deadliner); ok {
		_ = d.SetDeadline(time.Time{})
	}
}

func (c *Conn) markBroken(err error) {
	if c.closed.Load() {
		return
	}
	c.broken = true
	c.log.Warn("channel marked broken", zap.Error(err))
}

func (c *Conn) fail(op string, commandID uint32, err error) error {
	return &ChannelError{Path: c.path, Op: op, CommandID: commandID, Err: err}
}

// Close releases the underlying handle. Only the first call closes it; later calls
// return nil.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.log.Debug("closing channel")
	return c.rwc.Close()
}
