package server

import (
	"fmt"

	"switchtec-mrpc/middleware"
)

// ReplyLen returns the reply payload size for a request payload. MRPC frames carry no
// length, so the endpoint must produce exactly what the caller reads: 4 status bytes
// then this many payload bytes, whether the command succeeds or not.
type ReplyLen func(payload []byte) int

// FixedReplyLen is a ReplyLen for commands whose reply size never varies.
func FixedReplyLen(n int) ReplyLen {
	return func([]byte) int { return n }
}

type commandType struct {
	id         uint32
	requestLen int
	replyLen   ReplyLen
	handle     middleware.HandlerFunc
}

// Register adds a command. requestLen is the exact payload size that follows the
// command word and replyLen sizes the response payload.
//
// A handler reports endpoint failures by returning a *protocol.ProtocolError. The
// response is zero-padded or truncated to replyLen either way.
func (svr *Server) Register(id uint32, requestLen int, replyLen ReplyLen, handler middleware.HandlerFunc) error {
	if requestLen < 0 {
		return fmt.Errorf("mrpc: command %d: negative request length %d", id, requestLen)
	}
	if replyLen == nil {
		return fmt.Errorf("mrpc: command %d: nil reply length", id)
	}
	if handler == nil {
		return fmt.Errorf("mrpc: command %d: nil handler", id)
	}

	svr.mu.Lock()
	defer svr.mu.Unlock()
	if _, dup := svr.commands[id]; dup {
		return fmt.Errorf("mrpc: command %d already registered", id)
	}
	svr.commands[id] = &commandType{id: id, requestLen: requestLen, replyLen: replyLen, handle: handler}
	return nil
}

func (svr *Server) lookup(id uint32) (*commandType, bool) {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	cmd, ok := svr.commands[id]
	return cmd, ok
}
