// Package server implements an MRPC endpoint: it reads request frames, dispatches them
// to registered command handlers through a middleware chain, and writes response frames.
// Together with Switch it emulates a switchtec management endpoint over TCP, which is
// what "tcp://" channel paths connect to.
//
// Request processing pipeline:
//
//	Accept conn → ServeConn (one goroutine per connection, one request at a time)
//	  → read command word → look up request length → read payload
//	    → Middleware Chain → commandHandler → write status + reply
//
// Unlike a multiplexed RPC server, requests on a connection are never processed in
// parallel: MRPC responses have no sequence number, so they must go out in order.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"switchtec-mrpc/logger"
	"switchtec-mrpc/message"
	"switchtec-mrpc/middleware"
	"switchtec-mrpc/protocol"
)

// Server is an MRPC endpoint that serves registered commands.
type Server struct {
	mu          sync.RWMutex
	commands    map[uint32]*commandType
	listener    net.Listener
	conns       map[io.Closer]struct{}
	wg          sync.WaitGroup          // in-flight requests, for graceful shutdown
	shutdown    atomic.Bool             // set before closing the listener so Accept errors read as intentional
	middlewares []middleware.Middleware // applied in order
	handler     middleware.HandlerFunc  // middleware(middleware(...(commandHandler)))
	log         *zap.Logger
}

func NewServer() *Server {
	return &Server{
		commands: make(map[uint32]*commandType),
		conns:    make(map[io.Closer]struct{}),
		log:      logger.L().Named("server"),
	}
}

// Use registers a middleware. Middlewares are applied in the order they are added and
// must be registered before serving.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	svr.middlewares = append(svr.middlewares, mw)
	svr.handler = nil
}

// Serve listens on address and serves connections until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener serves connections accepted from listener until Shutdown.
func (svr *Server) ServeListener(listener net.Listener) error {
	svr.mu.Lock()
	svr.listener = listener
	svr.mu.Unlock()

	svr.log.Info("mrpc endpoint listening", zap.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.ServeConn(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (svr *Server) Addr() net.Addr {
	svr.mu.RLock()
	defer svr.mu.RUnlock()
	if svr.listener == nil {
		return nil
	}
	return svr.listener.Addr()
}

// ServeConn processes requests from conn until it is closed or sends an unknown command.
func (svr *Server) ServeConn(conn io.ReadWriteCloser) {
	if !svr.track(conn) {
		conn.Close()
		return
	}
	defer svr.untrack(conn)
	defer conn.Close()

	handler := svr.chain()
	for {
		id, err := protocol.ReadCommandID(conn)
		if err != nil {
			if err != io.EOF {
				svr.log.Debug("connection closed", zap.Error(err))
			}
			return
		}

		cmd, ok := svr.lookup(id)
		if !ok {
			// Without the command definition the payload length is unknown and the
			// stream cannot be resynchronised; answer and hang up.
			svr.log.Warn("unknown command", zap.Uint32("command", id))
			_ = protocol.EncodeResponse(conn, &message.Response{Status: uint32(protocol.StatusCmdInvalid)})
			return
		}

		payload := make([]byte, cmd.requestLen)
		if _, err := io.ReadFull(conn, payload); err != nil {
			svr.log.Debug("short request", zap.Uint32("command", id), zap.Error(err))
			return
		}

		if err := svr.handleRequest(handler, conn, cmd, payload); err != nil {
			svr.log.Debug("request not served", zap.Uint32("command", id), zap.Error(err))
			return
		}
	}
}

// handleRequest runs one command through the middleware chain and writes its response,
// sized to the command's reply length whatever the outcome.
func (svr *Server) handleRequest(handler middleware.HandlerFunc, w io.Writer, cmd *commandType, payload []byte) error {
	if !svr.begin() {
		return errShuttingDown
	}
	defer svr.wg.Done()

	reply, err := handler(context.Background(), &message.Request{CommandID: cmd.id, Payload: payload})

	resp := &message.Response{Payload: make([]byte, cmd.replyLen(payload))}
	if err != nil {
		resp.Status = uint32(statusOf(err))
	} else {
		if len(reply) != len(resp.Payload) {
			svr.log.Warn("reply size mismatch", zap.Uint32("command", cmd.id),
				zap.Int("got", len(reply)), zap.Int("want", len(resp.Payload)))
		}
		copy(resp.Payload, reply)
	}
	return protocol.EncodeResponse(w, resp)
}

var errShuttingDown = errors.New("server shutting down")

// begin counts an in-flight request unless shutdown has started. The check and the
// Add happen under mu, which Shutdown holds while setting the flag, so no Add can race
// with its Wait.
func (svr *Server) begin() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.wg.Add(1)
	return true
}

// statusOf maps a handler error to the status word sent back. Errors that are not
// endpoint statuses (a middleware refusing the request, say) read as "busy".
func statusOf(err error) protocol.Status {
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		return perr.Status
	}
	return protocol.StatusNoAvailMRPCThread
}

// commandHandler dispatches a request to its registered command.
func (svr *Server) commandHandler(ctx context.Context, req *message.Request) ([]byte, error) {
	cmd, ok := svr.lookup(req.CommandID)
	if !ok {
		return nil, &protocol.ProtocolError{CommandID: req.CommandID, Status: protocol.StatusCmdInvalid}
	}
	return cmd.handle(ctx, req)
}

func (svr *Server) chain() middleware.HandlerFunc {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.handler == nil {
		svr.handler = middleware.Chain(svr.middlewares...)(svr.commandHandler)
	}
	return svr.handler
}

func (svr *Server) track(c io.Closer) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[c] = struct{}{}
	return true
}

func (svr *Server) untrack(c io.Closer) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	delete(svr.conns, c)
}

// Shutdown performs graceful shutdown:
//  1. Set shutdown flag (so the Accept error is recognized as intentional)
//  2. Close the listener (stop accepting new connections)
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.mu.Lock()
	svr.shutdown.Store(true)
	listener := svr.listener
	svr.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	for c := range svr.conns {
		c.Close()
	}
	svr.mu.Unlock()
	return err
}
