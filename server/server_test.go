package server

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchtec-mrpc/command"
	"switchtec-mrpc/message"
	"switchtec-mrpc/middleware"
	"switchtec-mrpc/protocol"
	"switchtec-mrpc/transport"
)

func newPipe(t *testing.T, svr *Server) net.Conn {
	t.Helper()
	client, conn := net.Pipe()
	go svr.ServeConn(conn)
	t.Cleanup(func() { client.Close() })
	return client
}

func roundTrip(t *testing.T, conn net.Conn, id uint32, payload []byte, replyLen int) *message.Response {
	t.Helper()
	require.NoError(t, protocol.Encode(conn, &message.Request{CommandID: id, Payload: payload}))
	resp, err := protocol.Decode(conn, replyLen)
	require.NoError(t, err)
	return resp
}

func newSwitchServer(t *testing.T, tempRaw uint32) (*Server, *Switch) {
	t.Helper()
	svr := NewServer()
	sw := NewSwitch(tempRaw)
	require.NoError(t, sw.Register(svr))
	return svr, sw
}

func TestEchoComplementsSubCommand(t *testing.T) {
	svr, sw := newSwitchServer(t, 3450)
	conn := newPipe(t, svr)

	in := make([]byte, command.EchoRecordSize)
	binary.LittleEndian.PutUint32(in[0:4], 0xAA55)
	binary.LittleEndian.PutUint16(in[4:6], 0x1234)

	resp := roundTrip(t, conn, command.CmdEcho, in, command.EchoRecordSize)
	require.True(t, resp.OK())
	assert.Equal(t, ^uint32(0xAA55), binary.LittleEndian.Uint32(resp.Payload[0:4]))
	assert.Equal(t, uint16(0x1234), binary.LittleEndian.Uint16(resp.Payload[4:6]))
	assert.Equal(t, 1, sw.Stats().Echoes)
}

func TestDieTempLatchesOnMeasurement(t *testing.T) {
	svr, sw := newSwitchServer(t, 3450)
	conn := newPipe(t, svr)

	sw.SetTemperature(4100)

	// without a new measurement the old sample is returned
	resp := roundTrip(t, conn, command.CmdDieTemp, []byte{2, 0, 0, 0}, 4)
	require.True(t, resp.OK())
	assert.Equal(t, uint32(3450), binary.LittleEndian.Uint32(resp.Payload))

	resp = roundTrip(t, conn, command.CmdDieTemp, []byte{1, 0, 0, 0}, 0)
	require.True(t, resp.OK())

	resp = roundTrip(t, conn, command.CmdDieTemp, []byte{2, 0, 0, 0}, 4)
	assert.Equal(t, uint32(4100), binary.LittleEndian.Uint32(resp.Payload))

	assert.Equal(t, SwitchStats{Triggers: 1, Readbacks: 2}, sw.Stats())
}

func TestDieTempInjectedFailure(t *testing.T) {
	svr, sw := newSwitchServer(t, 3450)
	conn := newPipe(t, svr)

	sw.FailDieTemp(command.DieTempGet, protocol.StatusBadFWState)

	resp := roundTrip(t, conn, command.CmdDieTemp, []byte{2, 0, 0, 0}, 4)
	assert.Equal(t, protocol.StatusBadFWState, protocol.Status(resp.Status))
	assert.Len(t, resp.Payload, 4)

	sw.FailDieTemp(command.DieTempGet, protocol.StatusSuccess)
	resp = roundTrip(t, conn, command.CmdDieTemp, []byte{2, 0, 0, 0}, 4)
	assert.True(t, resp.OK())
}

func TestUnknownSubCommand(t *testing.T) {
	svr, _ := newSwitchServer(t, 0)
	conn := newPipe(t, svr)

	resp := roundTrip(t, conn, command.CmdDieTemp, []byte{7, 0, 0, 0}, 4)
	assert.Equal(t, protocol.StatusSubCmdInvalid, protocol.Status(resp.Status))
	assert.Equal(t, make([]byte, 4), resp.Payload)

	// the stream is still in step
	resp = roundTrip(t, conn, command.CmdDieTemp, []byte{2, 0, 0, 0}, 4)
	assert.True(t, resp.OK())
}

func TestUnknownCommandClosesConnection(t *testing.T) {
	svr, _ := newSwitchServer(t, 0)
	conn := newPipe(t, svr)

	resp := roundTrip(t, conn, 31, nil, 0)
	assert.Equal(t, protocol.StatusCmdInvalid, protocol.Status(resp.Status))

	_, err := conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestMiddlewareRefusalReadsAsBusy(t *testing.T) {
	svr, sw := newSwitchServer(t, 0)
	svr.Use(middleware.LoggingMiddleware())
	svr.Use(func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			return nil, errors.New("maintenance window")
		}
	})
	conn := newPipe(t, svr)

	resp := roundTrip(t, conn, command.CmdDieTemp, []byte{1, 0, 0, 0}, 0)
	assert.Equal(t, protocol.StatusNoAvailMRPCThread, protocol.Status(resp.Status))

	resp = roundTrip(t, conn, command.CmdEcho, make([]byte, command.EchoRecordSize), command.EchoRecordSize)
	assert.Equal(t, protocol.StatusNoAvailMRPCThread, protocol.Status(resp.Status))
	assert.Len(t, resp.Payload, command.EchoRecordSize)

	assert.Zero(t, sw.Stats().Triggers, "refused requests never reach the command")
	assert.Zero(t, sw.Stats().Echoes)
}

// Failed commands must still answer with a full-size frame, or a channel reading
// status + reply would wait for bytes that never come.
func TestErrorRepliesAreFullFrames(t *testing.T) {
	svr, _ := newSwitchServer(t, 3450)
	refuseEcho := func(next middleware.HandlerFunc) middleware.HandlerFunc {
		return func(ctx context.Context, req *message.Request) ([]byte, error) {
			if req.CommandID == command.CmdEcho {
				return nil, errors.New("maintenance window")
			}
			return next(ctx, req)
		}
	}
	svr.Use(refuseEcho)

	client, conn := net.Pipe()
	go svr.ServeConn(conn)

	opts := transport.NewOptions()
	opts.Timeout = 500 * time.Millisecond
	ch := transport.NewConn("pipe", client, opts)
	defer ch.Close()
	ctx := context.Background()

	_, err := ch.Exchange(ctx, command.CmdDieTemp, []byte{7, 0, 0, 0}, 4)
	var perr *protocol.ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.StatusSubCmdInvalid, perr.Status)

	_, err = command.Echo(ctx, ch, command.NewEchoRecord(command.DefaultEchoSubCommand))
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.StatusNoAvailMRPCThread, perr.Status)

	celsius, err := command.DieTemperature(ctx, ch)
	require.NoError(t, err, "the channel must not be broken by the failed exchanges")
	assert.InDelta(t, 34.5, celsius, 1e-9)
}

func TestShortHandlerReplyIsPadded(t *testing.T) {
	svr := NewServer()
	require.NoError(t, svr.Register(80, 0, FixedReplyLen(8), func(ctx context.Context, req *message.Request) ([]byte, error) {
		return []byte{1, 2}, nil
	}))
	conn := newPipe(t, svr)

	resp := roundTrip(t, conn, 80, nil, 8)
	require.True(t, resp.OK())
	assert.Equal(t, []byte{1, 2, 0, 0, 0, 0, 0, 0}, resp.Payload)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svr := NewServer()
	h := func(ctx context.Context, req *message.Request) ([]byte, error) { return nil, nil }

	require.NoError(t, svr.Register(99, 0, FixedReplyLen(0), h))
	assert.Error(t, svr.Register(99, 0, FixedReplyLen(0), h))
	assert.Error(t, svr.Register(100, -1, FixedReplyLen(0), h))
	assert.Error(t, svr.Register(101, 0, nil, h))
	assert.Error(t, svr.Register(102, 0, FixedReplyLen(0), nil))
}

func TestServeAndShutdown(t *testing.T) {
	svr, _ := newSwitchServer(t, 2500)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- svr.ServeListener(ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, protocol.Encode(conn, &message.Request{CommandID: command.CmdDieTemp, Payload: []byte{2, 0, 0, 0}}))
	resp, err := protocol.Decode(conn, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(2500), binary.LittleEndian.Uint32(resp.Payload))

	require.NoError(t, svr.Shutdown(time.Second))
	require.NoError(t, <-served)

	// the open connection was closed by the shutdown
	_, err = protocol.Decode(conn, 0)
	assert.Error(t, err)
}

func TestShutdownDuringTraffic(t *testing.T) {
	svr, _ := newSwitchServer(t, 3450)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = svr.ServeListener(ln) }()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", ln.Addr().String())
			if err != nil {
				return
			}
			defer conn.Close()
			for {
				req := &message.Request{CommandID: command.CmdDieTemp, Payload: []byte{2, 0, 0, 0}}
				if err := protocol.Encode(conn, req); err != nil {
					return
				}
				if _, err := protocol.Decode(conn, 4); err != nil {
					return
				}
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, svr.Shutdown(time.Second))
	wg.Wait()

	// requests arriving after shutdown are not served
	assert.False(t, svr.begin())
}
