package monitor

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchtec-mrpc/command"
	"switchtec-mrpc/protocol"
	"switchtec-mrpc/registry"
)

// fakeSwitch answers echo with the complement and die temperature with raw.
type fakeSwitch struct {
	mu       sync.Mutex
	raw      uint32
	badEcho  bool
	tempErr  error
	commands []uint32
	closed   bool
}

func (f *fakeSwitch) Exchange(_ context.Context, commandID uint32, payload []byte, replyLen int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, commandID)

	switch commandID {
	case command.CmdEcho:
		out := append([]byte(nil), payload...)
		sub := binary.LittleEndian.Uint32(out)
		if !f.badEcho {
			sub = ^sub
		}
		binary.LittleEndian.PutUint32(out, sub)
		return out, nil
	case command.CmdDieTemp:
		if f.tempErr != nil {
			return nil, f.tempErr
		}
		out := make([]byte, replyLen)
		if replyLen == 4 {
			binary.LittleEndian.PutUint32(out, f.raw)
		}
		return out, nil
	}
	return nil, &protocol.ProtocolError{CommandID: commandID, Status: protocol.StatusCmdInvalid}
}

func (f *fakeSwitch) Close() error {
	f.closed = true
	return nil
}

type memoryRegistry struct {
	mu        sync.Mutex
	readings  map[string]registry.Reading
	published int
	withdrawn []string
}

func newMemoryRegistry() *memoryRegistry {
	return &memoryRegistry{readings: make(map[string]registry.Reading)}
}

func (r *memoryRegistry) Publish(_ context.Context, reading registry.Reading, _ int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings[reading.Device] = reading
	r.published++
	return nil
}

func (r *memoryRegistry) Withdraw(_ context.Context, device string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.readings, device)
	r.withdrawn = append(r.withdrawn, device)
	return nil
}

func (r *memoryRegistry) Lookup(context.Context) ([]registry.Reading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registry.Reading, 0, len(r.readings))
	for _, reading := range r.readings {
		out = append(out, reading)
	}
	return out, nil
}

func (r *memoryRegistry) Watch(ctx context.Context) <-chan []registry.Reading {
	ch := make(chan []registry.Reading)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (r *memoryRegistry) Close() error { return nil }

func (r *memoryRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.published
}

func TestSample(t *testing.T) {
	sw := &fakeSwitch{raw: 3450}
	m := New(sw, "/dev/switchtec0", nil, nil)

	reading, err := m.Sample(context.Background())
	require.NoError(t, err)
	assert.True(t, reading.EchoOK)
	assert.InDelta(t, 34.5, reading.TemperatureC, 1e-9)
	assert.Equal(t, "/dev/switchtec0", reading.Device)
	assert.Equal(t, m.RunID(), reading.RunID)
	_, err = uuid.Parse(reading.RunID)
	assert.NoError(t, err)
	assert.Equal(t, []uint32{command.CmdEcho, command.CmdDieTemp, command.CmdDieTemp}, sw.commands)
}

func TestSampleEchoMismatchSkipsTemperature(t *testing.T) {
	sw := &fakeSwitch{raw: 3450, badEcho: true}
	m := New(sw, "/dev/switchtec0", nil, nil)

	reading, err := m.Sample(context.Background())
	var mismatch *command.EchoMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.False(t, reading.EchoOK)
	assert.NotEmpty(t, reading.Error)
	assert.Equal(t, []uint32{command.CmdEcho}, sw.commands)
}

func TestSampleTemperatureFailureKeepsEcho(t *testing.T) {
	sw := &fakeSwitch{tempErr: &protocol.ProtocolError{CommandID: command.CmdDieTemp, Status: protocol.StatusBadFWState}}
	m := New(sw, "/dev/switchtec0", nil, nil)

	reading, err := m.Sample(context.Background())
	var cerr *command.CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "dietemp_set_meas", cerr.Op)
	assert.True(t, reading.EchoOK)
	assert.Contains(t, reading.Error, "ERR_BAD_FW_STATE")
}

func TestRunPublishesAndWithdraws(t *testing.T) {
	sw := &fakeSwitch{raw: 4100}
	reg := newMemoryRegistry()
	opts := NewOptions()
	opts.Interval = 5 * time.Millisecond
	m := New(sw, "/dev/switchtec0", reg, opts)

	ctx, cancel := context.WithCancel(context.Background())
	var seen []registry.Reading
	var mu sync.Mutex
	done := make(chan error, 1)
	go func() {
		done <- m.Run(ctx, func(r registry.Reading) {
			mu.Lock()
			seen = append(seen, r)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool { return reg.count() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.InDelta(t, 41.0, seen[0].TemperatureC, 1e-9)
	assert.Equal(t, []string{"/dev/switchtec0"}, reg.withdrawn)

	readings, err := reg.Lookup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, readings)
}

func TestRunStopsAfterMaxFailures(t *testing.T) {
	sw := &fakeSwitch{badEcho: true}
	opts := NewOptions()
	opts.Interval = time.Millisecond
	opts.MaxFailures = 3
	m := New(sw, "/dev/switchtec0", nil, opts)

	err := m.Run(context.Background(), nil)
	var mismatch *command.EchoMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Len(t, sw.commands, 3)
}
