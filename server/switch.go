package server

import (
	"context"
	"sync"

	"switchtec-mrpc/codec"
	"switchtec-mrpc/command"
	"switchtec-mrpc/message"
	"switchtec-mrpc/protocol"
)

// Switch emulates the management side of a switchtec die: the echo diagnostic and
// the die temperature sensor.
type Switch struct {
	mu        sync.Mutex
	tempRaw   uint32 // current sensor value, hundredths of a degree
	sample    uint32 // value latched by the last set-measurement
	failures  map[uint32]protocol.Status
	echoes    int
	triggers  int
	readbacks int
}

type SwitchStats struct {
	Echoes    int
	Triggers  int
	Readbacks int
}

var binaryCodec = &codec.BinaryCodec{}

func NewSwitch(tempRaw uint32) *Switch {
	return &Switch{
		tempRaw:  tempRaw,
		sample:   tempRaw,
		failures: make(map[uint32]protocol.Status),
	}
}

// Register installs the echo and die temperature commands on svr.
func (sw *Switch) Register(svr *Server) error {
	if err := svr.Register(command.CmdEcho, command.EchoRecordSize, FixedReplyLen(command.EchoRecordSize), sw.echo); err != nil {
		return err
	}
	return svr.Register(command.CmdDieTemp, 4, dieTempReplyLen, sw.dieTemp)
}

// dieTempReplyLen: set-measurement answers with the status alone, every other
// sub-command (get, and unknown ones) with a 4-byte word.
func dieTempReplyLen(payload []byte) int {
	var sub uint32
	if err := binaryCodec.Decode(payload, &sub); err == nil && sub == command.DieTempSetMeasurement {
		return 0
	}
	return 4
}

// SetTemperature changes the sensor value picked up by the next set-measurement.
func (sw *Switch) SetTemperature(raw uint32) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.tempRaw = raw
}

// FailDieTemp makes the die temperature sub-command fail with status from now on.
// A zero status clears the failure.
func (sw *Switch) FailDieTemp(subCommand uint32, status protocol.Status) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if status == protocol.StatusSuccess {
		delete(sw.failures, subCommand)
		return
	}
	sw.failures[subCommand] = status
}

func (sw *Switch) Stats() SwitchStats {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return SwitchStats{Echoes: sw.echoes, Triggers: sw.triggers, Readbacks: sw.readbacks}
}

// echo returns the request with its sub-command complemented.
func (sw *Switch) echo(ctx context.Context, req *message.Request) ([]byte, error) {
	var rec command.EchoRecord
	if err := binaryCodec.Decode(req.Payload, &rec); err != nil {
		return nil, &protocol.ProtocolError{CommandID: req.CommandID, Status: protocol.StatusParamInvalid}
	}

	sw.mu.Lock()
	sw.echoes++
	sw.mu.Unlock()

	rec.SubCommand = ^rec.SubCommand
	return binaryCodec.Encode(&rec)
}

func (sw *Switch) dieTemp(ctx context.Context, req *message.Request) ([]byte, error) {
	var sub uint32
	if err := binaryCodec.Decode(req.Payload, &sub); err != nil {
		return nil, &protocol.ProtocolError{CommandID: req.CommandID, Status: protocol.StatusParamInvalid}
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	switch sub {
	case command.DieTempSetMeasurement:
		sw.triggers++
		if status, ok := sw.failures[sub]; ok {
			return nil, &protocol.ProtocolError{CommandID: req.CommandID, Status: status}
		}
		sw.sample = sw.tempRaw
		return nil, nil

	case command.DieTempGet:
		sw.readbacks++
		if status, ok := sw.failures[sub]; ok {
			return nil, &protocol.ProtocolError{CommandID: req.CommandID, Status: status}
		}
		return binaryCodec.Encode(sw.sample)
	}

	return nil, &protocol.ProtocolError{CommandID: req.CommandID, Status: protocol.StatusSubCmdInvalid}
}
