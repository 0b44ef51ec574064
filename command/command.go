// Package command implements the MRPC commands this tool issues: the echo loopback
// diagnostic and the two-step die temperature read.
//
// Every command has the same shape: encode a fixed-layout request, run one
// Exchange on a transport.Channel, decode and validate the fixed-layout reply.
package command

import (
	"fmt"

	"switchtec-mrpc/codec"
)

// MRPC command IDs.
const (
	CmdDieTemp uint32 = 4
	CmdEcho    uint32 = 65
)

// Die temperature sub-commands.
const (
	DieTempSetMeasurement uint32 = 1
	DieTempGet            uint32 = 2
)

var binaryCodec = &codec.BinaryCodec{}

// CommandError records which step of a command failed and why.
type CommandError struct {
	Op  string // echo_cmd, dietemp_set_meas or dietemp_get
	Err error
}

func (e *CommandError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error { return e.Err }

// EchoMismatchError means the endpoint answered the echo command successfully but the
// reply is not the complement of what was sent: the transport or the endpoint is
// corrupting data.
type EchoMismatchError struct {
	Sent     uint32
	Received uint32
}

func (e *EchoMismatchError) Error() string {
	return fmt.Sprintf("echo data did not match: %x != ~%x", e.Sent, e.Received)
}
