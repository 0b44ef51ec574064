package command

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"switchtec-mrpc/transport"
)

// EchoRecord is the 16-byte packed echo payload, used for both request and reply.
type EchoRecord struct {
	SubCommand uint32
	Param1     uint16
	Param2     uint16
	Timestamp  uint64
}

// EchoRecordSize is the wire size of EchoRecord.
const EchoRecordSize = 16

// DefaultEchoSubCommand is the sub-command the health check sends.
const DefaultEchoSubCommand uint32 = 0xAA55

// NewEchoRecord builds a request with the given sub-command, fixed marker parameters
// and the current Unix time truncated to 32 bits.
func NewEchoRecord(subCommand uint32) EchoRecord {
	return EchoRecord{
		SubCommand: subCommand,
		Param1:     0x1234,
		Param2:     0x5678,
		Timestamp:  uint64(uint32(time.Now().Unix())),
	}
}

// Echo sends rec and checks that the endpoint returned its sub-command complemented.
// The decoded reply is returned alongside an *EchoMismatchError so callers can report
// what came back.
func Echo(ctx context.Context, ch transport.Channel, rec EchoRecord) (*EchoRecord, error) {
	in, err := binaryCodec.Encode(&rec)
	if err != nil {
		return nil, &CommandError{Op: "echo_cmd", Err: err}
	}

	out, err := ch.Exchange(ctx, CmdEcho, in, EchoRecordSize)
	if err != nil {
		return nil, &CommandError{Op: "echo_cmd", Err: err}
	}

	var reply EchoRecord
	if err := binaryCodec.Decode(out, &reply); err != nil {
		return nil, &CommandError{Op: "echo_cmd", Err: errors.Wrap(err, "decode reply")}
	}

	return &reply, CheckEcho(rec.SubCommand, reply.SubCommand)
}

// CheckEcho validates an echo reply: received must be the bitwise complement of sent.
// Only the sub-command is checked; the endpoint may change the other fields.
func CheckEcho(sent, received uint32) error {
	if received != ^sent {
		return &EchoMismatchError{Sent: sent, Received: received}
	}
	return nil
}
