// Package protocol implements the MRPC binary frame format.
//
// MRPC has no magic, version or length field. The request length is implied by the
// command, and the caller tells the decoder how many reply bytes to expect. Every
// integer is little-endian.
//
// Request frame:
//
//	0          4
//	┌──────────┬──────────────────────┐
//	│ command  │   payload ...        │
//	│  uint32  │ command-defined size │
//	└──────────┴──────────────────────┘
//
// Response frame:
//
//	0          4
//	┌──────────┬──────────────────────┐
//	│  status  │   payload ...        │
//	│  uint32  │ expected reply size  │
//	└──────────┴──────────────────────┘
package protocol

import (
	"encoding/binary"
	"io"

	"switchtec-mrpc/message"
)

// HeaderSize is the size of the command word on requests and the status word on responses.
const HeaderSize = 4

// Encode writes a complete request frame (command ID + payload) to w in a single Write.
//
// A single Write matters for character devices: the driver treats every write as one
// whole command submission, so the header and payload must not be split.
// The caller must serialize access to w, otherwise frames from different requests interleave.
func Encode(w io.Writer, req *message.Request) error {
	buf := make([]byte, HeaderSize+len(req.Payload))
	binary.LittleEndian.PutUint32(buf[0:HeaderSize], req.CommandID)
	copy(buf[HeaderSize:], req.Payload)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// Decode reads a complete response frame of exactly HeaderSize+replyLen bytes from r.
//
// The payload is returned as read even when the status is non-zero; callers must not
// interpret it in that case. A short read surfaces as io.ErrUnexpectedEOF (or io.EOF
// when nothing at all was read).
func Decode(r io.Reader, replyLen int) (*message.Response, error) {
	buf := make([]byte, HeaderSize+replyLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	return &message.Response{
		Status:  binary.LittleEndian.Uint32(buf[0:HeaderSize]),
		Payload: buf[HeaderSize:],
	}, nil
}

// ReadCommandID reads the 4-byte command word that starts every request frame.
// The endpoint side uses it to look up how many payload bytes follow.
func ReadCommandID(r io.Reader) (uint32, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(hdr[:]), nil
}

// EncodeResponse writes a complete response frame (status + payload) to w in a single Write.
func EncodeResponse(w io.Writer, resp *message.Response) error {
	buf := make([]byte, HeaderSize+len(resp.Payload))
	binary.LittleEndian.PutUint32(buf[0:HeaderSize], resp.Status)
	copy(buf[HeaderSize:], resp.Payload)

	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}
