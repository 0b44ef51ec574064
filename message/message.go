// Package message defines the MRPC command structures exchanged with a switch endpoint.
//
// Request is what the caller hands to a channel; Response is what the protocol layer
// decodes from the endpoint. Neither carries a length prefix on the wire: the reply
// length is fixed by the command being issued, so the caller states it up front.
package message

// Request carries a single MRPC command.
//
//   - CommandID selects the endpoint function (e.g. 65 = echo, 4 = die temperature).
//     It is not validated locally; the endpoint rejects unknown IDs.
//   - Payload is sent verbatim after the command ID.
//   - ReplyLen is the number of payload bytes the endpoint returns after the status word.
type Request struct {
	CommandID uint32
	Payload   []byte
	ReplyLen  int
}

// Response carries the endpoint's answer to a Request.
//
// Payload is only meaningful when Status is zero.
type Response struct {
	Status  uint32 // 0 = success, anything else is an endpoint-defined error code
	Payload []byte // exactly ReplyLen bytes of the matching request
}

// OK reports whether the endpoint accepted the command.
func (r *Response) OK() bool {
	return r.Status == 0
}
