package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BinaryCodec encodes fixed-layout values as packed little-endian bytes, the layout
// MRPC payloads use on the wire. v must be a fixed-size value (a struct of sized
// integers, a sized integer, or a pointer to one); there is no padding between fields.
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	size := binary.Size(v)
	if size < 0 {
		return nil, fmt.Errorf("BinaryCodec: %T is not a fixed-size value", v)
	}

	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode requires data to be exactly binary.Size(v) bytes. A length mismatch means the
// caller and the endpoint disagree about the command layout, which is never recoverable.
func (c *BinaryCodec) Decode(data []byte, v any) error {
	size := binary.Size(v)
	if size < 0 {
		return fmt.Errorf("BinaryCodec: %T is not a fixed-size value", v)
	}
	if len(data) != size {
		return fmt.Errorf("BinaryCodec: %T needs %d bytes, got %d", v, size, len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, v)
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}
