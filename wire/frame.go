// Package wire implements the length-prefixed frame codec that carries RPC
// traffic over a reliable ordered byte stream.
//
// A frame's length prefix covers everything that follows it — rpc id, kind,
// and (for Call frames) the servant id / interface / method header fields —
// so a reader can always determine how many bytes to pull off the stream
// before attempting to interpret them. The header is variable-shape: Call
// frames carry routing fields a Return frame doesn't.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MessageType is a bitflag set over the frame kinds. Valid composites are
// Call, Return, and Return|Exception.
type MessageType uint8

const (
	Call      MessageType = 1 << 0
	Return    MessageType = 1 << 1
	Exception MessageType = 1 << 2
	Goodbye   MessageType = 1 << 3
	Heartbeat MessageType = 1 << 4
)

func (m MessageType) Has(bit MessageType) bool { return m&bit != 0 }

func (m MessageType) String() string {
	switch m {
	case Call:
		return "Call"
	case Return:
		return "Return"
	case Return | Exception:
		return "Return|Exception"
	case Goodbye:
		return "Goodbye"
	case Heartbeat:
		return "Heartbeat"
	default:
		return fmt.Sprintf("MessageType(%#x)", uint8(m))
	}
}

// DefaultMaxFrameSize is the cap on a single frame's encoded size; frames
// exceeding it fail the connection with ReadFailure.
const DefaultMaxFrameSize = 64 << 20

// MaxStringLength bounds interface/method name strings.
const MaxStringLength = 1024

// Frame is one unit of the wire protocol. ServantID/Interface/Method are
// only meaningful (and only encoded) when Type.Has(Call).
type Frame struct {
	RpcID     int64
	Type      MessageType
	ServantID uint64
	Interface string
	Method    string
	Payload   []byte
}

// Codec encodes and decodes frames against a reliable ordered byte stream,
// enforcing MaxFrameSize on read.
type Codec struct {
	MaxFrameSize uint32
}

// NewCodec returns a Codec with DefaultMaxFrameSize.
func NewCodec() *Codec {
	return &Codec{MaxFrameSize: DefaultMaxFrameSize}
}

// Encode writes a complete frame to w. The write is atomic at frame
// granularity from the caller's perspective: either the full byte sequence
// is handed to w.Write in one call, or an error is returned and nothing
// after the length prefix should be assumed to have reached the peer.
func (c *Codec) Encode(w io.Writer, f *Frame) error {
	body, err := marshalBody(f)
	if err != nil {
		return err
	}
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(body)))
	copy(buf[4:], body)
	_, err = w.Write(buf)
	return err
}

func marshalBody(f *Frame) ([]byte, error) {
	isCall := f.Type.Has(Call)

	size := 8 + 1 // rpc_id + kind
	if isCall {
		if len(f.Interface) > MaxStringLength {
			return nil, fmt.Errorf("wire: interface name exceeds %d bytes", MaxStringLength)
		}
		if len(f.Method) > MaxStringLength {
			return nil, fmt.Errorf("wire: method name exceeds %d bytes", MaxStringLength)
		}
		size += 8 + 2 + len(f.Interface) + 2 + len(f.Method)
	}
	size += len(f.Payload)

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint64(buf[off:off+8], uint64(f.RpcID))
	off += 8
	buf[off] = byte(f.Type)
	off++

	if isCall {
		binary.LittleEndian.PutUint64(buf[off:off+8], f.ServantID)
		off += 8
		off = putString(buf, off, f.Interface)
		off = putString(buf, off, f.Method)
	}
	copy(buf[off:], f.Payload)
	return buf, nil
}

func putString(buf []byte, off int, s string) int {
	binary.LittleEndian.PutUint16(buf[off:off+2], uint16(len(s)))
	off += 2
	copy(buf[off:], s)
	return off + len(s)
}

// Decode reads one complete frame from r. It blocks until a full frame is
// available or the stream ends; a partial frame at stream close surfaces as
// an error, never a silent truncation.
func (c *Codec) Decode(r io.Reader) (*Frame, error) {
	max := c.MaxFrameSize
	if max == 0 {
		max = DefaultMaxFrameSize
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if bodyLen > max {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds max frame size %d", bodyLen, max)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: truncated frame: %w", err)
	}
	return unmarshalBody(body)
}

func unmarshalBody(body []byte) (*Frame, error) {
	if len(body) < 9 {
		return nil, fmt.Errorf("wire: frame body too short: %d bytes", len(body))
	}
	f := &Frame{}
	off := 0
	f.RpcID = int64(binary.LittleEndian.Uint64(body[off : off+8]))
	off += 8
	f.Type = MessageType(body[off])
	off++

	if f.Type.Has(Call) {
		if len(body) < off+8+2 {
			return nil, fmt.Errorf("wire: call frame missing servant id")
		}
		f.ServantID = binary.LittleEndian.Uint64(body[off : off+8])
		off += 8

		s, next, err := readString(body, off)
		if err != nil {
			return nil, err
		}
		f.Interface = s
		off = next

		s, next, err = readString(body, off)
		if err != nil {
			return nil, err
		}
		f.Method = s
		off = next
	}

	f.Payload = body[off:]
	return f, nil
}

func readString(body []byte, off int) (string, int, error) {
	if len(body) < off+2 {
		return "", 0, fmt.Errorf("wire: truncated string length")
	}
	n := int(binary.LittleEndian.Uint16(body[off : off+2]))
	off += 2
	if n > MaxStringLength {
		return "", 0, fmt.Errorf("wire: string of %d bytes exceeds max %d", n, MaxStringLength)
	}
	if len(body) < off+n {
		return "", 0, fmt.Errorf("wire: truncated string body")
	}
	return string(body[off : off+n]), off + n, nil
}
