package l2cap

import (
	"encoding/binary"
	stderrors "errors"

	"github.com/pkg/errors"
)

// L2CAP fixed channel IDs (LE-U)
const (
	ChannelNULL      uint16 = 0x0000 // Reserved/Null
	ChannelSignaling uint16 = 0x0001 // ACL-U signaling
	ChannelConnless  uint16 = 0x0002 // Connectionless
	ChannelATT       uint16 = 0x0004 // Attribute Protocol
	ChannelLESignal  uint16 = 0x0005 // LE L2CAP Signaling
	ChannelSMP       uint16 = 0x0006 // Security Manager Protocol
)

const (
	DefaultMTU = 23  // Default ATT MTU
	MinMTU     = 23  // Minimum allowed ATT MTU on LE
	MaxMTU     = 517 // Maximum ATT MTU
	HeaderLen  = 4   // Length (2 bytes) + Channel ID (2 bytes)
)

var (
	// ErrCapacity is returned when a destination buffer cannot hold a whole frame.
	ErrCapacity = stderrors.New("l2cap: buffer too small for frame")

	// ErrMalformedFrame is returned when bytes do not form a basic frame.
	ErrMalformedFrame = stderrors.New("l2cap: malformed frame")
)

// Packet is a view of one L2CAP basic frame.
// Format: [Length: 2 bytes LE] [Channel ID: 2 bytes LE] [Payload: Length bytes]
// Payload aliases the bytes it was decoded from.
type Packet struct {
	ChannelID uint16
	Payload   []byte
}

// FrameLen returns the encoded size of a frame carrying n payload bytes.
func FrameLen(n int) int {
	return HeaderLen + n
}

// Encode writes the frame for payload on channelID into dst and returns the
// number of bytes written. Nothing is written when dst is too small.
// payload may alias dst (for example dst[HeaderLen:]); the move is done with copy.
func Encode(channelID uint16, payload []byte, dst []byte) (int, error) {
	n := FrameLen(len(payload))
	if len(payload) > 0xFFFF {
		return 0, errors.Wrapf(ErrCapacity, "payload of %d bytes exceeds length field", len(payload))
	}
	if len(dst) < n {
		return 0, errors.Wrapf(ErrCapacity, "need %d bytes, have %d", n, len(dst))
	}

	// Payload first: when it already sits inside dst the header must not clobber it.
	copy(dst[HeaderLen:n], payload)
	binary.LittleEndian.PutUint16(dst[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(dst[2:4], channelID)
	return n, nil
}

// Encode serializes the packet into dst.
func (p Packet) Encode(dst []byte) (int, error) {
	return Encode(p.ChannelID, p.Payload, dst)
}

// Decode parses one basic frame from the front of data.
// Bytes past the declared length are ignored.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderLen {
		return Packet{}, errors.Wrapf(ErrMalformedFrame, "need at least %d bytes, got %d", HeaderLen, len(data))
	}

	length := int(binary.LittleEndian.Uint16(data[0:2]))
	channelID := binary.LittleEndian.Uint16(data[2:4])

	if len(data) < HeaderLen+length {
		return Packet{}, errors.Wrapf(ErrMalformedFrame, "claimed length %d, got %d", length, len(data)-HeaderLen)
	}

	return Packet{
		ChannelID: channelID,
		Payload:   data[HeaderLen : HeaderLen+length : HeaderLen+length],
	}, nil
}

// ChannelName returns a human-readable name for a fixed channel
func ChannelName(channelID uint16) string {
	switch channelID {
	case ChannelSignaling:
		return "Signaling"
	case ChannelConnless:
		return "Connectionless"
	case ChannelATT:
		return "ATT"
	case ChannelLESignal:
		return "LE Signaling"
	case ChannelSMP:
		return "SMP"
	default:
		return "Unknown"
	}
}
