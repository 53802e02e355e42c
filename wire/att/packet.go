package att

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Request is a decoded client PDU. Opcode selects which operand fields are
// meaningful:
//
//	Exchange MTU            MTU
//	Find Information        StartHandle, EndHandle
//	Find By Type Value      StartHandle, EndHandle, AttrType, Value
//	Read By Type            StartHandle, EndHandle, Type
//	Read By Group Type      StartHandle, EndHandle, Type
//	Read                    Handle
//	Read Blob               Handle, Offset
//	Read Multiple           Handles
//	Write / Write Command   Handle, Value
//	Prepare Write           Handle, Offset, Value
//	Execute Write           Flags
//	Confirmation            (none)
//
// Type, Value and Handles alias the bytes the request was decoded from.
type Request struct {
	Opcode      uint8
	Handle      uint16
	StartHandle uint16
	EndHandle   uint16
	Offset      uint16
	MTU         uint16
	Flags       uint8
	AttrType    uint16
	Type        []byte // 2 or 16 byte UUID, little-endian
	Value       []byte
	Handles     []byte // packed little-endian handles
}

// NumHandles returns the number of handles in a Read Multiple request
func (r Request) NumHandles() int {
	return len(r.Handles) / 2
}

// HandleAt returns the i-th handle of a Read Multiple request
func (r Request) HandleAt(i int) uint16 {
	return binary.LittleEndian.Uint16(r.Handles[2*i:])
}

func (r Request) String() string {
	name := OpcodeName(r.Opcode)
	switch r.Opcode {
	case OpExchangeMTURequest:
		return fmt.Sprintf("%s mtu=%d", name, r.MTU)
	case OpFindInformationRequest:
		return fmt.Sprintf("%s 0x%04X-0x%04X", name, r.StartHandle, r.EndHandle)
	case OpFindByTypeValueRequest:
		return fmt.Sprintf("%s 0x%04X-0x%04X type=0x%04X value=%x", name, r.StartHandle, r.EndHandle, r.AttrType, r.Value)
	case OpReadByTypeRequest, OpReadByGroupTypeRequest:
		return fmt.Sprintf("%s 0x%04X-0x%04X type=%x", name, r.StartHandle, r.EndHandle, r.Type)
	case OpReadRequest:
		return fmt.Sprintf("%s handle=0x%04X", name, r.Handle)
	case OpReadBlobRequest:
		return fmt.Sprintf("%s handle=0x%04X offset=%d", name, r.Handle, r.Offset)
	case OpReadMultipleRequest:
		return fmt.Sprintf("%s handles=%x", name, r.Handles)
	case OpWriteRequest, OpWriteCommand:
		return fmt.Sprintf("%s handle=0x%04X value=%x", name, r.Handle, r.Value)
	case OpPrepareWriteRequest:
		return fmt.Sprintf("%s handle=0x%04X offset=%d value=%x", name, r.Handle, r.Offset, r.Value)
	case OpExecuteWriteRequest:
		return fmt.Sprintf("%s flags=0x%02X", name, r.Flags)
	default:
		return name
	}
}

// minLen is the shortest legal PDU, opcode included, for each decodable opcode.
var minLen = map[uint8]int{
	OpExchangeMTURequest:      3,
	OpFindInformationRequest:  5,
	OpFindByTypeValueRequest:  7,
	OpReadByTypeRequest:       7,
	OpReadRequest:             3,
	OpReadBlobRequest:         5,
	OpReadMultipleRequest:     5,
	OpReadByGroupTypeRequest:  7,
	OpWriteRequest:            3,
	OpWriteCommand:            3,
	OpPrepareWriteRequest:     5,
	OpExecuteWriteRequest:     2,
	OpHandleValueConfirmation: 1,
}

// Decode parses one client PDU. The result aliases data.
// Unknown opcodes, short operands and illegal UUID lengths fail with an
// error matching ErrMalformedPDU.
func Decode(data []byte) (Request, error) {
	if len(data) < 1 {
		return Request{}, errors.Wrap(ErrMalformedPDU, "empty PDU")
	}

	opcode := data[0]
	need, ok := minLen[opcode]
	if !ok {
		return Request{}, errors.Wrapf(ErrMalformedPDU, "unsupported opcode 0x%02X", opcode)
	}
	if len(data) < need {
		return Request{}, errors.Wrapf(ErrMalformedPDU, "%s: need %d bytes, got %d", OpcodeName(opcode), need, len(data))
	}

	r := Request{Opcode: opcode}
	switch opcode {
	case OpExchangeMTURequest:
		r.MTU = binary.LittleEndian.Uint16(data[1:3])

	case OpFindInformationRequest:
		r.StartHandle = binary.LittleEndian.Uint16(data[1:3])
		r.EndHandle = binary.LittleEndian.Uint16(data[3:5])

	case OpFindByTypeValueRequest:
		r.StartHandle = binary.LittleEndian.Uint16(data[1:3])
		r.EndHandle = binary.LittleEndian.Uint16(data[3:5])
		r.AttrType = binary.LittleEndian.Uint16(data[5:7])
		r.Value = data[7:]

	case OpReadByTypeRequest, OpReadByGroupTypeRequest:
		if n := len(data) - 5; n != 2 && n != 16 {
			return Request{}, errors.Wrapf(ErrMalformedPDU, "%s: uuid length %d", OpcodeName(opcode), n)
		}
		r.StartHandle = binary.LittleEndian.Uint16(data[1:3])
		r.EndHandle = binary.LittleEndian.Uint16(data[3:5])
		r.Type = data[5:]

	case OpReadRequest:
		r.Handle = binary.LittleEndian.Uint16(data[1:3])

	case OpReadBlobRequest:
		r.Handle = binary.LittleEndian.Uint16(data[1:3])
		r.Offset = binary.LittleEndian.Uint16(data[3:5])

	case OpReadMultipleRequest:
		if (len(data)-1)%2 != 0 {
			return Request{}, errors.Wrapf(ErrMalformedPDU, "%s: odd handle list length %d", OpcodeName(opcode), len(data)-1)
		}
		r.Handles = data[1:]

	case OpWriteRequest, OpWriteCommand:
		r.Handle = binary.LittleEndian.Uint16(data[1:3])
		r.Value = data[3:]

	case OpPrepareWriteRequest:
		r.Handle = binary.LittleEndian.Uint16(data[1:3])
		r.Offset = binary.LittleEndian.Uint16(data[3:5])
		r.Value = data[5:]

	case OpExecuteWriteRequest:
		if data[1] != ExecuteWriteCancel && data[1] != ExecuteWriteCommit {
			return Request{}, errors.Wrapf(ErrMalformedPDU, "%s: flags 0x%02X", OpcodeName(opcode), data[1])
		}
		r.Flags = data[1]

	case OpHandleValueConfirmation:
	}
	return r, nil
}

// Len returns the encoded size of r
func (r Request) Len() int {
	switch r.Opcode {
	case OpExchangeMTURequest, OpReadRequest:
		return 3
	case OpFindInformationRequest, OpReadBlobRequest:
		return 5
	case OpFindByTypeValueRequest:
		return 7 + len(r.Value)
	case OpReadByTypeRequest, OpReadByGroupTypeRequest:
		return 5 + len(r.Type)
	case OpReadMultipleRequest:
		return 1 + len(r.Handles)
	case OpWriteRequest, OpWriteCommand:
		return 3 + len(r.Value)
	case OpPrepareWriteRequest:
		return 5 + len(r.Value)
	case OpExecuteWriteRequest:
		return 2
	default:
		return 1
	}
}

// Encode writes r into dst and returns the number of bytes written.
// It is the inverse of Decode.
func (r Request) Encode(dst []byte) (int, error) {
	if _, ok := minLen[r.Opcode]; !ok {
		return 0, errors.Wrapf(ErrMalformedPDU, "unsupported opcode 0x%02X", r.Opcode)
	}
	n := r.Len()
	if len(dst) < n {
		return 0, errors.Wrapf(ErrShortBuffer, "%s: need %d bytes, have %d", OpcodeName(r.Opcode), n, len(dst))
	}

	le := binary.LittleEndian
	dst[0] = r.Opcode
	switch r.Opcode {
	case OpExchangeMTURequest:
		le.PutUint16(dst[1:], r.MTU)
	case OpFindInformationRequest:
		le.PutUint16(dst[1:], r.StartHandle)
		le.PutUint16(dst[3:], r.EndHandle)
	case OpFindByTypeValueRequest:
		le.PutUint16(dst[1:], r.StartHandle)
		le.PutUint16(dst[3:], r.EndHandle)
		le.PutUint16(dst[5:], r.AttrType)
		copy(dst[7:], r.Value)
	case OpReadByTypeRequest, OpReadByGroupTypeRequest:
		le.PutUint16(dst[1:], r.StartHandle)
		le.PutUint16(dst[3:], r.EndHandle)
		copy(dst[5:], r.Type)
	case OpReadRequest:
		le.PutUint16(dst[1:], r.Handle)
	case OpReadBlobRequest:
		le.PutUint16(dst[1:], r.Handle)
		le.PutUint16(dst[3:], r.Offset)
	case OpReadMultipleRequest:
		copy(dst[1:], r.Handles)
	case OpWriteRequest, OpWriteCommand:
		le.PutUint16(dst[1:], r.Handle)
		copy(dst[3:], r.Value)
	case OpPrepareWriteRequest:
		le.PutUint16(dst[1:], r.Handle)
		le.PutUint16(dst[3:], r.Offset)
		copy(dst[5:], r.Value)
	case OpExecuteWriteRequest:
		dst[1] = r.Flags
	}
	return n, nil
}

// EncodeErrorResponse writes an Error Response for requestOpcode.
func EncodeErrorResponse(dst []byte, requestOpcode uint8, handle uint16, code uint8) (int, error) {
	if len(dst) < 5 {
		return 0, errors.Wrapf(ErrShortBuffer, "error response: need 5 bytes, have %d", len(dst))
	}
	dst[0] = OpErrorResponse
	dst[1] = requestOpcode
	binary.LittleEndian.PutUint16(dst[2:4], handle)
	dst[4] = code
	return 5, nil
}

// EncodeExchangeMTUResponse writes the server's receive MTU.
func EncodeExchangeMTUResponse(dst []byte, serverMTU uint16) (int, error) {
	if len(dst) < 3 {
		return 0, errors.Wrapf(ErrShortBuffer, "exchange mtu response: need 3 bytes, have %d", len(dst))
	}
	dst[0] = OpExchangeMTUResponse
	binary.LittleEndian.PutUint16(dst[1:3], serverMTU)
	return 3, nil
}

// EncodeReadResponse writes opcode followed by value. Read, Read Blob and
// Read Multiple responses share this shape. The value is cut to fit dst,
// so passing dst[:mtu] yields a response of at most mtu bytes.
func EncodeReadResponse(dst []byte, opcode uint8, value []byte) (int, error) {
	if len(dst) < 1 {
		return 0, errors.Wrap(ErrShortBuffer, "read response: empty buffer")
	}
	dst[0] = opcode
	return 1 + copy(dst[1:], value), nil
}

// EncodeWriteResponse writes a one byte Write or Execute Write response.
func EncodeWriteResponse(dst []byte, opcode uint8) (int, error) {
	if len(dst) < 1 {
		return 0, errors.Wrap(ErrShortBuffer, "write response: empty buffer")
	}
	dst[0] = opcode
	return 1, nil
}

// EncodePrepareWriteResponse echoes a Prepare Write Request.
func EncodePrepareWriteResponse(dst []byte, handle, offset uint16, value []byte) (int, error) {
	n := 5 + len(value)
	if len(dst) < n {
		return 0, errors.Wrapf(ErrShortBuffer, "prepare write response: need %d bytes, have %d", n, len(dst))
	}
	dst[0] = OpPrepareWriteResponse
	binary.LittleEndian.PutUint16(dst[1:3], handle)
	binary.LittleEndian.PutUint16(dst[3:5], offset)
	copy(dst[5:], value)
	return n, nil
}

// EncodeHandleValueNotification writes a notification for handle. The value
// is cut to fit dst.
func EncodeHandleValueNotification(dst []byte, handle uint16, value []byte) (int, error) {
	if len(dst) < 3 {
		return 0, errors.Wrapf(ErrShortBuffer, "notification: need 3 bytes, have %d", len(dst))
	}
	dst[0] = OpHandleValueNotification
	binary.LittleEndian.PutUint16(dst[1:3], handle)
	return 3 + copy(dst[3:], value), nil
}
